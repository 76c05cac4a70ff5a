package hmm

import (
	"gonum.org/v1/gonum/floats"

	"github.com/tombao2007/hmmlearn/internal/mathutil"
)

// SufficientStats holds the running totals consumed by one M-step:
// expected start-state counts, expected transition counts, and the
// emission family's own accumulators. It is reset at the top of each EM
// iteration, populated by every sequence's posteriors, and read exactly
// once. Accumulation is associative and commutative across sequences,
// so per-worker instances can be merged in any order.
type SufficientStats struct {
	// Start[i] accumulates gamma[0][i] over sequences.
	Start []float64

	// Trans[i][j] accumulates the expected transition counts xiSum.
	Trans [][]float64

	// Emission holds the family-specific accumulators.
	Emission EmissionStats

	// LogProb is the summed sequence log-likelihood.
	LogProb float64

	// NSeq counts the sequences accumulated.
	NSeq int

	emitter Emitter
}

func newSufficientStats(e Emitter) *SufficientStats {
	n := e.NStates()
	return &SufficientStats{
		Start:    make([]float64, n),
		Trans:    mathutil.NewMat(n, n),
		Emission: e.NewStats(),
		emitter:  e,
	}
}

// Reset zeroes all totals for a new EM iteration.
func (s *SufficientStats) Reset() {
	mathutil.FillVec(s.Start, 0)
	mathutil.FillMat(s.Trans, 0)
	s.Emission = s.emitter.NewStats()
	s.LogProb = 0
	s.NSeq = 0
}

// AddSequence accumulates one sequence's posteriors. X is the segment's
// observations, loglik its emission log-likelihoods, gamma and xiSum the
// ForwardBackward outputs, and logProb the sequence log-likelihood.
func (s *SufficientStats) AddSequence(X [][]float64, loglik, gamma, xiSum [][]float64, logProb float64) {
	floats.Add(s.Start, gamma[0])
	for i := range s.Trans {
		floats.Add(s.Trans[i], xiSum[i])
	}
	s.emitter.AccumulateStats(s.Emission, X, loglik, gamma)
	s.LogProb += logProb
	s.NSeq++
}

// Merge adds the totals of other into s. Used to reduce per-worker
// accumulators after a concurrent E-step.
func (s *SufficientStats) Merge(other *SufficientStats) {
	floats.Add(s.Start, other.Start)
	for i := range s.Trans {
		floats.Add(s.Trans[i], other.Trans[i])
	}
	s.Emission.Merge(other.Emission)
	s.LogProb += other.LogProb
	s.NSeq += other.NSeq
}
