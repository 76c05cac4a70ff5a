package hmm

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/tombao2007/hmmlearn/internal/mathutil"
)

// CategoricalEmitter models discrete observations over a symbol alphabet
// 0..NSymbols-1. Observations are single-feature rows whose value is the
// symbol index.
type CategoricalEmitter struct {
	N        int // hidden states
	NSymbols int

	// Probs[i][s] = P(symbol s | state i); rows sum to 1.
	Probs [][]float64

	logProbs [][]float64
}

// NewCategoricalEmitter returns an emitter for n states over an alphabet
// of nSymbols. Probs is left nil until InitFromData or assignment.
func NewCategoricalEmitter(n, nSymbols int) *CategoricalEmitter {
	return &CategoricalEmitter{N: n, NSymbols: nSymbols}
}

// NStates returns the number of hidden states.
func (c *CategoricalEmitter) NStates() int { return c.N }

// NFeatures returns 1: each observation row holds one symbol index.
func (c *CategoricalEmitter) NFeatures() int { return 1 }

// Validate checks the emission table and rebuilds the log cache.
func (c *CategoricalEmitter) Validate() error {
	if c.Probs == nil {
		return ErrNotInitialized
	}
	if len(c.Probs) != c.N {
		return fmt.Errorf("hmm: emission table has %d rows, want %d", len(c.Probs), c.N)
	}
	for i, row := range c.Probs {
		if len(row) != c.NSymbols {
			return fmt.Errorf("hmm: emission row %d has %d entries, want %d", i, len(row), c.NSymbols)
		}
		if err := checkStochastic(row, fmt.Sprintf("emission row %d", i)); err != nil {
			return err
		}
	}
	c.precompute()
	return nil
}

func (c *CategoricalEmitter) precompute() {
	c.logProbs = mathutil.NewMat(c.N, c.NSymbols)
	for i := range c.Probs {
		for s, p := range c.Probs[i] {
			c.logProbs[i][s] = mathutil.Log(p)
		}
	}
}

// symbol extracts the symbol index from an observation row. Values
// outside the alphabet map to -1 and score LogZero in every state.
func (c *CategoricalEmitter) symbol(x []float64) int {
	s := int(x[0])
	if s < 0 || s >= c.NSymbols || float64(s) != x[0] {
		return -1
	}
	return s
}

// LogLikelihoods fills dst[t][i] with log P(symbol X[t] | state i).
func (c *CategoricalEmitter) LogLikelihoods(X [][]float64, dst [][]float64) {
	for t, x := range X {
		s := c.symbol(x)
		for i := 0; i < c.N; i++ {
			if s < 0 {
				dst[t][i] = mathutil.LogZero
			} else {
				dst[t][i] = c.logProbs[i][s]
			}
		}
	}
}

// Sample draws one symbol from the given state's distribution.
func (c *CategoricalEmitter) Sample(rng *rand.Rand, state int) []float64 {
	return []float64{float64(sampleIndex(rng, c.Probs[state]))}
}

// InitFromData draws each state's distribution at random: uniform
// entries, normalized per row. States must start well apart; rows that
// are nearly identical leave EM at a symmetric stationary point.
func (c *CategoricalEmitter) InitFromData(rng *rand.Rand, X [][]float64, params Params) {
	if c.Probs != nil || !params.Has(ParamProbs) {
		if c.Probs != nil {
			c.precompute()
		}
		return
	}
	c.Probs = mathutil.NewMat(c.N, c.NSymbols)
	for i := 0; i < c.N; i++ {
		for s := 0; s < c.NSymbols; s++ {
			c.Probs[i][s] = rng.Float64()
		}
		normalizeSum(c.Probs[i], 1/float64(c.NSymbols))
	}
	c.precompute()
}

// categoricalStats accumulates posterior-weighted symbol counts.
type categoricalStats struct {
	counts [][]float64 // [N][NSymbols]
}

// NewStats returns a zeroed accumulator for this emitter's shape.
func (c *CategoricalEmitter) NewStats() EmissionStats {
	return &categoricalStats{counts: mathutil.NewMat(c.N, c.NSymbols)}
}

// Merge adds the totals of other into s.
func (s *categoricalStats) Merge(other EmissionStats) {
	o := other.(*categoricalStats)
	for i := range s.counts {
		floats.Add(s.counts[i], o.counts[i])
	}
}

// AccumulateStats adds gamma[t][i] to the count of the observed symbol.
func (c *CategoricalEmitter) AccumulateStats(st EmissionStats, X [][]float64, loglik, gamma [][]float64) {
	s := st.(*categoricalStats)
	for t, x := range X {
		sym := c.symbol(x)
		if sym < 0 {
			continue
		}
		for i := 0; i < c.N; i++ {
			s.counts[i][sym] += gamma[t][i]
		}
	}
}

// MStep normalizes the accumulated counts into emission probabilities.
func (c *CategoricalEmitter) MStep(st EmissionStats, params Params) error {
	if !params.Has(ParamProbs) {
		return nil
	}
	s := st.(*categoricalStats)
	for i := 0; i < c.N; i++ {
		copy(c.Probs[i], s.counts[i])
		normalizeSum(c.Probs[i], 1/float64(c.NSymbols))
	}
	c.precompute()
	return nil
}
