package hmm

import "math/rand"

// Params selects which model parameters are auto-initialized before
// training and which are re-estimated in the M-step.
type Params uint8

const (
	// ParamStartProb selects the initial state distribution.
	ParamStartProb Params = 1 << iota
	// ParamTransMat selects the transition matrix.
	ParamTransMat
	// ParamMeans selects emission means (Gaussian and mixture families).
	ParamMeans
	// ParamCovars selects emission covariances (Gaussian and mixture families).
	ParamCovars
	// ParamWeights selects mixture weights (mixture family only).
	ParamWeights
	// ParamProbs selects emission probabilities (categorical family only).
	ParamProbs
)

// ParamsAll selects every parameter.
const ParamsAll = ParamStartProb | ParamTransMat | ParamMeans | ParamCovars | ParamWeights | ParamProbs

// Has reports whether p includes q.
func (p Params) Has(q Params) bool {
	return p&q != 0
}

// EmissionStats holds family-specific sufficient statistics accumulated
// during the E-step. Implementations are created zeroed by Emitter.NewStats
// and consumed once by Emitter.MStep.
type EmissionStats interface {
	// Merge adds the totals of other into the receiver. other must have
	// been produced by the same Emitter's NewStats.
	Merge(other EmissionStats)
}

// An Emitter models the state-conditional observation distribution.
// The inference machinery is generic over this interface: the same
// forward-backward, Viterbi and EM code drives every family.
type Emitter interface {
	// NStates returns the number of hidden states.
	NStates() int

	// NFeatures returns the observation dimensionality D.
	NFeatures() int

	// LogLikelihoods fills dst[t][i] with log P(X[t] | state i) for every
	// observation and state. dst must have len(X) rows of NStates columns.
	LogLikelihoods(X [][]float64, dst [][]float64)

	// Sample draws one observation conditioned on the given state.
	Sample(rng *rand.Rand, state int) []float64

	// InitFromData assigns data-driven defaults to the parameters selected
	// in params that the caller did not fix explicitly.
	InitFromData(rng *rand.Rand, X [][]float64, params Params)

	// NewStats returns a zeroed sufficient-statistics accumulator.
	NewStats() EmissionStats

	// AccumulateStats adds one sequence's contribution to st. loglik and
	// gamma are the T x NStates emission log-likelihoods and posterior
	// state probabilities for the sequence.
	AccumulateStats(st EmissionStats, X [][]float64, loglik, gamma [][]float64)

	// MStep re-estimates the parameters selected in params from st.
	// It returns a configuration error if the update produces an invalid
	// parameter (e.g. a non-positive-definite covariance after flooring).
	MStep(st EmissionStats, params Params) error

	// Validate checks that the current parameters are complete and
	// internally consistent.
	Validate() error
}
