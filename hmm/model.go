package hmm

import (
	"errors"
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/tombao2007/hmmlearn/internal/mathutil"
)

// Decoding algorithms accepted by Model.Decode.
const (
	// AlgorithmViterbi decodes the jointly most probable state path.
	AlgorithmViterbi = "viterbi"
	// AlgorithmMAP decodes the posterior-mode state at each time step
	// independently. The result may contain transitions that have zero
	// probability under the model; this is inherent to the method.
	AlgorithmMAP = "map"
)

// stochasticTol is the tolerance for probability vectors summing to 1.
const stochasticTol = 1e-6

var (
	// ErrNotInitialized is returned when startprob, transmat or emission
	// parameters are missing before score/decode/sample is called.
	ErrNotInitialized = errors.New("hmm: model parameters not initialized")

	// ErrDegenerateSequence is returned when a sequence has zero
	// probability under every state path. It aborts an in-progress fit.
	ErrDegenerateSequence = errors.New("hmm: sequence has zero probability under the model")

	// ErrEmptyObservations is returned for an empty observation set.
	ErrEmptyObservations = errors.New("hmm: empty observation set")
)

// Model is a hidden Markov model over NStates hidden states with an
// arbitrary emission family. StartProb and TransMat may be set directly
// before fitting; any parameter left nil is initialized by Fit according
// to TrainConfig.InitParams.
type Model struct {
	// StartProb is the initial state distribution (length N, sums to 1).
	StartProb []float64

	// TransMat is the row-stochastic transition matrix (N x N).
	// TransMat[i][j] = P(state j at t+1 | state i at t).
	TransMat [][]float64

	// Emitter models the state-conditional observation distribution.
	Emitter Emitter

	logger *log.Logger
}

// New returns a Model around the given emitter. StartProb and TransMat
// are left nil; Fit fills them in, or the caller assigns them directly.
func New(emitter Emitter) *Model {
	return &Model{Emitter: emitter}
}

// NStates returns the number of hidden states.
func (m *Model) NStates() int {
	return m.Emitter.NStates()
}

// SetLogger directs training progress and anomaly messages to l.
// Without a logger the model is silent; anomalies remain observable
// through the ConvergenceMonitor.
func (m *Model) SetLogger(l *log.Logger) {
	m.logger = l
}

func (m *Model) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// Validate checks that all parameters are present, consistently
// dimensioned and stochastic. It is called eagerly by Fit, Score,
// Decode and Sample so that no computation runs on a broken model.
func (m *Model) Validate() error {
	n := m.Emitter.NStates()
	if m.StartProb == nil || m.TransMat == nil {
		return ErrNotInitialized
	}
	if len(m.StartProb) != n {
		return fmt.Errorf("hmm: startprob has %d entries, want %d", len(m.StartProb), n)
	}
	if err := checkStochastic(m.StartProb, "startprob"); err != nil {
		return err
	}
	if len(m.TransMat) != n {
		return fmt.Errorf("hmm: transmat has %d rows, want %d", len(m.TransMat), n)
	}
	for i, row := range m.TransMat {
		if len(row) != n {
			return fmt.Errorf("hmm: transmat row %d has %d entries, want %d", i, len(row), n)
		}
		if err := checkStochastic(row, fmt.Sprintf("transmat row %d", i)); err != nil {
			return err
		}
	}
	return m.Emitter.Validate()
}

// checkStochastic verifies that p is a probability vector.
func checkStochastic(p []float64, name string) error {
	for i, v := range p {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("hmm: %s entry %d is %g, must be non-negative", name, i, v)
		}
	}
	if s := floats.Sum(p); math.Abs(s-1) > stochasticTol {
		return fmt.Errorf("hmm: %s sums to %g, must sum to 1", name, s)
	}
	return nil
}

// checkData validates the observation array against the model dimensions
// and splits it into per-sequence segments according to lengths. A nil
// lengths treats the whole array as a single sequence.
func (m *Model) checkData(X [][]float64, lengths []int) ([][][]float64, error) {
	if len(X) == 0 {
		return nil, ErrEmptyObservations
	}
	d := m.Emitter.NFeatures()
	for t, row := range X {
		if len(row) != d {
			return nil, fmt.Errorf("hmm: observation %d has %d features, want %d", t, len(row), d)
		}
	}
	if lengths == nil {
		return [][][]float64{X}, nil
	}
	var total int
	for s, l := range lengths {
		if l <= 0 {
			return nil, fmt.Errorf("hmm: sequence %d has non-positive length %d", s, l)
		}
		total += l
	}
	if total != len(X) {
		return nil, fmt.Errorf("hmm: lengths sum to %d, want %d observations", total, len(X))
	}
	seqs := make([][][]float64, len(lengths))
	off := 0
	for s, l := range lengths {
		seqs[s] = X[off : off+l]
		off += l
	}
	return seqs, nil
}

// Score returns the total log-likelihood of the observations under the
// current parameters, summed across sequences. Only the forward pass
// runs; no statistics are accumulated.
func (m *Model) Score(X [][]float64, lengths []int) (float64, error) {
	lls, err := m.ScoreSamples(X, lengths)
	if err != nil {
		return 0, err
	}
	return floats.Sum(lls), nil
}

// ScoreSamples returns the log-likelihood of each sequence separately.
func (m *Model) ScoreSamples(X [][]float64, lengths []int) ([]float64, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	seqs, err := m.checkData(X, lengths)
	if err != nil {
		return nil, err
	}
	logTrans := logMat(m.TransMat)
	lls := make([]float64, len(seqs))
	for s, seq := range seqs {
		loglik := mathutil.NewMat(len(seq), m.NStates())
		m.Emitter.LogLikelihoods(seq, loglik)
		ll, err := sequenceLogProb(m.StartProb, logTrans, loglik)
		if err != nil {
			return nil, fmt.Errorf("hmm: sequence %d: %w", s, err)
		}
		lls[s] = ll
	}
	return lls, nil
}

// PredictProba returns the posterior state-occupation probabilities
// gamma for every observation, concatenated across sequences into a
// T_total x N matrix whose rows each sum to 1.
func (m *Model) PredictProba(X [][]float64, lengths []int) ([][]float64, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	seqs, err := m.checkData(X, lengths)
	if err != nil {
		return nil, err
	}
	out := mathutil.NewMat(len(X), m.NStates())
	off := 0
	for s, seq := range seqs {
		loglik := mathutil.NewMat(len(seq), m.NStates())
		m.Emitter.LogLikelihoods(seq, loglik)
		_, gamma, _, err := ForwardBackward(m.StartProb, m.TransMat, loglik)
		if err != nil {
			return nil, fmt.Errorf("hmm: sequence %d: %w", s, err)
		}
		for t := range gamma {
			copy(out[off+t], gamma[t])
		}
		off += len(seq)
	}
	return out, nil
}

// Decode reconstructs a hidden-state path for each sequence using the
// requested algorithm: AlgorithmViterbi returns the jointly most
// probable path and its joint log-probability; AlgorithmMAP returns the
// per-timestep posterior mode and the mean winning posterior.
func (m *Model) Decode(X [][]float64, lengths []int, algorithm string) ([][]int, []float64, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	seqs, err := m.checkData(X, lengths)
	if err != nil {
		return nil, nil, err
	}
	if algorithm != AlgorithmViterbi && algorithm != AlgorithmMAP {
		return nil, nil, fmt.Errorf("hmm: unknown decoding algorithm %q", algorithm)
	}

	paths := make([][]int, len(seqs))
	scores := make([]float64, len(seqs))
	for s, seq := range seqs {
		loglik := mathutil.NewMat(len(seq), m.NStates())
		m.Emitter.LogLikelihoods(seq, loglik)
		switch algorithm {
		case AlgorithmViterbi:
			paths[s], scores[s] = Viterbi(m.StartProb, m.TransMat, loglik)
		case AlgorithmMAP:
			_, gamma, _, err := ForwardBackward(m.StartProb, m.TransMat, loglik)
			if err != nil {
				return nil, nil, fmt.Errorf("hmm: sequence %d: %w", s, err)
			}
			paths[s], scores[s] = mapDecode(gamma)
		}
	}
	return paths, scores, nil
}
