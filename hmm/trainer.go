package hmm

import (
	"fmt"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/tombao2007/hmmlearn/internal/mathutil"
)

// llDecreaseTol is the numerical slack allowed before a log-likelihood
// decrease between EM iterations is counted as an anomaly. EM is
// monotonically non-decreasing up to floating-point error.
const llDecreaseTol = 1e-10

// TrainConfig holds Baum-Welch training parameters.
type TrainConfig struct {
	// MaxIterations caps the EM loop.
	MaxIterations int

	// Tol is the log-likelihood improvement threshold for convergence.
	// Zero disables the score-delta criterion entirely, so training runs
	// the full MaxIterations.
	Tol float64

	// InitParams selects which parameters receive data-driven defaults
	// before the first iteration. Parameters already set on the model
	// are never overwritten.
	InitParams Params

	// UpdateParams selects which parameters the M-step re-estimates.
	UpdateParams Params

	// Workers is the number of goroutines processing sequences during
	// the E-step. Values below 2 keep the sequential reference behavior.
	Workers int

	// Seed feeds the generator used for data-driven initialization.
	Seed int64
}

// DefaultTrainConfig returns reasonable default training parameters.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		MaxIterations: 20,
		Tol:           1e-2,
		InitParams:    ParamsAll,
		UpdateParams:  ParamsAll,
		Workers:       1,
	}
}

// Warnings counts non-fatal anomalies observed during a fit.
type Warnings struct {
	// LogLikDecreased counts iterations whose total log-likelihood fell
	// below the previous iteration's by more than numerical tolerance.
	LogLikDecreased int
}

// ConvergenceMonitor records per-iteration log-likelihood and decides
// when the EM loop terminates. A fresh monitor is created per Fit call
// and returned to the caller for inspection.
type ConvergenceMonitor struct {
	// History holds the total log-likelihood of each iteration.
	History []float64

	// Iter is the number of iterations reported so far.
	Iter int

	// MaxIter and Tol are the configured termination bounds.
	MaxIter int
	Tol     float64

	// Warnings counts anomalies such as decreasing log-likelihood.
	Warnings Warnings

	converged bool
}

// NewConvergenceMonitor returns a monitor with the given iteration cap
// and score-delta tolerance.
func NewConvergenceMonitor(maxIter int, tol float64) *ConvergenceMonitor {
	return &ConvergenceMonitor{MaxIter: maxIter, Tol: tol}
}

// Report appends one iteration's total log-likelihood and returns
// whether training should stop: either the score delta fell below Tol
// or the iteration cap was reached. A decrease beyond numerical
// tolerance is counted in Warnings but does not stop training.
func (c *ConvergenceMonitor) Report(logProb float64) bool {
	if c.Iter > 0 {
		delta := logProb - c.History[len(c.History)-1]
		if delta < -llDecreaseTol {
			c.Warnings.LogLikDecreased++
		}
		if delta < c.Tol && delta > -c.Tol {
			c.converged = true
		}
	}
	c.History = append(c.History, logProb)
	c.Iter++
	if c.Iter >= c.MaxIter {
		c.converged = true
	}
	return c.converged
}

// Converged reports whether the monitor has signalled termination.
func (c *ConvergenceMonitor) Converged() bool {
	return c.converged
}

// Fit estimates the model parameters from the concatenated observation
// array X and its per-sequence lengths using Baum-Welch EM. Parameters
// selected in cfg.InitParams that are still nil get defaults (uniform
// start and transition distributions, data-driven emission parameters);
// cfg.UpdateParams selects what the M-step re-estimates.
//
// A degenerate sequence aborts the fit with the offending sequence index
// in the error; parameters keep their values from the last completed
// iteration. The returned monitor exposes the log-likelihood history
// even on error.
func (m *Model) Fit(X [][]float64, lengths []int, cfg TrainConfig) (*ConvergenceMonitor, error) {
	monitor := NewConvergenceMonitor(cfg.MaxIterations, cfg.Tol)
	if cfg.MaxIterations <= 0 {
		return monitor, fmt.Errorf("hmm: MaxIterations is %d, must be positive", cfg.MaxIterations)
	}
	if cfg.Tol < 0 {
		return monitor, fmt.Errorf("hmm: Tol is %g, must be non-negative", cfg.Tol)
	}

	seqs, err := m.checkData(X, lengths)
	if err != nil {
		return monitor, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	m.initParams(rng, X, cfg.InitParams)
	if err := m.Validate(); err != nil {
		return monitor, err
	}

	stats := newSufficientStats(m.Emitter)
	for {
		stats.Reset()
		if cfg.Workers > 1 {
			err = m.estepParallel(seqs, stats, cfg.Workers)
		} else {
			err = m.estep(seqs, stats)
		}
		if err != nil {
			return monitor, err
		}

		if err := m.mstep(stats, cfg.UpdateParams); err != nil {
			return monitor, err
		}

		done := monitor.Report(stats.LogProb)
		m.logf("iteration %d: log-likelihood %.6f", monitor.Iter, stats.LogProb)
		if monitor.Warnings.LogLikDecreased > 0 && !done {
			m.logf("iteration %d: log-likelihood decreased", monitor.Iter)
		}
		if done {
			break
		}
	}
	return monitor, nil
}

// estep runs forward-backward over every sequence and accumulates
// sufficient statistics sequentially.
func (m *Model) estep(seqs [][][]float64, stats *SufficientStats) error {
	n := m.NStates()
	for s, seq := range seqs {
		loglik := mathutil.NewMat(len(seq), n)
		m.Emitter.LogLikelihoods(seq, loglik)
		logProb, gamma, xiSum, err := ForwardBackward(m.StartProb, m.TransMat, loglik)
		if err != nil {
			return fmt.Errorf("hmm: sequence %d: %w", s, err)
		}
		stats.AddSequence(seq, loglik, gamma, xiSum, logProb)
	}
	return nil
}

// estepParallel distributes sequences over workers, each with a local
// accumulator, and merges the results under a mutex. The merge is
// associative and commutative, so worker scheduling only perturbs
// floating-point summation order.
func (m *Model) estepParallel(seqs [][][]float64, stats *SufficientStats, workers int) error {
	if workers > len(seqs) {
		workers = len(seqs)
	}
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := newSufficientStats(m.Emitter)
			n := m.NStates()
			for s := range jobs {
				seq := seqs[s]
				loglik := mathutil.NewMat(len(seq), n)
				m.Emitter.LogLikelihoods(seq, loglik)
				logProb, gamma, xiSum, err := ForwardBackward(m.StartProb, m.TransMat, loglik)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("hmm: sequence %d: %w", s, err)
					}
					mu.Unlock()
					continue
				}
				local.AddSequence(seq, loglik, gamma, xiSum, logProb)
			}
			mu.Lock()
			stats.Merge(local)
			mu.Unlock()
		}()
	}
	for s := range seqs {
		jobs <- s
	}
	close(jobs)
	wg.Wait()
	return firstErr
}

// mstep re-estimates the parameters selected in params from the
// accumulated statistics.
func (m *Model) mstep(stats *SufficientStats, params Params) error {
	n := m.NStates()
	if params.Has(ParamStartProb) {
		copy(m.StartProb, stats.Start)
		normalizeSum(m.StartProb, 1/float64(n))
	}
	if params.Has(ParamTransMat) {
		for i := 0; i < n; i++ {
			copy(m.TransMat[i], stats.Trans[i])
			normalizeSum(m.TransMat[i], 1/float64(n))
		}
	}
	return m.Emitter.MStep(stats.Emission, params)
}

// initParams supplies defaults for parameters selected in params that
// the caller has not set: uniform start and transition distributions,
// and the emitter's data-driven initialization.
func (m *Model) initParams(rng *rand.Rand, X [][]float64, params Params) {
	n := m.NStates()
	if m.StartProb == nil && params.Has(ParamStartProb) {
		m.StartProb = mathutil.NewVecFill(n, 1/float64(n))
	}
	if m.TransMat == nil && params.Has(ParamTransMat) {
		m.TransMat = mathutil.NewMatFill(n, n, 1/float64(n))
	}
	m.Emitter.InitFromData(rng, X, params)
}

// normalizeSum scales x to sum to 1, or fills it with fallback when the
// total underflows (a state with no posterior mass anywhere).
func normalizeSum(x []float64, fallback float64) {
	s := floats.Sum(x)
	if s < 1e-300 {
		mathutil.FillVec(x, fallback)
		return
	}
	floats.Scale(1/s, x)
}
