package hmm

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/tombao2007/hmmlearn/internal/mathutil"
)

// GMMEmitter is a Gaussian mixture per state with diagonal covariance.
// The M-step is an inner EM update driven by per-component posteriors.
type GMMEmitter struct {
	N int // hidden states
	D int // observation features
	K int // mixture components per state

	// MinCovar floors every variance; zero selects DefaultMinCovar.
	MinCovar float64

	Weights [][]float64   // [N][K], rows sum to 1
	Means   [][][]float64 // [N][K][D]
	Covars  [][][]float64 // [N][K][D] diagonal

	// Pre-computed values, rebuilt after every update.
	logWeights   [][]float64
	logNormConst [][]float64
	invCovars    [][][]float64
}

// NewGMMEmitter returns an emitter for n states with k diagonal Gaussian
// components each over d-dimensional observations. Parameters are left
// nil until InitFromData or direct assignment.
func NewGMMEmitter(n, k, d int) *GMMEmitter {
	return &GMMEmitter{N: n, D: d, K: k}
}

// NStates returns the number of hidden states.
func (g *GMMEmitter) NStates() int { return g.N }

// NFeatures returns the observation dimensionality.
func (g *GMMEmitter) NFeatures() int { return g.D }

func (g *GMMEmitter) minCovar() float64 {
	if g.MinCovar > 0 {
		return g.MinCovar
	}
	return DefaultMinCovar
}

func newMat3(a, b, c int) [][][]float64 {
	m := make([][][]float64, a)
	for i := range m {
		m[i] = mathutil.NewMat(b, c)
	}
	return m
}

// Validate checks parameter completeness and rebuilds the caches.
func (g *GMMEmitter) Validate() error {
	if g.Weights == nil || g.Means == nil || g.Covars == nil {
		return ErrNotInitialized
	}
	if len(g.Weights) != g.N || len(g.Means) != g.N || len(g.Covars) != g.N {
		return fmt.Errorf("hmm: mixture parameters have wrong state count")
	}
	for i := 0; i < g.N; i++ {
		if len(g.Weights[i]) != g.K || len(g.Means[i]) != g.K || len(g.Covars[i]) != g.K {
			return fmt.Errorf("hmm: state %d has wrong component count", i)
		}
		if err := checkStochastic(g.Weights[i], fmt.Sprintf("mixture weights for state %d", i)); err != nil {
			return err
		}
		for k := 0; k < g.K; k++ {
			if len(g.Means[i][k]) != g.D || len(g.Covars[i][k]) != g.D {
				return fmt.Errorf("hmm: state %d component %d has wrong dimension", i, k)
			}
		}
	}
	g.precompute()
	return nil
}

// precompute floors the variances and rebuilds the cached log weights,
// inverse variances and normalization constants.
func (g *GMMEmitter) precompute() {
	g.logWeights = mathutil.NewMat(g.N, g.K)
	g.logNormConst = mathutil.NewMat(g.N, g.K)
	g.invCovars = newMat3(g.N, g.K, g.D)
	for i := 0; i < g.N; i++ {
		for k := 0; k < g.K; k++ {
			g.logWeights[i][k] = mathutil.Log(g.Weights[i][k])
			var logDet float64
			for d := 0; d < g.D; d++ {
				if g.Covars[i][k][d] < g.minCovar() {
					g.Covars[i][k][d] = g.minCovar()
				}
				g.invCovars[i][k][d] = 1 / g.Covars[i][k][d]
				logDet += math.Log(g.Covars[i][k][d])
			}
			g.logNormConst[i][k] = float64(g.D)/2*math.Log(2*math.Pi) + 0.5*logDet
		}
	}
}

// componentLogProb returns log(w_k) + log N(x; mean_ik, covar_ik).
func (g *GMMEmitter) componentLogProb(i, k int, x []float64) float64 {
	mean := g.Means[i][k]
	inv := g.invCovars[i][k]
	var maha float64
	for d := 0; d < g.D; d++ {
		z := x[d] - mean[d]
		maha += z * z * inv[d]
	}
	return g.logWeights[i][k] - 0.5*maha - g.logNormConst[i][k]
}

// LogLikelihoods fills dst[t][i] with log sum_k w_ik N(X[t]; mean, covar).
func (g *GMMEmitter) LogLikelihoods(X [][]float64, dst [][]float64) {
	for i := 0; i < g.N; i++ {
		for t, x := range X {
			logSum := mathutil.LogZero
			for k := 0; k < g.K; k++ {
				logSum = mathutil.LogAdd(logSum, g.componentLogProb(i, k, x))
			}
			dst[t][i] = logSum
		}
	}
}

// Sample draws a component by weight, then a diagonal Gaussian draw.
func (g *GMMEmitter) Sample(rng *rand.Rand, state int) []float64 {
	k := sampleIndex(rng, g.Weights[state])
	x := make([]float64, g.D)
	for d := 0; d < g.D; d++ {
		x[d] = g.Means[state][k][d] + math.Sqrt(g.Covars[state][k][d])*rng.NormFloat64()
	}
	return x
}

// InitFromData assigns uniform weights, means scattered around the
// global mean, and global variances to any parameter not already set.
func (g *GMMEmitter) InitFromData(rng *rand.Rand, X [][]float64, params Params) {
	mean, variance := dataMoments(X, g.D)

	if g.Weights == nil && params.Has(ParamWeights) {
		g.Weights = mathutil.NewMatFill(g.N, g.K, 1/float64(g.K))
	}
	if g.Means == nil && params.Has(ParamMeans) {
		g.Means = newMat3(g.N, g.K, g.D)
		for i := 0; i < g.N; i++ {
			for k := 0; k < g.K; k++ {
				for d := 0; d < g.D; d++ {
					g.Means[i][k][d] = mean[d] + rng.NormFloat64()*math.Sqrt(variance[d])
				}
			}
		}
	}
	if g.Covars == nil && params.Has(ParamCovars) {
		g.Covars = newMat3(g.N, g.K, g.D)
		for i := 0; i < g.N; i++ {
			for k := 0; k < g.K; k++ {
				for d := 0; d < g.D; d++ {
					g.Covars[i][k][d] = math.Max(variance[d], g.minCovar())
				}
			}
		}
	}
	if g.Weights != nil && g.Means != nil && g.Covars != nil {
		g.precompute()
	}
}

// gmmStats accumulates per-component posterior-weighted moments.
type gmmStats struct {
	post  [][]float64   // [N][K]
	obs   [][][]float64 // [N][K][D]
	obsSq [][][]float64 // [N][K][D]
}

// NewStats returns a zeroed accumulator for this emitter's shape.
func (g *GMMEmitter) NewStats() EmissionStats {
	return &gmmStats{
		post:  mathutil.NewMat(g.N, g.K),
		obs:   newMat3(g.N, g.K, g.D),
		obsSq: newMat3(g.N, g.K, g.D),
	}
}

// Merge adds the totals of other into s.
func (s *gmmStats) Merge(other EmissionStats) {
	o := other.(*gmmStats)
	for i := range s.post {
		floats.Add(s.post[i], o.post[i])
		for k := range s.obs[i] {
			floats.Add(s.obs[i][k], o.obs[i][k])
			floats.Add(s.obsSq[i][k], o.obsSq[i][k])
		}
	}
}

// AccumulateStats splits each state posterior across components in
// proportion to the component's share of the state likelihood:
// post_ik(t) = gamma[t][i] * w_ik N_ik(x_t) / b_i(x_t).
func (g *GMMEmitter) AccumulateStats(st EmissionStats, X [][]float64, loglik, gamma [][]float64) {
	s := st.(*gmmStats)
	for t, x := range X {
		for i := 0; i < g.N; i++ {
			if gamma[t][i] == 0 {
				continue
			}
			logGamma := math.Log(gamma[t][i])
			for k := 0; k < g.K; k++ {
				lp := logGamma + g.componentLogProb(i, k, x) - loglik[t][i]
				if lp <= mathutil.LogZero+1 {
					continue
				}
				p := math.Exp(lp)
				s.post[i][k] += p
				obs := s.obs[i][k]
				sq := s.obsSq[i][k]
				for d := 0; d < g.D; d++ {
					v := p * x[d]
					obs[d] += v
					sq[d] += v * x[d]
				}
			}
		}
	}
}

// MStep re-estimates weights, means and variances. Components with no
// posterior mass keep their old parameters.
func (g *GMMEmitter) MStep(st EmissionStats, params Params) error {
	s := st.(*gmmStats)
	for i := 0; i < g.N; i++ {
		total := floats.Sum(s.post[i])
		if total < 1e-10 {
			continue
		}
		for k := 0; k < g.K; k++ {
			post := s.post[i][k]
			if post < 1e-10 {
				continue
			}
			if params.Has(ParamWeights) {
				g.Weights[i][k] = post / total
			}
			if params.Has(ParamMeans) {
				for d := 0; d < g.D; d++ {
					g.Means[i][k][d] = s.obs[i][k][d] / post
				}
			}
			if params.Has(ParamCovars) {
				for d := 0; d < g.D; d++ {
					m := s.obs[i][k][d] / post
					g.Covars[i][k][d] = s.obsSq[i][k][d]/post - m*m
				}
			}
		}
		if params.Has(ParamWeights) {
			normalizeSum(g.Weights[i], 1/float64(g.K))
		}
	}
	g.precompute()
	return nil
}
