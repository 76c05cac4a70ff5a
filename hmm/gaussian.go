package hmm

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tombao2007/hmmlearn/internal/mathutil"
)

// CovarianceType selects the covariance structure of a GaussianEmitter.
type CovarianceType uint8

const (
	// Spherical uses one variance per state, shared across features.
	Spherical CovarianceType = iota
	// Diag uses one variance per state per feature.
	Diag
	// Full uses an unrestricted covariance matrix per state.
	Full
	// Tied uses one full covariance matrix shared by all states.
	Tied
)

// DefaultMinCovar is the default variance floor.
const DefaultMinCovar = 1e-3

// GaussianEmitter is a single multivariate Gaussian per state.
// Spherical and Diag covariances are stored per feature in Covars;
// Full stores one matrix per state in FullCovars, and Tied stores the
// shared matrix in FullCovars[0].
type GaussianEmitter struct {
	N          int // hidden states
	D          int // observation features
	Covariance CovarianceType

	// MinCovar floors every variance (diagonal entry); zero selects
	// DefaultMinCovar.
	MinCovar float64

	Means      [][]float64     // [N][D]
	Covars     [][]float64     // [N][D], Spherical/Diag only
	FullCovars []*mat.SymDense // [N] for Full, [1] for Tied

	// Pre-computed values, rebuilt by precompute after every update.
	logNormConst []float64   // [N]
	invCovars    [][]float64 // [N][D], Spherical/Diag only
	chols        []mat.Cholesky
}

// NewGaussianEmitter returns an emitter for n states over d-dimensional
// observations with the given covariance structure. Parameters are left
// nil; Fit initializes them from data, or the caller assigns them and
// the next Validate picks them up.
func NewGaussianEmitter(n, d int, cov CovarianceType) *GaussianEmitter {
	return &GaussianEmitter{N: n, D: d, Covariance: cov}
}

// NStates returns the number of hidden states.
func (g *GaussianEmitter) NStates() int { return g.N }

// NFeatures returns the observation dimensionality.
func (g *GaussianEmitter) NFeatures() int { return g.D }

func (g *GaussianEmitter) minCovar() float64 {
	if g.MinCovar > 0 {
		return g.MinCovar
	}
	return DefaultMinCovar
}

func (g *GaussianEmitter) isFull() bool {
	return g.Covariance == Full || g.Covariance == Tied
}

// covarFor returns the full covariance matrix of a state.
func (g *GaussianEmitter) covarFor(state int) *mat.SymDense {
	if g.Covariance == Tied {
		return g.FullCovars[0]
	}
	return g.FullCovars[state]
}

func (g *GaussianEmitter) cholFor(state int) *mat.Cholesky {
	if g.Covariance == Tied {
		return &g.chols[0]
	}
	return &g.chols[state]
}

// Validate checks that the parameters are present and well formed, and
// rebuilds the cached normalization constants. A covariance that is not
// positive definite after flooring is a configuration error.
func (g *GaussianEmitter) Validate() error {
	if g.Means == nil {
		return ErrNotInitialized
	}
	if len(g.Means) != g.N {
		return fmt.Errorf("hmm: means has %d rows, want %d", len(g.Means), g.N)
	}
	for i, row := range g.Means {
		if len(row) != g.D {
			return fmt.Errorf("hmm: means row %d has %d entries, want %d", i, len(row), g.D)
		}
	}
	if g.isFull() {
		want := g.N
		if g.Covariance == Tied {
			want = 1
		}
		if len(g.FullCovars) != want {
			return ErrNotInitialized
		}
		for i, c := range g.FullCovars {
			if c == nil || c.SymmetricDim() != g.D {
				return fmt.Errorf("hmm: covariance %d is missing or misdimensioned", i)
			}
		}
	} else {
		if len(g.Covars) != g.N {
			return ErrNotInitialized
		}
		for i, row := range g.Covars {
			if len(row) != g.D {
				return fmt.Errorf("hmm: covars row %d has %d entries, want %d", i, len(row), g.D)
			}
		}
	}
	return g.precompute()
}

// precompute floors the variances and rebuilds the cached inverse
// variances, Cholesky factors and log normalization constants.
func (g *GaussianEmitter) precompute() error {
	g.logNormConst = make([]float64, g.N)
	if g.isFull() {
		g.chols = make([]mat.Cholesky, len(g.FullCovars))
		for k, c := range g.FullCovars {
			for j := 0; j < g.D; j++ {
				if c.At(j, j) < g.minCovar() {
					c.SetSym(j, j, g.minCovar())
				}
			}
			if ok := g.chols[k].Factorize(c); !ok {
				return fmt.Errorf("hmm: covariance %d is not positive definite", k)
			}
		}
		for i := 0; i < g.N; i++ {
			g.logNormConst[i] = float64(g.D)/2*math.Log(2*math.Pi) + 0.5*g.cholFor(i).LogDet()
		}
		return nil
	}

	g.invCovars = mathutil.NewMat(g.N, g.D)
	for i := 0; i < g.N; i++ {
		var logDet float64
		for d := 0; d < g.D; d++ {
			if g.Covars[i][d] < g.minCovar() {
				g.Covars[i][d] = g.minCovar()
			}
			g.invCovars[i][d] = 1 / g.Covars[i][d]
			logDet += math.Log(g.Covars[i][d])
		}
		g.logNormConst[i] = float64(g.D)/2*math.Log(2*math.Pi) + 0.5*logDet
	}
	return nil
}

// LogLikelihoods fills dst[t][i] with the Gaussian log-density of X[t]
// under state i. Iterates state-outer to keep per-state parameters hot.
func (g *GaussianEmitter) LogLikelihoods(X [][]float64, dst [][]float64) {
	if g.isFull() {
		diff := mat.NewVecDense(g.D, nil)
		solved := mat.NewVecDense(g.D, nil)
		for i := 0; i < g.N; i++ {
			chol := g.cholFor(i)
			mean := g.Means[i]
			for t, x := range X {
				for d := 0; d < g.D; d++ {
					diff.SetVec(d, x[d]-mean[d])
				}
				if err := chol.SolveVecTo(solved, diff); err != nil {
					dst[t][i] = mathutil.LogZero
					continue
				}
				maha := mat.Dot(diff, solved)
				dst[t][i] = -0.5*maha - g.logNormConst[i]
			}
		}
		return
	}

	for i := 0; i < g.N; i++ {
		mean := g.Means[i]
		inv := g.invCovars[i]
		for t, x := range X {
			var maha float64
			for d := 0; d < g.D; d++ {
				z := x[d] - mean[d]
				maha += z * z * inv[d]
			}
			dst[t][i] = -0.5*maha - g.logNormConst[i]
		}
	}
}

// Sample draws one observation from the given state's Gaussian.
func (g *GaussianEmitter) Sample(rng *rand.Rand, state int) []float64 {
	x := make([]float64, g.D)
	if g.isFull() {
		// x = mean + L*z with L the Cholesky factor of the covariance.
		var l mat.TriDense
		g.cholFor(state).LTo(&l)
		z := mat.NewVecDense(g.D, nil)
		for d := 0; d < g.D; d++ {
			z.SetVec(d, rng.NormFloat64())
		}
		y := mat.NewVecDense(g.D, nil)
		y.MulVec(&l, z)
		for d := 0; d < g.D; d++ {
			x[d] = g.Means[state][d] + y.AtVec(d)
		}
		return x
	}
	for d := 0; d < g.D; d++ {
		x[d] = g.Means[state][d] + math.Sqrt(g.Covars[state][d])*rng.NormFloat64()
	}
	return x
}

// InitFromData assigns data-driven defaults: means scattered around the
// global mean by the global standard deviation, covariances set to the
// global (co)variance. Parameters already set are left alone.
func (g *GaussianEmitter) InitFromData(rng *rand.Rand, X [][]float64, params Params) {
	mean, variance := dataMoments(X, g.D)

	if g.Means == nil && params.Has(ParamMeans) {
		g.Means = mathutil.NewMat(g.N, g.D)
		for i := 0; i < g.N; i++ {
			for d := 0; d < g.D; d++ {
				g.Means[i][d] = mean[d] + rng.NormFloat64()*math.Sqrt(variance[d])
			}
		}
	}

	if params.Has(ParamCovars) {
		switch g.Covariance {
		case Spherical:
			if g.Covars == nil {
				v := floats.Sum(variance) / float64(g.D)
				g.Covars = mathutil.NewMatFill(g.N, g.D, math.Max(v, g.minCovar()))
			}
		case Diag:
			if g.Covars == nil {
				g.Covars = mathutil.NewMat(g.N, g.D)
				for i := 0; i < g.N; i++ {
					for d := 0; d < g.D; d++ {
						g.Covars[i][d] = math.Max(variance[d], g.minCovar())
					}
				}
			}
		case Full, Tied:
			if g.FullCovars == nil {
				cov := dataCovariance(X, mean, g.D, g.minCovar())
				if g.Covariance == Tied {
					g.FullCovars = []*mat.SymDense{cov}
				} else {
					g.FullCovars = make([]*mat.SymDense, g.N)
					for i := range g.FullCovars {
						c := mat.NewSymDense(g.D, nil)
						c.CopySym(cov)
						g.FullCovars[i] = c
					}
				}
			}
		}
	}

	// Caches are rebuilt here so that sampling works right after init,
	// but only once every parameter is present: params may exclude some,
	// and the next Validate reports what is still missing. A configuration
	// error also resurfaces from that Validate.
	covarsReady := g.Covars != nil
	if g.isFull() {
		covarsReady = g.FullCovars != nil
	}
	if g.Means != nil && covarsReady {
		_ = g.precompute()
	}
}

// dataMoments returns the per-feature global mean and variance.
func dataMoments(X [][]float64, d int) ([]float64, []float64) {
	mean := make([]float64, d)
	for _, x := range X {
		floats.Add(mean, x)
	}
	floats.Scale(1/float64(len(X)), mean)

	variance := make([]float64, d)
	for _, x := range X {
		for j := 0; j < d; j++ {
			z := x[j] - mean[j]
			variance[j] += z * z
		}
	}
	floats.Scale(1/float64(len(X)), variance)
	for j := range variance {
		if variance[j] <= 0 {
			variance[j] = 1
		}
	}
	return mean, variance
}

// dataCovariance returns the global sample covariance with a floored
// diagonal.
func dataCovariance(X [][]float64, mean []float64, d int, minCovar float64) *mat.SymDense {
	cov := mat.NewSymDense(d, nil)
	diff := mat.NewVecDense(d, nil)
	for _, x := range X {
		for j := 0; j < d; j++ {
			diff.SetVec(j, x[j]-mean[j])
		}
		cov.SymRankOne(cov, 1/float64(len(X)), diff)
	}
	for j := 0; j < d; j++ {
		if cov.At(j, j) < minCovar {
			cov.SetSym(j, j, minCovar)
		}
	}
	return cov
}

// gaussianStats accumulates posterior-weighted sums for the M-step.
type gaussianStats struct {
	post  []float64   // [N] total posterior mass per state
	obs   [][]float64 // [N][D] posterior-weighted observation sums
	obsSq [][]float64 // [N][D] posterior-weighted squared sums (diag families)
	outer []*mat.SymDense // [N] posterior-weighted outer products (full families)
}

// NewStats returns a zeroed accumulator for this emitter's shape.
func (g *GaussianEmitter) NewStats() EmissionStats {
	st := &gaussianStats{
		post: make([]float64, g.N),
		obs:  mathutil.NewMat(g.N, g.D),
	}
	if g.isFull() {
		st.outer = make([]*mat.SymDense, g.N)
		for i := range st.outer {
			st.outer[i] = mat.NewSymDense(g.D, nil)
		}
	} else {
		st.obsSq = mathutil.NewMat(g.N, g.D)
	}
	return st
}

// Merge adds the totals of other into s.
func (s *gaussianStats) Merge(other EmissionStats) {
	o := other.(*gaussianStats)
	floats.Add(s.post, o.post)
	for i := range s.obs {
		floats.Add(s.obs[i], o.obs[i])
	}
	if s.obsSq != nil {
		for i := range s.obsSq {
			floats.Add(s.obsSq[i], o.obsSq[i])
		}
	}
	if s.outer != nil {
		for i := range s.outer {
			s.outer[i].AddSym(s.outer[i], o.outer[i])
		}
	}
}

// AccumulateStats adds one sequence's posterior-weighted moments.
func (g *GaussianEmitter) AccumulateStats(st EmissionStats, X [][]float64, loglik, gamma [][]float64) {
	s := st.(*gaussianStats)
	for t, x := range X {
		for i := 0; i < g.N; i++ {
			p := gamma[t][i]
			if p == 0 {
				continue
			}
			s.post[i] += p
			obs := s.obs[i]
			for d := 0; d < g.D; d++ {
				obs[d] += p * x[d]
			}
			if s.obsSq != nil {
				sq := s.obsSq[i]
				for d := 0; d < g.D; d++ {
					sq[d] += p * x[d] * x[d]
				}
			}
			if s.outer != nil {
				s.outer[i].SymRankOne(s.outer[i], p, mat.NewVecDense(g.D, x))
			}
		}
	}
}

// MStep re-estimates means and covariances from the accumulated
// statistics. States with no posterior mass keep their old parameters.
func (g *GaussianEmitter) MStep(st EmissionStats, params Params) error {
	s := st.(*gaussianStats)

	if params.Has(ParamMeans) {
		for i := 0; i < g.N; i++ {
			if s.post[i] < 1e-10 {
				continue
			}
			for d := 0; d < g.D; d++ {
				g.Means[i][d] = s.obs[i][d] / s.post[i]
			}
		}
	}

	// Covariances center on the model's current means, which equal the
	// empirical posterior-weighted means when ParamMeans was updated above
	// but stay wherever the caller fixed them when it was not:
	// E[(x-m)^2] = E[x^2] - 2 m E[x] + m^2 per feature, and the matrix
	// analogue for the full families.
	if params.Has(ParamCovars) {
		switch g.Covariance {
		case Spherical, Diag:
			for i := 0; i < g.N; i++ {
				if s.post[i] < 1e-10 {
					continue
				}
				for d := 0; d < g.D; d++ {
					m := g.Means[i][d]
					ex := s.obs[i][d] / s.post[i]
					g.Covars[i][d] = s.obsSq[i][d]/s.post[i] - 2*m*ex + m*m
				}
				if g.Covariance == Spherical {
					v := floats.Sum(g.Covars[i]) / float64(g.D)
					mathutil.FillVec(g.Covars[i], v)
				}
			}
		case Full:
			for i := 0; i < g.N; i++ {
				if s.post[i] < 1e-10 {
					continue
				}
				g.FullCovars[i] = mstepFullCovar(s.outer[i], g.Means[i], s.obs[i], s.post[i], g.D)
			}
		case Tied:
			// Pool the per-state second moments about the per-state means
			// into one shared matrix, normalized by the total mass.
			total := floats.Sum(s.post)
			if total >= 1e-10 {
				pooled := mat.NewSymDense(g.D, nil)
				for i := 0; i < g.N; i++ {
					if s.post[i] < 1e-10 {
						continue
					}
					perState := mstepFullCovar(s.outer[i], g.Means[i], s.obs[i], s.post[i], g.D)
					perState.ScaleSym(s.post[i], perState)
					pooled.AddSym(pooled, perState)
				}
				pooled.ScaleSym(1/total, pooled)
				g.FullCovars[0] = pooled
			}
		}
	}

	return g.precompute()
}

// mstepFullCovar converts posterior-weighted second moments into a
// covariance matrix about the given mean:
//
//	outer/post - mean*ex^T - ex*mean^T + mean*mean^T
//
// with ex = obs/post, rearranged into two symmetric rank-one updates:
// outer/post - ex*ex^T + (mean-ex)(mean-ex)^T.
func mstepFullCovar(outer *mat.SymDense, mean, obs []float64, post float64, d int) *mat.SymDense {
	ex := make([]float64, d)
	diff := make([]float64, d)
	for j := 0; j < d; j++ {
		ex[j] = obs[j] / post
		diff[j] = mean[j] - ex[j]
	}
	cov := mat.NewSymDense(d, nil)
	cov.ScaleSym(1/post, outer)
	cov.SymRankOne(cov, -1, mat.NewVecDense(d, ex))
	cov.SymRankOne(cov, 1, mat.NewVecDense(d, diff))
	return cov
}
