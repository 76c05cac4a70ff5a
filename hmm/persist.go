package hmm

import (
	"encoding/gob"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// Serializable snapshot types for gob encoding. Only the parameter data
// model is persisted; cached values are rebuilt on load.
type savedModel struct {
	StartProb []float64
	TransMat  [][]float64

	Family      string
	Gaussian    *savedGaussian
	Mixture     *savedMixture
	Categorical *savedCategorical
}

type savedGaussian struct {
	N, D       int
	Covariance CovarianceType
	MinCovar   float64
	Means      [][]float64
	Covars     [][]float64
	FullCovars [][]float64 // flattened D*D row-major per matrix
}

type savedMixture struct {
	N, D, K  int
	MinCovar float64
	Weights  [][]float64
	Means    [][][]float64
	Covars   [][][]float64
}

type savedCategorical struct {
	N, NSymbols int
	Probs       [][]float64
}

// Save writes the model parameters to w using gob encoding.
func (m *Model) Save(w io.Writer) error {
	if err := m.Validate(); err != nil {
		return err
	}
	sm := savedModel{
		StartProb: m.StartProb,
		TransMat:  m.TransMat,
	}
	switch e := m.Emitter.(type) {
	case *GaussianEmitter:
		sm.Family = "gaussian"
		sg := &savedGaussian{
			N: e.N, D: e.D, Covariance: e.Covariance, MinCovar: e.MinCovar,
			Means: e.Means, Covars: e.Covars,
		}
		for _, c := range e.FullCovars {
			flat := make([]float64, e.D*e.D)
			for i := 0; i < e.D; i++ {
				for j := 0; j < e.D; j++ {
					flat[i*e.D+j] = c.At(i, j)
				}
			}
			sg.FullCovars = append(sg.FullCovars, flat)
		}
		sm.Gaussian = sg
	case *GMMEmitter:
		sm.Family = "mixture"
		sm.Mixture = &savedMixture{
			N: e.N, D: e.D, K: e.K, MinCovar: e.MinCovar,
			Weights: e.Weights, Means: e.Means, Covars: e.Covars,
		}
	case *CategoricalEmitter:
		sm.Family = "categorical"
		sm.Categorical = &savedCategorical{N: e.N, NSymbols: e.NSymbols, Probs: e.Probs}
	default:
		return fmt.Errorf("hmm: cannot serialize emitter of type %T", m.Emitter)
	}
	return gob.NewEncoder(w).Encode(sm)
}

// Load reads a model saved by Save and rebuilds its cached values.
func Load(r io.Reader) (*Model, error) {
	var sm savedModel
	if err := gob.NewDecoder(r).Decode(&sm); err != nil {
		return nil, err
	}

	var emitter Emitter
	switch sm.Family {
	case "gaussian":
		sg := sm.Gaussian
		g := &GaussianEmitter{
			N: sg.N, D: sg.D, Covariance: sg.Covariance, MinCovar: sg.MinCovar,
			Means: sg.Means, Covars: sg.Covars,
		}
		for _, flat := range sg.FullCovars {
			g.FullCovars = append(g.FullCovars, mat.NewSymDense(sg.D, flat))
		}
		emitter = g
	case "mixture":
		sx := sm.Mixture
		emitter = &GMMEmitter{
			N: sx.N, D: sx.D, K: sx.K, MinCovar: sx.MinCovar,
			Weights: sx.Weights, Means: sx.Means, Covars: sx.Covars,
		}
	case "categorical":
		sc := sm.Categorical
		emitter = &CategoricalEmitter{N: sc.N, NSymbols: sc.NSymbols, Probs: sc.Probs}
	default:
		return nil, fmt.Errorf("hmm: unknown emitter family %q", sm.Family)
	}

	m := &Model{StartProb: sm.StartProb, TransMat: sm.TransMat, Emitter: emitter}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
