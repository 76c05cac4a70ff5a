package hmm

import (
	"bytes"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func roundTrip(t *testing.T, m *Model) *Model {
	t.Helper()
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return loaded
}

func TestPersist_Gaussian(t *testing.T) {
	m := twoStateGaussianModel(t)
	loaded := roundTrip(t, m)

	X := [][]float64{{0.2}, {4.9}, {0.1}}
	want, err := m.Score(X, nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	got, err := loaded.Score(X, nil)
	if err != nil {
		t.Fatalf("Score after load: %v", err)
	}
	if diff := math.Abs(got - want); diff > 1e-12 {
		t.Errorf("score changed across round trip: %f vs %f", got, want)
	}
}

func TestPersist_GaussianFull(t *testing.T) {
	g := NewGaussianEmitter(2, 2, Full)
	g.Means = [][]float64{{0, 0}, {3, 3}}
	g.FullCovars = []*mat.SymDense{
		mat.NewSymDense(2, []float64{1, 0.3, 0.3, 1}),
		mat.NewSymDense(2, []float64{2, -0.4, -0.4, 1}),
	}
	m := New(g)
	m.StartProb = []float64{0.5, 0.5}
	m.TransMat = [][]float64{{0.8, 0.2}, {0.2, 0.8}}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	loaded := roundTrip(t, m)
	lg := loaded.Emitter.(*GaussianEmitter)
	if lg.Covariance != Full {
		t.Fatalf("covariance type %d, want Full", lg.Covariance)
	}
	for k := range g.FullCovars {
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				if lg.FullCovars[k].At(i, j) != g.FullCovars[k].At(i, j) {
					t.Errorf("covariance %d entry (%d,%d) changed", k, i, j)
				}
			}
		}
	}

	X := [][]float64{{0.5, -0.2}, {2.8, 3.1}}
	want, _ := m.Score(X, nil)
	got, err := loaded.Score(X, nil)
	if err != nil {
		t.Fatalf("Score after load: %v", err)
	}
	if diff := math.Abs(got - want); diff > 1e-12 {
		t.Errorf("score changed across round trip: %f vs %f", got, want)
	}
}

func TestPersist_Mixture(t *testing.T) {
	gm := NewGMMEmitter(2, 2, 1)
	gm.Weights = [][]float64{{0.3, 0.7}, {0.6, 0.4}}
	gm.Means = [][][]float64{{{-1}, {1}}, {{4}, {6}}}
	gm.Covars = [][][]float64{{{1}, {0.5}}, {{0.5}, {1}}}
	m := New(gm)
	m.StartProb = []float64{0.5, 0.5}
	m.TransMat = [][]float64{{0.9, 0.1}, {0.1, 0.9}}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	loaded := roundTrip(t, m)
	X := [][]float64{{0.3}, {5.2}, {-0.8}}
	want, _ := m.Score(X, nil)
	got, err := loaded.Score(X, nil)
	if err != nil {
		t.Fatalf("Score after load: %v", err)
	}
	if diff := math.Abs(got - want); diff > 1e-12 {
		t.Errorf("score changed across round trip: %f vs %f", got, want)
	}
}

func TestPersist_Categorical(t *testing.T) {
	c := NewCategoricalEmitter(2, 3)
	c.Probs = [][]float64{{0.5, 0.3, 0.2}, {0.1, 0.1, 0.8}}
	m := New(c)
	m.StartProb = []float64{0.6, 0.4}
	m.TransMat = [][]float64{{0.7, 0.3}, {0.4, 0.6}}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	loaded := roundTrip(t, m)
	X := [][]float64{{0}, {2}, {1}, {2}}
	want, _ := m.Score(X, nil)
	got, err := loaded.Score(X, nil)
	if err != nil {
		t.Fatalf("Score after load: %v", err)
	}
	if diff := math.Abs(got - want); diff > 1e-12 {
		t.Errorf("score changed across round trip: %f vs %f", got, want)
	}
}

func TestPersist_RejectsUnvalidatedModel(t *testing.T) {
	m := New(NewGaussianEmitter(2, 1, Diag))
	var buf bytes.Buffer
	if err := m.Save(&buf); err == nil {
		t.Error("Save accepted an uninitialized model")
	}
}

func TestLoad_RejectsGarbage(t *testing.T) {
	if _, err := Load(bytes.NewBufferString("not a gob stream")); err == nil {
		t.Error("Load accepted garbage input")
	}
}
