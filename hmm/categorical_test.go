package hmm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/tombao2007/hmmlearn/internal/mathutil"
)

func TestCategoricalLogLikelihoods(t *testing.T) {
	c := NewCategoricalEmitter(2, 3)
	c.Probs = [][]float64{{0.5, 0.3, 0.2}, {0.1, 0.1, 0.8}}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	X := [][]float64{{0}, {2}, {1}}
	dst := mathutil.NewMat(len(X), 2)
	c.LogLikelihoods(X, dst)

	want := [][]float64{
		{math.Log(0.5), math.Log(0.1)},
		{math.Log(0.2), math.Log(0.8)},
		{math.Log(0.3), math.Log(0.1)},
	}
	for tt := range want {
		for i := range want[tt] {
			if diff := math.Abs(dst[tt][i] - want[tt][i]); diff > 1e-12 {
				t.Errorf("t=%d state=%d: got %f, want %f", tt, i, dst[tt][i], want[tt][i])
			}
		}
	}
}

func TestCategoricalLogLikelihoods_OutOfAlphabet(t *testing.T) {
	c := NewCategoricalEmitter(2, 3)
	c.Probs = [][]float64{{0.5, 0.3, 0.2}, {0.1, 0.1, 0.8}}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// Negative, beyond the alphabet, and non-integer observations all
	// score as impossible in every state.
	X := [][]float64{{-1}, {3}, {1.5}}
	dst := mathutil.NewMat(len(X), 2)
	c.LogLikelihoods(X, dst)

	for tt := range X {
		for i := 0; i < 2; i++ {
			if dst[tt][i] != mathutil.LogZero {
				t.Errorf("t=%d state=%d: got %f, want LogZero", tt, i, dst[tt][i])
			}
		}
	}
}

func TestCategoricalMStep_NormalizesCounts(t *testing.T) {
	c := NewCategoricalEmitter(1, 3)
	c.Probs = [][]float64{{1.0 / 3, 1.0 / 3, 1.0 / 3}}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// Symbols 0,0,1,2 with unit posteriors: frequencies 0.5, 0.25, 0.25.
	X := [][]float64{{0}, {0}, {1}, {2}}
	gamma := mathutil.NewMatFill(len(X), 1, 1)
	loglik := mathutil.NewMat(len(X), 1)

	st := c.NewStats()
	c.AccumulateStats(st, X, loglik, gamma)
	if err := c.MStep(st, ParamProbs); err != nil {
		t.Fatalf("MStep: %v", err)
	}

	want := []float64{0.5, 0.25, 0.25}
	for s, w := range want {
		if diff := math.Abs(c.Probs[0][s] - w); diff > 1e-12 {
			t.Errorf("P(symbol %d)=%f, want %f", s, c.Probs[0][s], w)
		}
	}
}

func TestCategoricalMStep_RespectsFrozenProbs(t *testing.T) {
	c := NewCategoricalEmitter(1, 2)
	c.Probs = [][]float64{{0.9, 0.1}}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	X := [][]float64{{1}, {1}}
	gamma := mathutil.NewMatFill(2, 1, 1)
	loglik := mathutil.NewMat(2, 1)

	st := c.NewStats()
	c.AccumulateStats(st, X, loglik, gamma)
	if err := c.MStep(st, ParamStartProb|ParamTransMat); err != nil {
		t.Fatalf("MStep: %v", err)
	}

	if c.Probs[0][0] != 0.9 || c.Probs[0][1] != 0.1 {
		t.Errorf("frozen emission probabilities changed: %v", c.Probs[0])
	}
}

func TestCategoricalInitFromData_RowsStochastic(t *testing.T) {
	rng := rand.New(rand.NewSource(67))
	X := make([][]float64, 200)
	for i := range X {
		X[i] = []float64{float64(rng.Intn(4))}
	}

	c := NewCategoricalEmitter(3, 4)
	c.InitFromData(rng, X, ParamsAll)
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate after init: %v", err)
	}

	// Random rows must leave states distinguishable so that the first
	// E-step already assigns them different posteriors.
	same := true
	for s := 0; s < 4; s++ {
		if c.Probs[0][s] != c.Probs[1][s] {
			same = false
			break
		}
	}
	if same {
		t.Error("states initialized identically, EM cannot break symmetry")
	}
}

func TestCategoricalSample_InAlphabet(t *testing.T) {
	c := NewCategoricalEmitter(1, 3)
	c.Probs = [][]float64{{0.2, 0.3, 0.5}}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	rng := rand.New(rand.NewSource(71))
	counts := make([]int, 3)
	const draws = 3000
	for k := 0; k < draws; k++ {
		x := c.Sample(rng, 0)
		s := int(x[0])
		if s < 0 || s > 2 || float64(s) != x[0] {
			t.Fatalf("sampled symbol %v outside alphabet", x)
		}
		counts[s]++
	}
	for s, want := range []float64{0.2, 0.3, 0.5} {
		got := float64(counts[s]) / draws
		if math.Abs(got-want) > 0.05 {
			t.Errorf("symbol %d frequency %f, want about %f", s, got, want)
		}
	}
}
