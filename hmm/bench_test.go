package hmm

import (
	"math/rand"
	"testing"

	"github.com/tombao2007/hmmlearn/internal/mathutil"
)

func benchModel(b *testing.B, n, d int) (*Model, [][]float64) {
	b.Helper()
	rng := rand.New(rand.NewSource(42))

	g := NewGaussianEmitter(n, d, Diag)
	g.Means = mathutil.NewMat(n, d)
	g.Covars = mathutil.NewMatFill(n, d, 1)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			g.Means[i][j] = float64(i*3) + rng.NormFloat64()
		}
	}

	m := New(g)
	m.StartProb = mathutil.NewVecFill(n, 1/float64(n))
	m.TransMat = mathutil.NewMatFill(n, n, 1/float64(n))
	if err := m.Validate(); err != nil {
		b.Fatalf("Validate: %v", err)
	}

	X, _, err := m.Sample(500, rng)
	if err != nil {
		b.Fatalf("Sample: %v", err)
	}
	return m, X
}

func BenchmarkForwardBackward_5x500(b *testing.B) {
	m, X := benchModel(b, 5, 13)
	loglik := mathutil.NewMat(len(X), m.NStates())
	m.Emitter.LogLikelihoods(X, loglik)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, _, err := ForwardBackward(m.StartProb, m.TransMat, loglik); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkViterbi_5x500(b *testing.B) {
	m, X := benchModel(b, 5, 13)
	loglik := mathutil.NewMat(len(X), m.NStates())
	m.Emitter.LogLikelihoods(X, loglik)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Viterbi(m.StartProb, m.TransMat, loglik)
	}
}

func BenchmarkGaussianLogLikelihoods_5x500x13(b *testing.B) {
	m, X := benchModel(b, 5, 13)
	dst := mathutil.NewMat(len(X), m.NStates())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Emitter.LogLikelihoods(X, dst)
	}
}

func BenchmarkFit_Gaussian(b *testing.B) {
	_, X := benchModel(b, 3, 4)
	lengths := []int{100, 100, 100, 100, 100}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := New(NewGaussianEmitter(3, 4, Diag))
		cfg := DefaultTrainConfig()
		cfg.MaxIterations = 5
		cfg.Tol = 0
		if _, err := m.Fit(X, lengths, cfg); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFit_GaussianParallel(b *testing.B) {
	_, X := benchModel(b, 3, 4)
	lengths := []int{100, 100, 100, 100, 100}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := New(NewGaussianEmitter(3, 4, Diag))
		cfg := DefaultTrainConfig()
		cfg.MaxIterations = 5
		cfg.Tol = 0
		cfg.Workers = 4
		if _, err := m.Fit(X, lengths, cfg); err != nil {
			b.Fatal(err)
		}
	}
}
