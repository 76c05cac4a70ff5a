package hmm

import (
	"bytes"
	"log"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelValidate(t *testing.T) {
	g := NewGaussianEmitter(2, 1, Diag)
	g.Means = [][]float64{{0}, {5}}
	g.Covars = [][]float64{{1}, {1}}

	m := New(g)
	assert.ErrorIs(t, m.Validate(), ErrNotInitialized, "nil startprob must fail")

	m.StartProb = []float64{0.5, 0.5}
	m.TransMat = [][]float64{{0.9, 0.1}, {0.1, 0.9}}
	require.NoError(t, m.Validate())

	m.StartProb = []float64{0.5, 0.6}
	assert.Error(t, m.Validate(), "non-stochastic startprob must fail")

	m.StartProb = []float64{0.5, 0.5}
	m.TransMat = [][]float64{{0.9, 0.1}, {0.3, 0.9}}
	assert.Error(t, m.Validate(), "non-stochastic transmat row must fail")

	m.TransMat = [][]float64{{0.9, 0.1}}
	assert.Error(t, m.Validate(), "misdimensioned transmat must fail")
}

func TestModelCheckData(t *testing.T) {
	m := twoStateGaussianModel(t)

	_, err := m.checkData(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyObservations)

	_, err = m.checkData([][]float64{{1, 2}}, nil)
	assert.Error(t, err, "wrong feature count must fail")

	_, err = m.checkData([][]float64{{1}, {2}}, []int{1, 2})
	assert.Error(t, err, "lengths not summing to len(X) must fail")

	_, err = m.checkData([][]float64{{1}, {2}}, []int{2, 0})
	assert.Error(t, err, "zero-length sequence must fail")

	seqs, err := m.checkData([][]float64{{1}, {2}, {3}}, []int{2, 1})
	require.NoError(t, err)
	require.Len(t, seqs, 2)
	assert.Len(t, seqs[0], 2)
	assert.Len(t, seqs[1], 1)

	seqs, err = m.checkData([][]float64{{1}, {2}}, nil)
	require.NoError(t, err)
	assert.Len(t, seqs, 1, "nil lengths treats X as one sequence")
}

func TestModelScore_SumsScoreSamples(t *testing.T) {
	m := twoStateGaussianModel(t)
	X := [][]float64{{0.2}, {0.1}, {5.1}, {4.7}, {0.3}, {5.0}}
	lengths := []int{3, 3}

	per, err := m.ScoreSamples(X, lengths)
	require.NoError(t, err)
	require.Len(t, per, 2)

	total, err := m.Score(X, lengths)
	require.NoError(t, err)
	assert.InDelta(t, per[0]+per[1], total, 1e-12)

	// Scoring each segment on its own gives the same per-sequence values.
	solo, err := m.Score(X[:3], nil)
	require.NoError(t, err)
	assert.InDelta(t, per[0], solo, 1e-12)
}

func TestModelPredictProba_RowsSumToOne(t *testing.T) {
	m := twoStateGaussianModel(t)
	X := [][]float64{{0.2}, {4.9}, {0.1}, {5.3}, {5.0}}

	gamma, err := m.PredictProba(X, []int{2, 3})
	require.NoError(t, err)
	require.Len(t, gamma, len(X))

	for tt, row := range gamma {
		var sum float64
		for _, v := range row {
			sum += v
		}
		assert.InDeltaf(t, 1.0, sum, 1e-8, "row %d", tt)
	}
	// Observations near 0 belong to state 0, near 5 to state 1.
	assert.Greater(t, gamma[0][0], 0.9)
	assert.Greater(t, gamma[1][1], 0.9)
}

func TestModelDecode_ViterbiAndMAP(t *testing.T) {
	m := twoStateGaussianModel(t)
	X := [][]float64{{0.1}, {0.2}, {4.8}, {5.1}}

	paths, scores, err := m.Decode(X, nil, AlgorithmViterbi)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, []int{0, 0, 1, 1}, paths[0])
	assert.False(t, math.IsInf(scores[0], 0))

	mapPaths, mapScores, err := m.Decode(X, nil, AlgorithmMAP)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 1}, mapPaths[0], "clean data: MAP agrees with Viterbi")
	assert.Greater(t, mapScores[0], 0.5, "mean winning posterior")
	assert.LessOrEqual(t, mapScores[0], 1.0)

	_, _, err = m.Decode(X, nil, "annealing")
	assert.Error(t, err, "unknown algorithm must fail")
}

func TestModelDecode_PerSequence(t *testing.T) {
	m := twoStateGaussianModel(t)
	X := [][]float64{{0.1}, {0.2}, {4.8}, {5.1}}

	paths, _, err := m.Decode(X, []int{2, 2}, AlgorithmViterbi)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, []int{0, 0}, paths[0])
	assert.Equal(t, []int{1, 1}, paths[1])
}

func TestModelScoreSamples_DegenerateNamesSequence(t *testing.T) {
	c := NewCategoricalEmitter(2, 2)
	c.Probs = [][]float64{{0.9, 0.1}, {0.2, 0.8}}
	m := New(c)
	m.StartProb = []float64{0.5, 0.5}
	m.TransMat = [][]float64{{0.5, 0.5}, {0.5, 0.5}}

	X := [][]float64{{0}, {1}, {0}, {9}}
	_, err := m.ScoreSamples(X, []int{2, 2})
	require.ErrorIs(t, err, ErrDegenerateSequence)
	assert.Contains(t, err.Error(), "sequence 1")
}

func TestModelScore_MatchesHandComputedChain(t *testing.T) {
	// Tiny categorical chain checked by hand:
	// P(O=[0,1]) = sum over paths of start * trans * emissions.
	c := NewCategoricalEmitter(2, 2)
	c.Probs = [][]float64{{0.9, 0.1}, {0.2, 0.8}}
	m := New(c)
	m.StartProb = []float64{0.6, 0.4}
	m.TransMat = [][]float64{{0.7, 0.3}, {0.4, 0.6}}

	var want float64
	for _, q0 := range []int{0, 1} {
		for _, q1 := range []int{0, 1} {
			want += m.StartProb[q0] * c.Probs[q0][0] * m.TransMat[q0][q1] * c.Probs[q1][1]
		}
	}

	got, err := m.Score([][]float64{{0}, {1}}, nil)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(want), got, 1e-12)
}

func TestModelSetLogger(t *testing.T) {
	// The logger is purely additive: training emits the same result with
	// or without one attached.
	rng := rand.New(rand.NewSource(131))
	ref := twoStateGaussianModel(t)
	X, lengths := sampleDataset(t, ref, rng, 2, 20)

	var buf bytes.Buffer
	m := New(NewGaussianEmitter(2, 1, Diag))
	m.SetLogger(log.New(&buf, "", 0))

	cfg := DefaultTrainConfig()
	cfg.MaxIterations = 3
	cfg.Tol = 0
	_, err := m.Fit(X, lengths, cfg)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "log-likelihood")
}
