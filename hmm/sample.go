package hmm

import (
	"math/rand"
)

// Sample draws n observations and their hidden states from the model.
// The first state follows StartProb and subsequent states follow
// TransMat; each observation is drawn from the emitter conditioned on
// the current state. rng must not be nil: sampling reproducibility is
// the caller's to control through the generator it passes in.
func (m *Model) Sample(n int, rng *rand.Rand) ([][]float64, []int, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	if n <= 0 {
		return nil, nil, ErrEmptyObservations
	}

	X := make([][]float64, n)
	states := make([]int, n)

	state := sampleIndex(rng, m.StartProb)
	for t := 0; t < n; t++ {
		states[t] = state
		X[t] = m.Emitter.Sample(rng, state)
		if t < n-1 {
			state = sampleIndex(rng, m.TransMat[state])
		}
	}
	return X, states, nil
}

// sampleIndex draws an index from a probability vector by inverting the
// cumulative distribution. The final index absorbs any rounding slack.
func sampleIndex(rng *rand.Rand, probs []float64) int {
	offset := rng.Float64()
	for i, p := range probs {
		offset -= p
		if offset < 0 {
			return i
		}
	}
	return len(probs) - 1
}
