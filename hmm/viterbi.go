package hmm

import (
	"github.com/tombao2007/hmmlearn/internal/mathutil"
)

// Viterbi computes the single most probable hidden-state path for one
// sequence by dynamic programming over log-probabilities. loglik is the
// T x N emission log-likelihood matrix. It returns the state path and
// its joint log-probability. Ties in the argmax are broken by the lowest
// state index, so decoding is deterministic.
func Viterbi(startProb []float64, transMat [][]float64, loglik [][]float64) ([]int, float64) {
	T := len(loglik)
	N := len(startProb)
	logTrans := logMat(transMat)

	delta := mathutil.NewMat(T, N)
	bp := make([][]int32, T)
	for t := range bp {
		bp[t] = make([]int32, N)
	}

	for i := 0; i < N; i++ {
		delta[0][i] = mathutil.Log(startProb[i]) + loglik[0][i]
	}

	work := make([]float64, N)
	for t := 1; t < T; t++ {
		for j := 0; j < N; j++ {
			for i := 0; i < N; i++ {
				work[i] = delta[t-1][i] + logTrans[i][j]
			}
			best := mathutil.ArgMax(work)
			bp[t][j] = int32(best)
			delta[t][j] = work[best] + loglik[t][j]
		}
	}

	path := make([]int, T)
	path[T-1] = mathutil.ArgMax(delta[T-1])
	logProb := delta[T-1][path[T-1]]
	for t := T - 1; t > 0; t-- {
		path[t-1] = int(bp[t][path[t]])
	}
	return path, logProb
}

// mapDecode picks the posterior-mode state independently at each time
// step: path[t] = argmax_i gamma[t][i]. Unlike Viterbi the result is not
// a jointly optimal path, and consecutive states may have zero transition
// probability under the model. The second return value is the mean of
// the winning posteriors over the sequence.
func mapDecode(gamma [][]float64) ([]int, float64) {
	T := len(gamma)
	path := make([]int, T)
	var sum float64
	for t := range gamma {
		path[t] = mathutil.ArgMax(gamma[t])
		sum += gamma[t][path[t]]
	}
	return path, sum / float64(T)
}
