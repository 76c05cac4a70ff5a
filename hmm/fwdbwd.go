package hmm

import (
	"math"

	"github.com/tombao2007/hmmlearn/internal/mathutil"
)

// ForwardBackward runs the scaled log-space forward-backward recursions
// over one sequence. loglik is the T x N emission log-likelihood matrix
// for the sequence; startProb and transMat are the model parameters.
//
// It returns the total log-likelihood log P(O | model), the posterior
// state-occupation matrix gamma (T x N, rows sum to 1), and the expected
// transition counts xiSum (N x N, summed over t = 0..T-2; all zero when
// T = 1).
//
// ErrDegenerateSequence is returned when no state path has non-zero
// probability, in which case gamma and xiSum are nil.
func ForwardBackward(startProb []float64, transMat [][]float64, loglik [][]float64) (float64, [][]float64, [][]float64, error) {
	T := len(loglik)
	N := len(startProb)

	logAlpha := mathutil.NewMat(T, N)
	logBeta := mathutil.NewMat(T, N)
	logTrans := logMat(transMat)

	forwardLog(startProb, logTrans, loglik, logAlpha)
	backwardLog(logTrans, loglik, logBeta)

	logProb := mathutil.LogSumExp(logAlpha[T-1])
	if logProb <= mathutil.LogZero+1 {
		return logProb, nil, nil, ErrDegenerateSequence
	}

	// gamma[t][i] = exp(alpha[t][i] + beta[t][i] - logProb)
	gamma := mathutil.NewMat(T, N)
	for t := 0; t < T; t++ {
		for i := 0; i < N; i++ {
			g := logAlpha[t][i] + logBeta[t][i] - logProb
			if g > mathutil.LogZero+1 {
				gamma[t][i] = math.Exp(g)
			}
		}
	}

	// xiSum[i][j] = sum_t exp(alpha[t][i] + log a_ij + b_j(o_{t+1}) + beta[t+1][j] - logProb)
	xiSum := mathutil.NewMat(N, N)
	for t := 0; t < T-1; t++ {
		for i := 0; i < N; i++ {
			if logAlpha[t][i] <= mathutil.LogZero+1 {
				continue
			}
			for j := 0; j < N; j++ {
				lx := logAlpha[t][i] + logTrans[i][j] + loglik[t+1][j] + logBeta[t+1][j] - logProb
				if lx > mathutil.LogZero+1 {
					xiSum[i][j] += math.Exp(lx)
				}
			}
		}
	}

	return logProb, gamma, xiSum, nil
}

// forwardLog fills logAlpha[t][j] = log P(o_1..o_t, q_t = j).
func forwardLog(startProb []float64, logTrans, loglik, logAlpha [][]float64) {
	T := len(loglik)
	N := len(startProb)
	work := make([]float64, N)

	for i := 0; i < N; i++ {
		logAlpha[0][i] = mathutil.Log(startProb[i]) + loglik[0][i]
	}

	for t := 1; t < T; t++ {
		for j := 0; j < N; j++ {
			for i := 0; i < N; i++ {
				work[i] = logAlpha[t-1][i] + logTrans[i][j]
			}
			logAlpha[t][j] = mathutil.LogSumExp(work) + loglik[t][j]
		}
	}
}

// backwardLog fills logBeta[t][i] = log P(o_{t+1}..o_T | q_t = i).
func backwardLog(logTrans, loglik, logBeta [][]float64) {
	T := len(loglik)
	N := len(logTrans)
	work := make([]float64, N)

	// beta[T-1][i] = log 1 = 0; NewMat already zeroes the last row.

	for t := T - 2; t >= 0; t-- {
		for i := 0; i < N; i++ {
			for j := 0; j < N; j++ {
				work[j] = logTrans[i][j] + loglik[t+1][j] + logBeta[t+1][j]
			}
			logBeta[t][i] = mathutil.LogSumExp(work)
		}
	}
}

// sequenceLogProb runs only the forward pass and returns the sequence
// log-likelihood. Used by Score, which needs no posteriors.
func sequenceLogProb(startProb []float64, logTrans [][]float64, loglik [][]float64) (float64, error) {
	T := len(loglik)
	N := len(startProb)
	logAlpha := mathutil.NewMat(T, N)
	forwardLog(startProb, logTrans, loglik, logAlpha)
	logProb := mathutil.LogSumExp(logAlpha[T-1])
	if logProb <= mathutil.LogZero+1 {
		return logProb, ErrDegenerateSequence
	}
	return logProb, nil
}

// logMat returns the element-wise log of a probability matrix.
func logMat(m [][]float64) [][]float64 {
	if len(m) == 0 {
		return nil
	}
	lm := mathutil.NewMat(len(m), len(m[0]))
	for i := range m {
		for j := range m[i] {
			lm[i][j] = mathutil.Log(m[i][j])
		}
	}
	return lm
}
