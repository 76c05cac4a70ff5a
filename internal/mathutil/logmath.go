package mathutil

import "math"

// LogZero represents log(0), used as negative infinity in log-domain arithmetic.
const LogZero = -1e30

// LogAdd returns log(exp(a) + exp(b)) in a numerically stable way.
// Uses threshold-based early exit to skip expensive exp/log1p when the
// smaller value contributes less than float64 precision (exp(-36) ≈ 2.3e-16).
func LogAdd(a, b float64) float64 {
	if a > b {
		if b <= LogZero {
			return a
		}
		d := b - a
		if d < -36.0 {
			return a
		}
		return a + math.Log1p(math.Exp(d))
	}
	if a <= LogZero {
		return b
	}
	d := a - b
	if d < -36.0 {
		return b
	}
	return b + math.Log1p(math.Exp(d))
}

// LogSumExp returns log(sum_i exp(x[i])) over the whole slice.
// Returns LogZero for an empty slice or when every entry is LogZero.
func LogSumExp(x []float64) float64 {
	mx := LogZero
	for _, v := range x {
		if v > mx {
			mx = v
		}
	}
	if mx <= LogZero {
		return LogZero
	}
	var s float64
	for _, v := range x {
		if v > LogZero {
			s += math.Exp(v - mx)
		}
	}
	return mx + math.Log(s)
}

// Log maps a probability to the log domain, sending values at or below
// zero to LogZero instead of -Inf so that LogAdd arithmetic stays finite.
func Log(p float64) float64 {
	if p <= 0 {
		return LogZero
	}
	return math.Log(p)
}

// ArgMax returns the index of the largest element of x.
// Ties are broken by the lowest index.
func ArgMax(x []float64) int {
	k := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[k] {
			k = i
		}
	}
	return k
}
