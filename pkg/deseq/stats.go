package deseq

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

func mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, nil)
}

// variance is the unbiased sample variance.
func variance(x []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	return stat.Variance(x, nil)
}

// medianAbsDeviation is the normal-consistent MAD (constant 1.4826).
func medianAbsDeviation(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	c := median(x)
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - c)
	}
	return 1.4826 * median(dev)
}

// trimmedMean drops floor(n*trim) values from each end of the sorted sample.
func trimmedMean(x []float64, trim float64) float64 {
	n := len(x)
	if n == 0 {
		return math.NaN()
	}
	if trim >= 0.5 {
		return median(x)
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	lo := int(math.Floor(float64(n) * trim))
	return stat.Mean(s[lo:n-lo], nil)
}

// quantileR7 is the linear-interpolation sample quantile (R type 7).
// sorted must be ascending.
func quantileR7(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	// 1-based index and weights as in R's quantile()
	index := 1 + float64(n-1)*p
	lo := math.Floor(index)
	hi := math.Ceil(index)
	q := sorted[int(lo)-1]
	if index > lo && sorted[int(hi)-1] != q {
		h := index - lo
		q = (1-h)*q + h*sorted[int(hi)-1]
	}
	return q
}
