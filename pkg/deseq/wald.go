package deseq

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// WaldTest tests |LFC| > threshold (altHypothesis greaterAbs). lfc and se
// are on the log2 scale. With threshold 0 this is the ordinary two-sided test.
func WaldTest(lfc, se, threshold float64) (stat, p float64) {
	if math.IsNaN(lfc) || math.IsNaN(se) || se <= 0 {
		return math.NaN(), math.NaN()
	}
	z := (math.Abs(lfc) - threshold) / se
	sign := 1.0
	if lfc < 0 {
		sign = -1
	}
	stat = sign * math.Max(z, 0)
	p = math.Min(1, 2*distuv.UnitNormal.Survival(z))
	return stat, p
}
