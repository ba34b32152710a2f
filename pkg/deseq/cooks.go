package deseq

import (
	"math"

	"gonum.org/v1/gonum/mathext"
)

// minReplicates is the smallest group whose samples take part in outlier detection.
const minReplicates = 3

// trimFor returns the trim ratio and variance scale for a cell of n samples.
func trimFor(n int) (trim, scale float64) {
	switch {
	case n <= 3:
		return 1.0 / 3, 2.04
	case n <= 23:
		return 1.0 / 4, 1.86
	default:
		return 1.0 / 8, 1.51
	}
}

// cooksSamples lists the samples belonging to groups with enough replicates.
func cooksSamples(groups []int, nGroups int) []int {
	size := make([]int, nGroups)
	for _, g := range groups {
		size[g]++
	}
	var idx []int
	for j, g := range groups {
		if size[g] >= minReplicates {
			idx = append(idx, j)
		}
	}
	return idx
}

// robustDispersion is a method-of-moments dispersion from trimmed cell means
// and variances, taking the largest cell variance. The mean term is the plain
// row mean of normalised counts, without the size factor correction used for
// the starting dispersions. It is floored at 0.04.
func robustDispersion(norm []float64, groups []int, samples []int) float64 {
	cells := map[int][]int{}
	for _, j := range samples {
		cells[groups[j]] = append(cells[groups[j]], j)
	}
	var maxVar float64
	first := true
	for _, idx := range cells {
		trim, scale := trimFor(len(idx))
		vals := make([]float64, len(idx))
		for k, j := range idx {
			vals[k] = norm[j]
		}
		cm := trimmedMean(vals, trim)
		sq := make([]float64, len(idx))
		for k, v := range vals {
			sq[k] = (v - cm) * (v - cm)
		}
		v := scale * trimmedMean(sq, trim)
		if first || v > maxVar {
			maxVar, first = v, false
		}
	}

	vals := make([]float64, len(samples))
	for k, j := range samples {
		vals[k] = norm[j]
	}
	m := mean(vals)
	if m == 0 {
		return 0.04
	}
	return math.Max((maxVar-m)/(m*m), 0.04)
}

// cooksDistance returns the largest Cook's distance over samples for one
// fitted gene.
func cooksDistance(y []float64, fit NBFit, alpha float64, p int, samples []int) float64 {
	max := math.Inf(-1)
	for _, j := range samples {
		mu := fit.Mu[j]
		v := mu + alpha*mu*mu
		r := (y[j] - mu) * (y[j] - mu) / v
		h := fit.Hat[j]
		d := r / float64(p) * h / ((1 - h) * (1 - h))
		if d > max {
			max = d
		}
	}
	return max
}

// cooksCutoff is the 0.99 quantile of F(p, m-p).
func cooksCutoff(p, m int) float64 {
	d1, d2 := float64(p), float64(m-p)
	if d2 <= 0 {
		return math.Inf(1)
	}
	x := mathext.InvRegIncBeta(d1/2, d2/2, 0.99)
	return d2 * x / (d1 * (1 - x))
}
