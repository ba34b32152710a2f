package deseq

import (
	"errors"
	"math"
	"sort"
)

var ErrNoReferenceGenes = errors.New("deseq: every gene has a zero count, cannot estimate size factors")

// SizeFactors computes median-of-ratios normalisation factors. counts is
// genes x samples. Genes with a zero in any sample do not contribute.
func SizeFactors(counts [][]float64) ([]float64, error) {
	if len(counts) == 0 {
		return nil, ErrNoReferenceGenes
	}
	n := len(counts[0])
	logGeo := make([]float64, len(counts))
	usable := 0
	for i, row := range counts {
		var s float64
		for _, v := range row {
			if v <= 0 {
				s = math.Inf(-1)
				break
			}
			s += math.Log(v)
		}
		if !math.IsInf(s, -1) {
			s /= float64(n)
			usable++
		}
		logGeo[i] = s
	}
	if usable == 0 {
		return nil, ErrNoReferenceGenes
	}

	sf := make([]float64, n)
	ratios := make([]float64, 0, usable)
	for j := 0; j < n; j++ {
		ratios = ratios[:0]
		for i, row := range counts {
			if math.IsInf(logGeo[i], -1) {
				continue
			}
			ratios = append(ratios, math.Log(row[j])-logGeo[i])
		}
		sf[j] = math.Exp(median(ratios))
	}
	return sf, nil
}

// Normalize divides each column by its size factor.
func Normalize(counts [][]float64, sf []float64) [][]float64 {
	out := make([][]float64, len(counts))
	for i, row := range counts {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = v / sf[j]
		}
		out[i] = r
	}
	return out
}

// median of x, sorting a copy.
func median(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	h := len(s) / 2
	if len(s)%2 == 1 {
		return s[h]
	}
	return (s[h-1] + s[h]) / 2
}
