// Package explore computes the diagnostic summaries drawn before testing:
// relative log expression boxes and a principal component projection.
package explore

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/yumyai/stat3deg/pkg/counts"
	"github.com/yumyai/stat3deg/pkg/deseq"
)

var ErrTooFewGenes = errors.New("explore: not enough genes for the projection")

// Box is the five-number summary of one sample's RLE distribution.
type Box struct {
	Sample string
	Group  string
	Min    float64
	Q1     float64
	Median float64
	Q3     float64
	Max    float64
}

// RLE returns, per sample, the distribution of log(count+1) minus that gene's
// median log(count+1) across samples. by picks the grouping label.
func RLE(m *counts.Matrix, by string) []Box {
	n := m.NSamples()
	dev := make([][]float64, n)
	logRow := make([]float64, n)
	for _, row := range m.Counts {
		for j, v := range row {
			logRow[j] = math.Log(float64(v) + 1)
		}
		med := median(logRow)
		for j := range row {
			dev[j] = append(dev[j], logRow[j]-med)
		}
	}
	groups := m.Factor(by)
	boxes := make([]Box, n)
	for j, s := range m.Samples {
		d := dev[j]
		sort.Float64s(d)
		b := Box{Sample: s.Name, Group: groups[j]}
		if len(d) > 0 {
			b.Min = d[0]
			b.Q1 = stat.Quantile(0.25, stat.LinInterp, d, nil)
			b.Median = stat.Quantile(0.5, stat.LinInterp, d, nil)
			b.Q3 = stat.Quantile(0.75, stat.LinInterp, d, nil)
			b.Max = d[len(d)-1]
		}
		boxes[j] = b
	}
	return boxes
}

// Projection is the PCA of samples.
type Projection struct {
	Samples []string
	Groups  []string
	// Coords is samples x axes.
	Coords     [][]float64
	PercentVar []float64
	Genes      []string
}

// VST returns log2(normalised count + 1) using median-of-ratios size factors.
func VST(m *counts.Matrix) ([][]float64, error) {
	y := m.Float()
	sf, err := deseq.SizeFactors(y)
	if err != nil {
		return nil, err
	}
	norm := deseq.Normalize(y, sf)
	for _, row := range norm {
		for j, v := range row {
			row[j] = math.Log2(v + 1)
		}
	}
	return norm, nil
}

// PCA projects samples onto the first axes principal components of the ntop
// most variable genes after log2 transformation.
func PCA(m *counts.Matrix, ntop, axes int, by string) (*Projection, error) {
	vst, err := VST(m)
	if err != nil {
		return nil, err
	}
	return project(vst, m, ntop, axes, by)
}

// PCALog is PCA on log(count+1) without size factors, for counts that were
// already normalised.
func PCALog(m *counts.Matrix, ntop, axes int, by string) (*Projection, error) {
	y := m.Float()
	for _, row := range y {
		for j, v := range row {
			row[j] = math.Log(v + 1)
		}
	}
	return project(y, m, ntop, axes, by)
}

func project(values [][]float64, m *counts.Matrix, ntop, axes int, by string) (*Projection, error) {
	n := m.NSamples()
	if len(values) < 2 || n < 2 {
		return nil, ErrTooFewGenes
	}
	vars := make([]float64, len(values))
	order := make([]int, len(values))
	for i, row := range values {
		vars[i] = stat.Variance(row, nil)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return vars[order[a]] > vars[order[b]] })
	if ntop > len(order) {
		ntop = len(order)
	}
	top := order[:ntop]

	// samples x genes, centred per gene
	x := mat.NewDense(n, ntop, nil)
	genes := make([]string, ntop)
	for k, i := range top {
		genes[k] = m.Genes[i]
		mu := stat.Mean(values[i], nil)
		for j := 0; j < n; j++ {
			x.Set(j, k, values[i][j]-mu)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, fmt.Errorf("explore: SVD did not converge")
	}
	s := svd.Values(nil)
	var u mat.Dense
	svd.UTo(&u)

	var total float64
	for _, v := range s {
		total += v * v
	}
	if axes > len(s) {
		axes = len(s)
	}
	p := &Projection{Groups: m.Factor(by), Genes: genes, PercentVar: make([]float64, axes)}
	for _, smp := range m.Samples {
		p.Samples = append(p.Samples, smp.Name)
	}
	p.Coords = make([][]float64, n)
	for j := range p.Coords {
		p.Coords[j] = make([]float64, axes)
	}
	for a := 0; a < axes; a++ {
		// Fix the arbitrary SVD sign: largest |coordinate| is positive.
		sign, best := 1.0, 0.0
		for j := 0; j < n; j++ {
			if v := u.At(j, a); math.Abs(v) > best {
				best = math.Abs(v)
				sign = math.Copysign(1, v)
			}
		}
		for j := 0; j < n; j++ {
			p.Coords[j][a] = sign * u.At(j, a) * s[a]
		}
		if total > 0 {
			p.PercentVar[a] = 100 * s[a] * s[a] / total
		}
	}
	return p, nil
}

func median(x []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	h := len(s) / 2
	if len(s)%2 == 1 {
		return s[h]
	}
	return (s[h-1] + s[h]) / 2
}
