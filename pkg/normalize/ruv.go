// Package normalize holds the experimental housekeeping-gene normalisation
// (RUVg). It is never applied on the production path.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/yumyai/stat3deg/logger"
	"github.com/yumyai/stat3deg/pkg/counts"
	"github.com/yumyai/stat3deg/pkg/geneset"
)

var ErrNoControls = errors.New("normalize: no control genes in the matrix")

// StableControls ranks the housekeeping genes present in m by relative
// standard deviation (sd/mean) and keeps the top n. Genes with zero mean are
// skipped.
func StableControls(m *counts.Matrix, housekeeping geneset.Set, n int) []string {
	type ranked struct {
		gene string
		rsd  float64
	}
	var rs []ranked
	for i, g := range m.Genes {
		if !housekeeping.Has(g) {
			continue
		}
		row := make([]float64, len(m.Counts[i]))
		for j, v := range m.Counts[i] {
			row[j] = float64(v)
		}
		mu, sd := stat.MeanStdDev(row, nil)
		if mu == 0 {
			continue
		}
		rs = append(rs, ranked{g, sd / mu})
	}
	sort.SliceStable(rs, func(a, b int) bool { return rs[a].rsd < rs[b].rsd })
	if n > len(rs) {
		n = len(rs)
	}
	out := make([]string, n)
	for k := range out {
		out[k] = rs[k].gene
	}
	return out
}

// RUV is the result of removing k unwanted factors estimated from control genes.
type RUV struct {
	// W is samples x k.
	W          *mat.Dense
	Normalized *counts.Matrix
	Controls   []string
}

// Factor returns the unwanted-variation factor of column a, one value per sample.
func (r *RUV) Factor(a int) []float64 {
	n, _ := r.W.Dims()
	out := make([]float64, n)
	for j := range out {
		out[j] = r.W.At(j, a)
	}
	return out
}

// RUVg estimates W from the centred log counts of the control genes by SVD,
// regresses every gene's log counts on W and returns counts with that
// component removed.
func RUVg(m *counts.Matrix, controls []string, k int) (*RUV, error) {
	if len(controls) == 0 {
		return nil, ErrNoControls
	}
	n, g := m.NSamples(), m.NGenes()
	if k < 1 || k >= n {
		return nil, fmt.Errorf("normalize: k=%d must be in [1, %d)", k, n)
	}

	// Y is samples x genes of log(count+1).
	y := mat.NewDense(n, g, nil)
	for i, row := range m.Counts {
		for j, v := range row {
			y.Set(j, i, math.Log(float64(v)+1))
		}
	}

	yc := mat.NewDense(n, len(controls), nil)
	for c, gene := range controls {
		i, ok := m.GeneIndex(gene)
		if !ok {
			return nil, fmt.Errorf("normalize: control %q not in matrix", gene)
		}
		col := mat.Col(nil, i, y)
		mu := stat.Mean(col, nil)
		for j := range col {
			yc.Set(j, c, col[j]-mu)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(yc, mat.SVDThin); !ok {
		return nil, errors.New("normalize: SVD of control genes did not converge")
	}
	var u mat.Dense
	svd.UTo(&u)
	if _, uc := u.Dims(); uc < k {
		return nil, fmt.Errorf("normalize: only %d factors available for k=%d", uc, k)
	}
	w := mat.DenseCopyOf(u.Slice(0, n, 0, k))

	// alpha = (W'W)^-1 W'Y
	var wtw, wty, alpha mat.Dense
	wtw.Mul(w.T(), w)
	wty.Mul(w.T(), y)
	if err := alpha.Solve(&wtw, &wty); err != nil {
		return nil, fmt.Errorf("normalize: regress on W: %w", err)
	}
	var fitted mat.Dense
	fitted.Mul(w, &alpha)

	rows := make([][]int, g)
	for i := range rows {
		row := make([]int, n)
		for j := 0; j < n; j++ {
			v := math.Round(math.Exp(y.At(j, i)-fitted.At(j, i)) - 1)
			row[j] = int(math.Max(v, 0))
		}
		rows[i] = row
	}
	norm, err := counts.NewMatrix(append([]string(nil), m.Genes...), m.Samples, rows)
	if err != nil {
		return nil, err
	}
	logger.Debug("RUVg done", zap.Int("controls", len(controls)), zap.Int("k", k),
		zap.Float64s("W1", mat.Col(nil, 0, w)))
	return &RUV{W: w, Normalized: norm, Controls: controls}, nil
}
