// Package deseq tests two-group differential expression with a negative
// binomial GLM: median-of-ratios size factors, shrunken dispersions, a
// thresholded Wald test, Cook's distance outlier removal, independent
// filtering on mean expression and Benjamini-Hochberg correction.
package deseq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/yumyai/stat3deg/logger"
	"github.com/yumyai/stat3deg/pkg/config"
	"github.com/yumyai/stat3deg/pkg/counts"
)

var ErrTooFewSamples = errors.New("deseq: contrast needs samples in both groups and more samples than coefficients")

// Options are the test thresholds.
type Options struct {
	Alpha        float64
	LFCThreshold float64
	MaxIter      int
	// CooksCutoff disables outlier removal when false.
	CooksCutoff bool
	// IndependentFiltering disables the baseMean filter when false.
	IndependentFiltering bool
}

func DefaultOptions() Options {
	return Options{Alpha: 0.05, LFCThreshold: 1, MaxIter: 100, CooksCutoff: true, IndependentFiltering: true}
}

// OptionsFrom maps the experiment thresholds onto Options.
func OptionsFrom(c config.DESeqConfig) Options {
	o := DefaultOptions()
	if c.Alpha > 0 {
		o.Alpha = c.Alpha
	}
	o.LFCThreshold = c.LFCThreshold
	if c.MaxIter > 0 {
		o.MaxIter = c.MaxIter
	}
	return o
}

// Design is the model matrix of ~condition with the reference as intercept.
type Design struct {
	X       *mat.Dense
	Groups  []int
	NGroups int
	Levels  []string
}

// NewDesign builds the two-level design for treatments, coding reference as 0.
func NewDesign(treatments []string, reference, treatment string) (*Design, error) {
	d := &Design{
		X:       mat.NewDense(len(treatments), 2, nil),
		Groups:  make([]int, len(treatments)),
		NGroups: 2,
		Levels:  []string{reference, treatment},
	}
	var nRef, nTrt int
	for j, t := range treatments {
		d.X.Set(j, 0, 1)
		switch t {
		case reference:
			nRef++
		case treatment:
			d.X.Set(j, 1, 1)
			d.Groups[j] = 1
			nTrt++
		default:
			return nil, fmt.Errorf("deseq: sample %d has level %q outside the contrast", j, t)
		}
	}
	if nRef == 0 || nTrt == 0 || len(treatments) <= 2 {
		return nil, ErrTooFewSamples
	}
	return d, nil
}

// Run tests contrast on the samples of m belonging to its two levels.
func Run(ctx context.Context, m *counts.Matrix, contrast config.Contrast, opts Options) (*Result, error) {
	start := time.Now()
	log := logger.Stage("deseq", zap.String("contrast", contrast.Name))

	sub, err := m.Subset(m.SamplesWhere(contrast.Reference, contrast.Treatment))
	if err != nil {
		return nil, err
	}
	levels := sub.Factor("treatment")
	design, err := NewDesign(levels, contrast.Reference, contrast.Treatment)
	if err != nil {
		return nil, fmt.Errorf("contrast %s: %w", contrast.Name, err)
	}
	nSamples, p := design.X.Dims()

	y := sub.Float()
	sf, err := SizeFactors(y)
	if err != nil {
		return nil, fmt.Errorf("contrast %s: %w", contrast.Name, err)
	}
	norm := Normalize(y, sf)

	res := &Result{
		Contrast:    contrast,
		SizeFactors: sf,
		Rows:        make([]Row, len(y)),
		Alpha:       opts.Alpha,
	}
	for _, s := range sub.Samples {
		res.Samples = append(res.Samples, s.Name)
	}

	allZero := make([]bool, len(y))
	baseMean := make([]float64, len(y))
	for i, row := range y {
		allZero[i] = true
		for _, v := range row {
			if v != 0 {
				allZero[i] = false
				break
			}
		}
		baseMean[i] = mean(norm[i])
	}

	disp, err := EstimateDispersions(ctx, y, sf, design, allZero)
	if err != nil {
		return nil, err
	}
	res.Dispersions = disp
	log.Debug("Dispersions estimated", zap.Float64("a0", disp.A0), zap.Float64("a1", disp.A1),
		zap.Bool("trend_fallback", disp.TrendFallback), zap.Float64("prior_var", disp.PriorVar))

	outlierSamples := cooksSamples(design.Groups, design.NGroups)
	cutoff := cooksCutoff(p, nSamples)
	pvalues := make([]float64, len(y))
	var nonConverged, outliers int

	for i, row := range y {
		if i%500 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r := Row{
			Gene:           sub.Genes[i],
			BaseMean:       baseMean[i],
			Log2FoldChange: math.NaN(),
			LfcSE:          math.NaN(),
			Stat:           math.NaN(),
			PValue:         math.NaN(),
			PAdj:           math.NaN(),
			Dispersion:     disp.Final[i],
		}
		if allZero[i] {
			res.Rows[i] = r
			pvalues[i] = math.NaN()
			continue
		}

		fit := FitNB(row, sf, design.X, disp.Final[i], opts.MaxIter)
		r.Converged = fit.Converged
		if !fit.Converged {
			nonConverged++
			res.Rows[i] = r
			pvalues[i] = math.NaN()
			continue
		}
		r.Log2FoldChange = fit.Beta[1] / math.Ln2
		r.LfcSE = fit.SE[1] / math.Ln2
		r.Stat, r.PValue = WaldTest(r.Log2FoldChange, r.LfcSE, opts.LFCThreshold)

		if opts.CooksCutoff && len(outlierSamples) > 0 {
			alpha := robustDispersion(norm[i], design.Groups, outlierSamples)
			if cooksDistance(row, fit, alpha, p, outlierSamples) > cutoff {
				r.CooksOutlier = true
				r.PValue = math.NaN()
				outliers++
			}
		}
		pvalues[i] = r.PValue
		res.Rows[i] = r
	}

	var padj []float64
	if opts.IndependentFiltering {
		fr := IndependentFilter(baseMean, pvalues, opts.Alpha)
		padj = fr.PAdj
		res.FilterThreshold = fr.Threshold
		for i := range res.Rows {
			if !math.IsNaN(pvalues[i]) && baseMean[i] < fr.Threshold {
				res.Rows[i].Filtered = true
			}
		}
	} else {
		padj = BHAdjust(pvalues)
	}
	for i := range res.Rows {
		res.Rows[i].PAdj = padj[i]
	}

	log.Info("Differential expression done",
		zap.Int("genes", len(y)),
		zap.Int("samples", nSamples),
		zap.Int("significant", len(res.Significant())),
		zap.Int("up", len(res.Up())),
		zap.Int("down", len(res.Down())),
		zap.Int("non_converged", nonConverged),
		zap.Int("cooks_outliers", outliers),
		zap.Float64("filter_threshold", res.FilterThreshold),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}
