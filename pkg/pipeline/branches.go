package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/yumyai/stat3deg/pkg/counts"
	"github.com/yumyai/stat3deg/pkg/deseq"
	"github.com/yumyai/stat3deg/pkg/geneset"
	"github.com/yumyai/stat3deg/pkg/normalize"
	"github.com/yumyai/stat3deg/pkg/store"
)

// ErrNoStoredResults is returned when a run has no tested contrasts to compare.
var ErrNoStoredResults = errors.New("pipeline: run has no stored results")

// RUVReport is the outcome of the experimental normalisation branch.
type RUVReport struct {
	RunID      string
	OutDir     string
	Controls   []string
	Normalized *counts.Matrix
	// W is the unwanted-variation factor per sample, keyed by sample name.
	W map[string]float64
}

// RunRUV loads and filters the counts like Run, then removes one unwanted
// factor estimated from the most stable housekeeping genes and draws the
// exploratory plots of the corrected counts. Nothing is tested.
func (p *Pipeline) RunRUV(ctx context.Context) (*RUVReport, error) {
	gs, err := LoadGeneSets(p.cfg)
	if err != nil {
		return nil, err
	}
	if gs.Housekeeping.Len() == 0 {
		return nil, fmt.Errorf("ruv: %w", normalize.ErrNoControls)
	}
	r, err := p.begin(ctx, StageLoad, StageFilter, StageRUV, StageExplore)
	if err != nil {
		return nil, err
	}
	out := &RUVReport{RunID: r.tracker.RunID(), OutDir: r.outDir}
	return out, r.finish(ctx, p.ruv(ctx, r, gs, out))
}

func (p *Pipeline) ruv(ctx context.Context, r *run, gs *GeneSets, out *RUVReport) error {
	m, err := p.loadAndFilter(ctx, r, gs, &Report{})
	if err != nil {
		return err
	}
	if err := r.stage(ctx, StageRUV, func(log *zap.Logger) (string, error) {
		controls := normalize.StableControls(m, gs.Housekeeping, p.cfg.RUV.HousekeepingTop)
		res, err := normalize.RUVg(m, controls, p.cfg.RUV.K)
		if err != nil {
			return "", err
		}
		out.Controls = res.Controls
		out.Normalized = res.Normalized
		out.W = map[string]float64{}
		for j, w := range res.Factor(0) {
			out.W[m.Samples[j].Name] = w
			log.Debug("Unwanted factor", zap.String("sample", m.Samples[j].Name), zap.Float64("w", w))
		}
		if err := writeFile(filepath.Join(r.outDir, "ruv_counts.tsv"), res.Normalized.WriteTSV); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d control genes, k=%d", len(controls), p.cfg.RUV.K), nil
	}); err != nil {
		return err
	}
	return r.stage(ctx, StageExplore, func(log *zap.Logger) (string, error) {
		return p.explore(r.outDir, out.Normalized, "_ruv", true)
	})
}

// Recompare re-runs the overlap stage on the results stored by an earlier
// run, for example after the reference list changed. An empty runID picks the
// latest completed run that tested contrasts. The outputs go to a new run.
func (p *Pipeline) Recompare(ctx context.Context, runID string) (*Report, error) {
	var src store.Run
	var err error
	if runID == "" {
		src, err = p.store.LatestResultRun(ctx)
	} else {
		src, err = p.store.GetRun(ctx, runID)
	}
	if err != nil {
		return nil, err
	}
	names, err := p.store.Contrasts(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: run %s", ErrNoStoredResults, src.ID)
	}
	gs, err := LoadGeneSets(p.cfg)
	if err != nil {
		return nil, err
	}

	r, err := p.begin(ctx, StageOverlap)
	if err != nil {
		return nil, err
	}
	rep := &Report{RunID: r.tracker.RunID(), OutDir: r.outDir}
	err = r.stage(ctx, StageOverlap, func(log *zap.Logger) (string, error) {
		log.Info("Using stored results", zap.String("source", src.ID), zap.Strings("contrasts", names))
		var tested []string
		for _, name := range names {
			res, err := p.store.LoadResult(ctx, src.ID, name)
			if err != nil {
				return "", err
			}
			rep.Results = append(rep.Results, res)
			if len(tested) == 0 {
				tested = genesOf(res)
			}
			// results are stored again so the new run is self-contained
			if err := p.store.SaveResult(ctx, rep.RunID, res); err != nil {
				return "", err
			}
		}
		// every contrast is tested on the same filtered matrix
		rep.Universe = geneset.New("universe", tested)
		return p.compare(ctx, r, rep, gs, log)
	})
	return rep, r.finish(ctx, err)
}

func genesOf(res *deseq.Result) []string {
	out := make([]string, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = row.Gene
	}
	return out
}
