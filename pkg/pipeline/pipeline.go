// Package pipeline runs the analysis stages in order: load counts, filter,
// exploratory plots, differential expression per contrast and the overlap
// comparison. Every stage is recorded in the results store.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/yumyai/stat3deg/internal/util"
	"github.com/yumyai/stat3deg/logger"
	"github.com/yumyai/stat3deg/pkg/config"
	"github.com/yumyai/stat3deg/pkg/counts"
	"github.com/yumyai/stat3deg/pkg/deseq"
	"github.com/yumyai/stat3deg/pkg/filter"
	"github.com/yumyai/stat3deg/pkg/geneset"
	"github.com/yumyai/stat3deg/pkg/overlap"
	"github.com/yumyai/stat3deg/pkg/store"
)

const (
	StageLoad    = "load"
	StageFilter  = "filter"
	StageExplore = "explore"
	StageDESeq   = "deseq"
	StageOverlap = "overlap"
	StageRUV     = "ruv"
)

// Pipeline binds an experiment to the store its runs are recorded in.
type Pipeline struct {
	cfg   *config.Config
	store *store.Store
}

func New(cfg *config.Config, st *store.Store) *Pipeline {
	return &Pipeline{cfg: cfg, store: st}
}

// Report is what one run produced.
type Report struct {
	RunID  string
	OutDir string

	Loaded   int
	Filters  []filter.Report
	Universe geneset.Set

	Results  []*deseq.Result
	Overlaps []overlap.Result
	Regions  []overlap.Region
	// Intersecting are the genes shared by the reference contrast and the reference list.
	Intersecting []string
}

// Result returns the contrast's result, or nil.
func (r *Report) Result(contrast string) *deseq.Result {
	for _, res := range r.Results {
		if res.Contrast.Name == contrast {
			return res
		}
	}
	return nil
}

// run is the state of one tracked execution.
type run struct {
	tracker *store.Tracker
	outDir  string
}

func (p *Pipeline) begin(ctx context.Context, stages ...string) (*run, error) {
	tr, err := p.store.NewRun(ctx, p.cfg.Path(), p.cfg.DataDir, p.cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	out := filepath.Join(p.cfg.OutputDir, tr.RunID())
	if err := util.EnsureDir(out); err != nil {
		return nil, err
	}
	if err := tr.Queue(ctx, stages...); err != nil {
		return nil, err
	}
	logger.Info("Run started", zap.String("run", tr.RunID()), zap.String("out", out))
	return &run{tracker: tr, outDir: out}, nil
}

// stage runs fn as the named stage: it is marked running, then completed with
// the detail fn returns, or failed with its error.
func (r *run) stage(ctx context.Context, name string, fn func(log *zap.Logger) (string, error)) error {
	log := logger.Stage(name, zap.String("run", r.tracker.RunID()))
	if err := r.tracker.Start(ctx, name); err != nil {
		return err
	}
	start := time.Now()
	log.Info("Stage started")
	detail, err := fn(log)
	if err != nil {
		log.Error("Stage failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		if ferr := r.tracker.Fail(context.WithoutCancel(ctx), name, err); ferr != nil {
			log.Warn("Could not record failure", zap.Error(ferr))
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Info("Stage completed", zap.String("detail", detail), zap.Duration("took", time.Since(start)))
	return r.tracker.Complete(ctx, name, detail)
}

func (r *run) finish(ctx context.Context, err error) error {
	if ferr := r.tracker.Finish(context.WithoutCancel(ctx), err); ferr != nil && err == nil {
		return ferr
	}
	if err == nil {
		logger.Info("Run completed", zap.String("run", r.tracker.RunID()))
	}
	return err
}

// Run executes the production path. The RUV branch is never applied here.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	gs, err := LoadGeneSets(p.cfg)
	if err != nil {
		return nil, err
	}
	r, err := p.begin(ctx, StageLoad, StageFilter, StageExplore, StageDESeq, StageOverlap)
	if err != nil {
		return nil, err
	}
	rep := &Report{RunID: r.tracker.RunID(), OutDir: r.outDir}
	return rep, r.finish(ctx, p.execute(ctx, r, gs, rep))
}

func (p *Pipeline) execute(ctx context.Context, r *run, gs *GeneSets, rep *Report) error {
	m, err := p.loadAndFilter(ctx, r, gs, rep)
	if err != nil {
		return err
	}
	if err := r.stage(ctx, StageExplore, func(log *zap.Logger) (string, error) {
		return p.explore(r.outDir, m, "", false)
	}); err != nil {
		return err
	}
	if err := r.stage(ctx, StageDESeq, func(log *zap.Logger) (string, error) {
		return p.testContrasts(ctx, r, m, rep, log)
	}); err != nil {
		return err
	}
	return r.stage(ctx, StageOverlap, func(log *zap.Logger) (string, error) {
		return p.compare(ctx, r, rep, gs, log)
	})
}

func (p *Pipeline) loadAndFilter(ctx context.Context, r *run, gs *GeneSets, rep *Report) (*counts.Matrix, error) {
	var m *counts.Matrix
	if err := r.stage(ctx, StageLoad, func(log *zap.Logger) (string, error) {
		samples, err := ResolveSamples(p.cfg)
		if err != nil {
			return "", err
		}
		if m, err = counts.Load(ctx, p.cfg.CountPath(), samples); err != nil {
			return "", err
		}
		rep.Loaded = m.NGenes()
		for _, s := range m.Samples {
			size, _ := m.LibrarySize(s.Name)
			log.Debug("Library size", zap.String("sample", s.Name), zap.Int("assigned", size))
		}
		return fmt.Sprintf("%d genes x %d samples", m.NGenes(), m.NSamples()), nil
	}); err != nil {
		return nil, err
	}

	if err := r.stage(ctx, StageFilter, func(log *zap.Logger) (string, error) {
		var fr filter.Report
		m, fr = filter.ByExpression(m, p.cfg.Filter.MinCount, p.cfg.Filter.MinSamples)
		rep.Filters = append(rep.Filters, fr)
		log.Info("Expression filter", zap.Int("kept", fr.Kept), zap.Int("dropped", fr.Dropped))
		if gs.hasProteinCoding {
			m, fr = filter.ByGeneSet(m, gs.ProteinCoding)
			rep.Filters = append(rep.Filters, fr)
			log.Info("Protein-coding filter", zap.Int("kept", fr.Kept), zap.Int("dropped", fr.Dropped))
		}
		rep.Universe = filter.Universe("universe", m)
		return fmt.Sprintf("%d of %d genes kept", m.NGenes(), rep.Loaded), nil
	}); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Pipeline) testContrasts(ctx context.Context, r *run, m *counts.Matrix, rep *Report, log *zap.Logger) (string, error) {
	opts := deseq.OptionsFrom(p.cfg.DESeq)
	for _, ct := range p.cfg.Contrasts {
		res, err := deseq.Run(ctx, m, ct, opts)
		if err != nil {
			return "", err
		}
		up, down := len(res.Up()), len(res.Down())
		log.Info("Contrast tested", zap.String("contrast", ct.Name),
			zap.Int("significant", up+down), zap.Int("up", up), zap.Int("down", down))

		if err := p.store.SaveResult(ctx, r.tracker.RunID(), res); err != nil {
			return "", err
		}
		if err := writeFile(filepath.Join(r.outDir, "de_"+util.SafeName(ct.Name)+".tsv"), res.WriteTSV); err != nil {
			return "", err
		}
		rep.Results = append(rep.Results, res)
	}
	return fmt.Sprintf("%d contrasts", len(rep.Results)), nil
}
