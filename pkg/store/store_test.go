package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/stat3deg/pkg/config"
	"github.com/yumyai/stat3deg/pkg/deseq"
	"github.com/yumyai/stat3deg/pkg/overlap"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	tr, err := s.NewRun(ctx, "experiment.yaml", "./data", "./results")
	require.NoError(t, err)
	_, err = uuid.Parse(tr.RunID())
	require.NoError(t, err)

	require.NoError(t, tr.Queue(ctx, "load", "filter", "deseq"))
	require.NoError(t, tr.Start(ctx, "load"))
	require.NoError(t, tr.Complete(ctx, "load", "12 samples"))
	require.NoError(t, tr.Start(ctx, "filter"))
	require.NoError(t, tr.Fail(ctx, "filter", errors.New("boom")))

	stages, err := s.Stages(ctx, tr.RunID())
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, "load", stages[0].Name)
	assert.Equal(t, StageCompleted, stages[0].Status)
	assert.Equal(t, "12 samples", stages[0].Detail)
	assert.Equal(t, StageFailed, stages[1].Status)
	assert.Equal(t, "boom", stages[1].Error)
	assert.Equal(t, StageQueued, stages[2].Status)

	require.NoError(t, tr.Finish(ctx, errors.New("filter failed")))
	run, err := s.GetRun(ctx, tr.RunID())
	require.NoError(t, err)
	assert.Equal(t, StageFailed, run.Status)
	assert.Equal(t, "filter failed", run.Error)

	_, err = s.GetRun(ctx, "")
	assert.ErrorIs(t, err, ErrRunNotFound, "no completed run yet")

	tr2, err := s.NewRun(ctx, "experiment.yaml", "./data", "./results")
	require.NoError(t, err)
	require.NoError(t, tr2.Finish(ctx, nil))
	latest, err := s.GetRun(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, tr2.RunID(), latest.ID)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestLatestResultRun(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, err := s.LatestResultRun(ctx)
	assert.ErrorIs(t, err, ErrRunNotFound)

	tested, err := s.NewRun(ctx, "", "", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveResult(ctx, tested.RunID(), &deseq.Result{
		Contrast: config.Contrast{Name: "WT_vs_KO", Treatment: "KO", Reference: "WT"},
		Alpha:    0.05,
		Rows:     []deseq.Row{{Gene: "G1", BaseMean: 10, PValue: 0.5, PAdj: 0.5}},
	}))
	require.NoError(t, tested.Finish(ctx, nil))

	branch, err := s.NewRun(ctx, "", "", "")
	require.NoError(t, err)
	require.NoError(t, branch.Finish(ctx, nil))

	latest, err := s.GetRun(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, branch.RunID(), latest.ID)

	withResults, err := s.LatestResultRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, tested.RunID(), withResults.ID)
}

func TestResultRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	tr, err := s.NewRun(ctx, "", "", "")
	require.NoError(t, err)

	res := &deseq.Result{
		Contrast:        config.Contrast{Name: "WT_vs_STAT3", Treatment: "STAT3", Reference: "WT"},
		Samples:         []string{"WT_1", "STAT3_1"},
		Alpha:           0.05,
		FilterThreshold: 3.5,
		Rows: []deseq.Row{
			{Gene: "G2", BaseMean: 100, Log2FoldChange: 2.5, LfcSE: 0.2, Stat: 7.5, PValue: 1e-10, PAdj: 1e-8, Dispersion: 0.05, Converged: true},
			{Gene: "G1", BaseMean: 0, Log2FoldChange: math.NaN(), LfcSE: math.NaN(), Stat: math.NaN(), PValue: math.NaN(), PAdj: math.NaN(), Dispersion: math.NaN()},
			{Gene: "G3", BaseMean: 50, Log2FoldChange: -1.5, LfcSE: 0.4, Stat: -1.2, PValue: 0.2, PAdj: 0.3, Dispersion: 0.1, Converged: true, Filtered: true},
		},
	}
	require.NoError(t, s.SaveResult(ctx, tr.RunID(), res))
	// saving twice replaces
	require.NoError(t, s.SaveResult(ctx, tr.RunID(), res))

	got, err := s.LoadResult(ctx, tr.RunID(), "WT_vs_STAT3")
	require.NoError(t, err)
	assert.Equal(t, res.Contrast, got.Contrast)
	assert.Equal(t, res.Samples, got.Samples)
	assert.Equal(t, 3.5, got.FilterThreshold)
	require.Len(t, got.Rows, 3)
	assert.Equal(t, "G2", got.Rows[0].Gene, "row order preserved")
	assert.True(t, math.IsNaN(got.Rows[1].PAdj))
	assert.True(t, got.Rows[2].Filtered)
	assert.Equal(t, res.Rows[0], got.Rows[0])

	sig, err := s.SignificantGenes(ctx, tr.RunID(), "WT_vs_STAT3")
	require.NoError(t, err)
	assert.Equal(t, []string{"G2"}, sig)
	assert.Equal(t, res.SignificantGenes(), sig)

	names, err := s.Contrasts(ctx, tr.RunID())
	require.NoError(t, err)
	assert.Equal(t, []string{"WT_vs_STAT3"}, names)

	_, err = s.LoadResult(ctx, tr.RunID(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestOverlapRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	tr, err := s.NewRun(ctx, "", "", "")
	require.NoError(t, err)

	in := []overlap.Result{
		{NameA: "a", NameB: "b", SizeA: 10, SizeB: 20, Intersection: 5, Background: 100, PValue: 0.02, OddsRatio: 4.5, Jaccard: 0.2, Enrichment: 2.5, Genes: []string{"G1", "G2"}},
		{NameA: "a", NameB: "c", SizeA: 10, SizeB: 5, Intersection: 5, Background: 100, PValue: 1e-6, OddsRatio: math.Inf(1), Jaccard: 0.5, Enrichment: 10, Genes: []string{"G1"}},
		{NameA: "b", NameB: "c", SizeA: 20, SizeB: 5, Intersection: 0, Background: 100, PValue: 1, Genes: []string{}},
	}
	require.NoError(t, s.SaveOverlaps(ctx, tr.RunID(), in))
	out, err := s.LoadOverlaps(ctx, tr.RunID())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, in[0], out[0])
	assert.True(t, math.IsInf(out[1].OddsRatio, 1))
	assert.Equal(t, 0.0, out[2].OddsRatio)
}
