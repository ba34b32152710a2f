package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/stat3deg/pkg/config"
	"github.com/yumyai/stat3deg/pkg/store"
)

const (
	nNull = 120
	nUp   = 15
	nDown = 15
)

const summary = "__no_feature\t10\n__ambiguous\t3\n__too_low_aQual\t1\n__not_aligned\t0\n"

func geneID(i int) string { return fmt.Sprintf("ENSG%011d", i) }

const (
	lowGene       = "ENSG99999999990"
	nonCodingGene = "ENSG99999999991"
)

// writeExperiment lays out a data dir with six count files, the gene lists
// and returns a validated config pointing at it.
func writeExperiment(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	countDir := filepath.Join(dir, "counts")
	require.NoError(t, os.MkdirAll(countDir, 0o755))

	rng := rand.New(rand.NewSource(11))
	samples := []string{"WT_1", "WT_2", "WT_3", "KO_1", "KO_2", "KO_3"}
	sf := []float64{0.8, 1.0, 1.2, 0.9, 1.1, 1.0}
	bodies := make([]strings.Builder, len(samples))

	var coding, housekeeping, reference, universe []string
	for i := 0; i < nNull+nUp+nDown; i++ {
		base, fold := 30+float64(i%70), 1.0
		switch {
		case i < nUp:
			base, fold = 400, 8
		case i < nUp+nDown:
			base, fold = 400, 1.0/8
		default:
			housekeeping = append(housekeeping, geneID(i))
		}
		if i < 10 || (i >= nUp+nDown && i < nUp+nDown+10) {
			reference = append(reference, geneID(i))
		}
		coding = append(coding, geneID(i))
		universe = append(universe, geneID(i))
		for j, s := range samples {
			mu := base * sf[j]
			if strings.HasPrefix(s, "KO") {
				mu *= fold
			}
			lambda := mu * math.Exp(0.15*rng.NormFloat64())
			n := int(math.Max(0, math.Round(lambda+math.Sqrt(lambda)*rng.NormFloat64())))
			fmt.Fprintf(&bodies[j], "%s\t%d\n", geneID(i), n)
		}
	}
	for j := range samples {
		fmt.Fprintf(&bodies[j], "%s\t%d\n", lowGene, 1)
		fmt.Fprintf(&bodies[j], "%s\t%d\n", nonCodingGene, 200+j)
	}
	universe = append(universe, nonCodingGene)
	for j, s := range samples {
		require.NoError(t, os.WriteFile(filepath.Join(countDir, s+".txt"), []byte(bodies[j].String()+summary), 0o644))
	}

	writeList := func(name string, ids []string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("gene_id\n"+strings.Join(ids, "\n")+"\n"), 0o644))
	}
	writeList("protein_coding.txt", coding)
	writeList("housekeeping.txt", housekeeping)
	writeList("reference.txt", reference)
	writeList("universe.txt", universe)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "literature.tsv"),
		[]byte("gene_id\tsymbol\n"+geneID(0)+"\tSTAT3\n"), 0o644))

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.OutputDir = filepath.Join(dir, "results")
	cfg.Contrasts = []config.Contrast{{Treatment: "KO", Reference: "WT"}}
	cfg.ReferenceContrast = "WT_vs_KO"
	cfg.GenesOfInterest = []string{geneID(0), "ENSG_NOT_THERE"}
	cfg.GeneSets = config.GeneSets{
		ProteinCoding:    "protein_coding.txt",
		Housekeeping:     "housekeeping.txt",
		ReferenceDEGs:    "reference.txt",
		LiteratureDEGs:   "literature.tsv",
		ExternalUniverse: "universe.txt",
	}
	cfg.RUV.HousekeepingTop = 50
	require.NoError(t, cfg.Validate())
	return cfg
}

func openStore(t *testing.T, cfg *config.Config) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(cfg.OutputDir, "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := writeExperiment(t)
	st := openStore(t, cfg)
	p := New(cfg, st)

	rep, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Len(t, cfg.Samples, 6, "samples discovered from file names")
	assert.Equal(t, nNull+nUp+nDown+2, rep.Loaded)
	require.Len(t, rep.Filters, 2)
	assert.Equal(t, 1, rep.Filters[0].Dropped, "low-count gene")
	assert.Equal(t, 1, rep.Filters[1].Dropped, "non-coding gene")
	assert.Equal(t, nNull+nUp+nDown, rep.Universe.Len())

	res := rep.Result("WT_vs_KO")
	require.NotNil(t, res)
	assert.Len(t, res.Up(), nUp)
	assert.Len(t, res.Down(), nDown)

	require.Len(t, rep.Overlaps, 1)
	o := rep.Overlaps[0]
	assert.Equal(t, "WT_vs_KO", o.NameA)
	assert.Equal(t, referenceName, o.NameB)
	assert.Equal(t, 10, o.Intersection)
	assert.InDelta(t, 0.0011397350889211563, o.PValue, 1e-9)
	assert.Equal(t, o.Genes, rep.Intersecting)

	for _, name := range []string{
		"de_WT_vs_KO.tsv", "intersecting_genes.tsv", "upset.html", "venn_WT_vs_KO_reference.svg",
		"pca_treatment.html", "rle_treatment.html", "ma_WT_vs_KO_" + geneID(0) + ".html",
	} {
		assert.FileExists(t, filepath.Join(rep.OutDir, name))
	}
	assert.NoFileExists(t, filepath.Join(rep.OutDir, "ma_WT_vs_KO_ENSG_NOT_THERE.html"))

	table, err := os.ReadFile(filepath.Join(rep.OutDir, "intersecting_genes.tsv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(table)), "\n")
	require.Len(t, lines, 11)
	assert.True(t, strings.HasPrefix(lines[0], "gene_id\tsymbol\tWT_vs_KO.baseMean"))
	assert.True(t, strings.HasPrefix(lines[1], geneID(0)+"\tSTAT3\t"))

	run, err := st.GetRun(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, run.ID)
	assert.Equal(t, store.StageCompleted, run.Status)
	stages, err := st.Stages(ctx, rep.RunID)
	require.NoError(t, err)
	require.Len(t, stages, 5)
	for _, s := range stages {
		assert.Equal(t, store.StageCompleted, s.Status, s.Name)
	}

	sig, err := st.SignificantGenes(ctx, rep.RunID, "WT_vs_KO")
	require.NoError(t, err)
	assert.Equal(t, res.SignificantGenes(), sig)

	again, err := p.Recompare(ctx, "")
	require.NoError(t, err)
	assert.NotEqual(t, rep.RunID, again.RunID)
	require.Len(t, again.Overlaps, 1)
	assert.Equal(t, o.Intersection, again.Overlaps[0].Intersection)
	assert.InDelta(t, o.PValue, again.Overlaps[0].PValue, 1e-12)
	assert.FileExists(t, filepath.Join(again.OutDir, "venn_WT_vs_KO_reference.svg"))
}

func TestRunRecordsFailedStage(t *testing.T) {
	ctx := context.Background()
	cfg := writeExperiment(t)
	cfg.Samples = []config.Sample{
		{Name: "WT_1", File: "WT_1.txt", Treatment: "WT"},
		{Name: "KO_1", File: "missing.txt", Treatment: "KO"},
	}
	st := openStore(t, cfg)

	rep, err := New(cfg, st).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	run, err := st.GetRun(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StageFailed, run.Status)
	stages, err := st.Stages(ctx, rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, StageLoad, stages[0].Name)
	assert.Equal(t, store.StageFailed, stages[0].Status)
	assert.Equal(t, store.StageQueued, stages[1].Status)
}

func TestRunRUV(t *testing.T) {
	ctx := context.Background()
	cfg := writeExperiment(t)
	st := openStore(t, cfg)

	out, err := New(cfg, st).RunRUV(ctx)
	require.NoError(t, err)
	assert.Len(t, out.Controls, 50)
	assert.Len(t, out.W, 6)
	assert.Equal(t, nNull+nUp+nDown, out.Normalized.NGenes())
	for _, name := range []string{"ruv_counts.tsv", "pca_treatment_ruv.html", "rle_treatment_ruv.html"} {
		assert.FileExists(t, filepath.Join(out.OutDir, name))
	}
	assert.NoFileExists(t, filepath.Join(out.OutDir, "de_WT_vs_KO.tsv"), "the branch never tests")

	contrasts, err := st.Contrasts(ctx, out.RunID)
	require.NoError(t, err)
	assert.Empty(t, contrasts)
}

func TestRecompareSkipsRUVRuns(t *testing.T) {
	ctx := context.Background()
	cfg := writeExperiment(t)
	st := openStore(t, cfg)
	p := New(cfg, st)

	rep, err := p.Run(ctx)
	require.NoError(t, err)
	ruv, err := p.RunRUV(ctx)
	require.NoError(t, err)

	latest, err := st.GetRun(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, ruv.RunID, latest.ID, "the RUV run is the newest completed run")

	again, err := p.Recompare(ctx, "")
	require.NoError(t, err)
	require.Len(t, again.Results, 1)
	assert.Equal(t, "WT_vs_KO", again.Results[0].Contrast.Name)
	require.Len(t, again.Overlaps, 1)
	assert.Equal(t, rep.Overlaps[0].Intersection, again.Overlaps[0].Intersection)
	assert.Equal(t, rep.Intersecting, again.Intersecting)

	_, err = p.Recompare(ctx, ruv.RunID)
	assert.ErrorIs(t, err, ErrNoStoredResults)
}

func TestRUVNeedsHousekeeping(t *testing.T) {
	cfg := writeExperiment(t)
	cfg.GeneSets.Housekeeping = ""
	_, err := New(cfg, openStore(t, cfg)).RunRUV(context.Background())
	assert.Error(t, err)
}
