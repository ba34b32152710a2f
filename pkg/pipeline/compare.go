package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/yumyai/stat3deg/internal/util"
	"github.com/yumyai/stat3deg/pkg/deseq"
	"github.com/yumyai/stat3deg/pkg/geneset"
	"github.com/yumyai/stat3deg/pkg/overlap"
	"github.com/yumyai/stat3deg/pkg/render"
)

// referenceName labels the external DEG list in overlap tables and diagrams.
const referenceName = "reference"

// compare tests the significant sets of every contrast and the reference
// list against each other, then writes the Venn, upset and MA outputs and the
// intersecting gene table.
func (p *Pipeline) compare(ctx context.Context, r *run, rep *Report, gs *GeneSets, log *zap.Logger) (string, error) {
	universes := []geneset.Set{rep.Universe}
	if gs.hasUniverse {
		universes = append(universes, gs.ExternalUniverse)
	}
	background := overlap.Background(universes...)
	log.Info("Background", zap.Int("ours", rep.Universe.Len()), zap.Int("genes", background.Len()))

	var sets []geneset.Set
	for _, res := range rep.Results {
		sets = append(sets, geneset.New(res.Contrast.Name, res.SignificantGenes()))
	}
	if gs.hasReference {
		ref := gs.ReferenceDEGs
		ref.Name = referenceName
		sets = append(sets, ref)
	}

	results, err := overlap.Pairwise(sets, background)
	if err != nil {
		return "", err
	}
	rep.Overlaps = results
	if err := p.store.SaveOverlaps(ctx, r.tracker.RunID(), results); err != nil {
		return "", err
	}
	for _, o := range results {
		log.Info("Overlap", zap.String("a", o.NameA), zap.String("b", o.NameB), zap.Int("a_size", o.SizeA),
			zap.Int("b_size", o.SizeB), zap.Int("shared", o.Intersection), zap.Float64("p", o.PValue))
		name := fmt.Sprintf("venn_%s_%s.svg", util.SafeName(o.NameA), util.SafeName(o.NameB))
		if err := writeFile(filepath.Join(r.outDir, name), func(w io.Writer) error { return render.RenderVenn(w, o) }); err != nil {
			return "", err
		}
	}

	rep.Regions = overlap.Intersections(sets...)
	if err := writePage(filepath.Join(r.outDir, "upset.html"), render.UpsetChart(rep.Regions, "Significant gene intersections")); err != nil {
		return "", err
	}

	rep.Intersecting = p.intersecting(rep, results, sets)
	if err := writeFile(filepath.Join(r.outDir, "intersecting_genes.tsv"), func(w io.Writer) error {
		return writeIntersecting(w, rep.Intersecting, rep.Results, gs)
	}); err != nil {
		return "", err
	}
	log.Info("Intersecting genes", zap.Int("genes", len(rep.Intersecting)))

	plots, err := p.maPlots(r.outDir, rep.Results, gs, log)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d overlaps, %d intersecting genes, %d MA plots", len(results), len(rep.Intersecting), plots), nil
}

// referenceContrast is the configured reference contrast or the first one.
func (p *Pipeline) referenceContrast() string {
	if p.cfg.ReferenceContrast != "" {
		return p.cfg.ReferenceContrast
	}
	if len(p.cfg.Contrasts) > 0 {
		return p.cfg.Contrasts[0].Name
	}
	return ""
}

// intersecting picks the genes shared by the reference contrast and the
// reference list. Without a reference list it falls back to the genes
// significant in every contrast.
func (p *Pipeline) intersecting(rep *Report, results []overlap.Result, sets []geneset.Set) []string {
	want := p.referenceContrast()
	for _, o := range results {
		if (o.NameA == want && o.NameB == referenceName) || (o.NameA == referenceName && o.NameB == want) {
			return o.Genes
		}
	}
	if len(rep.Results) == 0 {
		return nil
	}
	shared := sets[0]
	for _, s := range sets[1:len(rep.Results)] {
		shared = shared.Intersect(s)
	}
	return shared.Sorted()
}

// writeIntersecting writes gene_id, symbol and the DE columns of every
// contrast, prefixed with the contrast name.
func writeIntersecting(w io.Writer, genes []string, results []*deseq.Result, gs *GeneSets) error {
	bw := bufio.NewWriter(w)
	header := []string{"gene_id", "symbol"}
	for _, res := range results {
		for _, col := range deseq.Header[1:] {
			header = append(header, res.Contrast.Name+"."+col)
		}
	}
	fmt.Fprintln(bw, strings.Join(header, "\t"))
	for _, g := range genes {
		fields := []string{g, gs.Symbol(g)}
		for _, res := range results {
			row, ok := res.Row(g)
			if !ok {
				for range deseq.Header[1:] {
					fields = append(fields, "NA")
				}
				continue
			}
			fields = append(fields, row.Fields()[1:]...)
		}
		fmt.Fprintln(bw, strings.Join(fields, "\t"))
	}
	return bw.Flush()
}

// maPlots draws one MA plot per contrast and gene of interest.
func (p *Pipeline) maPlots(outDir string, results []*deseq.Result, gs *GeneSets, log *zap.Logger) (int, error) {
	n := 0
	for _, res := range results {
		for _, gene := range p.cfg.GenesOfInterest {
			if _, ok := res.Row(gene); !ok {
				log.Warn("Gene of interest not tested", zap.String("gene", gene), zap.String("contrast", res.Contrast.Name))
				continue
			}
			render.StyleMA(res, gene)
			name := fmt.Sprintf("ma_%s_%s.html", util.SafeName(res.Contrast.Name), util.SafeName(gene))
			if err := writePage(filepath.Join(outDir, name), render.MAChart(res, gs.Symbol(gene))); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
