package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/components"

	"github.com/yumyai/stat3deg/pkg/counts"
	"github.com/yumyai/stat3deg/pkg/deseq"
	"github.com/yumyai/stat3deg/pkg/explore"
	"github.com/yumyai/stat3deg/pkg/render"
)

// explore writes the RLE and PCA pages of m, coloured by treatment and, when
// the samples carry batches, by batch. suffix tags the file names. Counts that
// are already normalised are projected without size factors.
func (p *Pipeline) explore(outDir string, m *counts.Matrix, suffix string, normalized bool) (string, error) {
	factors := []string{"treatment"}
	if hasBatches(m) {
		factors = append(factors, "batch")
	}
	files := 0
	for _, by := range factors {
		name := by + suffix

		boxes := explore.RLE(m, by)
		rle := render.RLEChart(boxes, "RLE by "+by)
		if err := writePage(filepath.Join(outDir, "rle_"+name+".html"), rle); err != nil {
			return "", err
		}

		project := explore.PCA
		if normalized {
			project = explore.PCALog
		}
		proj, err := project(m, p.cfg.PCA.NTop, p.cfg.PCA.Axes, by)
		if errors.Is(err, deseq.ErrNoReferenceGenes) {
			// every gene has a zero somewhere, size factors are undefined
			proj, err = explore.PCALog(m, p.cfg.PCA.NTop, p.cfg.PCA.Axes, by)
		}
		if err != nil {
			return "", err
		}
		var charts []components.Charter
		for y := 1; y < len(proj.PercentVar) && y <= 2; y++ {
			sc, err := render.PCAChart(proj, 0, y, fmt.Sprintf("PCA by %s (PC1/PC%d)", by, y+1))
			if err != nil {
				return "", err
			}
			charts = append(charts, sc)
		}
		if err := writePage(filepath.Join(outDir, "pca_"+name+".html"), charts...); err != nil {
			return "", err
		}
		files += 2
	}
	return fmt.Sprintf("%d diagnostic pages", files), nil
}

func hasBatches(m *counts.Matrix) bool {
	seen := map[string]bool{}
	for _, b := range m.Factor("batch") {
		if b == "" {
			return false
		}
		seen[b] = true
	}
	return len(seen) > 1
}
