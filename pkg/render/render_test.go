package render

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/stat3deg/pkg/config"
	"github.com/yumyai/stat3deg/pkg/deseq"
	"github.com/yumyai/stat3deg/pkg/explore"
	"github.com/yumyai/stat3deg/pkg/geneset"
	"github.com/yumyai/stat3deg/pkg/overlap"
)

func TestRGBA(t *testing.T) {
	assert.Equal(t, "rgba(213,94,0,0.30)", rgba("#D55E00", 0.3))
	assert.Equal(t, "red", rgba("red", 0.3))
}

func TestGroupColors(t *testing.T) {
	c := GroupColors([]string{"WT", "WT", "KO", "WT", "KO2"})
	assert.Len(t, c, 3)
	assert.Equal(t, palette[0], c["WT"])
	assert.Equal(t, palette[1], c["KO"])
	assert.Equal(t, []string{"WT", "KO", "KO2"}, levels([]string{"WT", "KO", "WT", "KO2"}))
}

func testResult() *deseq.Result {
	return &deseq.Result{
		Contrast: config.Contrast{Name: "WT_vs_KO", Reference: "WT", Treatment: "KO"},
		Alpha:    0.05,
		Rows: []deseq.Row{
			{Gene: "STAT3", BaseMean: 500, Log2FoldChange: -4, PAdj: 1e-20},
			{Gene: "G1", BaseMean: 100, Log2FoldChange: 1.5, PAdj: 0.001},
			{Gene: "G2", BaseMean: 30, Log2FoldChange: 0.1, PAdj: 0.8},
			{Gene: "G3", BaseMean: 0, Log2FoldChange: math.NaN(), PAdj: math.NaN()},
		},
	}
}

func TestStyleMA(t *testing.T) {
	res := testResult()
	StyleMA(res, "STAT3")
	assert.Equal(t, colorHighlight, res.Rows[0].Color)
	assert.Equal(t, 1.0, res.Rows[0].Alpha)
	assert.Equal(t, colorSignificant, res.Rows[1].Color)
	assert.Equal(t, colorBackground, res.Rows[2].Color)
	assert.Equal(t, colorBackground, res.Rows[3].Color)
	assert.Greater(t, res.Rows[0].Size, res.Rows[1].Size)
}

func TestMAChart(t *testing.T) {
	res := testResult()
	StyleMA(res, "STAT3")
	var buf bytes.Buffer
	require.NoError(t, WritePage(&buf, MAChart(res, "STAT3")))
	html := buf.String()
	assert.Contains(t, html, "STAT3")
	assert.Contains(t, html, "significant")
	assert.NotContains(t, html, `"G3"`, "zero-mean genes cannot sit on a log axis")
}

func TestPCAChart(t *testing.T) {
	p := &explore.Projection{
		Samples:    []string{"WT_1", "WT_2", "KO_1", "KO_2"},
		Groups:     []string{"WT", "WT", "KO", "KO"},
		Coords:     [][]float64{{-3, 1}, {-2.5, -1}, {3, 0.5}, {2.5, -0.5}},
		PercentVar: []float64{80, 15},
	}
	sc, err := PCAChart(p, 0, 1, "PCA")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WritePage(&buf, sc))
	assert.Contains(t, buf.String(), "PC1: 80% variance")

	_, err = PCAChart(p, 0, 2, "PCA")
	assert.Error(t, err)
}

func TestRLEChart(t *testing.T) {
	boxes := []explore.Box{
		{Sample: "WT_1", Group: "WT", Min: -1, Q1: -0.2, Median: 0, Q3: 0.2, Max: 1},
		{Sample: "KO_1", Group: "KO", Min: -1.2, Q1: -0.1, Median: 0.05, Q3: 0.3, Max: 0.9},
	}
	var buf bytes.Buffer
	require.NoError(t, WritePage(&buf, []components.Charter{RLEChart(boxes, "RLE")}...))
	assert.Contains(t, buf.String(), "KO_1")
}

func TestRenderVenn(t *testing.T) {
	r := overlap.Result{NameA: "ours", NameB: "reference", SizeA: 10, SizeB: 20, Intersection: 5, Background: 100, PValue: 0.0254645}
	var buf bytes.Buffer
	require.NoError(t, RenderVenn(&buf, r))
	svg := buf.String()
	assert.True(t, strings.HasPrefix(svg, "<svg"))
	assert.Contains(t, svg, ">5<")
	assert.Contains(t, svg, ">15<")
	assert.Contains(t, svg, "p = 0.0255")
}

func TestUpsetChart(t *testing.T) {
	a := geneset.New("a", []string{"G1", "G2", "G3"})
	b := geneset.New("b", []string{"G2", "G3", "G4", "G5", "G6"})
	regions := overlap.Intersections(a, b)
	ranked := rankRegions(regions)
	require.Len(t, ranked, 3)
	assert.Equal(t, "b", ranked[0].Key())
	assert.Equal(t, 3, ranked[0].Exclusive)
	assert.Equal(t, "a&b", ranked[1].Key())
	assert.Equal(t, "a", ranked[2].Key())

	var buf bytes.Buffer
	require.NoError(t, WritePage(&buf, UpsetChart(regions, "overlaps")))
	assert.Contains(t, buf.String(), "overlaps")
}
