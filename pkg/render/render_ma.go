package render

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/yumyai/stat3deg/pkg/deseq"
)

const (
	colorBackground  = "#9E9E9E"
	colorSignificant = "#0072B2"
	colorHighlight   = "#D55E00"
)

// StyleMA annotates every row for an MA plot that highlights gene: the
// highlighted gene is large and opaque, significant genes blue, the rest
// faint grey.
func StyleMA(res *deseq.Result, gene string) {
	for i := range res.Rows {
		r := &res.Rows[i]
		switch {
		case r.Gene == gene:
			r.Color, r.Alpha, r.Size = colorHighlight, 1, 12
		case r.Significant(res.Alpha):
			r.Color, r.Alpha, r.Size = colorSignificant, 0.6, 4
		default:
			r.Color, r.Alpha, r.Size = colorBackground, 0.3, 3
		}
	}
}

type maSeries struct {
	color string
	alpha float64
	size  float64
}

// MAChart plots log2 fold change against mean expression, one series per
// distinct styling. Rows without a fold change or with baseMean 0 are left
// out of the log axis. label names the highlighted gene in the title.
func MAChart(res *deseq.Result, label string) *charts.Scatter {
	sc := charts.NewScatter()
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros, Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("%s: %s", res.Contrast.Name, label)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "log", Name: "mean of normalized counts"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "log2 fold change"}),
	)

	groups := map[maSeries][]opts.ScatterData{}
	for _, r := range res.Rows {
		if math.IsNaN(r.Log2FoldChange) || r.BaseMean <= 0 {
			continue
		}
		key := maSeries{r.Color, r.Alpha, r.Size}
		groups[key] = append(groups[key], opts.ScatterData{
			Name:       r.Gene,
			Value:      []float64{r.BaseMean, r.Log2FoldChange},
			SymbolSize: int(math.Max(r.Size, 1)),
		})
	}
	keys := make([]maSeries, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	// draw the biggest points last so they sit on top
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].size != keys[j].size {
			return keys[i].size < keys[j].size
		}
		return keys[i].color < keys[j].color
	})
	for _, k := range keys {
		sc.AddSeries(seriesName(k.color, label), groups[k],
			charts.WithItemStyleOpts(opts.ItemStyle{Color: rgba(k.color, k.alpha)}))
	}
	return sc
}

func seriesName(color, label string) string {
	switch color {
	case colorHighlight:
		return label
	case colorSignificant:
		return "significant"
	default:
		return "not significant"
	}
}
