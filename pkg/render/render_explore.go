package render

import (
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/yumyai/stat3deg/pkg/explore"
)

// PCAChart draws samples on principal components x and y (0-based), one
// series per group.
func PCAChart(p *explore.Projection, x, y int, title string) (*charts.Scatter, error) {
	if x >= len(p.PercentVar) || y >= len(p.PercentVar) {
		return nil, fmt.Errorf("render: projection has %d axes, asked for PC%d/PC%d", len(p.PercentVar), x+1, y+1)
	}
	sc := charts.NewScatter()
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros, Width: "800px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: fmt.Sprintf("PC%d: %.0f%% variance", x+1, p.PercentVar[x])}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: fmt.Sprintf("PC%d: %.0f%% variance", y+1, p.PercentVar[y])}),
	)
	colors := GroupColors(p.Groups)
	for _, g := range levels(p.Groups) {
		var data []opts.ScatterData
		for j, name := range p.Samples {
			if p.Groups[j] != g {
				continue
			}
			data = append(data, opts.ScatterData{Name: name, Value: []float64{p.Coords[j][x], p.Coords[j][y]}, SymbolSize: 14})
		}
		sc.AddSeries(g, data, charts.WithItemStyleOpts(opts.ItemStyle{Color: colors[g]}))
	}
	return sc, nil
}

// RLEChart draws one box per sample.
func RLEChart(boxes []explore.Box, title string) *charts.BoxPlot {
	bp := charts.NewBoxPlot()
	bp.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros, Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "RLE"}),
	)
	names := make([]string, len(boxes))
	data := make([]opts.BoxPlotData, len(boxes))
	for j, b := range boxes {
		names[j] = b.Sample
		data[j] = opts.BoxPlotData{Name: b.Group, Value: []float64{b.Min, b.Q1, b.Median, b.Q3, b.Max}}
	}
	bp.SetXAxis(names).AddSeries("RLE", data)
	return bp
}
