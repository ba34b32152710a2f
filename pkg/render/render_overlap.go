package render

import (
	"fmt"
	"html/template"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"go.uber.org/zap"

	"github.com/yumyai/stat3deg/logger"
	"github.com/yumyai/stat3deg/pkg/overlap"
)

var vennTemplate *template.Template

// VennData fills the two-set Venn template.
type VennData struct {
	NameA, NameB string
	OnlyA, OnlyB int
	Both         int
	Background   int
	PValue       string
	ColorA       string
	ColorB       string
}

// init initializes the SVG template used for pairwise Venn diagrams.
func init() {
	vennTmpl := `<svg xmlns="http://www.w3.org/2000/svg" width="520" height="360" viewBox="0 0 520 360" font-family="sans-serif">
	<rect width="520" height="360" fill="white"/>
	<circle cx="200" cy="180" r="120" fill="{{ .ColorA }}" fill-opacity="0.45" stroke="#333"/>
	<circle cx="320" cy="180" r="120" fill="{{ .ColorB }}" fill-opacity="0.45" stroke="#333"/>
	<text x="150" y="40" text-anchor="middle" font-size="16" font-weight="bold">{{ .NameA }}</text>
	<text x="370" y="40" text-anchor="middle" font-size="16" font-weight="bold">{{ .NameB }}</text>
	<text x="140" y="186" text-anchor="middle" font-size="22">{{ .OnlyA }}</text>
	<text x="260" y="186" text-anchor="middle" font-size="22">{{ .Both }}</text>
	<text x="380" y="186" text-anchor="middle" font-size="22">{{ .OnlyB }}</text>
	<text x="260" y="340" text-anchor="middle" font-size="13">background {{ .Background }} genes, hypergeometric p = {{ .PValue }}</text>
</svg>
`
	vennTemplate = template.Must(template.New("venn").Parse(vennTmpl))
}

// RenderVenn writes a two-set Venn diagram of an overlap test as SVG.
func RenderVenn(w io.Writer, r overlap.Result) error {
	logger.Debug("Rendering venn", zap.String("a", r.NameA), zap.String("b", r.NameB), zap.Int("both", r.Intersection))
	return vennTemplate.Execute(w, VennData{
		NameA:      r.NameA,
		NameB:      r.NameB,
		OnlyA:      r.SizeA - r.Intersection,
		OnlyB:      r.SizeB - r.Intersection,
		Both:       r.Intersection,
		Background: r.Background,
		PValue:     fmt.Sprintf("%.3g", r.PValue),
		ColorA:     palette[1],
		ColorB:     palette[0],
	})
}

// rankRegions orders regions by exclusive size, largest first. Ties keep
// combination order.
func rankRegions(regions []overlap.Region) []overlap.Region {
	sorted := append([]overlap.Region(nil), regions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Exclusive > sorted[j].Exclusive })
	return sorted
}

// UpsetChart draws the exclusive intersection sizes as bars, largest first.
func UpsetChart(regions []overlap.Region, title string) *charts.Bar {
	sorted := rankRegions(regions)
	names := make([]string, len(sorted))
	data := make([]opts.BarData, len(sorted))
	for i, r := range sorted {
		names[i] = r.Key()
		data[i] = opts.BarData{Name: r.Key(), Value: r.Exclusive}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros, Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "genes"}),
	)
	bar.SetXAxis(names).AddSeries("intersection size", data)
	return bar
}
