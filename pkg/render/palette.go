package render

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/components"
)

// Okabe-Ito, readable for colour-blind viewers.
var palette = []string{"#E69F00", "#56B4E9", "#009E73", "#F0E442", "#0072B2", "#D55E00", "#CC79A7", "#000000"}

// GroupColors assigns palette colours to group labels in first-seen order.
func GroupColors(groups []string) map[string]string {
	out := map[string]string{}
	for _, g := range groups {
		if _, ok := out[g]; !ok {
			out[g] = palette[len(out)%len(palette)]
		}
	}
	return out
}

// levels lists the distinct labels in first-seen order.
func levels(groups []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, g := range groups {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

// rgba turns "#RRGGBB" and an alpha into a CSS rgba() colour.
func rgba(hex string, alpha float64) string {
	if len(hex) != 7 || hex[0] != '#' {
		return hex
	}
	v, err := strconv.ParseUint(hex[1:], 16, 32)
	if err != nil {
		return hex
	}
	return fmt.Sprintf("rgba(%d,%d,%d,%.2f)", v>>16&0xff, v>>8&0xff, v&0xff, alpha)
}

// WritePage renders charts one after another into a single HTML page.
func WritePage(w io.Writer, charts ...components.Charter) error {
	page := components.NewPage()
	page.AddCharts(charts...)
	return page.Render(w)
}
