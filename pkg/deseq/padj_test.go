package deseq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// filterFixture builds 400 genes with one zero mean. Above a mean of 200
// every fourth gene carries signal; everything else is uniform noise, so
// rejections rise once the low-mean genes are filtered and fall again after.
func filterFixture() (filter, pvalue []float64) {
	for i := 0; i < 400; i++ {
		bm := float64((i * 7919) % 400)
		u := (float64((i*104729)%997) + 0.5) / 997
		p := u
		if bm >= 200 && i%4 == 0 {
			p = u / 50
		}
		filter = append(filter, bm)
		pvalue = append(pvalue, p)
	}
	return filter, pvalue
}

// Rejections per theta for filterFixture at alpha 0.1, and their smooth.
// The smooth follows R's lowess(theta, numRej, f = 1/5).
var (
	fixtureNumRej = []int{
		2, 2, 2, 2, 2, 2, 9, 9, 9, 9, 9, 9, 8, 8, 52, 54, 54, 55, 54, 54, 54, 54, 54, 54, 53,
		53, 51, 49, 47, 45, 42, 40, 39, 37, 35, 33, 31, 29, 27, 25, 23, 21, 18, 16, 14, 12, 11, 9, 7, 5,
	}
	fixtureLowess = []float64{
		1.4932473262378547, 1.911075671646059, 2.4707008216959387, 3.213609165899288,
		4.204817384758854, 5.304377573068112, 6.255587008693909, 7.81668443346533,
		8.971274515277829, 9.0, 9.0, 8.999999999999993,
		8.999999999999977, 27.233326279865416, 32.91405130844097, 42.42716086204794,
		55.18202337025184, 54.6175730922062, 54.334624787526316, 54.17054820275239,
		54.0510611119269, 53.91804016488481, 53.722927673061015, 53.23857271660494,
		52.41825264684966, 51.37822537198148, 50.11647163637754, 48.58610121868601,
		46.765717867900165, 44.730918983491094, 42.705980788287555, 40.70737051486812,
		38.725928607527884, 36.79701096918219, 34.91066177593877, 32.98381545374503,
		31.00000000000002, 29.000000000000018, 26.98070511346729, 24.89778291476563,
		22.754708044358583, 20.585682203408332, 18.434268727304588, 16.35110437133901,
		14.351223118996085, 12.434890307363098, 10.608575593206199, 8.793021068527032,
		6.985329481733967, 5.1774894780360965,
	}
)

func TestIndependentFilterThreshold(t *testing.T) {
	filter, pvalue := filterFixture()
	fr := IndependentFilter(filter, pvalue, 0.1)

	require.Len(t, fr.Theta, 50)
	assert.InDelta(t, 0.0025, fr.Theta[0], 1e-15)
	assert.Equal(t, 0.95, fr.Theta[49])
	assert.Equal(t, fixtureNumRej, fr.NumRej)
	assert.InDeltaSlice(t, fixtureLowess, fr.Lowess, 1e-9)

	// first theta whose rejections exceed max(lowess) - rmse = 50.93
	assert.Equal(t, 14, fr.Chosen)
	assert.InDelta(t, 109.0125, fr.Threshold, 1e-9)
	var tested int
	for i, p := range fr.PAdj {
		if filter[i] < fr.Threshold {
			assert.True(t, math.IsNaN(p), "filtered genes have no padj")
			continue
		}
		tested++
	}
	assert.Equal(t, 290, tested)
}

func TestLowessRobustToOutliersWithTies(t *testing.T) {
	x := make([]float64, 30)
	for i := range x {
		x[i] = float64(i / 2)
	}
	y := []float64{
		0.0, 1.5, 3.0, 4.5, 6.0, 7.5,
		9.0, 0.0, 1.5, 3.0, 4.5, 46.0,
		7.5, 9.0, 0.0, 1.5, 3.0, 4.5,
		6.0, 7.5, 9.0, 0.0, 1.5, 43.0,
		4.5, 6.0, 7.5, 9.0, 0.0, 1.5,
	}
	want := []float64{
		0.75, 0.75, 3.75, 3.75,
		6.75, 6.75, 9.0, 9.0,
		2.25, 2.25, 4.5, 4.5,
		8.25, 8.25, 0.75, 0.75,
		3.75, 3.75, 6.75, 6.75,
		9.0, 9.0, 1.5, 1.5,
		5.25, 5.25, 8.25, 8.25,
		0.75, 0.75,
	}
	fit := lowess(x, y, 1.0/5, 3, 0.01*(x[29]-x[0]))
	assert.InDeltaSlice(t, want, fit, 1e-9)

	plain := lowess(x, y, 1.0/5, 0, 0.01*(x[29]-x[0]))
	assert.InDelta(t, 25.25, plain[10], 1e-9, "without robustness steps the outlier pulls the fit")
}
