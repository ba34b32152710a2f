package normalize

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/stat3deg/pkg/config"
	"github.com/yumyai/stat3deg/pkg/counts"
	"github.com/yumyai/stat3deg/pkg/geneset"
)

// batchMatrix carries a multiplicative depth effect in samples 1 and 3.
func batchMatrix(t *testing.T) *counts.Matrix {
	t.Helper()
	samples := []config.Sample{
		{Name: "s0", Treatment: "WT"}, {Name: "s1", Treatment: "WT"},
		{Name: "s2", Treatment: "KO"}, {Name: "s3", Treatment: "KO"},
	}
	depth := []float64{1, 3, 1, 3}
	var genes []string
	var rows [][]int
	for i := 0; i < 40; i++ {
		base := 100 + 10*float64(i)
		row := make([]int, 4)
		for j := range row {
			row[j] = int(math.Round(base*depth[j])) - 1
		}
		genes = append(genes, fmt.Sprintf("HK%02d", i))
		rows = append(rows, row)
	}
	m, err := counts.NewMatrix(genes, samples, rows)
	require.NoError(t, err)
	return m
}

func TestStableControls(t *testing.T) {
	samples := []config.Sample{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	m, err := counts.NewMatrix(
		[]string{"G1", "G2", "G3", "G4", "G5"},
		samples,
		[][]int{{10, 10, 10}, {10, 20, 30}, {100, 101, 99}, {0, 0, 0}, {5, 50, 5}},
	)
	require.NoError(t, err)
	hk := geneset.New("hk", []string{"G1", "G2", "G3", "G4", "G5", "MISSING"})

	assert.Equal(t, []string{"G1", "G3"}, StableControls(m, hk, 2))
	assert.Len(t, StableControls(m, hk, 1000), 4, "zero-mean gene skipped")
	assert.Empty(t, StableControls(m, geneset.New("none", nil), 10))
}

func TestRUVgRemovesDepthFactor(t *testing.T) {
	m := batchMatrix(t)
	ruv, err := RUVg(m, m.Genes, 1)
	require.NoError(t, err)

	w := ruv.Factor(0)
	require.Len(t, w, 4)
	var norm2 float64
	for _, v := range w {
		norm2 += v * v
	}
	assert.InDelta(t, 1, norm2, 1e-9, "W is a unit singular vector")
	assert.InDelta(t, w[0], w[2], 1e-9)
	assert.InDelta(t, w[1], w[3], 1e-9)

	// After removal every gene is flat across samples.
	for i := range ruv.Normalized.Genes {
		row := ruv.Normalized.Counts[i]
		for j := 1; j < len(row); j++ {
			assert.InDelta(t, row[0], row[j], 1, "gene %s", ruv.Normalized.Genes[i])
		}
	}
	assert.Equal(t, m.Samples, ruv.Normalized.Samples)
}

func TestRUVgErrors(t *testing.T) {
	m := batchMatrix(t)
	_, err := RUVg(m, nil, 1)
	assert.ErrorIs(t, err, ErrNoControls)

	_, err = RUVg(m, []string{"NOPE"}, 1)
	assert.Error(t, err)

	_, err = RUVg(m, m.Genes, 4)
	assert.Error(t, err)
}
