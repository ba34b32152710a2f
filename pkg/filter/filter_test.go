package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/stat3deg/pkg/config"
	"github.com/yumyai/stat3deg/pkg/counts"
	"github.com/yumyai/stat3deg/pkg/geneset"
)

func twelveSamples() []config.Sample {
	var s []config.Sample
	for _, g := range []string{"WT", "CRISPR", "STAT3", "STAT3B"} {
		for r := 1; r <= 3; r++ {
			s = append(s, config.Sample{Name: g + "_" + string(rune('0'+r)), Treatment: g})
		}
	}
	return s
}

func matrix(t *testing.T, rows map[string][]int) *counts.Matrix {
	t.Helper()
	genes := []string{"G_low", "G_four", "G_three", "G_all", "G_edge"}
	var data [][]int
	for _, g := range genes {
		data = append(data, rows[g])
	}
	m, err := counts.NewMatrix(genes, twelveSamples(), data)
	require.NoError(t, err)
	return m
}

func testMatrix(t *testing.T) *counts.Matrix {
	return matrix(t, map[string][]int{
		"G_low":   {0, 1, 2, 3, 4, 5, 5, 5, 5, 5, 5, 5},
		"G_four":  {6, 6, 6, 6, 0, 0, 0, 0, 0, 0, 0, 0},
		"G_three": {100, 100, 100, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		"G_all":   {50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50},
		"G_edge":  {5, 5, 5, 5, 5, 5, 6, 6, 6, 0, 0, 0},
	})
}

func TestByExpression(t *testing.T) {
	m := testMatrix(t)
	out, rep := ByExpression(m, 5, 4)

	assert.Equal(t, []string{"G_four", "G_all"}, out.Genes)
	assert.Equal(t, Report{Name: "expression", Before: 5, Kept: 2, Dropped: 3}, rep)

	// Every retained row has at least 4 samples above 5 counts.
	for _, g := range out.Genes {
		n := 0
		for _, v := range out.Row(g) {
			if v > 5 {
				n++
			}
		}
		assert.GreaterOrEqual(t, n, 4, g)
	}
}

func TestByGeneSetMembershipAndIdempotence(t *testing.T) {
	m := testMatrix(t)
	pc := geneset.New("protein_coding", []string{"G_all", "G_low", "G_not_in_matrix"})

	once, rep := ByGeneSet(m, pc)
	assert.Equal(t, []string{"G_low", "G_all"}, once.Genes, "matrix order is kept")
	assert.Equal(t, 3, rep.Dropped)
	for _, g := range once.Genes {
		assert.True(t, pc.Has(g))
	}

	twice, _ := ByGeneSet(once, pc)
	assert.Equal(t, once.Genes, twice.Genes)
	assert.Equal(t, once.Counts, twice.Counts)
}

func TestUniverse(t *testing.T) {
	out, _ := ByExpression(testMatrix(t), 5, 4)
	u := Universe("this_study", out)
	assert.Equal(t, 2, u.Len())
	assert.True(t, u.Has("G_all"))
}
