package counts

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/stat3deg/pkg/config"
)

func smallMatrix(t *testing.T) *Matrix {
	t.Helper()
	m, err := NewMatrix(
		[]string{"G1", "G2", "G3"},
		[]config.Sample{
			{Name: "WT_1", Treatment: "WT", Batch: "e1"},
			{Name: "KO_1", Treatment: "KO", Batch: "e1"},
			{Name: "WT_2", Treatment: "WT", Batch: "e2"},
		},
		[][]int{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}},
	)
	require.NoError(t, err)
	return m
}

func TestNewMatrixRejectsBadShapes(t *testing.T) {
	s := []config.Sample{{Name: "a"}}
	_, err := NewMatrix([]string{"G1", "G1"}, s, [][]int{{1}, {2}})
	assert.Error(t, err)
	_, err = NewMatrix([]string{"G1"}, s, [][]int{{1, 2}})
	assert.Error(t, err)
	_, err = NewMatrix([]string{"G1"}, []config.Sample{{Name: "a"}, {Name: "a"}}, [][]int{{1, 2}})
	assert.Error(t, err)
}

func TestSubsetKeepsSampleBinding(t *testing.T) {
	m := smallMatrix(t)
	sub, err := m.Subset(m.SamplesWhere("WT"))
	require.NoError(t, err)

	assert.Equal(t, []string{"WT_1", "WT_2"}, []string{sub.Samples[0].Name, sub.Samples[1].Name})
	assert.Equal(t, []int{4, 6}, sub.Row("G2"))
	col, ok := sub.Column("WT_2")
	require.True(t, ok)
	assert.Equal(t, []int{3, 6, 9}, col)
	total, ok := sub.LibrarySize("WT_2")
	require.True(t, ok)
	assert.Equal(t, 18, total)
	_, ok = sub.LibrarySize("KO_1")
	assert.False(t, ok, "dropped by the subset")
	assert.Equal(t, []string{"e1", "e2"}, sub.Factor("batch"))

	_, err = m.Subset([]string{"nobody"})
	assert.Error(t, err)
}

func TestSelectRowsPreservesOrder(t *testing.T) {
	m := smallMatrix(t)
	kept := m.SelectRows(func(g string, row []int) bool { return g != "G2" })
	assert.Equal(t, []string{"G1", "G3"}, kept.Genes)
	_, ok := kept.GeneIndex("G2")
	assert.False(t, ok)
}

func TestPermute(t *testing.T) {
	m := smallMatrix(t)
	p, err := m.Permute([]int{2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"G3", "G1", "G2"}, p.Genes)
	assert.Equal(t, m.Row("G2"), p.Row("G2"))
	_, err = m.Permute([]int{0})
	assert.Error(t, err)
}

func TestWriteTSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, smallMatrix(t).WriteTSV(&buf))
	assert.Equal(t, "gene_id\tWT_1\tKO_1\tWT_2\nG1\t1\t2\t3\nG2\t4\t5\t6\nG3\t7\t8\t9\n", buf.String())
}
