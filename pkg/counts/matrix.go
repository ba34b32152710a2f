// Package counts holds the gene-by-sample read count matrix and the loader that
// builds it from per-sample count files.
package counts

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/yumyai/stat3deg/pkg/config"
)

// Matrix is a genes x samples table of read counts. Each column is bound to
// its sample record by name; row and column order are preserved by every
// operation that does not explicitly reorder.
type Matrix struct {
	Genes   []string
	Samples []config.Sample
	// Counts[i][j] is the count of Genes[i] in Samples[j].
	Counts [][]int

	geneIdx   map[string]int
	sampleIdx map[string]int
}

// NewMatrix builds a matrix, checking shapes and identifier uniqueness.
func NewMatrix(genes []string, samples []config.Sample, counts [][]int) (*Matrix, error) {
	if len(counts) != len(genes) {
		return nil, fmt.Errorf("counts: %d rows for %d genes", len(counts), len(genes))
	}
	m := &Matrix{Genes: genes, Samples: samples, Counts: counts}
	m.geneIdx = make(map[string]int, len(genes))
	for i, g := range genes {
		if _, dup := m.geneIdx[g]; dup {
			return nil, fmt.Errorf("counts: duplicate gene %q", g)
		}
		if len(counts[i]) != len(samples) {
			return nil, fmt.Errorf("counts: gene %q has %d values for %d samples", g, len(counts[i]), len(samples))
		}
		m.geneIdx[g] = i
	}
	m.sampleIdx = make(map[string]int, len(samples))
	for j, s := range samples {
		if _, dup := m.sampleIdx[s.Name]; dup {
			return nil, fmt.Errorf("counts: duplicate sample %q", s.Name)
		}
		m.sampleIdx[s.Name] = j
	}
	return m, nil
}

func (m *Matrix) NGenes() int   { return len(m.Genes) }
func (m *Matrix) NSamples() int { return len(m.Samples) }

// SampleIndex returns the column of the named sample.
func (m *Matrix) SampleIndex(name string) (int, bool) {
	j, ok := m.sampleIdx[name]
	return j, ok
}

func (m *Matrix) GeneIndex(gene string) (int, bool) {
	i, ok := m.geneIdx[gene]
	return i, ok
}

// Row returns the counts for gene, or nil if absent.
func (m *Matrix) Row(gene string) []int {
	i, ok := m.geneIdx[gene]
	if !ok {
		return nil
	}
	return m.Counts[i]
}

// Column copies out the counts of the named sample.
func (m *Matrix) Column(name string) ([]int, bool) {
	j, ok := m.sampleIdx[name]
	if !ok {
		return nil, false
	}
	col := make([]int, len(m.Genes))
	for i := range m.Counts {
		col[i] = m.Counts[i][j]
	}
	return col, true
}

// LibrarySize is the total assigned count of the named sample.
func (m *Matrix) LibrarySize(name string) (int, bool) {
	col, ok := m.Column(name)
	if !ok {
		return 0, false
	}
	var total int
	for _, c := range col {
		total += c
	}
	return total, true
}

// Factor returns one grouping label per column, read from the sample records.
// by is "treatment" or "batch".
func (m *Matrix) Factor(by string) []string {
	out := make([]string, len(m.Samples))
	for j, s := range m.Samples {
		switch by {
		case "batch":
			out[j] = s.Batch
		default:
			out[j] = s.Treatment
		}
	}
	return out
}

// SelectRows keeps rows for which keep returns true, in their original order.
func (m *Matrix) SelectRows(keep func(gene string, row []int) bool) *Matrix {
	genes := make([]string, 0, len(m.Genes))
	rows := make([][]int, 0, len(m.Genes))
	for i, g := range m.Genes {
		if keep(g, m.Counts[i]) {
			genes = append(genes, g)
			rows = append(rows, m.Counts[i])
		}
	}
	out, _ := NewMatrix(genes, m.Samples, rows)
	return out
}

// Subset keeps the named samples in the order given.
func (m *Matrix) Subset(names []string) (*Matrix, error) {
	idx := make([]int, len(names))
	samples := make([]config.Sample, len(names))
	for k, n := range names {
		j, ok := m.sampleIdx[n]
		if !ok {
			return nil, fmt.Errorf("counts: unknown sample %q", n)
		}
		idx[k] = j
		samples[k] = m.Samples[j]
	}
	rows := make([][]int, len(m.Genes))
	for i, r := range m.Counts {
		row := make([]int, len(idx))
		for k, j := range idx {
			row[k] = r[j]
		}
		rows[i] = row
	}
	return NewMatrix(append([]string(nil), m.Genes...), samples, rows)
}

// SamplesWhere lists sample names whose treatment is one of levels, in column order.
func (m *Matrix) SamplesWhere(levels ...string) []string {
	var names []string
	for _, s := range m.Samples {
		for _, l := range levels {
			if s.Treatment == l {
				names = append(names, s.Name)
				break
			}
		}
	}
	return names
}

// Permute reorders the rows: row k of the result is row order[k] of m.
func (m *Matrix) Permute(order []int) (*Matrix, error) {
	if len(order) != len(m.Genes) {
		return nil, fmt.Errorf("counts: permutation of length %d for %d genes", len(order), len(m.Genes))
	}
	genes := make([]string, len(order))
	rows := make([][]int, len(order))
	for k, i := range order {
		genes[k] = m.Genes[i]
		rows[k] = m.Counts[i]
	}
	return NewMatrix(genes, m.Samples, rows)
}

// SortedBySample returns a copy whose columns are ordered by sample name.
// Used to compare matrices assembled from differently ordered inputs.
func (m *Matrix) SortedBySample() *Matrix {
	names := make([]string, len(m.Samples))
	for j, s := range m.Samples {
		names[j] = s.Name
	}
	sort.Strings(names)
	out, _ := m.Subset(names)
	return out
}

// Float returns the counts as float64 rows, convenient for the statistics packages.
func (m *Matrix) Float() [][]float64 {
	out := make([][]float64, len(m.Counts))
	for i, r := range m.Counts {
		row := make([]float64, len(r))
		for j, v := range r {
			row[j] = float64(v)
		}
		out[i] = row
	}
	return out
}

// WriteTSV writes a header of sample names followed by one row per gene.
func (m *Matrix) WriteTSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("gene_id")
	for _, s := range m.Samples {
		bw.WriteByte('\t')
		bw.WriteString(s.Name)
	}
	bw.WriteByte('\n')
	for i, g := range m.Genes {
		bw.WriteString(g)
		for _, v := range m.Counts[i] {
			bw.WriteByte('\t')
			bw.WriteString(strconv.Itoa(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
