package deseq

import (
	"bufio"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/yumyai/stat3deg/pkg/config"
)

// Row is the test result of one gene in one contrast.
type Row struct {
	Gene           string
	BaseMean       float64
	Log2FoldChange float64
	LfcSE          float64
	Stat           float64
	PValue         float64
	PAdj           float64

	Dispersion   float64
	Converged    bool
	CooksOutlier bool
	// Filtered is set when independent filtering removed the gene.
	Filtered bool

	// Plot styling, set by the render stage.
	Color string
	Alpha float64
	Size  float64
}

// Significant reports padj defined and below alpha.
func (r Row) Significant(alpha float64) bool {
	return !math.IsNaN(r.PAdj) && r.PAdj < alpha
}

// Result holds every gene of one contrast in matrix row order.
type Result struct {
	Contrast    config.Contrast
	Samples     []string
	SizeFactors []float64
	Rows        []Row
	Alpha       float64

	// FilterThreshold is the baseMean cutoff chosen by independent filtering.
	FilterThreshold float64
	Dispersions     *Dispersions

	index map[string]int
}

// Row looks up a gene.
func (r *Result) Row(gene string) (Row, bool) {
	if r.index == nil {
		r.index = make(map[string]int, len(r.Rows))
		for i, row := range r.Rows {
			r.index[row.Gene] = i
		}
	}
	i, ok := r.index[gene]
	if !ok {
		return Row{}, false
	}
	return r.Rows[i], true
}

func (r *Result) where(keep func(Row) bool) []Row {
	var out []Row
	for _, row := range r.Rows {
		if row.Significant(r.Alpha) && keep(row) {
			out = append(out, row)
		}
	}
	return out
}

// Significant returns the genes with padj < alpha.
func (r *Result) Significant() []Row {
	return r.where(func(Row) bool { return true })
}

// Up returns significant genes with positive log2 fold change.
func (r *Result) Up() []Row {
	return r.where(func(row Row) bool { return row.Log2FoldChange > 0 })
}

// Down returns significant genes with non-positive log2 fold change.
func (r *Result) Down() []Row {
	return r.where(func(row Row) bool { return row.Log2FoldChange <= 0 })
}

// SignificantGenes returns the IDs of Significant, sorted.
func (r *Result) SignificantGenes() []string {
	rows := r.Significant()
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.Gene
	}
	sort.Strings(ids)
	return ids
}

// FormatFloat writes NaN as "NA" so the tables read like the usual DE output.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', 10, 64)
}

// Header is the column layout of WriteTSV.
var Header = []string{"gene_id", "baseMean", "log2FoldChange", "lfcSE", "stat", "pvalue", "padj"}

// Fields returns the row's values in Header order.
func (r Row) Fields() []string {
	return []string{
		r.Gene,
		FormatFloat(r.BaseMean),
		FormatFloat(r.Log2FoldChange),
		FormatFloat(r.LfcSE),
		FormatFloat(r.Stat),
		FormatFloat(r.PValue),
		FormatFloat(r.PAdj),
	}
}

// WriteTSV writes every gene in row order.
func (r *Result) WriteTSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	writeLine(bw, Header)
	for _, row := range r.Rows {
		writeLine(bw, row.Fields())
	}
	return bw.Flush()
}

func writeLine(bw *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			bw.WriteByte('\t')
		}
		bw.WriteString(f)
	}
	bw.WriteByte('\n')
}
