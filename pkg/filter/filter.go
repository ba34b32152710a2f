// Package filter holds the row predicates applied to the merged count matrix
// before any statistics: a minimum-expression filter and gene-set membership.
package filter

import (
	"github.com/yumyai/stat3deg/pkg/counts"
	"github.com/yumyai/stat3deg/pkg/geneset"
)

// Report summarises one filter pass.
type Report struct {
	Name    string
	Before  int
	Kept    int
	Dropped int
}

func report(name string, before, after *counts.Matrix) Report {
	return Report{Name: name, Before: before.NGenes(), Kept: after.NGenes(), Dropped: before.NGenes() - after.NGenes()}
}

// Expressed reports whether at least minSamples values of row exceed minCount.
func Expressed(row []int, minCount, minSamples int) bool {
	n := 0
	for _, v := range row {
		if v > minCount {
			n++
			if n >= minSamples {
				return true
			}
		}
	}
	return false
}

// ByExpression keeps a gene iff its count exceeds minCount in at least
// minSamples samples.
func ByExpression(m *counts.Matrix, minCount, minSamples int) (*counts.Matrix, Report) {
	out := m.SelectRows(func(_ string, row []int) bool {
		return Expressed(row, minCount, minSamples)
	})
	return out, report("expression", m, out)
}

// ByGeneSet keeps genes whose identifier is in set. Genes missing from the
// set are dropped silently.
func ByGeneSet(m *counts.Matrix, set geneset.Set) (*counts.Matrix, Report) {
	out := m.SelectRows(func(gene string, _ []int) bool {
		return set.Has(gene)
	})
	return out, report(set.Name, m, out)
}

// Universe is the set of genes left in m, used as a study's background population.
func Universe(name string, m *counts.Matrix) geneset.Set {
	return geneset.New(name, m.Genes)
}
