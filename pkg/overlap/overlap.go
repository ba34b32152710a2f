// Package overlap compares gene sets: hypergeometric enrichment of a pairwise
// intersection against a shared background, and the exclusive region counts
// drawn in Venn and upset diagrams.
package overlap

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/yumyai/stat3deg/pkg/geneset"
)

var ErrBackground = errors.New("overlap: set sizes inconsistent with background")

// Result is one pairwise overlap test.
type Result struct {
	NameA, NameB string
	SizeA        int
	SizeB        int
	Intersection int
	Background   int

	PValue     float64
	OddsRatio  float64
	Jaccard    float64
	Enrichment float64

	Genes []string
}

// logHyper is log P(X = x) for X ~ Hypergeometric(population n, a marked, b drawn).
func logHyper(x, a, b, n int) float64 {
	return combin.LogGeneralizedBinomial(float64(a), float64(x)) +
		combin.LogGeneralizedBinomial(float64(n-a), float64(b-x)) -
		combin.LogGeneralizedBinomial(float64(n), float64(b))
}

// UpperTail returns P(X >= k) for the intersection of a set of size a and a
// set of size b drawn from n genes.
func UpperTail(k, a, b, n int) (float64, error) {
	if a < 0 || b < 0 || a > n || b > n || k < 0 || k > a || k > b || a+b-k > n {
		return math.NaN(), fmt.Errorf("%w: |A|=%d |B|=%d |A∩B|=%d N=%d", ErrBackground, a, b, k, n)
	}
	lo := a + b - n
	if lo < 0 {
		lo = 0
	}
	if k <= lo {
		return 1, nil
	}
	hi := a
	if b < hi {
		hi = b
	}
	terms := make([]float64, 0, hi-k+1)
	max := math.Inf(-1)
	for x := k; x <= hi; x++ {
		l := logHyper(x, a, b, n)
		terms = append(terms, l)
		max = math.Max(max, l)
	}
	var s float64
	for _, l := range terms {
		s += math.Exp(l - max)
	}
	return math.Min(1, math.Exp(max+math.Log(s))), nil
}

// OddsRatio of the 2x2 contingency table. Zero overlap gives 0 and an
// empty off-diagonal gives +Inf.
func OddsRatio(k, a, b, n int) float64 {
	if k == 0 {
		return 0
	}
	onlyA, onlyB := a-k, b-k
	if onlyA == 0 || onlyB == 0 {
		return math.Inf(1)
	}
	neither := n - a - b + k
	return float64(k) * float64(neither) / (float64(onlyA) * float64(onlyB))
}

// Test restricts a and b to background and tests whether they overlap more
// than expected by chance.
func Test(a, b, background geneset.Set) (Result, error) {
	nameA, nameB := a.Name, b.Name
	a = a.Intersect(background)
	b = b.Intersect(background)
	inter := a.Intersect(b)
	k, na, nb, n := inter.Len(), a.Len(), b.Len(), background.Len()

	res := Result{
		NameA:        nameA,
		NameB:        nameB,
		SizeA:        na,
		SizeB:        nb,
		Intersection: k,
		Background:   n,
		Genes:        inter.Sorted(),
	}
	p, err := UpperTail(k, na, nb, n)
	if err != nil {
		return res, err
	}
	res.PValue = p
	res.OddsRatio = OddsRatio(k, na, nb, n)
	if union := na + nb - k; union > 0 {
		res.Jaccard = float64(k) / float64(union)
	}
	if k > 0 {
		res.Enrichment = float64(k) * float64(n) / (float64(na) * float64(nb))
	}
	return res, nil
}

// Background is the intersection of the studies' filtered gene universes.
func Background(universes ...geneset.Set) geneset.Set {
	if len(universes) == 0 {
		return geneset.New("background", nil)
	}
	bg := universes[0]
	for _, u := range universes[1:] {
		bg = bg.Intersect(u)
	}
	return geneset.New("background", bg.IDs())
}

// Pairwise tests every pair of sets against background, in input order.
func Pairwise(sets []geneset.Set, background geneset.Set) ([]Result, error) {
	var out []Result
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			r, err := Test(sets[i], sets[j], background)
			if err != nil {
				return nil, fmt.Errorf("overlap %s/%s: %w", sets[i].Name, sets[j].Name, err)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// Region is one cell of a Venn or upset diagram.
type Region struct {
	Sets []string
	// Exclusive counts genes in exactly these sets, Inclusive genes in at least these.
	Exclusive int
	Inclusive int
	Genes     []string
}

// Key joins the member set names.
func (r Region) Key() string { return strings.Join(r.Sets, "&") }

// Intersections lists every non-empty combination of sets with its exclusive
// and inclusive gene counts, ordered by combination size and then input order.
func Intersections(sets ...geneset.Set) []Region {
	n := len(sets)
	if n == 0 {
		return nil
	}
	membership := map[string]int{}
	for i, s := range sets {
		for _, id := range s.IDs() {
			membership[id] |= 1 << i
		}
	}
	exclusive := map[int][]string{}
	for id, mask := range membership {
		exclusive[mask] = append(exclusive[mask], id)
	}

	var regions []Region
	for mask := 1; mask < 1<<n; mask++ {
		r := Region{}
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				r.Sets = append(r.Sets, sets[i].Name)
			}
		}
		genes := exclusive[mask]
		sort.Strings(genes)
		r.Genes = genes
		r.Exclusive = len(genes)
		for m, g := range exclusive {
			if m&mask == mask {
				r.Inclusive += len(g)
			}
		}
		regions = append(regions, r)
	}
	sort.SliceStable(regions, func(i, j int) bool {
		return len(regions[i].Sets) < len(regions[j].Sets)
	})
	return regions
}
