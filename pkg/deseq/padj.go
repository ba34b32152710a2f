package deseq

import (
	"math"
	"sort"
)

// BHAdjust returns Benjamini-Hochberg adjusted p-values. NaN inputs stay NaN
// and do not count towards the number of tests.
func BHAdjust(p []float64) []float64 {
	out := make([]float64, len(p))
	idx := make([]int, 0, len(p))
	for i, v := range p {
		out[i] = math.NaN()
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	n := len(idx)
	if n == 0 {
		return out
	}
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] > p[idx[b]] })
	run := 1.0
	for k, i := range idx {
		rank := n - k
		v := math.Min(1, float64(n)/float64(rank)*p[i])
		if v < run {
			run = v
		}
		out[i] = run
	}
	return out
}

// FilterResult records the independent filtering scan.
type FilterResult struct {
	PAdj      []float64
	Theta     []float64
	NumRej    []int
	Lowess    []float64
	Chosen    int
	Threshold float64
}

// IndependentFilter chooses a baseMean quantile below which genes are not
// tested, maximising rejections at level alpha, and returns BH adjusted
// p-values for the surviving genes.
func IndependentFilter(filter, pvalue []float64, alpha float64) FilterResult {
	const steps = 50
	n := len(filter)
	var zeros int
	for _, f := range filter {
		if f == 0 {
			zeros++
		}
	}
	lower := float64(zeros) / float64(n)
	upper := 0.95
	if lower >= 0.95 {
		upper = 1
	}
	// same grid as R's seq(lower, upper, length.out = steps)
	theta := make([]float64, steps)
	by := (upper - lower) / (steps - 1)
	for i := range theta {
		theta[i] = lower + float64(i)*by
	}
	theta[steps-1] = upper

	sorted := append([]float64(nil), filter...)
	sort.Float64s(sorted)
	cutoffs := make([]float64, steps)
	adjusted := make([][]float64, steps)
	numRej := make([]int, steps)
	for s, th := range theta {
		cutoffs[s] = quantileR7(sorted, th)
		p := make([]float64, n)
		for i := range p {
			p[i] = math.NaN()
			if filter[i] >= cutoffs[s] {
				p[i] = pvalue[i]
			}
		}
		adjusted[s] = BHAdjust(p)
		for _, v := range adjusted[s] {
			if v < alpha {
				numRej[s]++
			}
		}
	}

	rej := make([]float64, steps)
	maxRej := 0
	for i, r := range numRej {
		rej[i] = float64(r)
		if r > maxRej {
			maxRej = r
		}
	}
	fit := lowess(theta, rej, 1.0/5, 3, 0.01*(theta[steps-1]-theta[0]))

	j := 0
	if maxRej > 10 {
		var ss float64
		var cnt int
		for i, r := range numRej {
			if r > 0 {
				d := rej[i] - fit[i]
				ss += d * d
				cnt++
			}
		}
		maxFit := math.Inf(-1)
		for _, v := range fit {
			maxFit = math.Max(maxFit, v)
		}
		thresh := maxFit - math.Sqrt(ss/float64(cnt))
		for i, r := range rej {
			if r > thresh {
				j = i
				break
			}
		}
	}
	return FilterResult{
		PAdj:      adjusted[j],
		Theta:     theta,
		NumRej:    numRej,
		Lowess:    fit,
		Chosen:    j,
		Threshold: cutoffs[j],
	}
}

// lowess is Cleveland's robust locally weighted regression of y on x with
// span f, nsteps robustness iterations and interpolation distance delta.
// x must be ascending.
func lowess(x, y []float64, f float64, nsteps int, delta float64) []float64 {
	n := len(x)
	ys := make([]float64, n)
	if n < 2 {
		copy(ys, y)
		return ys
	}
	ns := int(f*float64(n) + 1e-7)
	if ns > n {
		ns = n
	}
	if ns < 2 {
		ns = 2
	}
	rw := make([]float64, n)
	res := make([]float64, n)
	w := make([]float64, n)

	for iter := 1; iter <= nsteps+1; iter++ {
		nleft, nright := 0, ns-1
		last := -1
		i := 0
		for {
			if nright < n-1 {
				d1 := x[i] - x[nleft]
				d2 := x[nright+1] - x[i]
				if d1 > d2 {
					nleft++
					nright++
					continue
				}
			}
			v, ok := lowest(x, y, x[i], nleft, nright, w, iter > 1, rw)
			if ok {
				ys[i] = v
			} else {
				ys[i] = y[i]
			}
			if last < i-1 {
				denom := x[i] - x[last]
				for j := last + 1; j < i; j++ {
					a := (x[j] - x[last]) / denom
					ys[j] = a*ys[i] + (1-a)*ys[last]
				}
			}
			last = i
			cut := x[last] + delta
			for i = last + 1; i < n; i++ {
				if x[i] > cut {
					break
				}
				if x[i] == x[last] {
					ys[i] = ys[last]
					last = i
				}
			}
			if i-1 > last+1 {
				i = i - 1
			} else {
				i = last + 1
			}
			if last >= n-1 {
				break
			}
		}

		var sc float64
		for k := range res {
			res[k] = y[k] - ys[k]
			sc += math.Abs(res[k])
		}
		sc /= float64(n)
		if iter > nsteps {
			break
		}

		abs := make([]float64, n)
		for k := range res {
			abs[k] = math.Abs(res[k])
		}
		sort.Float64s(abs)
		m1 := n / 2
		var cmad float64
		if n%2 == 0 {
			cmad = 3 * (abs[m1] + abs[n-m1-1])
		} else {
			cmad = 6 * abs[m1]
		}
		if cmad < 1e-7*sc {
			break
		}
		c9, c1 := 0.999*cmad, 0.001*cmad
		for k := range res {
			r := math.Abs(res[k])
			switch {
			case r <= c1:
				rw[k] = 1
			case r <= c9:
				u := r / cmad
				rw[k] = (1 - u*u) * (1 - u*u)
			default:
				rw[k] = 0
			}
		}
	}
	return ys
}

// lowest fits the weighted local line at xs over x[nleft..nright], extending
// right over ties.
func lowest(x, y []float64, xs float64, nleft, nright int, w []float64, robust bool, rw []float64) (float64, bool) {
	n := len(x)
	rng := x[n-1] - x[0]
	h := math.Max(xs-x[nleft], x[nright]-xs)
	h9, h1 := 0.999*h, 0.001*h

	var a float64
	j := nleft
	for j < n {
		w[j] = 0
		r := math.Abs(x[j] - xs)
		if r <= h9 {
			if r <= h1 {
				w[j] = 1
			} else {
				q := r / h
				q = 1 - q*q*q
				w[j] = q * q * q
			}
			if robust {
				w[j] *= rw[j]
			}
			a += w[j]
		} else if x[j] > xs {
			break
		}
		j++
	}
	nrt := j - 1
	if a <= 0 {
		return 0, false
	}
	for j := nleft; j <= nrt; j++ {
		w[j] /= a
	}
	if h > 0 {
		a = 0
		for j := nleft; j <= nrt; j++ {
			a += w[j] * x[j]
		}
		b := xs - a
		var c float64
		for j := nleft; j <= nrt; j++ {
			c += w[j] * (x[j] - a) * (x[j] - a)
		}
		if math.Sqrt(c) > 0.001*rng {
			b /= c
			for j := nleft; j <= nrt; j++ {
				w[j] *= b*(x[j]-a) + 1
			}
		}
	}
	var ys float64
	for j := nleft; j <= nrt; j++ {
		ys += w[j] * y[j]
	}
	return ys, true
}
