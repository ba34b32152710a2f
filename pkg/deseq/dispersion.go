package deseq

import (
	"context"
	"errors"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/yumyai/stat3deg/logger"
)

const (
	minDisp    = 1e-8
	outlierSD  = 2.0
	minPriorVa = 0.25
)

var (
	errTrend = errors.New("deseq: parametric dispersion trend did not converge")
	// ErrFlatDispersions means every gene-wise estimate sits at the lower bound,
	// typically because replicates are identical.
	ErrFlatDispersions = errors.New("deseq: all gene-wise dispersions are within two orders of magnitude of the minimum")
)

// Dispersions holds every intermediate of the dispersion estimation so the
// trend and shrinkage can be inspected.
type Dispersions struct {
	GeneEst []float64
	Trend   []float64
	MAP     []float64
	// Final is MAP, or GeneEst for dispersion outliers.
	Final   []float64
	Outlier []bool

	// Trend is A0 + A1/mean unless TrendFallback, then the mean of GeneEst.
	A0, A1        float64
	TrendFallback bool

	VarLogDispEsts float64
	PriorVar       float64
}

// linearMu is sf_j times the mean normalised count of sample j's group.
func linearMu(y, sf []float64, groups []int, nGroups int) []float64 {
	sums := make([]float64, nGroups)
	ns := make([]float64, nGroups)
	for j, g := range groups {
		sums[g] += y[j] / sf[j]
		ns[g]++
	}
	mu := make([]float64, len(y))
	for j, g := range groups {
		mu[j] = math.Max(sf[j]*sums[g]/ns[g], minMu)
	}
	return mu
}

// roughDisp is the moments-style starting value from the group-mean fit.
func roughDisp(norm []float64, groups []int, nGroups, p int) float64 {
	sums := make([]float64, nGroups)
	ns := make([]float64, nGroups)
	for j, g := range groups {
		sums[g] += norm[j]
		ns[g]++
	}
	var est float64
	for j, g := range groups {
		mu := math.Max(sums[g]/ns[g], 1)
		est += ((norm[j]-mu)*(norm[j]-mu) - mu) / (mu * mu)
	}
	return math.Max(est/float64(len(norm)-p), 0)
}

// momentsDisp is (var - xim*mean) / mean^2 over normalised counts.
func momentsDisp(norm []float64, xim float64) float64 {
	m := mean(norm)
	if m == 0 {
		return math.NaN()
	}
	return (variance(norm) - xim*m) / (m * m)
}

type logNormalPrior struct {
	mean, variance float64
}

// logPosterior is the Cox-Reid adjusted profile log likelihood of log
// dispersion a, plus the log-normal prior when one is given.
func logPosterior(a float64, y, mu []float64, x *mat.Dense, prior *logNormalPrior) float64 {
	alpha := math.Exp(a)
	ll := nbLogLik(y, mu, alpha)
	w := make([]float64, len(mu))
	for j := range mu {
		w[j] = mu[j] / (1 + alpha*mu[j])
	}
	var lu mat.LU
	lu.Factorize(weightedGram(x, w))
	logDet, _ := lu.LogDet()
	ll -= 0.5 * logDet
	if prior != nil {
		d := a - prior.mean
		ll -= d * d / (2 * prior.variance)
	}
	return ll
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// maximizeLogAlpha scans a coarse grid over [lo, hi] and refines the best
// point with Nelder-Mead.
func maximizeLogAlpha(f func(float64) float64, lo, hi, start float64) float64 {
	const gridN = 20
	best := clamp(start, lo, hi)
	bestVal := f(best)
	for k := 0; k < gridN; k++ {
		a := lo + (hi-lo)*float64(k)/(gridN-1)
		if v := f(a); v > bestVal {
			best, bestVal = a, v
		}
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 { return -f(clamp(x[0], lo, hi)) },
	}
	res, err := optimize.Minimize(problem, []float64{best}, nil, &optimize.NelderMead{})
	if err == nil && res != nil {
		if a := clamp(res.X[0], lo, hi); f(a) >= bestVal {
			best = a
		}
	}
	return best
}

// EstimateDispersions runs gene-wise estimation, the parametric trend fit and
// MAP shrinkage towards the trend. allZero genes get NaN throughout.
func EstimateDispersions(ctx context.Context, y [][]float64, sf []float64, d *Design, allZero []bool) (*Dispersions, error) {
	nGenes := len(y)
	m, p := d.X.Dims()
	maxDisp := math.Max(10, float64(m))
	lo, hi := math.Log(minDisp/10), math.Log(maxDisp)

	xim := 0.0
	for _, s := range sf {
		xim += 1 / s
	}
	xim /= float64(len(sf))

	out := &Dispersions{
		GeneEst: make([]float64, nGenes),
		Trend:   make([]float64, nGenes),
		MAP:     make([]float64, nGenes),
		Final:   make([]float64, nGenes),
		Outlier: make([]bool, nGenes),
	}
	mus := make([][]float64, nGenes)
	baseMean := make([]float64, nGenes)

	for i, row := range y {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if allZero[i] {
			out.GeneEst[i] = math.NaN()
			continue
		}
		norm := make([]float64, m)
		for j := range row {
			norm[j] = row[j] / sf[j]
		}
		baseMean[i] = mean(norm)
		start := math.Min(roughDisp(norm, d.Groups, d.NGroups, p), momentsDisp(norm, xim))
		if math.IsNaN(start) {
			start = 0.1
		}
		start = clamp(start, minDisp, maxDisp)

		mu := linearMu(row, sf, d.Groups, d.NGroups)
		mus[i] = mu
		a := maximizeLogAlpha(func(a float64) float64 {
			return logPosterior(a, row, mu, d.X, nil)
		}, lo, hi, math.Log(start))
		out.GeneEst[i] = clamp(math.Exp(a), minDisp, maxDisp)
	}

	// Trend over genes clearly above the lower bound, in mean order so the
	// fit does not depend on row order.
	var fitIdx []int
	for i := range y {
		if !allZero[i] && out.GeneEst[i] >= 100*minDisp {
			fitIdx = append(fitIdx, i)
		}
	}
	sort.Slice(fitIdx, func(a, b int) bool {
		ia, ib := fitIdx[a], fitIdx[b]
		if baseMean[ia] != baseMean[ib] {
			return baseMean[ia] < baseMean[ib]
		}
		return out.GeneEst[ia] < out.GeneEst[ib]
	})
	fitMeans := make([]float64, len(fitIdx))
	fitDisps := make([]float64, len(fitIdx))
	for k, i := range fitIdx {
		fitMeans[k] = baseMean[i]
		fitDisps[k] = out.GeneEst[i]
	}
	if len(fitIdx) == 0 {
		return nil, ErrFlatDispersions
	}
	out.A0, out.A1, out.TrendFallback = fitTrend(fitMeans, fitDisps)
	for i := range y {
		if allZero[i] {
			out.Trend[i] = math.NaN()
			continue
		}
		out.Trend[i] = out.TrendAt(baseMean[i])
	}

	// Prior width from the spread of log residuals above the trend.
	var resid []float64
	for i := range y {
		if !allZero[i] && out.GeneEst[i] >= 100*minDisp {
			resid = append(resid, math.Log(out.GeneEst[i])-math.Log(out.Trend[i]))
		}
	}
	mad := medianAbsDeviation(resid)
	out.VarLogDispEsts = mad * mad
	expVar := trigamma(float64(m-p) / 2)
	out.PriorVar = math.Max(out.VarLogDispEsts-expVar, minPriorVa)

	for i, row := range y {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if allZero[i] {
			out.MAP[i] = math.NaN()
			out.Final[i] = math.NaN()
			continue
		}
		prior := &logNormalPrior{mean: math.Log(out.Trend[i]), variance: out.PriorVar}
		init := out.Trend[i]
		if out.GeneEst[i] > 0.1*out.Trend[i] {
			init = out.GeneEst[i]
		}
		mu := mus[i]
		a := maximizeLogAlpha(func(a float64) float64 {
			return logPosterior(a, row, mu, d.X, prior)
		}, lo, hi, math.Log(init))
		out.MAP[i] = clamp(math.Exp(a), minDisp, maxDisp)

		out.Final[i] = out.MAP[i]
		if math.Log(out.GeneEst[i]) > math.Log(out.Trend[i])+outlierSD*math.Sqrt(out.VarLogDispEsts) {
			out.Outlier[i] = true
			out.Final[i] = out.GeneEst[i]
		}
	}
	return out, nil
}

// TrendAt evaluates the fitted dispersion trend at mean expression mu.
func (d *Dispersions) TrendAt(mu float64) float64 {
	if d.TrendFallback {
		return d.A0
	}
	return d.A0 + d.A1/mu
}

// fitTrend fits the parametric trend. When that fails the trend is constant
// at the mean gene-wise dispersion and fallback is true. DESeq2 switches to a
// local regression fit there instead; the two differ only on data where the
// parametric fit does not converge.
func fitTrend(means, disps []float64) (a0, a1 float64, fallback bool) {
	a0, a1, err := fitParametricTrend(means, disps)
	if err == nil {
		return a0, a1, false
	}
	a0 = mean(disps)
	logger.Warn("Parametric dispersion trend failed, using mean dispersion",
		zap.Error(err), zap.Float64("mean", a0))
	return a0, 0, true
}

// fitParametricTrend fits disp = a0 + a1/mean with a gamma-family identity-link
// GLM, refitting after dropping genes whose residual ratio is outside (1e-4, 15).
func fitParametricTrend(means, disps []float64) (float64, float64, error) {
	if len(means) < 3 {
		return 0, 0, errTrend
	}
	coefs := [2]float64{0.1, 1}
	for iter := 0; ; iter++ {
		var xs, ys []float64
		for i := range disps {
			r := disps[i] / (coefs[0] + coefs[1]/means[i])
			if r > 1e-4 && r < 15 {
				xs = append(xs, 1/means[i])
				ys = append(ys, disps[i])
			}
		}
		next, converged, err := gammaIdentityGLM(xs, ys, coefs)
		if err != nil {
			return 0, 0, err
		}
		if next[0] <= 0 || next[1] <= 0 {
			return 0, 0, errTrend
		}
		l0, l1 := math.Log(next[0]/coefs[0]), math.Log(next[1]/coefs[1])
		coefs = next
		if l0*l0+l1*l1 < 1e-6 && converged {
			return coefs[0], coefs[1], nil
		}
		if iter >= 10 {
			return 0, 0, errTrend
		}
	}
}

// gammaIdentityGLM fits y = c0 + c1*x by IRLS with gamma variance (weights 1/mu^2).
func gammaIdentityGLM(x, y []float64, start [2]float64) ([2]float64, bool, error) {
	if len(x) < 2 {
		return start, false, errTrend
	}
	c := start
	devOld := math.Inf(1)
	for it := 0; it < 25; it++ {
		a := mat.NewDense(2, 2, nil)
		b := mat.NewVecDense(2, nil)
		for i := range x {
			mu := c[0] + c[1]*x[i]
			if mu <= 0 {
				return c, false, errTrend
			}
			w := 1 / (mu * mu)
			a.Set(0, 0, a.At(0, 0)+w)
			a.Set(0, 1, a.At(0, 1)+w*x[i])
			a.Set(1, 1, a.At(1, 1)+w*x[i]*x[i])
			b.SetVec(0, b.AtVec(0)+w*y[i])
			b.SetVec(1, b.AtVec(1)+w*x[i]*y[i])
		}
		a.Set(1, 0, a.At(0, 1))
		var sol mat.VecDense
		if err := sol.SolveVec(a, b); err != nil {
			return c, false, errTrend
		}
		c = [2]float64{sol.AtVec(0), sol.AtVec(1)}
		var dev float64
		for i := range x {
			mu := c[0] + c[1]*x[i]
			if mu <= 0 {
				return c, false, errTrend
			}
			dev += 2 * (-math.Log(y[i]/mu) + (y[i]-mu)/mu)
		}
		if math.Abs(dev-devOld)/(math.Abs(dev)+0.1) < 1e-8 {
			return c, true, nil
		}
		devOld = dev
	}
	return c, false, nil
}

// trigamma is the second derivative of log Gamma, via recurrence up to x >= 6
// and the asymptotic series after that.
func trigamma(x float64) float64 {
	var r float64
	for x < 6 {
		r += 1 / (x * x)
		x++
	}
	t := 1 / x
	t2 := t * t
	return r + t + t2/2 + t*t2*(1.0/6-t2*(1.0/30-t2*(1.0/42-t2/30)))
}
