package deseq

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// minMu floors fitted means so weights and working responses stay finite.
	minMu = 0.5
	// largeBeta aborts IRLS when a natural-log coefficient runs away.
	largeBeta = 30.0
	// ridge on natural-log coefficients, 1e-6 on the log2 scale.
	ridgeLambda = 1e-6 / (math.Ln2 * math.Ln2)
	devTol      = 1e-8
)

// NBFit is the negative binomial GLM fit of one gene.
type NBFit struct {
	// Beta and SE are on the natural log scale.
	Beta      []float64
	SE        []float64
	Mu        []float64
	Hat       []float64
	Deviance  float64
	Iter      int
	Converged bool
}

// nbLogProb is the log probability of count y under NB(mean mu, dispersion alpha).
func nbLogProb(y, mu, alpha float64) float64 {
	r := 1 / alpha
	a, _ := math.Lgamma(y + r)
	b, _ := math.Lgamma(r)
	c, _ := math.Lgamma(y + 1)
	ll := a - b - c + r*math.Log(r/(r+mu))
	if y > 0 {
		ll += y * math.Log(mu/(r+mu))
	}
	return ll
}

// nbLogLik sums nbLogProb over samples.
func nbLogLik(y, mu []float64, alpha float64) float64 {
	var ll float64
	for j := range y {
		ll += nbLogProb(y[j], mu[j], alpha)
	}
	return ll
}

// weightedGram returns X' diag(w) X.
func weightedGram(x *mat.Dense, w []float64) *mat.Dense {
	m, p := x.Dims()
	g := mat.NewDense(p, p, nil)
	for a := 0; a < p; a++ {
		for b := a; b < p; b++ {
			var s float64
			for j := 0; j < m; j++ {
				s += x.At(j, a) * w[j] * x.At(j, b)
			}
			g.Set(a, b, s)
			g.Set(b, a, s)
		}
	}
	return g
}

func fittedMu(x *mat.Dense, beta, sf []float64) []float64 {
	m, p := x.Dims()
	mu := make([]float64, m)
	for j := 0; j < m; j++ {
		var eta float64
		for k := 0; k < p; k++ {
			eta += x.At(j, k) * beta[k]
		}
		mu[j] = math.Max(sf[j]*math.Exp(eta), minMu)
	}
	return mu
}

// initialBeta is the least-squares fit of log(normalized count + 0.1) on the design.
func initialBeta(y, sf []float64, x *mat.Dense) []float64 {
	m, p := x.Dims()
	z := mat.NewVecDense(m, nil)
	for j := 0; j < m; j++ {
		z.SetVec(j, math.Log(y[j]/sf[j]+0.1))
	}
	var b mat.VecDense
	if err := b.SolveVec(x, z); err != nil {
		return make([]float64, p)
	}
	out := make([]float64, p)
	for k := range out {
		out[k] = b.AtVec(k)
	}
	return out
}

// FitNB fits log(mu_j) = log(sf_j) + x_j'beta for one gene by iteratively
// reweighted least squares with a small ridge penalty. A gene whose
// coefficients diverge or that hits maxIter is returned with Converged false.
func FitNB(y, sf []float64, x *mat.Dense, alpha float64, maxIter int) NBFit {
	m, p := x.Dims()
	beta := initialBeta(y, sf, x)
	mu := fittedMu(x, beta, sf)
	fit := NBFit{Beta: beta, Mu: mu}

	ridge := mat.NewDense(p, p, nil)
	for k := 0; k < p; k++ {
		ridge.Set(k, k, ridgeLambda)
	}

	w := make([]float64, m)
	devOld := 0.0
	for t := 0; t < maxIter; t++ {
		fit.Iter = t + 1
		z := mat.NewVecDense(m, nil)
		for j := 0; j < m; j++ {
			w[j] = mu[j] / (1 + alpha*mu[j])
			z.SetVec(j, math.Log(mu[j]/sf[j])+(y[j]-mu[j])/mu[j])
		}
		var lhs mat.Dense
		lhs.Add(weightedGram(x, w), ridge)
		rhs := mat.NewVecDense(p, nil)
		for k := 0; k < p; k++ {
			var s float64
			for j := 0; j < m; j++ {
				s += x.At(j, k) * w[j] * z.AtVec(j)
			}
			rhs.SetVec(k, s)
		}
		var next mat.VecDense
		if err := next.SolveVec(&lhs, rhs); err != nil {
			return fit
		}
		for k := 0; k < p; k++ {
			beta[k] = next.AtVec(k)
			if math.Abs(beta[k]) > largeBeta || math.IsNaN(beta[k]) {
				return fit
			}
		}
		mu = fittedMu(x, beta, sf)
		dev := -2 * nbLogLik(y, mu, alpha)
		conv := math.Abs(dev-devOld) / (math.Abs(dev) + 0.1)
		if math.IsNaN(conv) {
			return fit
		}
		fit.Deviance = dev
		if t > 0 && conv < devTol {
			fit.Converged = true
			break
		}
		devOld = dev
	}
	fit.Beta = beta
	fit.Mu = mu
	if !fit.Converged {
		return fit
	}

	// Sandwich covariance (X'WX + R)^-1 X'WX (X'WX + R)^-1 and hat diagonals.
	for j := 0; j < m; j++ {
		w[j] = mu[j] / (1 + alpha*mu[j])
	}
	gram := weightedGram(x, w)
	var pen mat.Dense
	pen.Add(gram, ridge)
	var inv mat.Dense
	if err := inv.Inverse(&pen); err != nil {
		fit.Converged = false
		return fit
	}
	var sigma mat.Dense
	sigma.Product(&inv, gram, &inv)
	fit.SE = make([]float64, p)
	for k := 0; k < p; k++ {
		fit.SE[k] = math.Sqrt(math.Max(sigma.At(k, k), 0))
	}
	fit.Hat = make([]float64, m)
	for j := 0; j < m; j++ {
		var h float64
		for a := 0; a < p; a++ {
			for b := 0; b < p; b++ {
				h += x.At(j, a) * inv.At(a, b) * x.At(j, b)
			}
		}
		fit.Hat[j] = w[j] * h
	}
	return fit
}
