package fit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// residualFunc writes the m residuals (model minus data) for parameter
// vector p into out.
type residualFunc func(p, out []float64)

type lmSettings struct {
	// ftol and xtol are the relative cost-reduction and step-size
	// tolerances; meeting either terminates with StatusConverged.
	ftol float64
	xtol float64
	// gtol terminates on a vanishing gradient.
	gtol float64
	// maxFuncEvals bounds residual evaluations (Jacobian columns included);
	// maxIterations bounds accepted outer iterations. These are the fit's
	// only timeouts: there are no wall-clock deadlines.
	maxFuncEvals  int
	maxIterations int
	// stallJacobianLimit is the number of consecutive Jacobian rebuilds
	// without a downhill step before giving up; stallIterLimit is the
	// number of consecutive crawling iterations tolerated.
	stallJacobianLimit int
	stallIterLimit     int
}

func defaultLMSettings(n int) lmSettings {
	return lmSettings{
		ftol:               1e-10,
		xtol:               1e-10,
		gtol:               1e-14,
		maxFuncEvals:       200 * (n + 1),
		maxIterations:      200,
		stallJacobianLimit: 4,
		stallIterLimit:     10,
	}
}

type lmResult struct {
	params []float64
	// cov is the covariance estimate of the parameters, nil when the
	// normal matrix is singular at the solution.
	cov        *mat.SymDense
	status     Status
	cost       float64 // sum of squared residuals
	iterations int
	funcEvals  int
	jacEvals   int
}

// stdErr returns the standard error of parameter i, or NaN when the
// covariance is unavailable. Undefined uncertainties are never reported as
// zero.
func (r *lmResult) stdErr(i int) float64 {
	if r.cov == nil {
		return math.NaN()
	}
	v := r.cov.At(i, i)
	if v < 0 || math.IsNaN(v) {
		return math.NaN()
	}
	return math.Sqrt(v)
}

func sumSquares(r []float64) float64 {
	s := 0.0
	for _, v := range r {
		s += v * v
	}
	return s
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// levenbergMarquardt minimises the sum of squared residuals of fn starting
// from p0. m is the residual count. The damping parameter is scaled by the
// diagonal of the normal matrix (Marquardt scaling), steps are accepted only
// when they reduce the cost, and termination is classified into the shared
// Status taxonomy.
func levenbergMarquardt(fn residualFunc, p0 []float64, m int, s lmSettings) lmResult {
	n := len(p0)
	res := lmResult{params: append([]float64(nil), p0...), status: StatusUnknown}
	if n == 0 || m < n || !allFinite(p0) {
		res.status = StatusInvalidInput
		return res
	}

	p := append([]float64(nil), p0...)
	r := make([]float64, m)
	fn(p, r)
	res.funcEvals++
	if !allFinite(r) {
		res.status = StatusInvalidInput
		return res
	}
	cost := sumSquares(r)

	const (
		lambdaInit  = 1e-3
		lambdaUp    = 10.0
		lambdaDown  = 0.3
		lambdaMax   = 1e14
		diagFloor   = 1e-12
		slowRelRed  = 1e-6 // accepted steps below this count as crawling
		machineStep = 1e-14
	)
	lambda := lambdaInit

	jac := mat.NewDense(m, n, nil)
	rTry := make([]float64, m)
	pTry := make([]float64, n)
	pPert := make([]float64, n)
	jtj := mat.NewSymDense(n, nil)
	aug := mat.NewSymDense(n, nil)
	grad := make([]float64, n)
	delta := mat.NewVecDense(n, nil)

	stallJ, stallI := 0, 0
	finish := func(st Status) lmResult {
		res.status = st
		res.params = append(res.params[:0], p...)
		res.cost = cost
		res.cov = lmCovariance(fn, p, r, rTry, pPert, jac, jtj, cost, m, &res)
		return res
	}

	for iter := 1; ; iter++ {
		res.iterations = iter

		// Forward-difference Jacobian.
		const eps = 1.49e-8 // sqrt of machine epsilon
		copy(pPert, p)
		for j := 0; j < n; j++ {
			h := eps * math.Max(math.Abs(p[j]), 1)
			pPert[j] = p[j] + h
			fn(pPert, rTry)
			res.funcEvals++
			pPert[j] = p[j]
			for i := 0; i < m; i++ {
				jac.Set(i, j, (rTry[i]-r[i])/h)
			}
		}
		res.jacEvals++

		// Normal matrix and gradient.
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				sum := 0.0
				for k := 0; k < m; k++ {
					sum += jac.At(k, i) * jac.At(k, j)
				}
				jtj.SetSym(i, j, sum)
			}
			g := 0.0
			for k := 0; k < m; k++ {
				g += jac.At(k, i) * r[k]
			}
			grad[i] = g
		}

		gradInf := 0.0
		for _, g := range grad {
			gradInf = math.Max(gradInf, math.Abs(g))
		}
		if gradInf <= s.gtol*(1+cost) {
			return finish(StatusConverged)
		}

		// Inner damping loop: raise lambda until a downhill step appears.
		accepted := false
		var relRed, stepRel float64
		for lambda <= lambdaMax {
			for i := 0; i < n; i++ {
				for j := i; j < n; j++ {
					v := jtj.At(i, j)
					if i == j {
						d := v
						if d < diagFloor {
							d = diagFloor
						}
						v += lambda * d
					}
					aug.SetSym(i, j, v)
				}
			}
			var chol mat.Cholesky
			if !chol.Factorize(aug) {
				lambda *= lambdaUp
				continue
			}
			negGrad := mat.NewVecDense(n, nil)
			for i := 0; i < n; i++ {
				negGrad.SetVec(i, -grad[i])
			}
			if err := chol.SolveVecTo(delta, negGrad); err != nil {
				lambda *= lambdaUp
				continue
			}

			var stepNorm, pNorm float64
			for i := 0; i < n; i++ {
				pTry[i] = p[i] + delta.AtVec(i)
				stepNorm += delta.AtVec(i) * delta.AtVec(i)
				pNorm += p[i] * p[i]
			}
			stepRel = math.Sqrt(stepNorm) / math.Max(math.Sqrt(pNorm), 1e-30)

			fn(pTry, rTry)
			res.funcEvals++
			tryCost := sumSquares(rTry)

			if res.funcEvals >= s.maxFuncEvals {
				if allFinite(rTry) && tryCost < cost {
					copy(p, pTry)
					copy(r, rTry)
					cost = tryCost
				}
				return finish(StatusBudgetExhausted)
			}

			if allFinite(rTry) && tryCost < cost {
				relRed = (cost - tryCost) / cost
				copy(p, pTry)
				copy(r, rTry)
				cost = tryCost
				lambda = math.Max(lambda*lambdaDown, 1e-14)
				accepted = true
				break
			}
			lambda *= lambdaUp
		}

		if accepted {
			stallJ = 0
			if cost == 0 || relRed <= s.ftol || stepRel <= s.xtol {
				return finish(StatusConverged)
			}
			if relRed < slowRelRed {
				stallI++
				if stallI >= s.stallIterLimit {
					return finish(StatusStalledIteration)
				}
			} else {
				stallI = 0
			}
		} else {
			// Damping exhausted: either the tolerance is finer than the
			// working precision allows, or this Jacobian is a dead end.
			if stepRel > 0 && stepRel <= machineStep {
				return finish(StatusTolTooTight)
			}
			stallJ++
			if stallJ >= s.stallJacobianLimit {
				return finish(StatusStalledJacobian)
			}
			lambda = lambdaInit
		}

		if iter >= s.maxIterations {
			return finish(StatusBudgetExhausted)
		}
	}
}

// lmCovariance estimates the parameter covariance at the solution:
// inv(JtJ) scaled by the residual variance. Returns nil when the normal
// matrix is singular or the problem has no degrees of freedom, in which
// case uncertainties are reported as undefined.
func lmCovariance(fn residualFunc, p, r, rTry, pPert []float64, jac *mat.Dense, jtj *mat.SymDense, cost float64, m int, res *lmResult) *mat.SymDense {
	n := len(p)
	if m <= n {
		return nil
	}

	// Rebuild the Jacobian at the final parameters.
	const eps = 1.49e-8
	copy(pPert, p)
	for j := 0; j < n; j++ {
		h := eps * math.Max(math.Abs(p[j]), 1)
		pPert[j] = p[j] + h
		fn(pPert, rTry)
		res.funcEvals++
		pPert[j] = p[j]
		for i := 0; i < m; i++ {
			jac.Set(i, j, (rTry[i]-r[i])/h)
		}
	}
	res.jacEvals++

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sum := 0.0
			for k := 0; k < m; k++ {
				sum += jac.At(k, i) * jac.At(k, j)
			}
			jtj.SetSym(i, j, sum)
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(jtj) {
		return nil
	}
	inv := mat.NewSymDense(n, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil
	}
	sigma2 := cost / float64(m-n)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			inv.SetSym(i, j, inv.At(i, j)*sigma2)
		}
	}
	return inv
}
