package fit

import "math"

// Options1D configures a 1D peak fit.
type Options1D struct {
	// Ramp adds a first-order polynomial baseline (slope*x + offset) to the
	// model and fits its two extra parameters.
	Ramp bool
	// Seed, when non-nil, provides the starting parameters
	// [amplitude, centre, sigma]. When nil, a moment-based estimate of the
	// data is used.
	Seed []float64
	// MaxFuncEvals overrides the fit's function-call budget when positive.
	MaxFuncEvals int
}

// Result1D is the outcome of a 1D peak fit. Parameter values are only
// meaningful when Status reports a found solution; uncertainties are NaN
// when the covariance estimate is singular.
type Result1D struct {
	Status Status

	Amplitude    float64
	AmplitudeErr float64
	Center       float64
	CenterErr    float64
	Sigma        float64
	SigmaErr     float64

	// Slope and Offset are the baseline ramp coefficients, zero unless
	// Options1D.Ramp was set.
	Slope  float64
	Offset float64

	// CovValid reports whether the covariance (and hence the *Err fields)
	// is defined.
	CovValid bool

	Iterations int
	FuncEvals  int
	Cost       float64

	model func(x, a, x0, sigma float64) float64
}

func gauss1dModel(x, a, x0, sigma float64) float64 {
	d := (x - x0) / sigma
	return a * math.Exp(-0.5*d*d)
}

// Curve1D evaluates the fitted model over n samples, for plotting the fit
// next to its profile.
func (r Result1D) Curve1D(n int) []float64 {
	model := r.model
	if model == nil {
		model = gauss1dModel
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = model(float64(i), r.Amplitude, r.Center, r.Sigma) +
			r.Slope*float64(i) + r.Offset
	}
	return out
}

// momentSeed estimates [amplitude, centre, sigma] from the profile's
// intensity-weighted moments.
func momentSeed(data []float64) []float64 {
	var sum, sx, max float64
	for i, v := range data {
		if v < 0 {
			v = 0
		}
		sum += v
		sx += v * float64(i)
		if data[i] > max {
			max = data[i]
		}
	}
	if sum <= 0 {
		return nil
	}
	mean := sx / sum
	var sxx float64
	for i, v := range data {
		if v < 0 {
			v = 0
		}
		d := float64(i) - mean
		sxx += v * d * d
	}
	sigma := math.Sqrt(sxx / sum)
	if sigma < 0.5 {
		sigma = 0.5
	}
	return []float64{max, mean, sigma}
}

// Gauss1D fits A*exp(-(x-x0)^2/(2 sigma^2)) [+ slope*x + offset] to the
// profile, with x the sample index. The fitted sigma is reported positive.
func Gauss1D(data []float64, opts Options1D) Result1D {
	return fit1D(data, opts, gauss1dModel)
}

func fit1D(data []float64, opts Options1D, model func(x, a, x0, sigma float64) float64) Result1D {
	n := 3
	if opts.Ramp {
		n = 5
	}
	if len(data) <= n {
		return Result1D{Status: StatusInvalidInput}
	}

	seed := opts.Seed
	if seed == nil {
		seed = momentSeed(data)
	}
	if len(seed) < 3 || seed[2] == 0 {
		return Result1D{Status: StatusInvalidInput}
	}
	p0 := make([]float64, n)
	copy(p0, seed[:3])
	// Ramp coefficients start flat.

	fn := func(p, out []float64) {
		a, x0, sigma := p[0], p[1], p[2]
		var slope, off float64
		if opts.Ramp {
			slope, off = p[3], p[4]
		}
		for i := range data {
			x := float64(i)
			out[i] = model(x, a, x0, sigma) + slope*x + off - data[i]
		}
	}

	settings := defaultLMSettings(n)
	if opts.MaxFuncEvals > 0 {
		settings.maxFuncEvals = opts.MaxFuncEvals
	}
	lm := levenbergMarquardt(fn, p0, len(data), settings)

	res := Result1D{
		Status:     lm.status,
		Iterations: lm.iterations,
		FuncEvals:  lm.funcEvals,
		Cost:       lm.cost,
		model:      model,
	}
	if !lm.status.SolutionFound() {
		return res
	}
	res.Amplitude = lm.params[0]
	res.Center = lm.params[1]
	res.Sigma = math.Abs(lm.params[2])
	if opts.Ramp {
		res.Slope = lm.params[3]
		res.Offset = lm.params[4]
	}
	res.CovValid = lm.cov != nil
	res.AmplitudeErr = lm.stdErr(0)
	res.CenterErr = lm.stdErr(1)
	res.SigmaErr = lm.stdErr(2)
	return res
}
