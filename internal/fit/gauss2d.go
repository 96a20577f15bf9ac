package fit

import "math"

// Options2D configures a 2D Gaussian fit.
type Options2D struct {
	// Rotation fits the ellipse tilt angle as a free parameter. When
	// false the axes stay aligned with the image axes.
	Rotation bool
	// Offset adds a constant baseline parameter to the model.
	Offset bool
	// Seed, when non-nil, provides the starting parameters
	// [amplitude, x0, y0, sigmaX, sigmaY] (plus theta when Rotation is
	// set). When nil, a moment-based estimate of the image is used.
	Seed []float64
	// MaxFuncEvals overrides the fit's function-call budget when positive.
	MaxFuncEvals int
}

// Result2D is the outcome of a 2D Gaussian fit. Theta is reported in
// [0, 2*pi) and is zero when rotation was not fitted.
type Result2D struct {
	Status Status

	Amplitude    float64
	AmplitudeErr float64
	CenterX      float64
	CenterXErr   float64
	CenterY      float64
	CenterYErr   float64
	SigmaX       float64
	SigmaXErr    float64
	SigmaY       float64
	SigmaYErr    float64
	Theta        float64
	ThetaErr     float64
	Offset       float64

	CovValid bool

	Iterations int
	FuncEvals  int
	Cost       float64
}

// momentSeed2D estimates [amplitude, x0, y0, sigmaX, sigmaY] from the
// image's intensity-weighted moments.
func momentSeed2D(data []float64, width, height int) []float64 {
	var sum, sx, sy, max float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := data[y*width+x]
			if v > max {
				max = v
			}
			if v < 0 {
				v = 0
			}
			sum += v
			sx += v * float64(x)
			sy += v * float64(y)
		}
	}
	if sum <= 0 {
		return nil
	}
	x0, y0 := sx/sum, sy/sum
	var sxx, syy float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := data[y*width+x]
			if v < 0 {
				v = 0
			}
			dx := float64(x) - x0
			dy := float64(y) - y0
			sxx += v * dx * dx
			syy += v * dy * dy
		}
	}
	sigX := math.Sqrt(sxx / sum)
	sigY := math.Sqrt(syy / sum)
	if sigX < 0.5 {
		sigX = 0.5
	}
	if sigY < 0.5 {
		sigY = 0.5
	}
	return []float64{max, x0, y0, sigX, sigY}
}

// Gauss2D fits a (possibly rotated) elliptical Gaussian to a row-major
// width*height image. The fitted sigmas are reported positive.
func Gauss2D(data []float64, width, height int, opts Options2D) Result2D {
	n := 5
	if opts.Rotation {
		n++
	}
	if opts.Offset {
		n++
	}
	if width < 2 || height < 2 || len(data) != width*height || len(data) <= n {
		return Result2D{Status: StatusInvalidInput}
	}

	seed := opts.Seed
	if seed == nil {
		seed = momentSeed2D(data, width, height)
	}
	if len(seed) < 5 || seed[3] == 0 || seed[4] == 0 {
		return Result2D{Status: StatusInvalidInput}
	}
	p0 := make([]float64, n)
	copy(p0, seed[:5])
	if opts.Rotation && len(seed) >= 6 {
		p0[5] = seed[5]
	}

	fn := func(p, out []float64) {
		ampl, x0, y0, sigX, sigY := p[0], p[1], p[2], p[3], p[4]
		var theta, off float64
		idx := 5
		if opts.Rotation {
			theta = p[idx]
			idx++
		}
		if opts.Offset {
			off = p[idx]
		}
		sin, cos := math.Sincos(theta)
		// Quadratic-form coefficients of the tilted ellipse.
		a := cos*cos/(2*sigX*sigX) + sin*sin/(2*sigY*sigY)
		b := sin * cos * (1/(2*sigY*sigY) - 1/(2*sigX*sigX))
		c := sin*sin/(2*sigX*sigX) + cos*cos/(2*sigY*sigY)
		for y := 0; y < height; y++ {
			dy := float64(y) - y0
			for x := 0; x < width; x++ {
				dx := float64(x) - x0
				out[y*width+x] = off + ampl*math.Exp(-(a*dx*dx+2*b*dx*dy+c*dy*dy)) - data[y*width+x]
			}
		}
	}

	settings := defaultLMSettings(n)
	if opts.MaxFuncEvals > 0 {
		settings.maxFuncEvals = opts.MaxFuncEvals
	}
	lm := levenbergMarquardt(fn, p0, len(data), settings)

	res := Result2D{
		Status:     lm.status,
		Iterations: lm.iterations,
		FuncEvals:  lm.funcEvals,
		Cost:       lm.cost,
	}
	if !lm.status.SolutionFound() {
		return res
	}
	res.Amplitude = lm.params[0]
	res.CenterX = lm.params[1]
	res.CenterY = lm.params[2]
	res.SigmaX = math.Abs(lm.params[3])
	res.SigmaY = math.Abs(lm.params[4])
	idx := 5
	if opts.Rotation {
		res.Theta = math.Mod(lm.params[idx], 2*math.Pi)
		if res.Theta < 0 {
			res.Theta += 2 * math.Pi
		}
		idx++
	}
	if opts.Offset {
		res.Offset = lm.params[idx]
	}
	res.CovValid = lm.cov != nil
	res.AmplitudeErr = lm.stdErr(0)
	res.CenterXErr = lm.stdErr(1)
	res.CenterYErr = lm.stdErr(2)
	res.SigmaXErr = lm.stdErr(3)
	res.SigmaYErr = lm.stdErr(4)
	if opts.Rotation {
		res.ThetaErr = lm.stdErr(5)
	}
	return res
}
