package fit

import "math"

// Sech2FWHMFactor converts the sech^2 scale parameter to full width at
// half maximum: FWHM = 2*arccosh(sqrt(2))*scale.
const Sech2FWHMFactor = 1.7627471740390861

func sech2Model(x, a, x0, scale float64) float64 {
	s := 1 / math.Cosh((x-x0)/scale)
	return a * s * s
}

// Sech2 fits A*sech((x-x0)/s)^2 [+ slope*x + offset] to the profile, with
// x the sample index. Pulsed-laser autocorrelation traces follow this
// shape rather than a Gaussian.
func Sech2(data []float64, opts Options1D) Result1D {
	return fit1D(data, opts, sech2Model)
}
