package fit

import (
	"errors"
	"math"
)

// GaussFWHMFactor converts a Gaussian standard deviation to the statistical
// full width at half maximum: fwhm = GaussFWHMFactor * sigma. Note the
// pipeline's published beam widths use the 4-sigma convention instead; this
// factor is only used to turn a measured FWHM into a sigma seed.
const GaussFWHMFactor = 2.3548200450309493 // 2*sqrt(2*ln 2)

// ErrNoPeak is returned when a profile has no distinguishable maximum.
var ErrNoPeak = errors.New("profile has no distinguishable peak")

// Peak is a cheap, fit-free description of the dominant peak in a profile:
// its height above baseline, the index of its maximum, and the full width at
// half maximum from linear interpolation of the half-height crossings.
type Peak struct {
	Amplitude float64
	Position  float64
	FWHM      float64
}

// PeakParameters evaluates the raw peak of a profile without fitting. It is
// the "raw peak" seeding strategy of the Gaussian fits and is also usable on
// its own for coarse beam-shape estimates.
func PeakParameters(data []float64) (Peak, error) {
	if len(data) < 3 {
		return Peak{}, ErrNoPeak
	}
	min, max := data[0], data[0]
	argmax := 0
	for i, v := range data {
		if v > max {
			max = v
			argmax = i
		}
		if v < min {
			min = v
		}
	}
	if max == min {
		return Peak{}, ErrNoPeak
	}
	half := min + (max-min)/2

	// Walk outward from the maximum to the half-height crossings,
	// interpolating between samples. Missing crossings fall back to the
	// profile edge.
	left := 0.0
	for i := argmax; i >= 0; i-- {
		if data[i] < half {
			// Crossing between i and i+1.
			left = float64(i) + (half-data[i])/(data[i+1]-data[i])
			break
		}
	}
	right := float64(len(data) - 1)
	for i := argmax; i < len(data); i++ {
		if data[i] < half {
			right = float64(i) - (half-data[i])/(data[i-1]-data[i])
			break
		}
	}
	fwhm := right - left
	if fwhm <= 0 || math.IsNaN(fwhm) {
		return Peak{}, ErrNoPeak
	}
	return Peak{Amplitude: max - min, Position: float64(argmax), FWHM: fwhm}, nil
}

// SeedFromPeak converts a raw peak description into Gaussian fit seed
// parameters [amplitude, centre, sigma].
func SeedFromPeak(p Peak) []float64 {
	return []float64{p.Amplitude, p.Position, p.FWHM / GaussFWHMFactor}
}

// ErrZeroPoint is returned by TwoPeaks for a dividing point outside the
// profile.
var ErrZeroPoint = errors.New("zero point outside profile")

// TwoPeaks evaluates the dominant peak on each side of a dividing point:
// the left peak over profile[:zero+1] searched outward from zero, the right
// peak over profile[zero:]. Positions are reported in profile coordinates.
func TwoPeaks(profile []float64, zero int) (left, right Peak, err error) {
	if zero < 0 || zero >= len(profile) {
		return Peak{}, Peak{}, ErrZeroPoint
	}
	rev := make([]float64, zero+1)
	for i := range rev {
		rev[i] = profile[zero-i]
	}
	left, err = PeakParameters(rev)
	if err != nil {
		return Peak{}, Peak{}, err
	}
	right, err = PeakParameters(profile[zero:])
	if err != nil {
		return Peak{}, Peak{}, err
	}
	left.Position = float64(zero) - left.Position
	right.Position += float64(zero)
	return left, right, nil
}
