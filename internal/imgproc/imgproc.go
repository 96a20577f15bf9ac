// Package imgproc provides the per-frame reductions of the analysis
// pipeline: min/max/mean, pixel-value histograms, axis projections,
// thresholding, centre-of-mass, pedestal removal, and region integration.
// All functions are pure single-pass operations over the pixel buffer.
package imgproc

import (
	"errors"
	"fmt"
	"math"

	"github.com/European-XFEL/imageProcessor/internal/frame"
)

// ErrEmptyFrame is returned for reductions over zero pixels.
var ErrEmptyFrame = errors.New("empty frame")

// ErrZeroMass is returned by CentreOfMass when no pixel survives the
// threshold, leaving the centroid undefined.
var ErrZeroMass = errors.New("no pixel above threshold: centroid undefined")

// Stats holds the basic pixel reductions of one frame.
type Stats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// MinMaxMean computes the pixel extrema and mean in a single pass.
func MinMaxMean(f *frame.Frame) (Stats, error) {
	if f == nil || len(f.Pix) == 0 {
		return Stats{}, ErrEmptyFrame
	}
	s := Stats{Min: f.Pix[0], Max: f.Pix[0]}
	sum := 0.0
	for _, v := range f.Pix {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
	}
	s.Mean = sum / float64(len(f.Pix))
	return s, nil
}

// Threshold is the pixel gating policy used by the centroid and fit
// pre-selection. A positive Absolute value takes precedence; otherwise
// Relative is interpreted as a fraction of the frame maximum.
type Threshold struct {
	Absolute float64 `json:"absolute"`
	Relative float64 `json:"relative"`
}

// Cut resolves the policy to a concrete pixel value for a frame whose
// maximum is max. The absolute threshold is capped at max so a misconfigured
// value cannot blank the whole frame.
func (t Threshold) Cut(max float64) float64 {
	if t.Absolute > 0 {
		return math.Min(t.Absolute, max)
	}
	return t.Relative * max
}

// ApplyThreshold zeroes, in place, every pixel strictly below cut.
func ApplyThreshold(pix []float64, cut float64) {
	for i, v := range pix {
		if v < cut {
			pix[i] = 0
		}
	}
}

// SubtractPedestal removes the frame's own minimum from every pixel,
// zeroing the uniform bias. Frames whose minimum is not positive are left
// untouched. Returns the pedestal that was removed.
func SubtractPedestal(pix []float64) float64 {
	if len(pix) == 0 {
		return 0
	}
	min := pix[0]
	for _, v := range pix {
		if v < min {
			min = v
		}
	}
	if min <= 0 {
		return 0
	}
	for i := range pix {
		pix[i] -= min
	}
	return min
}

// Histogram counts pixel values into bins equal-width bins spanning
// [lo, hi]. A value exactly on an interior bin edge falls into the
// lower-numbered bin; values outside the range are clamped into the first or
// last bin. The counts always sum to len(values).
func Histogram(values []float64, bins int, lo, hi float64) ([]int, error) {
	if bins <= 0 {
		return nil, fmt.Errorf("histogram needs a positive bin count, got %d", bins)
	}
	if !(hi > lo) {
		return nil, fmt.Errorf("histogram range [%g,%g] is empty", lo, hi)
	}
	counts := make([]int, bins)
	width := (hi - lo) / float64(bins)
	for _, v := range values {
		f := (v - lo) / width
		idx := int(f)
		// Boundary ties belong to the lower bin.
		if f == math.Trunc(f) && idx > 0 {
			idx--
		}
		if idx < 0 {
			idx = 0
		} else if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	return counts, nil
}

// SumAlongY integrates the frame over rows, producing the x-profile
// (length = region width).
func SumAlongY(f *frame.Frame, r frame.Rect) []float64 {
	r = r.Resolve(f.Width, f.Height)
	out := make([]float64, r.Dx())
	for y := r.LowY; y < r.HighY; y++ {
		row := f.Row(y)
		for i := range out {
			out[i] += row[r.LowX+i]
		}
	}
	return out
}

// SumAlongX integrates the frame over columns, producing the y-profile
// (length = region height).
func SumAlongX(f *frame.Frame, r frame.Rect) []float64 {
	r = r.Resolve(f.Width, f.Height)
	out := make([]float64, r.Dy())
	for y := r.LowY; y < r.HighY; y++ {
		row := f.Row(y)
		sum := 0.0
		for x := r.LowX; x < r.HighX; x++ {
			sum += row[x]
		}
		out[y-r.LowY] = sum
	}
	return out
}

// Centroid is the intensity-weighted centre-of-mass of a frame region with
// the second moments about it.
type Centroid struct {
	X0     float64 `json:"x0"`
	Y0     float64 `json:"y0"`
	SigmaX float64 `json:"sx"`
	SigmaY float64 `json:"sy"`
}

// CentreOfMass computes the centroid of f restricted to region r, using only
// pixels at or above cut. Coordinates are frame-local; the caller applies
// the region and sensor offsets. Returns ErrZeroMass when the weighted sum
// of intensities vanishes.
func CentreOfMass(f *frame.Frame, r frame.Rect, cut float64) (Centroid, error) {
	r = r.Resolve(f.Width, f.Height)
	var m, mx, my float64
	for y := r.LowY; y < r.HighY; y++ {
		row := f.Row(y)
		for x := r.LowX; x < r.HighX; x++ {
			v := row[x]
			if v < cut {
				continue
			}
			m += v
			mx += v * float64(x)
			my += v * float64(y)
		}
	}
	if m == 0 {
		return Centroid{}, ErrZeroMass
	}
	c := Centroid{X0: mx / m, Y0: my / m}

	var vx, vy float64
	for y := r.LowY; y < r.HighY; y++ {
		row := f.Row(y)
		for x := r.LowX; x < r.HighX; x++ {
			v := row[x]
			if v < cut {
				continue
			}
			dx := float64(x) - c.X0
			dy := float64(y) - c.Y0
			vx += v * dx * dx
			vy += v * dy * dy
		}
	}
	c.SigmaX = math.Sqrt(vx / m)
	c.SigmaY = math.Sqrt(vy / m)
	return c, nil
}

// RegionResult is the integral and mean over a rectangular sub-region.
type RegionResult struct {
	Integral float64 `json:"integral"`
	Mean     float64 `json:"mean"`
}

// IntegrateRegion sums pixel values strictly within r. The region must lie
// inside the frame; violations are configuration errors, reported to the
// caller and never fatal.
func IntegrateRegion(f *frame.Frame, r frame.Rect) (RegionResult, error) {
	if err := r.Validate(); err != nil {
		return RegionResult{}, err
	}
	if !r.Inside(f.Width, f.Height) {
		return RegionResult{}, fmt.Errorf("integration region %+v outside %dx%d frame", r, f.Width, f.Height)
	}
	r = r.Resolve(f.Width, f.Height)
	if r.Area() == 0 {
		return RegionResult{}, nil
	}
	sum := 0.0
	for y := r.LowY; y < r.HighY; y++ {
		row := f.Row(y)
		for x := r.LowX; x < r.HighX; x++ {
			sum += row[x]
		}
	}
	return RegionResult{Integral: sum, Mean: sum / float64(r.Area())}, nil
}
