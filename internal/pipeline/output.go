package pipeline

import (
	"time"

	"github.com/European-XFEL/imageProcessor/internal/fit"
	"github.com/European-XFEL/imageProcessor/internal/imgproc"
)

// Output is the record produced for one processed frame. Stage fields are
// nil when the stage was disabled or failed for this frame; Errors lists
// what went wrong. An Output is never mutated after Process returns it.
type Output struct {
	Time   time.Time `json:"time"`
	Width  int       `json:"width"`
	Height int       `json:"height"`

	Stats *imgproc.Stats `json:"stats,omitempty"`

	// Pedestal is the uniform bias removed after background correction,
	// nil when pedestal subtraction did not run.
	Pedestal *float64 `json:"pedestal,omitempty"`

	Histogram     []int   `json:"histogram,omitempty"`
	HistogramLow  float64 `json:"histogram_low,omitempty"`
	HistogramHigh float64 `json:"histogram_high,omitempty"`

	XProfile []float64 `json:"x_profile,omitempty"`
	YProfile []float64 `json:"y_profile,omitempty"`

	Centroid *imgproc.Centroid `json:"centroid,omitempty"`

	// FitX and FitY are the 1D fits of the two projections; positions are
	// reported in frame coordinates even when the fit ran on a sub-range.
	FitX  *fit.Result1D `json:"fit_x,omitempty"`
	FitY  *fit.Result1D `json:"fit_y,omitempty"`
	Fit2D *fit.Result2D `json:"fit_2d,omitempty"`

	// Ax1D and Ay1D are the cross-normalised 1D amplitudes
	// (projection amplitude divided by the other axis' integrated
	// Gaussian), populated only when both 1D fits found a solution.
	Ax1D float64 `json:"ax_1d,omitempty"`
	Ay1D float64 `json:"ay_1d,omitempty"`

	// BeamWidth and BeamHeight are four fitted standard deviations per
	// axis, scaled to micrometres when a pixel size is configured and
	// reported in pixels otherwise. Zero when no width estimate ran.
	BeamWidth  float64 `json:"beam_width,omitempty"`
	BeamHeight float64 `json:"beam_height,omitempty"`

	Region *imgproc.RegionResult `json:"region,omitempty"`

	TwoPeak *TwoPeakResult `json:"two_peak,omitempty"`

	Errors []string `json:"errors,omitempty"`

	Timings map[string]time.Duration `json:"timings"`
}

// TwoPeakResult describes the dominant peak found on each side of the
// configured zero point over the x-projection. Peak 1 is the left peak.
// Values and widths come from the raw peak evaluation, not from a fit.
type TwoPeakResult struct {
	Peak1Value    float64 `json:"peak1_value"`
	Peak1Position float64 `json:"peak1_position"`
	Peak1FWHM     float64 `json:"peak1_fwhm"`
	Peak2Value    float64 `json:"peak2_value"`
	Peak2Position float64 `json:"peak2_position"`
	Peak2FWHM     float64 `json:"peak2_fwhm"`
}

// HadError reports whether any stage failed on this frame.
func (o *Output) HadError() bool { return len(o.Errors) > 0 }
