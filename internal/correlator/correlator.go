// Package correlator implements the optical autocorrelator variant of the
// analysis pipeline: the second-harmonic beam image is collapsed to an
// x-profile after cutting away the y side-bands, the profile is fitted
// with the configured beam shape, and the fitted width is converted to a
// pulse duration through a two-image delay calibration.
package correlator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/European-XFEL/imageProcessor/internal/fit"
	"github.com/European-XFEL/imageProcessor/internal/frame"
	"github.com/European-XFEL/imageProcessor/internal/imgproc"
)

// BeamShape selects the temporal beam model fitted to the profile.
type BeamShape string

const (
	BeamShapeGaussian BeamShape = "gaussian"
	BeamShapeSech2    BeamShape = "sech2"
)

// DeconvolutionFactor returns the shape factor relating the measured
// autocorrelation width to the pulse width.
func (s BeamShape) DeconvolutionFactor() (float64, error) {
	switch s {
	case BeamShapeGaussian:
		return 1 / math.Sqrt2, nil
	case BeamShapeSech2:
		return 1 / 1.543, nil
	default:
		return 0, fmt.Errorf("unknown beam shape %q", s)
	}
}

// DelayUnit is the unit of the stage delay between calibration images.
type DelayUnit string

const (
	DelayFemtoseconds DelayUnit = "fs"
	DelayMicrometres  DelayUnit = "um"
)

const speedOfLight = 299792458.0 // m/s

// DelayToFs converts a stage delay to femtoseconds. A micrometre delay is
// a path-length difference, converted via the speed of light.
func DelayToFs(delay float64, unit DelayUnit) (float64, error) {
	switch unit {
	case DelayFemtoseconds:
		return delay, nil
	case DelayMicrometres:
		return 1e9 * delay / speedOfLight, nil
	default:
		return 0, fmt.Errorf("unknown delay unit %q", unit)
	}
}

// ErrNoMeasurement is returned by the calibration commands when no frame
// has been processed yet.
var ErrNoMeasurement = errors.New("no measurement available")

// ErrSamePeak is returned by Calibrate when both calibration images have
// the same peak position, leaving the fs-per-pixel scale undefined.
var ErrSamePeak = errors.New("same peak position for the two calibration images")

// Measurement is the fitted profile of one frame.
type Measurement struct {
	Status fit.Status `json:"status"`

	// Peak and Sigma are the fitted centre and width, in pixels.
	Peak     float64 `json:"peak"`
	Sigma    float64 `json:"sigma"`
	SigmaErr float64 `json:"sigma_err"`

	Profile  []float64 `json:"profile"`
	FitCurve []float64 `json:"fit_curve"`
}

// Result extends a Measurement with the calibrated pulse duration, in
// femtoseconds. Zero until a calibration factor is set.
type Result struct {
	Measurement
	PulseWidth    float64 `json:"pulse_width"`
	PulseWidthErr float64 `json:"pulse_width_err"`
}

// Analyzer holds the calibration state of one autocorrelator stream.
type Analyzer struct {
	mu sync.Mutex

	shape BeamShape
	// calibration is the fs-per-pixel constant.
	calibration float64

	// sideBandCut is the fraction of the y-profile maximum below which
	// rows are cut away before projecting.
	sideBandCut float64

	last         *Measurement
	peak1, peak2 float64
	have1, have2 bool
}

// New creates an Analyzer for the given beam shape. A calibration factor
// of zero means uncalibrated; pulse widths stay zero until Calibrate or
// SetCalibrationFactor.
func New(shape BeamShape, calibration float64) (*Analyzer, error) {
	if _, err := shape.DeconvolutionFactor(); err != nil {
		return nil, err
	}
	return &Analyzer{
		shape:       shape,
		calibration: calibration,
		sideBandCut: 0.5,
	}, nil
}

// SetBeamShape switches the fitted model for subsequent frames.
func (a *Analyzer) SetBeamShape(shape BeamShape) error {
	if _, err := shape.DeconvolutionFactor(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shape = shape
	return nil
}

// CalibrationFactor returns the current fs-per-pixel constant.
func (a *Analyzer) CalibrationFactor() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calibration
}

// SetCalibrationFactor sets the fs-per-pixel constant directly.
func (a *Analyzer) SetCalibrationFactor(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calibration = v
}

// Latest returns a copy of the most recent measurement, or nil before the
// first processed frame.
func (a *Analyzer) Latest() *Measurement {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return nil
	}
	m := *a.last
	return &m
}

// ExtractProfile collapses the frame to its x-profile after cutting away
// the rows whose y-profile is below cut times the y-profile maximum. The
// side-band cut keeps the background rows of the second-harmonic image out
// of the projection.
func ExtractProfile(f *frame.Frame, cut float64) []float64 {
	if f.IsSpectrum() {
		return append([]float64(nil), f.Pix...)
	}
	yProfile := imgproc.SumAlongX(f, frame.FullRange)
	max := yProfile[0]
	for _, v := range yProfile {
		if v > max {
			max = v
		}
	}
	thr := cut * max
	y1, y2 := -1, -1
	for y, v := range yProfile {
		if v > thr {
			if y1 < 0 {
				y1 = y
			}
			y2 = y
		}
	}
	if y1 < 0 {
		return imgproc.SumAlongY(f, frame.FullRange)
	}
	return imgproc.SumAlongY(f, frame.Rect{LowX: 0, HighX: f.Width, LowY: y1, HighY: y2 + 1})
}

// Process fits one frame and derives the pulse duration from the current
// calibration. A fit that found no solution is not an error: the Result
// carries the status and the caller decides what to trust.
func (a *Analyzer) Process(f *frame.Frame) (*Result, error) {
	if f == nil {
		return nil, fmt.Errorf("nil frame")
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	a.mu.Lock()
	shape := a.shape
	calibration := a.calibration
	cut := a.sideBandCut
	a.mu.Unlock()

	profile := ExtractProfile(f, cut)

	m := Measurement{Profile: profile}
	var res fit.Result1D
	switch shape {
	case BeamShapeSech2:
		opts := fit.Options1D{}
		if peak, err := fit.PeakParameters(profile); err == nil {
			seed := fit.SeedFromPeak(peak)
			seed[2] = peak.FWHM / fit.Sech2FWHMFactor
			opts.Seed = seed
		}
		res = fit.Sech2(profile, opts)
	default:
		res = fit.Gauss1D(profile, fit.Options1D{})
	}
	m.Status = res.Status
	if res.Status.SolutionFound() {
		m.Peak = res.Center
		m.Sigma = res.Sigma
		m.SigmaErr = res.SigmaErr
		m.FitCurve = res.Curve1D(len(profile))
	}

	a.mu.Lock()
	a.last = &m
	a.mu.Unlock()

	out := &Result{Measurement: m}
	if res.Status.SolutionFound() {
		sF, _ := shape.DeconvolutionFactor()
		out.PulseWidth = m.Sigma * sF * calibration
		if !math.IsNaN(m.SigmaErr) {
			out.PulseWidthErr = m.SigmaErr * sF * calibration
		}
	}
	return out, nil
}

// UseAsCalibration1 records the last measurement's peak position as the
// first calibration point.
func (a *Analyzer) UseAsCalibration1() error {
	return a.useAsCalibration(&a.peak1, &a.have1)
}

// UseAsCalibration2 records the last measurement's peak position as the
// second calibration point.
func (a *Analyzer) UseAsCalibration2() error {
	return a.useAsCalibration(&a.peak2, &a.have2)
}

func (a *Analyzer) useAsCalibration(peak *float64, have *bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil || !a.last.Status.SolutionFound() {
		return ErrNoMeasurement
	}
	*peak = a.last.Peak
	*have = true
	return nil
}

// Calibrate derives the fs-per-pixel constant from the two recorded
// calibration peaks and the known stage delay between them.
func (a *Analyzer) Calibrate(delay float64, unit DelayUnit) error {
	delayFs, err := DelayToFs(delay, unit)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.have1 || !a.have2 {
		return ErrNoMeasurement
	}
	dx := a.peak1 - a.peak2
	if dx == 0 {
		return ErrSamePeak
	}
	a.calibration = math.Abs(delayFs / dx)
	return nil
}
