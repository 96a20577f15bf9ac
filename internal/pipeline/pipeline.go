// Package pipeline orchestrates the per-frame analysis stages: threshold
// gating, background and pedestal correction, pixel statistics, histogram,
// axis projections, centre-of-mass, Gaussian fits, and region integration.
// Stage topology is data-driven: every stage has an independent enable
// flag in the Config, and disabled stages cost nothing and leave their
// Output fields unset.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/European-XFEL/imageProcessor/internal/background"
	"github.com/European-XFEL/imageProcessor/internal/fit"
	"github.com/European-XFEL/imageProcessor/internal/frame"
	"github.com/European-XFEL/imageProcessor/internal/imgproc"
)

// ErrFrameSkipped is returned by Process for frames gated out by the
// image threshold. Skipped frames count toward the input rate only.
var ErrFrameSkipped = errors.New("frame below image threshold")

// Processor runs the analysis pipeline. One frame is processed to
// completion before the next begins; the only cross-frame state is the
// background reference and the last-fit seed slots.
type Processor struct {
	cfg *Config
	bkg *background.Manager

	InRate  *RateCounter
	OutRate *RateCounter
	Errors  *ErrorCounter
	Timing  *TimingStats

	// Last-fit seed slots, in frame coordinates. Updated only on fits
	// that found a solution with a defined covariance; reset otherwise.
	seedX  []float64
	seedY  []float64
	seed2D []float64
}

// New creates a Processor over the given configuration and background
// manager.
func New(cfg *Config, bkg *background.Manager) *Processor {
	if cfg == nil {
		cfg = EmptyConfig()
	}
	if bkg == nil {
		bkg = background.NewManager()
	}
	bkg.SetOffset(cfg.GetBackgroundOffset())
	return &Processor{
		cfg:     cfg,
		bkg:     bkg,
		InRate:  NewRateCounter(),
		OutRate: NewRateCounter(),
		Errors:  NewErrorCounter(cfg.GetErrorWindow(), cfg.GetErrorThreshold(), cfg.GetErrorEpsilon()),
		Timing:  NewTimingStats(),
	}
}

// Config returns the active configuration.
func (p *Processor) Config() *Config { return p.cfg }

// Background returns the background manager, for command plumbing.
func (p *Processor) Background() *background.Manager { return p.bkg }

// CaptureBackground arms the background manager to average the next
// configured number of frames into a new reference.
func (p *Processor) CaptureBackground() {
	n := p.cfg.GetBackgroundFrames()
	Opsf("capturing background from next %d frames", n)
	p.bkg.Capture(n)
}

// ResetCounters zeroes the rate and error counters. The held background
// reference and the fit seed slots are unaffected.
func (p *Processor) ResetCounters() {
	p.InRate.Reset()
	p.OutRate.Reset()
	p.Errors.Reset()
}

func (p *Processor) timeStage(out *Output, name string, fn func()) {
	t0 := time.Now()
	fn()
	d := time.Since(t0)
	out.Timings[name] = d
	p.Timing.Observe(name, d)
}

// Process runs every enabled stage over one frame and returns its output
// record. It returns ErrFrameSkipped for gated-out frames; any other error
// means the frame itself was unusable. Stage failures are not errors: they
// are reported inside the Output and via the error counter.
func (p *Processor) Process(f *frame.Frame) (*Output, error) {
	if f == nil {
		return nil, fmt.Errorf("nil frame")
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	p.InRate.Add(1)

	out := &Output{
		Time:    time.Now(),
		Width:   f.Width,
		Height:  f.Height,
		Timings: make(map[string]time.Duration),
	}

	// Gate. The boundary is inclusive: a frame whose maximum equals the
	// threshold is processed.
	accepted := true
	p.timeStage(out, StageGate, func() {
		if p.cfg.GetFilterByThreshold() && f.Max() < p.cfg.GetImageThreshold() {
			accepted = false
		}
	})
	if !accepted {
		Tracef("frame gated out: max below threshold %g", p.cfg.GetImageThreshold())
		return nil, ErrFrameSkipped
	}

	// Background capture consumes raw frames, before any correction.
	if p.bkg.Capturing() {
		if p.bkg.Observe(f) {
			Opsf("background reference captured")
		}
	}

	w := f.Clone()

	if p.cfg.GetSubtractBackground() {
		p.timeStage(out, StageBackground, func() {
			if err := p.bkg.Subtract(w); err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("background: %v", err))
				Diagf("background subtraction failed: %v", err)
			}
		})
	}

	// Pedestal removal always sees the already background-corrected
	// frame.
	if p.cfg.GetSubtractPedestal() {
		p.timeStage(out, StagePedestal, func() {
			ped := imgproc.SubtractPedestal(w.Pix)
			out.Pedestal = &ped
		})
	}

	if p.cfg.GetDoMinMaxMean() {
		p.timeStage(out, StageStats, func() {
			s, err := imgproc.MinMaxMean(w)
			if err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("stats: %v", err))
				return
			}
			out.Stats = &s
		})
	}

	if p.cfg.GetDoHistogram() {
		p.timeStage(out, StageHistogram, func() {
			lo, hi := w.Min(), w.Max()
			if !(hi > lo) {
				hi = lo + 1 // uniform frame: one occupied bin
			}
			counts, err := imgproc.Histogram(w.Pix, p.cfg.GetHistogramBins(), lo, hi)
			if err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("histogram: %v", err))
				return
			}
			out.Histogram = counts
			out.HistogramLow = lo
			out.HistogramHigh = hi
		})
	}

	if p.cfg.GetDoProjections() {
		p.timeStage(out, StageProjections, func() {
			if w.IsSpectrum() {
				// A spectrum is its own x-profile.
				out.XProfile = append([]float64(nil), w.Pix...)
				return
			}
			out.XProfile = imgproc.SumAlongY(w, frame.FullRange)
			out.YProfile = imgproc.SumAlongX(w, frame.FullRange)
		})
	}

	if p.cfg.GetDoCentroid() {
		p.timeStage(out, StageCentroid, func() {
			p.runCentroid(w, out)
		})
	}

	if p.cfg.GetDoFit1D() && out.XProfile != nil {
		p.timeStage(out, StageFitX, func() {
			out.FitX = p.runFit1D(out.XProfile, &p.seedX)
		})
		if out.YProfile != nil {
			p.timeStage(out, StageFitY, func() {
				out.FitY = p.runFit1D(out.YProfile, &p.seedY)
			})
		}
		p.normalizeAmplitudes(out)
	}

	if p.cfg.GetDoFit2D() && !w.IsSpectrum() {
		p.timeStage(out, StageFit2D, func() {
			p.runFit2D(w, out)
		})
	}

	if p.cfg.GetDoIntegration() {
		p.timeStage(out, StageIntegration, func() {
			res, err := imgproc.IntegrateRegion(w, p.cfg.GetIntegrationRegion())
			if err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("integration: %v", err))
				return
			}
			out.Region = &res
		})
	}

	if p.cfg.GetDoTwoPeak() {
		p.timeStage(out, StageTwoPeak, func() {
			p.runTwoPeak(w, out)
		})
	}

	p.deriveBeamSize(out)
	if p.cfg.GetAbsolutePositions() {
		translateToSensor(w, out)
	}

	p.Errors.Append(out.HadError())
	p.OutRate.Add(1)
	return out, nil
}

func (p *Processor) pixelCut(max float64) float64 {
	t := imgproc.Threshold{
		Absolute: p.cfg.GetAbsolutePixelThreshold(),
		Relative: p.cfg.GetRelativePixelThreshold(),
	}
	return t.Cut(max)
}

func (p *Processor) runCentroid(w *frame.Frame, out *Output) {
	r := frame.FullRange
	if p.cfg.GetCentroidRangeMode() == RangeUser {
		r = p.cfg.GetCentroidRange()
	}
	c, err := imgproc.CentreOfMass(w, r, p.pixelCut(w.Max()))
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("centroid: %v", err))
		return
	}
	out.Centroid = &c
}

func argmax(profile []float64) int {
	best := 0
	for i, v := range profile {
		if v > profile[best] {
			best = i
		}
	}
	return best
}

// fitSpan resolves the fit range policy for a 1D profile.
func (p *Processor) fitSpan(profile []float64, s frame.Span) frame.Span {
	switch p.cfg.GetFitRangeMode() {
	case RangeUser:
		return s.Resolve(len(profile))
	case RangeAuto:
		peak, err := fit.PeakParameters(profile)
		if err != nil {
			return frame.Span{}.Resolve(len(profile))
		}
		sigma := peak.FWHM / fit.GaussFWHMFactor
		half := p.cfg.GetRangeForAuto() * sigma
		return frame.Span{
			Low:  int(math.Floor(peak.Position - half)),
			High: int(math.Ceil(peak.Position+half)) + 1,
		}.Resolve(len(profile))
	default:
		return frame.Span{}.Resolve(len(profile))
	}
}

// runFit1D fits one projection, handling range selection, seed policy, and
// the last-fit seed slot. Positions in the result are shifted back to
// frame coordinates.
func (p *Processor) runFit1D(profile []float64, seed *[]float64) *fit.Result1D {
	var user frame.Span
	if r := p.cfg.GetFitRange(); !r.IsFull() {
		if seed == &p.seedY {
			user = r.YSpan()
		} else {
			user = r.XSpan()
		}
	}
	span := p.fitSpan(profile, user)
	window := profile[span.Low:span.High]

	opts := fit.Options1D{Ramp: p.cfg.GetEnablePolynomial()}
	if p.cfg.GetGauss1DSeedPolicy() == SeedLastFit && *seed != nil {
		local := append([]float64(nil), *seed...)
		local[1] -= float64(span.Low)
		// On a drifting stream the previous centre is stale by the
		// inter-frame motion. Shift it by the whole-pixel displacement of
		// the peak, keeping the fitted sub-pixel position, so the seed
		// lands on the current peak with the converged shape parameters.
		local[1] += math.Round(float64(argmax(window)) - local[1])
		opts.Seed = local
	} else if peak, err := fit.PeakParameters(window); err == nil {
		opts.Seed = fit.SeedFromPeak(peak)
	}

	res := fit.Gauss1D(window, opts)
	res.Center += float64(span.Low)

	if res.Status.SolutionFound() && res.CovValid {
		*seed = []float64{res.Amplitude, res.Center, res.Sigma}
	} else {
		// A lost or degenerate fit would poison the next seed.
		*seed = nil
	}
	return &res
}

// runTwoPeak searches for one peak left and one peak right of the
// configured zero point over the x-projection of the search range.
// Positions are reported in frame coordinates.
func (p *Processor) runTwoPeak(w *frame.Frame, out *Output) {
	zero := p.cfg.GetTwoPeakZeroPoint()
	span := frame.Span{}
	if r := p.cfg.GetTwoPeakRange(); !r.IsFull() {
		if zero <= r.Low || zero >= r.High-1 {
			out.Errors = append(out.Errors, "two-peak: zero point outside search range")
			return
		}
		span = r
	}
	span = span.Resolve(w.Width)
	profile := imgproc.SumAlongY(w, frame.Rect{
		LowX: span.Low, HighX: span.High, LowY: 0, HighY: w.Height,
	})
	left, right, err := fit.TwoPeaks(profile, zero-span.Low)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("two-peak: %v", err))
		return
	}
	out.TwoPeak = &TwoPeakResult{
		Peak1Value:    left.Amplitude,
		Peak1Position: float64(span.Low) + left.Position,
		Peak1FWHM:     left.FWHM,
		Peak2Value:    right.Amplitude,
		Peak2Position: float64(span.Low) + right.Position,
		Peak2FWHM:     right.FWHM,
	}
}

// normalizeAmplitudes derives the cross-normalised projection amplitudes:
// each axis' fitted amplitude divided by the other axis' integrated
// Gaussian, recovering the 2D peak height from the two 1D fits.
func (p *Processor) normalizeAmplitudes(out *Output) {
	if out.FitX == nil || out.FitY == nil {
		return
	}
	if !out.FitX.Status.SolutionFound() || !out.FitY.Status.SolutionFound() {
		return
	}
	if out.FitY.Sigma > 0 {
		out.Ax1D = out.FitX.Amplitude / (out.FitY.Sigma * math.Sqrt(2*math.Pi))
	}
	if out.FitX.Sigma > 0 {
		out.Ay1D = out.FitY.Amplitude / (out.FitX.Sigma * math.Sqrt(2*math.Pi))
	}
}

// fit2DRect resolves the fit range policy for the 2D fit.
func (p *Processor) fit2DRect(w *frame.Frame, out *Output) frame.Rect {
	switch p.cfg.GetFitRangeMode() {
	case RangeUser:
		return p.cfg.GetFitRange().Resolve(w.Width, w.Height)
	case RangeAuto:
		if out.Centroid == nil {
			return frame.FullRange.Resolve(w.Width, w.Height)
		}
		c := out.Centroid
		half := p.cfg.GetRangeForAuto()
		return frame.Rect{
			LowX:  int(math.Floor(c.X0 - half*c.SigmaX)),
			HighX: int(math.Ceil(c.X0+half*c.SigmaX)) + 1,
			LowY:  int(math.Floor(c.Y0 - half*c.SigmaY)),
			HighY: int(math.Ceil(c.Y0+half*c.SigmaY)) + 1,
		}.Resolve(w.Width, w.Height)
	default:
		return frame.FullRange.Resolve(w.Width, w.Height)
	}
}

func (p *Processor) runFit2D(w *frame.Frame, out *Output) {
	r := p.fit2DRect(w, out)
	sub, err := w.Crop(r)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("2d fit: %v", err))
		p.seed2D = nil
		return
	}

	opts := fit.Options2D{Rotation: p.cfg.GetDoGaussRotation()}
	if p.cfg.GetGauss1DSeedPolicy() == SeedLastFit && p.seed2D != nil {
		local := append([]float64(nil), p.seed2D...)
		local[1] -= float64(r.LowX)
		local[2] -= float64(r.LowY)
		opts.Seed = local
	}

	res := fit.Gauss2D(sub.Pix, sub.Width, sub.Height, opts)
	res.CenterX += float64(r.LowX)
	res.CenterY += float64(r.LowY)
	out.Fit2D = &res

	if res.Status.SolutionFound() && res.CovValid {
		seed := []float64{res.Amplitude, res.CenterX, res.CenterY, res.SigmaX, res.SigmaY}
		if p.cfg.GetDoGaussRotation() {
			seed = append(seed, res.Theta)
		}
		p.seed2D = seed
	} else {
		p.seed2D = nil
	}
}

// deriveBeamSize reports the beam extents as four standard deviations per
// axis, preferring the 1D fits, then the 2D fit, then the centroid
// moments. Scaled to micrometres when a pixel size is configured.
func (p *Processor) deriveBeamSize(out *Output) {
	const nSigma = 4.0
	scale := p.cfg.GetPixelSize()
	if scale <= 0 {
		scale = 1
	}
	var sx, sy float64
	switch {
	case out.FitX != nil && out.FitX.Status.SolutionFound():
		sx = out.FitX.Sigma
		if out.FitY != nil && out.FitY.Status.SolutionFound() {
			sy = out.FitY.Sigma
		}
	case out.Fit2D != nil && out.Fit2D.Status.SolutionFound():
		sx = out.Fit2D.SigmaX
		sy = out.Fit2D.SigmaY
	case out.Centroid != nil:
		sx = out.Centroid.SigmaX
		sy = out.Centroid.SigmaY
	}
	out.BeamWidth = nSigma * sx * scale
	out.BeamHeight = nSigma * sy * scale
}

// translateToSensor rewrites reported positions into full-sensor
// coordinates using the frame's acquisition offset and binning. Widths
// stay in frame pixel units.
func translateToSensor(f *frame.Frame, out *Output) {
	if c := out.Centroid; c != nil {
		c.X0 = f.SensorX(c.X0)
		c.Y0 = f.SensorY(c.Y0)
	}
	if r := out.FitX; r != nil && r.Status.SolutionFound() {
		r.Center = f.SensorX(r.Center)
	}
	if r := out.FitY; r != nil && r.Status.SolutionFound() {
		r.Center = f.SensorY(r.Center)
	}
	if r := out.Fit2D; r != nil && r.Status.SolutionFound() {
		r.CenterX = f.SensorX(r.CenterX)
		r.CenterY = f.SensorY(r.CenterY)
	}
}
