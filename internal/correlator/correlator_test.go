package correlator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/European-XFEL/imageProcessor/internal/frame"
)

// traceFrame builds an autocorrelation trace: a horizontal stripe of rows
// carrying a Gaussian x-profile, surrounded by dim side-band rows.
func traceFrame(t *testing.T, w, h int, x0, sigma float64) *frame.Frame {
	t.Helper()
	f, err := frame.New(w, h)
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		rowScale := 0.02 // side-band
		if y >= h/4 && y < 3*h/4 {
			rowScale = 1.0
		}
		for x := 0; x < w; x++ {
			d := (float64(x) - x0) / sigma
			f.Set(x, y, rowScale*100*math.Exp(-0.5*d*d))
		}
	}
	return f
}

func TestDelayToFs(t *testing.T) {
	fs, err := DelayToFs(125, DelayFemtoseconds)
	require.NoError(t, err)
	assert.Equal(t, 125.0, fs)

	// 30 um of extra path is about 100 fs.
	fs, err = DelayToFs(30, DelayMicrometres)
	require.NoError(t, err)
	assert.InDelta(t, 100.07, fs, 0.01)

	_, err = DelayToFs(1, DelayUnit("parsec"))
	require.Error(t, err)
}

func TestDeconvolutionFactors(t *testing.T) {
	g, err := BeamShapeGaussian.DeconvolutionFactor()
	require.NoError(t, err)
	assert.InDelta(t, 1/math.Sqrt2, g, 1e-12)

	s, err := BeamShapeSech2.DeconvolutionFactor()
	require.NoError(t, err)
	assert.InDelta(t, 1/1.543, s, 1e-12)

	_, err = BeamShape("flat").DeconvolutionFactor()
	require.Error(t, err)
}

func TestExtractProfileCutsSideBands(t *testing.T) {
	f := traceFrame(t, 60, 40, 30, 4)
	profile := ExtractProfile(f, 0.5)
	require.Len(t, profile, 60)

	full := make([]float64, 60)
	for y := 0; y < 40; y++ {
		for x := 0; x < 60; x++ {
			full[x] += f.At(x, y)
		}
	}
	// The cut profile must exclude the dim rows, so it sums to less than
	// the full projection but keeps the bright stripe.
	var cutSum, fullSum float64
	for x := range profile {
		cutSum += profile[x]
		fullSum += full[x]
	}
	assert.Less(t, cutSum, fullSum)
	assert.Greater(t, cutSum, 0.9*fullSum)
}

func TestProcessMeasuresPeak(t *testing.T) {
	a, err := New(BeamShapeGaussian, 2.5)
	require.NoError(t, err)

	res, err := a.Process(traceFrame(t, 100, 40, 55, 6))
	require.NoError(t, err)
	require.True(t, res.Status.SolutionFound(), "fit status %v", res.Status)
	assert.InDelta(t, 55, res.Peak, 0.1)
	assert.InDelta(t, 6, res.Sigma, 0.1)
	assert.Len(t, res.FitCurve, 100)

	// pulse width = sigma * (1/sqrt 2) * calibration
	assert.InDelta(t, 6*2.5/math.Sqrt2, res.PulseWidth, 0.2)
}

func TestProcessSech2(t *testing.T) {
	a, err := New(BeamShapeSech2, 1)
	require.NoError(t, err)

	f, err := frame.New(120, 1)
	require.NoError(t, err)
	for x := 0; x < 120; x++ {
		s := 1 / math.Cosh((float64(x)-60)/7)
		f.Pix[x] = 80 * s * s
	}

	res, err := a.Process(f)
	require.NoError(t, err)
	require.True(t, res.Status.SolutionFound(), "fit status %v", res.Status)
	assert.InDelta(t, 60, res.Peak, 0.1)
	assert.InDelta(t, 7, res.Sigma, 0.1)
}

func TestCalibrationFlow(t *testing.T) {
	a, err := New(BeamShapeGaussian, 0)
	require.NoError(t, err)

	// Calibration commands before any frame must fail.
	require.ErrorIs(t, a.UseAsCalibration1(), ErrNoMeasurement)
	require.ErrorIs(t, a.Calibrate(100, DelayFemtoseconds), ErrNoMeasurement)

	_, err = a.Process(traceFrame(t, 100, 40, 40, 5))
	require.NoError(t, err)
	require.NoError(t, a.UseAsCalibration1())

	_, err = a.Process(traceFrame(t, 100, 40, 60, 5))
	require.NoError(t, err)
	require.NoError(t, a.UseAsCalibration2())

	// 100 fs across 20 pixels of peak shift.
	require.NoError(t, a.Calibrate(100, DelayFemtoseconds))
	assert.InDelta(t, 5.0, a.CalibrationFactor(), 0.01)

	res, err := a.Process(traceFrame(t, 100, 40, 50, 6))
	require.NoError(t, err)
	assert.InDelta(t, 6*5/math.Sqrt2, res.PulseWidth, 0.3)
}

func TestCalibrateSamePeak(t *testing.T) {
	a, err := New(BeamShapeGaussian, 0)
	require.NoError(t, err)

	_, err = a.Process(traceFrame(t, 100, 40, 50, 5))
	require.NoError(t, err)
	require.NoError(t, a.UseAsCalibration1())
	require.NoError(t, a.UseAsCalibration2())

	require.ErrorIs(t, a.Calibrate(100, DelayFemtoseconds), ErrSamePeak)
}
