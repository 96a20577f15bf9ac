package imgproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/European-XFEL/imageProcessor/internal/frame"
)

func frameFromPixels(t *testing.T, w, h int, pix []float64) *frame.Frame {
	t.Helper()
	f, err := frame.FromPixels(w, h, pix)
	require.NoError(t, err)
	return f
}

func TestMinMaxMean(t *testing.T) {
	f := frameFromPixels(t, 3, 2, []float64{1, 2, 3, 4, 5, 6})
	s, err := MinMaxMean(f)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 6.0, s.Max)
	assert.InDelta(t, 3.5, s.Mean, 1e-12)

	_, err = MinMaxMean(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestThresholdCut(t *testing.T) {
	cases := []struct {
		name string
		th   Threshold
		max  float64
		want float64
	}{
		{"relative only", Threshold{Relative: 0.1}, 200, 20},
		{"absolute wins", Threshold{Absolute: 50, Relative: 0.1}, 200, 50},
		{"absolute capped at max", Threshold{Absolute: 500}, 200, 200},
		{"zero absolute falls back", Threshold{Absolute: 0, Relative: 0.5}, 80, 40},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.th.Cut(c.max))
		})
	}
}

func TestApplyThresholdKeepsBoundary(t *testing.T) {
	pix := []float64{1, 5, 10, 15}
	ApplyThreshold(pix, 10)
	assert.Equal(t, []float64{0, 0, 10, 15}, pix)
}

func TestSubtractPedestal(t *testing.T) {
	pix := []float64{3, 5, 7}
	got := SubtractPedestal(pix)
	assert.Equal(t, 3.0, got)
	assert.Equal(t, []float64{0, 2, 4}, pix)

	// A frame already touching zero has no pedestal to remove.
	pix = []float64{0, 2, 4}
	assert.Equal(t, 0.0, SubtractPedestal(pix))
	assert.Equal(t, []float64{0, 2, 4}, pix)
}

func TestHistogram(t *testing.T) {
	counts, err := Histogram([]float64{0, 1, 2, 3, 4}, 4, 0, 4)
	require.NoError(t, err)

	sum := 0
	for _, c := range counts {
		sum += c
	}
	assert.Equal(t, 5, sum)

	// Interior edge values fall into the lower bin: 1, 2, 3 land in bins
	// 0, 1, 2 respectively.
	assert.Equal(t, []int{2, 1, 1, 1}, counts)
}

func TestHistogramClampsOutliers(t *testing.T) {
	counts, err := Histogram([]float64{-10, 50}, 2, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, counts)
}

func TestHistogramRejectsBadArguments(t *testing.T) {
	_, err := Histogram(nil, 0, 0, 1)
	assert.Error(t, err)
	_, err = Histogram(nil, 8, 5, 5)
	assert.Error(t, err)
}

func TestProjections(t *testing.T) {
	// 3x2 frame:
	//   1 2 3
	//   4 5 6
	f := frameFromPixels(t, 3, 2, []float64{1, 2, 3, 4, 5, 6})

	assert.Equal(t, []float64{5, 7, 9}, SumAlongY(f, frame.FullRange))
	assert.Equal(t, []float64{6, 15}, SumAlongX(f, frame.FullRange))

	// Restricted to the right two columns.
	r := frame.Rect{LowX: 1, HighX: 3, LowY: 0, HighY: 2}
	assert.Equal(t, []float64{7, 9}, SumAlongY(f, r))
	assert.Equal(t, []float64{5, 11}, SumAlongX(f, r))
}

func TestCentreOfMassSinglePixel(t *testing.T) {
	pix := make([]float64, 25)
	pix[2*5+3] = 42 // (x=3, y=2)
	f := frameFromPixels(t, 5, 5, pix)

	c, err := CentreOfMass(f, frame.FullRange, 0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, c.X0)
	assert.Equal(t, 2.0, c.Y0)
	assert.Zero(t, c.SigmaX)
	assert.Zero(t, c.SigmaY)
}

func TestCentreOfMassSymmetricPair(t *testing.T) {
	pix := make([]float64, 25)
	pix[2*5+1] = 10
	pix[2*5+3] = 10
	f := frameFromPixels(t, 5, 5, pix)

	c, err := CentreOfMass(f, frame.FullRange, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, c.X0)
	assert.Equal(t, 2.0, c.Y0)
	assert.InDelta(t, 1.0, c.SigmaX, 1e-12)
	assert.Zero(t, c.SigmaY)
}

func TestCentreOfMassThresholdExcludes(t *testing.T) {
	pix := make([]float64, 25)
	pix[0] = 1   // below cut
	pix[12] = 50 // centre pixel
	f := frameFromPixels(t, 5, 5, pix)

	c, err := CentreOfMass(f, frame.FullRange, 10)
	require.NoError(t, err)
	assert.Equal(t, 2.0, c.X0)

	_, err = CentreOfMass(f, frame.FullRange, 100)
	assert.ErrorIs(t, err, ErrZeroMass)
}

func TestIntegrateRegion(t *testing.T) {
	f := frameFromPixels(t, 3, 2, []float64{1, 2, 3, 4, 5, 6})

	res, err := IntegrateRegion(f, frame.FullRange)
	require.NoError(t, err)
	assert.Equal(t, 21.0, res.Integral)
	assert.InDelta(t, 3.5, res.Mean, 1e-12)

	res, err = IntegrateRegion(f, frame.Rect{LowX: 1, HighX: 3, LowY: 1, HighY: 2})
	require.NoError(t, err)
	assert.Equal(t, 11.0, res.Integral)
	assert.InDelta(t, 5.5, res.Mean, 1e-12)
}

func TestIntegrateRegionOutOfBoundsIsError(t *testing.T) {
	f := frameFromPixels(t, 3, 2, []float64{1, 2, 3, 4, 5, 6})

	_, err := IntegrateRegion(f, frame.Rect{LowX: 0, HighX: 4, LowY: 0, HighY: 2})
	assert.Error(t, err)

	_, err = IntegrateRegion(f, frame.Rect{LowX: 2, HighX: 1, LowY: 0, HighY: 2})
	assert.Error(t, err)
}
