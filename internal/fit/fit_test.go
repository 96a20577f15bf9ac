package fit

import (
	"math"
	"testing"
)

func gauss1dSamples(n int, ampl, x0, sigma, slope, offset float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		x := float64(i)
		out[i] = gauss1dModel(x, ampl, x0, sigma) + slope*x + offset
	}
	return out
}

func TestGauss1DRecoversParameters(t *testing.T) {
	data := gauss1dSamples(100, 100, 50, 5, 0, 0)

	res := Gauss1D(data, Options1D{})
	if res.Status != StatusConverged {
		t.Fatalf("status = %v, want %v", res.Status, StatusConverged)
	}
	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"amplitude", res.Amplitude, 100},
		{"centre", res.Center, 50},
		{"sigma", res.Sigma, 5},
	}
	for _, c := range cases {
		if math.Abs(c.got-c.want) > 1e-3 {
			t.Errorf("%s = %g, want %g within 1e-3", c.name, c.got, c.want)
		}
	}
	if !res.CovValid {
		t.Error("covariance reported invalid on a clean fit")
	}
	for name, e := range map[string]float64{
		"amplitude": res.AmplitudeErr, "centre": res.CenterErr, "sigma": res.SigmaErr,
	} {
		if math.IsNaN(e) || e < 0 {
			t.Errorf("%s error = %g, want finite and non-negative", name, e)
		}
	}
}

func TestGauss1DWithRamp(t *testing.T) {
	data := gauss1dSamples(120, 80, 60, 7, 0.4, 12)

	res := Gauss1D(data, Options1D{Ramp: true})
	if !res.Status.SolutionFound() {
		t.Fatalf("status = %v, want a found solution", res.Status)
	}
	checks := []struct {
		name string
		got  float64
		want float64
		tol  float64
	}{
		{"amplitude", res.Amplitude, 80, 1e-2},
		{"centre", res.Center, 60, 1e-2},
		{"sigma", res.Sigma, 7, 1e-2},
		{"slope", res.Slope, 0.4, 1e-3},
		{"offset", res.Offset, 12, 1e-1},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > c.tol {
			t.Errorf("%s = %g, want %g within %g", c.name, c.got, c.want, c.tol)
		}
	}
}

func TestGauss1DSigmaReportedPositive(t *testing.T) {
	data := gauss1dSamples(100, 100, 50, 5, 0, 0)

	res := Gauss1D(data, Options1D{Seed: []float64{90, 48, -4}})
	if !res.Status.SolutionFound() {
		t.Fatalf("status = %v, want a found solution", res.Status)
	}
	if res.Sigma <= 0 {
		t.Errorf("sigma = %g, want > 0", res.Sigma)
	}
	if math.Abs(res.Sigma-5) > 1e-3 {
		t.Errorf("sigma = %g, want 5 within 1e-3", res.Sigma)
	}
}

func TestGauss1DInvalidInput(t *testing.T) {
	cases := []struct {
		name string
		data []float64
		opts Options1D
	}{
		{"empty", nil, Options1D{}},
		{"too short", []float64{1, 2, 3}, Options1D{}},
		{"flat zero", make([]float64, 50), Options1D{}},
		{"zero sigma seed", gauss1dSamples(50, 10, 25, 3, 0, 0), Options1D{Seed: []float64{10, 25, 0}}},
	}
	for _, c := range cases {
		res := Gauss1D(c.data, c.opts)
		if res.Status != StatusInvalidInput {
			t.Errorf("%s: status = %v, want %v", c.name, res.Status, StatusInvalidInput)
		}
	}
}

func TestGauss1DSeedFromPeakNoSlower(t *testing.T) {
	data := gauss1dSamples(100, 100, 50, 5, 0, 0)

	blind := Gauss1D(data, Options1D{Seed: []float64{30, 20, 15}})
	if !blind.Status.SolutionFound() {
		t.Fatalf("blind fit status = %v", blind.Status)
	}

	peak, err := PeakParameters(data)
	if err != nil {
		t.Fatalf("PeakParameters: %v", err)
	}
	seeded := Gauss1D(data, Options1D{Seed: SeedFromPeak(peak)})
	if !seeded.Status.SolutionFound() {
		t.Fatalf("seeded fit status = %v", seeded.Status)
	}
	if seeded.Iterations > blind.Iterations {
		t.Errorf("seeded fit took %d iterations, blind took %d", seeded.Iterations, blind.Iterations)
	}
}

func TestPeakParameters(t *testing.T) {
	data := gauss1dSamples(100, 100, 50, 5, 0, 0)

	peak, err := PeakParameters(data)
	if err != nil {
		t.Fatalf("PeakParameters: %v", err)
	}
	if math.Abs(peak.Amplitude-100) > 1e-6 {
		t.Errorf("amplitude = %g, want 100", peak.Amplitude)
	}
	if math.Abs(peak.Position-50) > 0.5 {
		t.Errorf("position = %g, want 50 within 0.5", peak.Position)
	}
	wantFWHM := 5 * GaussFWHMFactor
	if math.Abs(peak.FWHM-wantFWHM) > 0.2 {
		t.Errorf("FWHM = %g, want %g within 0.2", peak.FWHM, wantFWHM)
	}
}

func TestPeakParametersFlat(t *testing.T) {
	if _, err := PeakParameters(make([]float64, 20)); err == nil {
		t.Error("expected an error for a flat profile")
	}
	if _, err := PeakParameters(nil); err == nil {
		t.Error("expected an error for an empty profile")
	}
}

func TestTwoPeaks(t *testing.T) {
	// Two well-separated pulses, divided between them.
	data := make([]float64, 2048)
	for i := range data {
		x := float64(i)
		data[i] = gauss1dModel(x, 1000, 300, 20) + gauss1dModel(x, 800, 600, 25)
	}

	left, right, err := TwoPeaks(data, 450)
	if err != nil {
		t.Fatalf("TwoPeaks: %v", err)
	}
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"left value", left.Amplitude, 1000},
		{"left position", left.Position, 300},
		{"left FWHM", left.FWHM, 20 * GaussFWHMFactor},
		{"right value", right.Amplitude, 800},
		{"right position", right.Position, 600},
		{"right FWHM", right.FWHM, 25 * GaussFWHMFactor},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1 {
			t.Errorf("%s = %g, want %g within 1", c.name, c.got, c.want)
		}
	}
}

func TestTwoPeaksZeroPointOutOfRange(t *testing.T) {
	data := gauss1dSamples(100, 100, 50, 5, 0, 0)
	for _, zero := range []int{-1, 100, 200} {
		if _, _, err := TwoPeaks(data, zero); err == nil {
			t.Errorf("zero point %d: expected an error", zero)
		}
	}
}

func gauss2dSamples(w, h int, ampl, x0, y0, sx, sy, theta float64) []float64 {
	out := make([]float64, w*h)
	sin, cos := math.Sincos(theta)
	a := cos*cos/(2*sx*sx) + sin*sin/(2*sy*sy)
	b := sin * cos * (1/(2*sy*sy) - 1/(2*sx*sx))
	c := sin*sin/(2*sx*sx) + cos*cos/(2*sy*sy)
	for y := 0; y < h; y++ {
		dy := float64(y) - y0
		for x := 0; x < w; x++ {
			dx := float64(x) - x0
			out[y*w+x] = ampl * math.Exp(-(a*dx*dx+2*b*dx*dy+c*dy*dy))
		}
	}
	return out
}

func TestGauss2DAxisAligned(t *testing.T) {
	data := gauss2dSamples(60, 40, 200, 30, 20, 6, 3, 0)

	res := Gauss2D(data, 60, 40, Options2D{})
	if res.Status != StatusConverged {
		t.Fatalf("status = %v, want %v", res.Status, StatusConverged)
	}
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"amplitude", res.Amplitude, 200},
		{"x0", res.CenterX, 30},
		{"y0", res.CenterY, 20},
		{"sigmaX", res.SigmaX, 6},
		{"sigmaY", res.SigmaY, 3},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1e-2 {
			t.Errorf("%s = %g, want %g within 1e-2", c.name, c.got, c.want)
		}
	}
	if res.Theta != 0 {
		t.Errorf("theta = %g, want 0 when rotation is not fitted", res.Theta)
	}
}

func TestGauss2DRotation(t *testing.T) {
	const theta = 0.5
	data := gauss2dSamples(60, 50, 150, 30, 25, 7, 3, theta)

	res := Gauss2D(data, 60, 50, Options2D{
		Rotation: true,
		Seed:     []float64{140, 28, 24, 6, 4, 0.3},
	})
	if !res.Status.SolutionFound() {
		t.Fatalf("status = %v, want a found solution", res.Status)
	}
	if math.Abs(res.SigmaX-7) > 0.05 || math.Abs(res.SigmaY-3) > 0.05 {
		t.Errorf("sigmas = (%g, %g), want (7, 3)", res.SigmaX, res.SigmaY)
	}
	// The tilt is only defined modulo pi for an ellipse.
	dt := math.Mod(res.Theta-theta, math.Pi)
	if dt > math.Pi/2 {
		dt -= math.Pi
	} else if dt < -math.Pi/2 {
		dt += math.Pi
	}
	if math.Abs(dt) > 0.02 {
		t.Errorf("theta = %g, want %g modulo pi", res.Theta, theta)
	}
	if res.Theta < 0 || res.Theta >= 2*math.Pi {
		t.Errorf("theta = %g, want within [0, 2*pi)", res.Theta)
	}
}

func TestGauss2DInvalidInput(t *testing.T) {
	cases := []struct {
		name string
		data []float64
		w, h int
	}{
		{"empty", nil, 0, 0},
		{"shape mismatch", make([]float64, 10), 4, 4},
		{"spectrum", make([]float64, 20), 20, 1},
		{"flat zero", make([]float64, 100), 10, 10},
	}
	for _, c := range cases {
		res := Gauss2D(c.data, c.w, c.h, Options2D{})
		if res.Status != StatusInvalidInput {
			t.Errorf("%s: status = %v, want %v", c.name, res.Status, StatusInvalidInput)
		}
	}
}

func TestSech2RecoversParameters(t *testing.T) {
	data := make([]float64, 100)
	for i := range data {
		data[i] = sech2Model(float64(i), 50, 45, 6)
	}

	res := Sech2(data, Options1D{})
	if !res.Status.SolutionFound() {
		t.Fatalf("status = %v, want a found solution", res.Status)
	}
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"amplitude", res.Amplitude, 50},
		{"centre", res.Center, 45},
		{"scale", res.Sigma, 6},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1e-2 {
			t.Errorf("%s = %g, want %g within 1e-2", c.name, c.got, c.want)
		}
	}
}

func TestStatusSolutionFound(t *testing.T) {
	found := map[Status]bool{
		StatusInvalidInput:     false,
		StatusConverged:        true,
		StatusBudgetExhausted:  true,
		StatusTolTooTight:      true,
		StatusStalledJacobian:  true,
		StatusStalledIteration: false,
		StatusUnknown:          false,
	}
	for s, want := range found {
		if got := s.SolutionFound(); got != want {
			t.Errorf("%v.SolutionFound() = %v, want %v", s, got, want)
		}
	}
}

func TestBudgetExhausted(t *testing.T) {
	data := gauss1dSamples(200, 100, 100, 8, 0, 0)

	res := Gauss1D(data, Options1D{Seed: []float64{1, 5, 1}, MaxFuncEvals: 4})
	if res.Status != StatusBudgetExhausted {
		t.Errorf("status = %v, want %v", res.Status, StatusBudgetExhausted)
	}
}
