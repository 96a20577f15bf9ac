package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/European-XFEL/imageProcessor/internal/frame"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := writeConfig(t, `{
		"do_2d_fit": true,
		"image_threshold": 50,
		"fit_range_mode": "user-defined",
		"fit_range": [10, 90, 5, 75]
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.GetDoFit2D() {
		t.Error("do_2d_fit override not applied")
	}
	if cfg.GetImageThreshold() != 50 {
		t.Errorf("image_threshold = %g, want 50", cfg.GetImageThreshold())
	}
	if cfg.GetFitRangeMode() != RangeUser {
		t.Errorf("fit_range_mode = %q, want %q", cfg.GetFitRangeMode(), RangeUser)
	}
	want := frame.Rect{LowX: 10, HighX: 90, LowY: 5, HighY: 75}
	if cfg.GetFitRange() != want {
		t.Errorf("fit_range = %+v, want %+v", cfg.GetFitRange(), want)
	}

	// Untouched fields keep their defaults.
	if !cfg.GetDoMinMaxMean() || cfg.GetDoFit1D() {
		t.Error("omitted fields must keep defaults")
	}
	if cfg.GetHistogramBins() != 256 {
		t.Errorf("histogram_bins default = %d, want 256", cfg.GetHistogramBins())
	}
	if cfg.GetGauss1DSeedPolicy() != SeedRawPeak {
		t.Errorf("seed policy default = %q, want %q", cfg.GetGauss1DSeedPolicy(), SeedRawPeak)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero bins", `{"histogram_bins": 0}`},
		{"relative threshold above one", `{"relative_pixel_threshold": 1.5}`},
		{"unknown range mode", `{"fit_range_mode": "elliptical"}`},
		{"unknown seed policy", `{"gauss1d_start_values": "oracle"}`},
		{"short region", `{"integration_region": [1, 2]}`},
		{"inverted region", `{"centroid_range": [50, 10, 0, 20]}`},
		{"zero background frames", `{"background_frames": 0}`},
		{"negative two-peak zero point", `{"two_peak_zero_point": -5}`},
		{"short two-peak range", `{"two_peak_range": [100]}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, c.body)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "tuning.yaml")); err == nil {
		t.Error("expected an error for a non-json extension")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := EmptyConfig()
	if cfg.GetFilterByThreshold() {
		t.Error("gating must default off")
	}
	if !cfg.GetDoProjections() || !cfg.GetDoCentroid() {
		t.Error("projections and centroid must default on")
	}
	if cfg.GetRelativePixelThreshold() != 0.1 {
		t.Errorf("relative threshold default = %g, want 0.1", cfg.GetRelativePixelThreshold())
	}
	if cfg.GetRangeForAuto() != 3.0 {
		t.Errorf("range_for_auto default = %g, want 3", cfg.GetRangeForAuto())
	}
	if !cfg.GetCentroidRange().IsFull() || !cfg.GetIntegrationRegion().IsFull() {
		t.Error("unset regions must resolve to the full-range sentinel")
	}
	if cfg.GetDoTwoPeak() {
		t.Error("two-peak stage must default off")
	}
	if !cfg.GetTwoPeakRange().IsFull() {
		t.Error("unset two-peak range must resolve to the full-range sentinel")
	}
	if cfg.GetBackgroundFrames() != 10 {
		t.Errorf("background_frames default = %d, want 10", cfg.GetBackgroundFrames())
	}
	if cfg.GetErrorWindow() != 100 || cfg.GetErrorThreshold() != 0.1 || cfg.GetErrorEpsilon() != 0.01 {
		t.Error("error counter defaults changed")
	}
}
