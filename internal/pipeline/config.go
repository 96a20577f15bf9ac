package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/European-XFEL/imageProcessor/internal/frame"
)

// Range-selection policies for centre-of-mass and fit stages.
const (
	RangeFull = "full"
	RangeAuto = "auto"
	RangeUser = "user-defined"
)

// Initial-guess strategies for the 1D fits.
const (
	SeedRawPeak = "raw-peak"
	SeedLastFit = "last-fit-result"
)

// Config is the tuning configuration consulted once per frame. The schema
// matches the monitor's /api/params endpoint so the same JSON can be used
// for both startup configuration and runtime updates. Fields omitted from
// the JSON retain their defaults, so partial configs are safe; the Get*
// methods provide the fallback values.
type Config struct {
	// Gate params
	FilterByThreshold *bool    `json:"filter_by_threshold,omitempty"`
	ImageThreshold    *float64 `json:"image_threshold,omitempty"`

	// Correction params
	SubtractBackground *bool    `json:"subtract_background,omitempty"`
	SubtractPedestal   *bool    `json:"subtract_pedestal,omitempty"`
	BackgroundFrames   *int     `json:"background_frames,omitempty"`
	BackgroundOffset   *float64 `json:"background_offset,omitempty"`

	// Stage toggles
	DoMinMaxMean  *bool `json:"do_min_max_mean,omitempty"`
	DoHistogram   *bool `json:"do_histogram,omitempty"`
	DoProjections *bool `json:"do_projections,omitempty"`
	DoCentroid    *bool `json:"do_centroid,omitempty"`
	DoFit1D       *bool `json:"do_1d_fit,omitempty"`
	DoFit2D       *bool `json:"do_2d_fit,omitempty"`
	DoIntegration *bool `json:"do_integration,omitempty"`
	DoTwoPeak     *bool `json:"do_two_peak,omitempty"`

	// Histogram params
	HistogramBins *int `json:"histogram_bins,omitempty"`

	// Centroid params
	AbsolutePixelThreshold *float64 `json:"absolute_pixel_threshold,omitempty"`
	RelativePixelThreshold *float64 `json:"relative_pixel_threshold,omitempty"`
	CentroidRangeMode      *string  `json:"centroid_range_mode,omitempty"` // full | user-defined
	CentroidRange          *[]int   `json:"centroid_range,omitempty"`      // [lowX, highX, lowY, highY]
	AbsolutePositions      *bool    `json:"absolute_positions,omitempty"`

	// Fit params
	FitRangeMode      *string  `json:"fit_range_mode,omitempty"` // full | auto | user-defined
	FitRange          *[]int   `json:"fit_range,omitempty"`      // [lowX, highX, lowY, highY]
	RangeForAuto      *float64 `json:"range_for_auto,omitempty"` // half-width in sigmas
	EnablePolynomial  *bool    `json:"enable_polynomial,omitempty"`
	Gauss1DSeedPolicy *string  `json:"gauss1d_start_values,omitempty"` // raw-peak | last-fit-result
	DoGaussRotation   *bool    `json:"do_gauss_rotation,omitempty"`

	// Integration params
	IntegrationRegion *[]int `json:"integration_region,omitempty"` // [lowX, highX, lowY, highY]

	// Two-peak params
	TwoPeakZeroPoint *int   `json:"two_peak_zero_point,omitempty"`
	TwoPeakRange     *[]int `json:"two_peak_range,omitempty"` // [lowX, highX], [0, 0] = whole range

	// Output params
	PixelSize *float64 `json:"pixel_size,omitempty"` // um per pixel, 0 = report in pixels

	// Error counter params
	ErrorWindow    *int     `json:"error_window,omitempty"`
	ErrorThreshold *float64 `json:"error_threshold,omitempty"`
	ErrorEpsilon   *float64 `json:"error_epsilon,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInts(v ...int) *[]int       { return &v }

// EmptyConfig returns a Config with all fields unset, i.e. all defaults.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file. Fields omitted from the file
// keep their defaults, so partial configs are safe.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	if c.HistogramBins != nil && *c.HistogramBins < 1 {
		return fmt.Errorf("histogram_bins must be positive, got %d", *c.HistogramBins)
	}
	if c.RelativePixelThreshold != nil {
		if v := *c.RelativePixelThreshold; v < 0 || v > 1 {
			return fmt.Errorf("relative_pixel_threshold must be between 0 and 1, got %f", v)
		}
	}
	if c.RangeForAuto != nil && *c.RangeForAuto <= 0 {
		return fmt.Errorf("range_for_auto must be positive, got %f", *c.RangeForAuto)
	}
	if c.CentroidRangeMode != nil {
		switch *c.CentroidRangeMode {
		case RangeFull, RangeUser:
		default:
			return fmt.Errorf("centroid_range_mode must be %q or %q, got %q", RangeFull, RangeUser, *c.CentroidRangeMode)
		}
	}
	if c.FitRangeMode != nil {
		switch *c.FitRangeMode {
		case RangeFull, RangeAuto, RangeUser:
		default:
			return fmt.Errorf("fit_range_mode must be %q, %q or %q, got %q", RangeFull, RangeAuto, RangeUser, *c.FitRangeMode)
		}
	}
	if c.Gauss1DSeedPolicy != nil {
		switch *c.Gauss1DSeedPolicy {
		case SeedRawPeak, SeedLastFit:
		default:
			return fmt.Errorf("gauss1d_start_values must be %q or %q, got %q", SeedRawPeak, SeedLastFit, *c.Gauss1DSeedPolicy)
		}
	}
	for name, r := range map[string]*[]int{
		"centroid_range":     c.CentroidRange,
		"fit_range":          c.FitRange,
		"integration_region": c.IntegrationRegion,
	} {
		if r == nil {
			continue
		}
		if len(*r) != 4 {
			return fmt.Errorf("%s must have 4 entries [lowX, highX, lowY, highY], got %d", name, len(*r))
		}
		if err := rectFromSlice(*r).Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.TwoPeakZeroPoint != nil && *c.TwoPeakZeroPoint < 0 {
		return fmt.Errorf("two_peak_zero_point must be non-negative, got %d", *c.TwoPeakZeroPoint)
	}
	if c.TwoPeakRange != nil && len(*c.TwoPeakRange) != 2 {
		return fmt.Errorf("two_peak_range must have 2 entries [lowX, highX], got %d", len(*c.TwoPeakRange))
	}
	if c.BackgroundFrames != nil && *c.BackgroundFrames < 1 {
		return fmt.Errorf("background_frames must be at least 1, got %d", *c.BackgroundFrames)
	}
	if c.ErrorWindow != nil && *c.ErrorWindow < 1 {
		return fmt.Errorf("error_window must be at least 1, got %d", *c.ErrorWindow)
	}
	return nil
}

func rectFromSlice(v []int) frame.Rect {
	return frame.Rect{LowX: v[0], HighX: v[1], LowY: v[2], HighY: v[3]}
}

// GetFilterByThreshold returns the filter_by_threshold value or the default.
func (c *Config) GetFilterByThreshold() bool {
	if c.FilterByThreshold == nil {
		return false
	}
	return *c.FilterByThreshold
}

// GetImageThreshold returns the image_threshold value or the default.
func (c *Config) GetImageThreshold() float64 {
	if c.ImageThreshold == nil {
		return 0
	}
	return *c.ImageThreshold
}

// GetSubtractBackground returns the subtract_background value or the default.
func (c *Config) GetSubtractBackground() bool {
	if c.SubtractBackground == nil {
		return false
	}
	return *c.SubtractBackground
}

// GetSubtractPedestal returns the subtract_pedestal value or the default.
func (c *Config) GetSubtractPedestal() bool {
	if c.SubtractPedestal == nil {
		return false
	}
	return *c.SubtractPedestal
}

// GetBackgroundFrames returns the background_frames value or the default.
func (c *Config) GetBackgroundFrames() int {
	if c.BackgroundFrames == nil {
		return 10
	}
	return *c.BackgroundFrames
}

// GetBackgroundOffset returns the background_offset value or the default.
func (c *Config) GetBackgroundOffset() float64 {
	if c.BackgroundOffset == nil {
		return 0
	}
	return *c.BackgroundOffset
}

// GetDoMinMaxMean returns the do_min_max_mean value or the default.
func (c *Config) GetDoMinMaxMean() bool {
	if c.DoMinMaxMean == nil {
		return true
	}
	return *c.DoMinMaxMean
}

// GetDoHistogram returns the do_histogram value or the default.
func (c *Config) GetDoHistogram() bool {
	if c.DoHistogram == nil {
		return false
	}
	return *c.DoHistogram
}

// GetDoProjections returns the do_projections value or the default.
func (c *Config) GetDoProjections() bool {
	if c.DoProjections == nil {
		return true
	}
	return *c.DoProjections
}

// GetDoCentroid returns the do_centroid value or the default.
func (c *Config) GetDoCentroid() bool {
	if c.DoCentroid == nil {
		return true
	}
	return *c.DoCentroid
}

// GetDoFit1D returns the do_1d_fit value or the default.
func (c *Config) GetDoFit1D() bool {
	if c.DoFit1D == nil {
		return false
	}
	return *c.DoFit1D
}

// GetDoFit2D returns the do_2d_fit value or the default.
func (c *Config) GetDoFit2D() bool {
	if c.DoFit2D == nil {
		return false
	}
	return *c.DoFit2D
}

// GetDoIntegration returns the do_integration value or the default.
func (c *Config) GetDoIntegration() bool {
	if c.DoIntegration == nil {
		return false
	}
	return *c.DoIntegration
}

// GetHistogramBins returns the histogram_bins value or the default.
func (c *Config) GetHistogramBins() int {
	if c.HistogramBins == nil {
		return 256
	}
	return *c.HistogramBins
}

// GetAbsolutePixelThreshold returns the absolute_pixel_threshold value or the default.
func (c *Config) GetAbsolutePixelThreshold() float64 {
	if c.AbsolutePixelThreshold == nil {
		return 0
	}
	return *c.AbsolutePixelThreshold
}

// GetRelativePixelThreshold returns the relative_pixel_threshold value or the default.
func (c *Config) GetRelativePixelThreshold() float64 {
	if c.RelativePixelThreshold == nil {
		return 0.1
	}
	return *c.RelativePixelThreshold
}

// GetCentroidRangeMode returns the centroid_range_mode value or the default.
func (c *Config) GetCentroidRangeMode() string {
	if c.CentroidRangeMode == nil {
		return RangeFull
	}
	return *c.CentroidRangeMode
}

// GetCentroidRange returns the user-defined centroid rectangle, or the
// full-range sentinel when unset.
func (c *Config) GetCentroidRange() frame.Rect {
	if c.CentroidRange == nil {
		return frame.FullRange
	}
	return rectFromSlice(*c.CentroidRange)
}

// GetAbsolutePositions returns the absolute_positions value or the default.
func (c *Config) GetAbsolutePositions() bool {
	if c.AbsolutePositions == nil {
		return true
	}
	return *c.AbsolutePositions
}

// GetFitRangeMode returns the fit_range_mode value or the default.
func (c *Config) GetFitRangeMode() string {
	if c.FitRangeMode == nil {
		return RangeAuto
	}
	return *c.FitRangeMode
}

// GetFitRange returns the user-defined fit rectangle, or the full-range
// sentinel when unset.
func (c *Config) GetFitRange() frame.Rect {
	if c.FitRange == nil {
		return frame.FullRange
	}
	return rectFromSlice(*c.FitRange)
}

// GetRangeForAuto returns the range_for_auto value or the default.
func (c *Config) GetRangeForAuto() float64 {
	if c.RangeForAuto == nil {
		return 3.0
	}
	return *c.RangeForAuto
}

// GetEnablePolynomial returns the enable_polynomial value or the default.
func (c *Config) GetEnablePolynomial() bool {
	if c.EnablePolynomial == nil {
		return false
	}
	return *c.EnablePolynomial
}

// GetGauss1DSeedPolicy returns the gauss1d_start_values value or the default.
func (c *Config) GetGauss1DSeedPolicy() string {
	if c.Gauss1DSeedPolicy == nil {
		return SeedRawPeak
	}
	return *c.Gauss1DSeedPolicy
}

// GetDoGaussRotation returns the do_gauss_rotation value or the default.
func (c *Config) GetDoGaussRotation() bool {
	if c.DoGaussRotation == nil {
		return false
	}
	return *c.DoGaussRotation
}

// GetDoTwoPeak returns the do_two_peak value or the default.
func (c *Config) GetDoTwoPeak() bool {
	if c.DoTwoPeak == nil {
		return false
	}
	return *c.DoTwoPeak
}

// GetTwoPeakZeroPoint returns the two_peak_zero_point value or the default.
func (c *Config) GetTwoPeakZeroPoint() int {
	if c.TwoPeakZeroPoint == nil {
		return 0
	}
	return *c.TwoPeakZeroPoint
}

// GetTwoPeakRange returns the user-defined [lowX, highX] column span for
// the two-peak search, or the full-range sentinel when unset or [0, 0].
func (c *Config) GetTwoPeakRange() frame.Span {
	if c.TwoPeakRange == nil {
		return frame.Span{}
	}
	r := *c.TwoPeakRange
	return frame.Span{Low: r[0], High: r[1]}
}

// GetIntegrationRegion returns the integration rectangle, or the full-range
// sentinel when unset.
func (c *Config) GetIntegrationRegion() frame.Rect {
	if c.IntegrationRegion == nil {
		return frame.FullRange
	}
	return rectFromSlice(*c.IntegrationRegion)
}

// GetPixelSize returns the pixel_size value or the default.
func (c *Config) GetPixelSize() float64 {
	if c.PixelSize == nil {
		return 0
	}
	return *c.PixelSize
}

// GetErrorWindow returns the error_window value or the default.
func (c *Config) GetErrorWindow() int {
	if c.ErrorWindow == nil {
		return 100
	}
	return *c.ErrorWindow
}

// GetErrorThreshold returns the error_threshold value or the default.
func (c *Config) GetErrorThreshold() float64 {
	if c.ErrorThreshold == nil {
		return 0.1
	}
	return *c.ErrorThreshold
}

// GetErrorEpsilon returns the error_epsilon value or the default.
func (c *Config) GetErrorEpsilon() float64 {
	if c.ErrorEpsilon == nil {
		return 0.01
	}
	return *c.ErrorEpsilon
}
