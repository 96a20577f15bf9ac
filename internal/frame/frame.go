// Package frame provides the immutable pixel-buffer view the analysis
// pipeline operates on, together with the rectangular region type and the
// on-disk codecs (NumPy, raw, TIFF) used for reference frames.
package frame

import (
	"fmt"
	"math"
)

// Frame is a single camera frame: row-major pixel values plus the acquisition
// metadata needed to map ROI-local coordinates back to full-sensor ones.
// Pixel values are held as float64 so corrections never under- or overflow
// the source integer type. A Frame is owned by the caller for the duration of
// one pipeline pass and must not be mutated while a pass is in flight.
type Frame struct {
	Width  int
	Height int
	Pix    []float64

	// OffsetX/OffsetY are the sensor coordinates of the top-left pixel when
	// the frame is an ROI of a larger sensor. BinningX/BinningY are the
	// acquisition binning factors (1 when unbinned).
	OffsetX  int
	OffsetY  int
	BinningX int
	BinningY int
}

// New allocates a zeroed frame of the given dimensions with unit binning.
func New(width, height int) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}
	return &Frame{
		Width:    width,
		Height:   height,
		Pix:      make([]float64, width*height),
		BinningX: 1,
		BinningY: 1,
	}, nil
}

// FromPixels wraps an existing row-major pixel slice. The slice is not
// copied.
func FromPixels(width, height int, pix []float64) (*Frame, error) {
	f, err := New(width, height)
	if err != nil {
		return nil, err
	}
	if len(pix) != width*height {
		return nil, fmt.Errorf("pixel count %d does not match %dx%d", len(pix), width, height)
	}
	f.Pix = pix
	return f, nil
}

// Validate checks the Frame invariants: consistent pixel count and
// non-negative metadata.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height {
		return fmt.Errorf("pixel count %d does not match %dx%d", len(f.Pix), f.Width, f.Height)
	}
	if f.OffsetX < 0 || f.OffsetY < 0 {
		return fmt.Errorf("negative ROI offset (%d,%d)", f.OffsetX, f.OffsetY)
	}
	if f.BinningX < 0 || f.BinningY < 0 {
		return fmt.Errorf("negative binning (%d,%d)", f.BinningX, f.BinningY)
	}
	return nil
}

// At returns the pixel value at column x, row y. No bounds check.
func (f *Frame) At(x, y int) float64 { return f.Pix[y*f.Width+x] }

// Set writes the pixel value at column x, row y. No bounds check.
func (f *Frame) Set(x, y int, v float64) { f.Pix[y*f.Width+x] = v }

// Row returns a view (not a copy) of row y.
func (f *Frame) Row(y int) []float64 { return f.Pix[y*f.Width : (y+1)*f.Width] }

// IsSpectrum reports whether the frame is a 1D spectrum (a single row).
// Projection and 2D-fit stages are skipped for spectra.
func (f *Frame) IsSpectrum() bool { return f.Height == 1 }

// Clone returns a deep copy of the frame, metadata included.
func (f *Frame) Clone() *Frame {
	pix := make([]float64, len(f.Pix))
	copy(pix, f.Pix)
	c := *f
	c.Pix = pix
	return &c
}

// SensorX maps an ROI-local x coordinate to a full-sensor coordinate using
// offset and binning; binning of zero is treated as one.
func (f *Frame) SensorX(x float64) float64 {
	b := float64(f.BinningX)
	if b == 0 {
		b = 1
	}
	return b * (x + float64(f.OffsetX))
}

// SensorY maps an ROI-local y coordinate to a full-sensor coordinate.
func (f *Frame) SensorY(y float64) float64 {
	b := float64(f.BinningY)
	if b == 0 {
		b = 1
	}
	return b * (y + float64(f.OffsetY))
}

// Crop returns a copy of the sub-frame covered by r, with the offset
// metadata shifted so sensor coordinates are preserved. The rectangle is
// clipped to the frame first; a crop that clips to nothing is an error.
func (f *Frame) Crop(r Rect) (*Frame, error) {
	r = r.Resolve(f.Width, f.Height)
	if r.Dx() == 0 || r.Dy() == 0 {
		return nil, fmt.Errorf("crop %+v covers no pixels of a %dx%d frame", r, f.Width, f.Height)
	}
	c, err := New(r.Dx(), r.Dy())
	if err != nil {
		return nil, err
	}
	for y := 0; y < c.Height; y++ {
		src := f.Row(r.LowY + y)
		copy(c.Row(y), src[r.LowX:r.HighX])
	}
	c.OffsetX = f.OffsetX + r.LowX
	c.OffsetY = f.OffsetY + r.LowY
	c.BinningX = f.BinningX
	c.BinningY = f.BinningY
	return c, nil
}

// SameShape reports whether two frames have identical dimensions.
func (f *Frame) SameShape(g *Frame) bool {
	return g != nil && f.Width == g.Width && f.Height == g.Height
}

// Max returns the maximum pixel value, or -Inf for an empty frame.
func (f *Frame) Max() float64 {
	max := math.Inf(-1)
	for _, v := range f.Pix {
		if v > max {
			max = v
		}
	}
	return max
}

// Min returns the minimum pixel value, or +Inf for an empty frame.
func (f *Frame) Min() float64 {
	min := math.Inf(1)
	for _, v := range f.Pix {
		if v < min {
			min = v
		}
	}
	return min
}
