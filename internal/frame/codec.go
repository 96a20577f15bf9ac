package frame

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// Reference frames can be persisted in three formats, selected by file
// extension: ".npy" (NumPy array), ".raw" (bare little-endian float64,
// shape supplied by the caller), and ".tif"/".tiff" (16-bit grayscale TIFF).

// Load reads a reference frame from path, dispatching on the extension.
// For ".raw" files the expected dimensions must be given; they are ignored
// for the self-describing formats.
func Load(path string, width, height int) (*Frame, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference %s: %w", path, err)
	}
	defer fd.Close()

	switch normalizeExt(path) {
	case ".npy":
		return ReadNPY(fd)
	case ".raw":
		return ReadRaw(fd, width, height)
	case ".tif", ".tiff":
		return ReadTIFF(fd)
	default:
		return nil, fmt.Errorf("unsupported reference file type %q", filepath.Ext(path))
	}
}

// Save writes the frame to path, dispatching on the extension as Load does.
func Save(path string, f *Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	fd, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create reference %s: %w", path, err)
	}
	defer fd.Close()

	switch normalizeExt(path) {
	case ".npy":
		err = WriteNPY(fd, f)
	case ".raw":
		err = WriteRaw(fd, f)
	case ".tif", ".tiff":
		err = WriteTIFF(fd, f)
	default:
		return fmt.Errorf("unsupported reference file type %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("write reference %s: %w", path, err)
	}
	return fd.Close()
}

func normalizeExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// ReadRaw decodes a bare little-endian float64 array. Raw files carry no
// shape, so the expected dimensions come from the caller (in practice, the
// shape of the current frame, as the Python tooling did).
func ReadRaw(r io.Reader, width, height int) (*Frame, error) {
	f, err := New(width, height)
	if err != nil {
		return nil, fmt.Errorf("raw reference needs a known shape: %w", err)
	}
	buf := make([]byte, 8*len(f.Pix))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read raw data (%dx%d): %w", width, height, err)
	}
	for i := range f.Pix {
		f.Pix[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return f, nil
}

// WriteRaw encodes the pixel values as bare little-endian float64.
func WriteRaw(w io.Writer, f *Frame) error {
	buf := make([]byte, 8*len(f.Pix))
	for i, v := range f.Pix {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	_, err := w.Write(buf)
	return err
}

// ReadTIFF decodes a grayscale TIFF. Non-gray images are converted through
// their gray component.
func ReadTIFF(r io.Reader) (*Frame, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode tiff: %w", err)
	}
	b := img.Bounds()
	f, err := New(b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	switch im := img.(type) {
	case *image.Gray:
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				f.Set(x, y, float64(im.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	case *image.Gray16:
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				f.Set(x, y, float64(im.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	default:
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				f.Set(x, y, float64(g.Y))
			}
		}
	}
	return f, nil
}

// WriteTIFF encodes the frame as 16-bit grayscale. Values outside [0,65535]
// are clamped; fractional values are truncated. Callers holding corrected
// (floating) frames that must round-trip exactly should prefer npy.
func WriteTIFF(w io.Writer, f *Frame) error {
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			v := f.At(x, y)
			if v < 0 {
				v = 0
			} else if v > 65535 {
				v = 65535
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
}
