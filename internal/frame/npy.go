package frame

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// NumPy ".npy" format, version 1.0. Only the subset the camera stack
// produces is supported: C-order arrays, one or two dimensions, little-endian
// (or single-byte) numeric dtypes. Reference frames written by the Python
// tooling with numpy.save load unchanged.

var npyMagic = []byte("\x93NUMPY")

// npyDecoders maps a dtype descr to an element size and a decoder.
var npyDecoders = map[string]struct {
	size   int
	decode func(b []byte) float64
}{
	"<f8": {8, func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }},
	"<f4": {4, func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }},
	"<u2": {2, func(b []byte) float64 { return float64(binary.LittleEndian.Uint16(b)) }},
	"<i2": {2, func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) }},
	"<u4": {4, func(b []byte) float64 { return float64(binary.LittleEndian.Uint32(b)) }},
	"<i4": {4, func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) }},
	"|u1": {1, func(b []byte) float64 { return float64(b[0]) }},
	"|i1": {1, func(b []byte) float64 { return float64(int8(b[0])) }},
}

// ReadNPY decodes a version 1.0 .npy array into a Frame. A one-dimensional
// array becomes a single-row frame (a spectrum).
func ReadNPY(r io.Reader) (*Frame, error) {
	head := make([]byte, 10)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read npy preamble: %w", err)
	}
	if string(head[:6]) != string(npyMagic) {
		return nil, fmt.Errorf("not an npy file (bad magic)")
	}
	if head[6] != 1 {
		return nil, fmt.Errorf("unsupported npy version %d.%d", head[6], head[7])
	}
	hlen := int(binary.LittleEndian.Uint16(head[8:10]))
	hdr := make([]byte, hlen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("read npy header: %w", err)
	}

	descr, fortran, shape, err := parseNPYHeader(string(hdr))
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, fmt.Errorf("fortran-order npy arrays are not supported")
	}

	var w, h int
	switch len(shape) {
	case 1:
		w, h = shape[0], 1
	case 2:
		h, w = shape[0], shape[1]
	default:
		return nil, fmt.Errorf("unsupported npy rank %d", len(shape))
	}

	dec, ok := npyDecoders[descr]
	if !ok {
		return nil, fmt.Errorf("unsupported npy dtype %q", descr)
	}

	f, err := New(w, h)
	if err != nil {
		return nil, fmt.Errorf("npy shape %v: %w", shape, err)
	}
	buf := make([]byte, w*h*dec.size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read npy data: %w", err)
	}
	for i := range f.Pix {
		f.Pix[i] = dec.decode(buf[i*dec.size:])
	}
	return f, nil
}

// WriteNPY encodes the frame as a version 1.0 .npy array of float64.
// Spectra are written as one-dimensional arrays.
func WriteNPY(w io.Writer, f *Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	var shape string
	if f.IsSpectrum() {
		shape = fmt.Sprintf("(%d,)", f.Width)
	} else {
		shape = fmt.Sprintf("(%d, %d)", f.Height, f.Width)
	}
	hdr := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': %s, }", shape)
	// Pad so the data section starts on a 64-byte boundary, newline-terminated.
	total := 10 + len(hdr) + 1
	pad := (64 - total%64) % 64
	hdr = hdr + strings.Repeat(" ", pad) + "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(hdr)))
	if _, err := w.Write(hlen[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, hdr); err != nil {
		return err
	}

	buf := make([]byte, 8*len(f.Pix))
	for i, v := range f.Pix {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	_, err := w.Write(buf)
	return err
}

// parseNPYHeader extracts descr, fortran_order and shape from the python
// dict literal in the npy header.
func parseNPYHeader(h string) (descr string, fortran bool, shape []int, err error) {
	descr, err = npyHeaderValue(h, "'descr':")
	if err != nil {
		return "", false, nil, err
	}
	descr = strings.Trim(descr, "'\" ")

	order, err := npyHeaderValue(h, "'fortran_order':")
	if err != nil {
		return "", false, nil, err
	}
	fortran = strings.TrimSpace(order) == "True"

	i := strings.Index(h, "'shape':")
	if i < 0 {
		return "", false, nil, fmt.Errorf("npy header missing shape")
	}
	open := strings.Index(h[i:], "(")
	close := strings.Index(h[i:], ")")
	if open < 0 || close < 0 || close < open {
		return "", false, nil, fmt.Errorf("malformed npy shape in %q", h)
	}
	for _, part := range strings.Split(h[i+open+1:i+close], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return "", false, nil, fmt.Errorf("malformed npy shape element %q", part)
		}
		shape = append(shape, n)
	}
	if len(shape) == 0 {
		return "", false, nil, fmt.Errorf("empty npy shape")
	}
	return descr, fortran, shape, nil
}

func npyHeaderValue(h, key string) (string, error) {
	i := strings.Index(h, key)
	if i < 0 {
		return "", fmt.Errorf("npy header missing %s", key)
	}
	rest := h[i+len(key):]
	j := strings.IndexAny(rest, ",}")
	if j < 0 {
		return "", fmt.Errorf("malformed npy header near %s", key)
	}
	return strings.TrimSpace(rest[:j]), nil
}
