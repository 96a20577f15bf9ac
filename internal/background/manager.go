// Package background holds the reference frame used for background
// subtraction and its lifecycle commands: capture from the live stream,
// reset, and load/save through the frame codecs.
package background

import (
	"errors"
	"fmt"
	"sync"

	"github.com/European-XFEL/imageProcessor/internal/frame"
)

// ErrNoReference is returned by Subtract when subtraction is requested but
// no reference frame is held.
var ErrNoReference = errors.New("no background reference held")

// Manager owns the shared background reference. Reads happen on every
// frame; writes only on explicit commands, so a read/write mutex keeps the
// per-frame path cheap.
type Manager struct {
	mu  sync.RWMutex
	ref *frame.Frame

	// offset is added to the input image before the reference is
	// subtracted, so a reference hotter than the live dark level does
	// not clip the whole result to zero.
	offset float64

	// Averaging state for the capture command. While remaining > 0, each
	// observed frame is accumulated; the reference is replaced when the
	// count is reached.
	accum     []float64
	accumW    int
	accumH    int
	collected int
	remaining int
}

func NewManager() *Manager {
	return &Manager{}
}

// SetOffset sets the additive offset applied to the image on every
// subtraction.
func (m *Manager) SetOffset(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = v
}

// HasReference reports whether a reference frame is currently held.
func (m *Manager) HasReference() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ref != nil
}

// Reference returns a copy of the held reference, or nil when none is held.
func (m *Manager) Reference() *frame.Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ref == nil {
		return nil
	}
	return m.ref.Clone()
}

// SetReference replaces the held reference with a copy of f. A nil f is
// equivalent to Reset for the reference but leaves any armed capture alone.
func (m *Manager) SetReference(f *frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f == nil {
		m.ref = nil
		return
	}
	m.ref = f.Clone()
}

// Reset drops the held reference and cancels any capture in progress.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ref = nil
	m.accum = nil
	m.remaining = 0
	m.collected = 0
}

// Capture arms the manager to average the next n observed frames into a
// new reference. n < 1 is treated as 1 (use the very next frame).
func (m *Manager) Capture(n int) {
	if n < 1 {
		n = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accum = nil
	m.collected = 0
	m.remaining = n
}

// Capturing reports whether a capture is in progress.
func (m *Manager) Capturing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remaining > 0
}

// Observe feeds one live frame to an armed capture. It returns true when
// this frame completed the capture and the reference was replaced. Frames
// observed while no capture is armed are ignored.
func (m *Manager) Observe(f *frame.Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remaining == 0 {
		return false
	}
	if m.accum == nil {
		m.accum = make([]float64, len(f.Pix))
		m.accumW = f.Width
		m.accumH = f.Height
	} else if f.Width != m.accumW || f.Height != m.accumH {
		// Shape changed mid-capture: start over from this frame.
		m.accum = make([]float64, len(f.Pix))
		m.accumW = f.Width
		m.accumH = f.Height
		m.collected = 0
	}
	for i, v := range f.Pix {
		m.accum[i] += v
	}
	m.collected++
	m.remaining--
	if m.remaining > 0 {
		return false
	}

	ref, _ := frame.New(m.accumW, m.accumH)
	inv := 1 / float64(m.collected)
	for i, v := range m.accum {
		ref.Pix[i] = v * inv
	}
	m.ref = ref
	m.accum = nil
	m.collected = 0
	return true
}

// Subtract adds the offset to f and removes the reference in place,
// clamping negative results to zero. Returns ErrNoReference when no
// reference is held, or a shape error; f is untouched in either case.
func (m *Manager) Subtract(f *frame.Frame) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ref == nil {
		return ErrNoReference
	}
	if !m.ref.SameShape(f) {
		return fmt.Errorf("background shape %dx%d does not match frame %dx%d",
			m.ref.Width, m.ref.Height, f.Width, f.Height)
	}
	for i := range f.Pix {
		v := f.Pix[i] + m.offset - m.ref.Pix[i]
		if v < 0 {
			v = 0
		}
		f.Pix[i] = v
	}
	return nil
}

// Load replaces the reference with a frame read from path. The width and
// height hints are only needed for the raw format. The held reference is
// unchanged on error.
func (m *Manager) Load(path string, width, height int) error {
	f, err := frame.Load(path, width, height)
	if err != nil {
		return fmt.Errorf("load background: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ref = f
	return nil
}

// Save writes the held reference to path in the format implied by its
// extension.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	ref := m.ref
	if ref != nil {
		ref = ref.Clone()
	}
	m.mu.RUnlock()
	if ref == nil {
		return ErrNoReference
	}
	if err := frame.Save(path, ref); err != nil {
		return fmt.Errorf("save background: %w", err)
	}
	return nil
}
