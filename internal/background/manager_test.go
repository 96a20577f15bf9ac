package background

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/European-XFEL/imageProcessor/internal/frame"
)

func makeFrame(t *testing.T, w, h int, fill float64) *frame.Frame {
	t.Helper()
	f, err := frame.New(w, h)
	require.NoError(t, err)
	for i := range f.Pix {
		f.Pix[i] = fill
	}
	return f
}

func TestSubtractWithoutReference(t *testing.T) {
	m := NewManager()
	f := makeFrame(t, 4, 4, 10)

	err := m.Subtract(f)
	require.ErrorIs(t, err, ErrNoReference)
	assert.Equal(t, 10.0, f.Pix[0], "frame must be untouched on error")
}

func TestCaptureAverages(t *testing.T) {
	m := NewManager()
	m.Capture(3)
	require.True(t, m.Capturing())

	require.False(t, m.Observe(makeFrame(t, 4, 2, 1)))
	require.False(t, m.Observe(makeFrame(t, 4, 2, 2)))
	require.True(t, m.Observe(makeFrame(t, 4, 2, 6)))
	require.False(t, m.Capturing())

	ref := m.Reference()
	require.NotNil(t, ref)
	assert.Equal(t, 3.0, ref.Pix[0])

	// Frames observed with no capture armed are ignored.
	require.False(t, m.Observe(makeFrame(t, 4, 2, 100)))
	assert.Equal(t, 3.0, m.Reference().Pix[0])
}

func TestCaptureRestartsOnShapeChange(t *testing.T) {
	m := NewManager()
	m.Capture(2)
	require.False(t, m.Observe(makeFrame(t, 4, 4, 50)))
	require.True(t, m.Observe(makeFrame(t, 8, 8, 7)))

	ref := m.Reference()
	require.NotNil(t, ref)
	assert.Equal(t, 8, ref.Width)
	assert.Equal(t, 7.0, ref.Pix[0], "restarted capture must only average the new shape")
}

func TestSubtractClampsAndAppliesOffset(t *testing.T) {
	m := NewManager()
	m.Capture(1)
	m.Observe(makeFrame(t, 2, 2, 8))
	m.SetOffset(5)

	// The offset lifts the image before the reference comes off, so
	// pixels near the dark level survive instead of clipping to zero.
	f := makeFrame(t, 2, 2, 10)
	f.Pix[3] = 2 // 2 + 5 - 8 < 0
	require.NoError(t, m.Subtract(f))
	assert.Equal(t, 7.0, f.Pix[0])
	assert.Equal(t, 0.0, f.Pix[3], "negative results clamp to zero")
}

func TestSubtractShapeMismatch(t *testing.T) {
	m := NewManager()
	m.Capture(1)
	m.Observe(makeFrame(t, 2, 2, 5))

	err := m.Subtract(makeFrame(t, 3, 3, 5))
	require.Error(t, err)
}

func TestResetDropsReference(t *testing.T) {
	m := NewManager()
	m.Capture(1)
	m.Observe(makeFrame(t, 2, 2, 5))
	require.True(t, m.HasReference())

	m.Reset()
	assert.False(t, m.HasReference())
	assert.Nil(t, m.Reference())
}

func TestLoadSaveRoundTrip(t *testing.T) {
	m := NewManager()
	m.Capture(1)
	src := makeFrame(t, 6, 3, 0)
	for i := range src.Pix {
		src.Pix[i] = float64(i)
	}
	m.Observe(src)

	path := filepath.Join(t.TempDir(), "bkg.npy")
	require.NoError(t, m.Save(path))

	other := NewManager()
	require.NoError(t, other.Load(path, 0, 0))
	ref := other.Reference()
	require.NotNil(t, ref)
	assert.Equal(t, 6, ref.Width)
	assert.Equal(t, 3, ref.Height)
	assert.Equal(t, src.Pix, ref.Pix)
}

func TestLoadFailureKeepsReference(t *testing.T) {
	m := NewManager()
	m.Capture(1)
	m.Observe(makeFrame(t, 2, 2, 5))

	err := m.Load(filepath.Join(t.TempDir(), "missing.npy"), 0, 0)
	require.Error(t, err)
	require.True(t, m.HasReference())
	assert.Equal(t, 5.0, m.Reference().Pix[0])
}

func TestSaveWithoutReference(t *testing.T) {
	m := NewManager()
	err := m.Save(filepath.Join(t.TempDir(), "bkg.npy"))
	require.ErrorIs(t, err, ErrNoReference)
}
