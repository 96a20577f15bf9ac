package main

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/European-XFEL/imageProcessor/internal/frame"
)

func TestNewFrameSourceValidation(t *testing.T) {
	_, err := newFrameSource("bogus", "", 0, 0)
	assert.Error(t, err)

	_, err = newFrameSource("replay", "", 0, 0)
	assert.Error(t, err)

	src, err := newFrameSource("synthetic", "", 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, src)
}

func TestSyntheticSourceProducesBeamFrames(t *testing.T) {
	src := newSyntheticSource(64, 48)

	f, err := src.Next()
	require.NoError(t, err)
	require.NoError(t, f.Validate())
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 48, f.Height)

	// A spot plus baseline noise: the peak must stand well clear of the
	// dimmest pixel.
	min, max := f.Pix[0], f.Pix[0]
	for _, v := range f.Pix {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	assert.Greater(t, max, min+500)

	// The spot drifts between frames.
	f2, err := src.Next()
	require.NoError(t, err)
	assert.NotEqual(t, f.Pix, f2.Pix)
}

func TestReplaySourceReadsDirectoryInOrder(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"a.npy", "b.npy"} {
		f, err := frame.New(4, 3)
		require.NoError(t, err)
		for j := range f.Pix {
			f.Pix[j] = float64(i*100 + j)
		}
		require.NoError(t, frame.Save(filepath.Join(dir, name), f))
	}

	src, err := newReplaySource(dir, 0, 0)
	require.NoError(t, err)

	first, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.Pix[0])

	second, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, 100.0, second.Pix[0])

	_, err = src.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReplaySourceRejectsEmptyDirectory(t *testing.T) {
	_, err := newReplaySource(t.TempDir(), 0, 0)
	assert.Error(t, err)
}
