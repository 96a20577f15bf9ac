package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/European-XFEL/imageProcessor/internal/frame"
	"github.com/European-XFEL/imageProcessor/internal/imgproc"
	"github.com/European-XFEL/imageProcessor/internal/pipeline"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrations(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.GreaterOrEqual(t, version, uint(1))

	// A second run must be a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestResultStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	store := NewResultStore(db)

	out := &pipeline.Output{
		Time:   time.Now(),
		Width:  100,
		Height: 80,
		Stats:  &imgproc.Stats{Min: 0, Max: 250, Mean: 12.5},
		Centroid: &imgproc.Centroid{
			X0: 50.2, Y0: 40.1, SigmaX: 5.3, SigmaY: 4.1,
		},
		BeamWidth:  21.2,
		BeamHeight: 16.4,
		Errors:     []string{"integration: region outside frame"},
	}
	r := NewFrameResult(out)
	require.NoError(t, store.Insert(r))
	require.NotEmpty(t, r.ResultID)

	got, err := store.Get(r.ResultID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Width)
	require.NotNil(t, got.Mean)
	assert.Equal(t, 12.5, *got.Mean)
	require.NotNil(t, got.CentroidX)
	assert.Equal(t, 50.2, *got.CentroidX)
	assert.Nil(t, got.FitXStatus, "fit that never ran must stay nil")
	assert.Equal(t, 21.2, got.BeamWidth)
	assert.Equal(t, out.Errors, got.Errors)
}

func TestResultStoreListRecent(t *testing.T) {
	db := openTestDB(t)
	store := NewResultStore(db)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		r := &FrameResult{
			CreatedAt: base.Add(time.Duration(i) * time.Second).UnixNano(),
			Width:     10, Height: 10,
		}
		require.NoError(t, store.Insert(r))
	}

	results, err := store.ListRecent(3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Greater(t, results[0].CreatedAt, results[1].CreatedAt)

	deleted, err := store.DeleteBefore(base.Add(3 * time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
}

func TestResultStoreGetMissing(t *testing.T) {
	db := openTestDB(t)
	store := NewResultStore(db)
	_, err := store.Get("no-such-id")
	require.Error(t, err)
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	store := NewSnapshotStore(db)

	f, err := frame.New(8, 6)
	require.NoError(t, err)
	for i := range f.Pix {
		f.Pix[i] = float64(i) * 0.5
	}

	id, err := store.Insert(f, "dark field before run 42")
	require.NoError(t, err)

	got, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, f.Width, got.Width)
	assert.Equal(t, f.Height, got.Height)
	assert.Equal(t, f.Pix, got.Pix)

	snaps, err := store.List()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "dark field before run 42", snaps[0].Note)

	require.NoError(t, store.Delete(id))
	_, err = store.Get(id)
	require.Error(t, err)
	require.Error(t, store.Delete(id))
}
