package sqlite

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/European-XFEL/imageProcessor/internal/frame"
)

// Snapshot is a persisted background reference frame. Pixels are stored as
// a little-endian float64 blob.
type Snapshot struct {
	SnapshotID string `json:"snapshot_id"`
	CreatedAt  int64  `json:"created_at"`
	Note       string `json:"note,omitempty"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// SnapshotStore provides persistence for background references, so a
// known-good reference survives restarts and can be restored by ID.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a SnapshotStore backed by the given database.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db.DB}
}

// Insert persists a reference frame and returns the snapshot ID.
func (s *SnapshotStore) Insert(f *frame.Frame, note string) (string, error) {
	if err := f.Validate(); err != nil {
		return "", fmt.Errorf("invalid frame: %w", err)
	}
	id := uuid.New().String()
	blob := make([]byte, 8*len(f.Pix))
	for i, v := range f.Pix {
		binary.LittleEndian.PutUint64(blob[i*8:], math.Float64bits(v))
	}
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO background_snapshots (snapshot_id, created_at, note, width, height, pixels)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, time.Now().UnixNano(), note, f.Width, f.Height, blob,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// Get restores a snapshot's frame by ID.
func (s *SnapshotStore) Get(snapshotID string) (*frame.Frame, error) {
	row := s.db.QueryRow(`
		SELECT width, height, pixels
		FROM background_snapshots
		WHERE snapshot_id = ?`, snapshotID)

	var width, height int
	var blob []byte
	if err := row.Scan(&width, &height, &blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("snapshot %s not found", snapshotID)
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if len(blob) != 8*width*height {
		return nil, fmt.Errorf("snapshot %s: blob size %d does not match %dx%d",
			snapshotID, len(blob), width, height)
	}
	f, err := frame.New(width, height)
	if err != nil {
		return nil, err
	}
	for i := range f.Pix {
		f.Pix[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return f, nil
}

// List returns all snapshot records without pixel data, newest first.
func (s *SnapshotStore) List() ([]*Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT snapshot_id, created_at, note, width, height
		FROM background_snapshots
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		var sn Snapshot
		var note sql.NullString
		if err := rows.Scan(&sn.SnapshotID, &sn.CreatedAt, &note, &sn.Width, &sn.Height); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		sn.Note = note.String
		snaps = append(snaps, &sn)
	}
	return snaps, rows.Err()
}

// Delete removes a snapshot by ID.
func (s *SnapshotStore) Delete(snapshotID string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM background_snapshots WHERE snapshot_id = ?`, snapshotID)
		if err != nil {
			return fmt.Errorf("delete snapshot: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("snapshot %s not found", snapshotID)
		}
		return nil
	})
}
