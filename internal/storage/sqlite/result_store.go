package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/European-XFEL/imageProcessor/internal/pipeline"
)

// FrameResult is the persisted summary of one processed frame. Stage
// fields are nil when the stage did not run.
type FrameResult struct {
	ResultID  string `json:"result_id"`
	CreatedAt int64  `json:"created_at"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`

	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Mean *float64 `json:"mean,omitempty"`

	CentroidX  *float64 `json:"centroid_x,omitempty"`
	CentroidY  *float64 `json:"centroid_y,omitempty"`
	CentroidSX *float64 `json:"centroid_sx,omitempty"`
	CentroidSY *float64 `json:"centroid_sy,omitempty"`

	FitXStatus *int     `json:"fit_x_status,omitempty"`
	FitXCenter *float64 `json:"fit_x_center,omitempty"`
	FitXSigma  *float64 `json:"fit_x_sigma,omitempty"`
	FitYStatus *int     `json:"fit_y_status,omitempty"`
	FitYCenter *float64 `json:"fit_y_center,omitempty"`
	FitYSigma  *float64 `json:"fit_y_sigma,omitempty"`

	Fit2DStatus *int     `json:"fit2d_status,omitempty"`
	Fit2DX      *float64 `json:"fit2d_x,omitempty"`
	Fit2DY      *float64 `json:"fit2d_y,omitempty"`
	Fit2DSX     *float64 `json:"fit2d_sx,omitempty"`
	Fit2DSY     *float64 `json:"fit2d_sy,omitempty"`
	Fit2DTheta  *float64 `json:"fit2d_theta,omitempty"`

	BeamWidth  float64 `json:"beam_width"`
	BeamHeight float64 `json:"beam_height"`

	RegionIntegral *float64 `json:"region_integral,omitempty"`
	RegionMean     *float64 `json:"region_mean,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// NewFrameResult flattens a pipeline output into its persisted form.
func NewFrameResult(out *pipeline.Output) *FrameResult {
	r := &FrameResult{
		CreatedAt:  out.Time.UnixNano(),
		Width:      out.Width,
		Height:     out.Height,
		BeamWidth:  out.BeamWidth,
		BeamHeight: out.BeamHeight,
		Errors:     out.Errors,
	}
	if s := out.Stats; s != nil {
		r.Min, r.Max, r.Mean = &s.Min, &s.Max, &s.Mean
	}
	if c := out.Centroid; c != nil {
		r.CentroidX, r.CentroidY = &c.X0, &c.Y0
		r.CentroidSX, r.CentroidSY = &c.SigmaX, &c.SigmaY
	}
	if f := out.FitX; f != nil {
		st := int(f.Status)
		r.FitXStatus, r.FitXCenter, r.FitXSigma = &st, &f.Center, &f.Sigma
	}
	if f := out.FitY; f != nil {
		st := int(f.Status)
		r.FitYStatus, r.FitYCenter, r.FitYSigma = &st, &f.Center, &f.Sigma
	}
	if f := out.Fit2D; f != nil {
		st := int(f.Status)
		r.Fit2DStatus = &st
		r.Fit2DX, r.Fit2DY = &f.CenterX, &f.CenterY
		r.Fit2DSX, r.Fit2DSY = &f.SigmaX, &f.SigmaY
		r.Fit2DTheta = &f.Theta
	}
	if reg := out.Region; reg != nil {
		r.RegionIntegral, r.RegionMean = &reg.Integral, &reg.Mean
	}
	return r
}

// ResultStore provides persistence for per-frame analysis summaries.
type ResultStore struct {
	db *sql.DB
}

// NewResultStore creates a ResultStore backed by the given database.
func NewResultStore(db *DB) *ResultStore {
	return &ResultStore{db: db.DB}
}

const frameResultColumns = `
	result_id, created_at, width, height,
	pix_min, pix_max, pix_mean,
	centroid_x, centroid_y, centroid_sx, centroid_sy,
	fit_x_status, fit_x_center, fit_x_sigma,
	fit_y_status, fit_y_center, fit_y_sigma,
	fit2d_status, fit2d_x, fit2d_y, fit2d_sx, fit2d_sy, fit2d_theta,
	beam_width, beam_height, region_integral, region_mean, errors_json`

// Insert persists one frame result. If ResultID is empty, a UUID is
// generated.
func (s *ResultStore) Insert(r *FrameResult) error {
	if r.ResultID == "" {
		r.ResultID = uuid.New().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixNano()
	}

	var errorsStr interface{}
	if len(r.Errors) > 0 {
		b, err := json.Marshal(r.Errors)
		if err != nil {
			return fmt.Errorf("marshal errors: %w", err)
		}
		errorsStr = string(b)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO frame_results (`+frameResultColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ResultID, r.CreatedAt, r.Width, r.Height,
			r.Min, r.Max, r.Mean,
			r.CentroidX, r.CentroidY, r.CentroidSX, r.CentroidSY,
			r.FitXStatus, r.FitXCenter, r.FitXSigma,
			r.FitYStatus, r.FitYCenter, r.FitYSigma,
			r.Fit2DStatus, r.Fit2DX, r.Fit2DY, r.Fit2DSX, r.Fit2DSY, r.Fit2DTheta,
			r.BeamWidth, r.BeamHeight, r.RegionIntegral, r.RegionMean, errorsStr,
		)
		return err
	})
}

// Get returns a single result by ID.
func (s *ResultStore) Get(resultID string) (*FrameResult, error) {
	row := s.db.QueryRow(`
		SELECT `+frameResultColumns+`
		FROM frame_results
		WHERE result_id = ?`, resultID)
	r, err := scanFrameResult(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("result %s not found", resultID)
		}
		return nil, fmt.Errorf("scan result: %w", err)
	}
	return r, nil
}

// ListRecent returns the most recent results, newest first.
func (s *ResultStore) ListRecent(limit int) ([]*FrameResult, error) {
	rows, err := s.db.Query(`
		SELECT `+frameResultColumns+`
		FROM frame_results
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []*FrameResult
	for rows.Next() {
		r, err := scanFrameResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// DeleteBefore removes results older than the given time and returns the
// number deleted, for size-capped retention.
func (s *ResultStore) DeleteBefore(cutoff time.Time) (int64, error) {
	var affected int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM frame_results WHERE created_at < ?`, cutoff.UnixNano())
		if err != nil {
			return fmt.Errorf("delete results: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFrameResult(row rowScanner) (*FrameResult, error) {
	var r FrameResult
	var errorsStr sql.NullString
	err := row.Scan(
		&r.ResultID, &r.CreatedAt, &r.Width, &r.Height,
		&r.Min, &r.Max, &r.Mean,
		&r.CentroidX, &r.CentroidY, &r.CentroidSX, &r.CentroidSY,
		&r.FitXStatus, &r.FitXCenter, &r.FitXSigma,
		&r.FitYStatus, &r.FitYCenter, &r.FitYSigma,
		&r.Fit2DStatus, &r.Fit2DX, &r.Fit2DY, &r.Fit2DSX, &r.Fit2DSY, &r.Fit2DTheta,
		&r.BeamWidth, &r.BeamHeight, &r.RegionIntegral, &r.RegionMean, &errorsStr,
	)
	if err != nil {
		return nil, err
	}
	if errorsStr.Valid {
		if err := json.Unmarshal([]byte(errorsStr.String), &r.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors: %w", err)
		}
	}
	return &r, nil
}
