package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/European-XFEL/imageProcessor/internal/correlator"
	"github.com/European-XFEL/imageProcessor/internal/pipeline"
	sqlite "github.com/European-XFEL/imageProcessor/internal/storage/sqlite"
)

// WebServer exposes the HTTP interface for monitoring the analysis
// pipeline: health and stats endpoints, the latest frame output, chart
// pages, and the background-reference commands.
type WebServer struct {
	address    string
	proc       *pipeline.Processor
	sampler    *Sampler
	results    *sqlite.ResultStore
	snapshots  *sqlite.SnapshotStore
	correlator *correlator.Analyzer
	server     *http.Server

	mu     sync.Mutex
	latest *pipeline.Output
}

// WebServerConfig contains configuration options for the web server. The
// stores may be nil when the process runs without a database, and the
// correlator is nil outside autocorrelator mode.
type WebServerConfig struct {
	Address    string
	Processor  *pipeline.Processor
	Sampler    *Sampler
	Results    *sqlite.ResultStore
	Snapshots  *sqlite.SnapshotStore
	Correlator *correlator.Analyzer
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:    config.Address,
		proc:       config.Processor,
		sampler:    config.Sampler,
		results:    config.Results,
		snapshots:  config.Snapshots,
		correlator: config.Correlator,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// RecordOutput caches the most recent frame output for the latest-output
// endpoint and the chart pages. Called by the frame loop after each
// processed frame.
func (ws *WebServer) RecordOutput(out *pipeline.Output) {
	ws.mu.Lock()
	ws.latest = out
	ws.mu.Unlock()
}

// LatestOutput returns the most recently recorded frame output, or nil.
func (ws *WebServer) LatestOutput() *pipeline.Output {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.latest
}

// Start begins the HTTP server and blocks until the context is cancelled,
// then shuts the server down.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		pipeline.Opsf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pipeline.Opsf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	pipeline.Opsf("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		pipeline.Opsf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			return fmt.Errorf("force close: %w", err)
		}
	}
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/output/latest", ws.handleLatestOutput)
	mux.HandleFunc("/api/results", ws.handleResults)
	mux.HandleFunc("/api/snapshots", ws.handleSnapshots)
	mux.HandleFunc("/api/commands/reset-counters", ws.handleResetCounters)
	mux.HandleFunc("/api/commands/capture-background", ws.handleCaptureBackground)
	mux.HandleFunc("/api/background/save", ws.handleBackgroundSave)
	mux.HandleFunc("/api/background/load", ws.handleBackgroundLoad)
	mux.HandleFunc("/api/background/snapshot", ws.handleBackgroundSnapshot)
	mux.HandleFunc("/api/background/restore", ws.handleBackgroundRestore)
	mux.HandleFunc("/api/correlator/latest", ws.handleCorrelatorLatest)
	mux.HandleFunc("/api/correlator/use-as-calibration-1", ws.handleCorrelatorCalibrationImage)
	mux.HandleFunc("/api/correlator/use-as-calibration-2", ws.handleCorrelatorCalibrationImage)
	mux.HandleFunc("/api/correlator/calibrate", ws.handleCorrelatorCalibrate)
	mux.HandleFunc("/charts/timings", ws.handleTimingChart)
	mux.HandleFunc("/charts/profile", ws.handleProfileChart)
	mux.HandleFunc("/plots/profile.png", ws.handleProfilePlot)

	return mux
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleHealth handles the health check endpoint.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "imageProcessor", "timestamp": "%s"}`,
		time.Now().UTC().Format(time.RFC3339))
}

// handleStats returns the latest counter snapshot plus uptime.
func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap := ws.sampler.Latest()
	if snap == nil {
		snap = &StatsSnapshot{Timestamp: time.Now(), StageMicros: map[string]float64{}}
	}
	ws.writeJSON(w, struct {
		*StatsSnapshot
		Uptime string `json:"uptime"`
	}{snap, ws.sampler.Uptime().Round(time.Second).String()})
}

// handleLatestOutput returns the full output record of the most recently
// processed frame.
func (ws *WebServer) handleLatestOutput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := ws.LatestOutput()
	if out == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no frame processed yet")
		return
	}
	ws.writeJSON(w, out)
}

// handleResults returns the last N persisted frame results.
// Query params: limit (optional, default 10, max 100).
func (ws *WebServer) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if ws.results == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	rows, err := ws.results.ListRecent(limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list results: %v", err))
		return
	}
	ws.writeJSON(w, rows)
}

// handleSnapshots lists the persisted background snapshots, newest first.
func (ws *WebServer) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if ws.snapshots == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	snaps, err := ws.snapshots.List()
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list snapshots: %v", err))
		return
	}
	ws.writeJSON(w, snaps)
}

// handleResetCounters zeroes the rate and error counters.
func (ws *WebServer) handleResetCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ws.proc.ResetCounters()
	ws.writeJSON(w, map[string]string{"status": "counters reset"})
}

// handleCaptureBackground arms the background manager to average the next
// configured number of frames into a new reference.
func (ws *WebServer) handleCaptureBackground(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ws.proc.CaptureBackground()
	ws.writeJSON(w, map[string]interface{}{
		"status": "capture armed",
		"frames": ws.proc.Config().GetBackgroundFrames(),
	})
}

// handleBackgroundSave writes the held background reference to a file.
// Query params: path (required; format implied by extension).
func (ws *WebServer) handleBackgroundSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'path' parameter")
		return
	}
	if err := ws.proc.Background().Save(path); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("save background: %v", err))
		return
	}
	pipeline.Opsf("background reference saved to %s", path)
	ws.writeJSON(w, map[string]string{"status": "saved", "path": path})
}

// handleBackgroundLoad replaces the background reference from a file.
// Query params: path (required), width and height (raw format only).
func (ws *WebServer) handleBackgroundLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'path' parameter")
		return
	}
	width, _ := strconv.Atoi(r.URL.Query().Get("width"))
	height, _ := strconv.Atoi(r.URL.Query().Get("height"))
	if err := ws.proc.Background().Load(path, width, height); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load background: %v", err))
		return
	}
	pipeline.Opsf("background reference loaded from %s", path)
	ws.writeJSON(w, map[string]string{"status": "loaded", "path": path})
}

// handleBackgroundSnapshot persists the held background reference to the
// database. Query params: note (optional).
func (ws *WebServer) handleBackgroundSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if ws.snapshots == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	ref := ws.proc.Background().Reference()
	if ref == nil {
		ws.writeJSONError(w, http.StatusConflict, "no background reference held")
		return
	}
	id, err := ws.snapshots.Insert(ref, r.URL.Query().Get("note"))
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("insert snapshot: %v", err))
		return
	}
	pipeline.Opsf("background snapshot %s persisted (%dx%d)", id, ref.Width, ref.Height)
	ws.writeJSON(w, map[string]string{"status": "persisted", "snapshot_id": id})
}

// handleBackgroundRestore replaces the background reference with a
// persisted snapshot. Query params: snapshot_id (required).
func (ws *WebServer) handleBackgroundRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if ws.snapshots == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	id := r.URL.Query().Get("snapshot_id")
	if id == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'snapshot_id' parameter")
		return
	}
	f, err := ws.snapshots.Get(id)
	if err != nil {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("get snapshot: %v", err))
		return
	}
	ws.proc.Background().SetReference(f)
	pipeline.Opsf("background reference restored from snapshot %s", id)
	ws.writeJSON(w, map[string]string{"status": "restored", "snapshot_id": id})
}

// handleCorrelatorLatest returns the most recent autocorrelator
// measurement and the active calibration factor.
func (ws *WebServer) handleCorrelatorLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if ws.correlator == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "not running in autocorrelator mode")
		return
	}
	m := ws.correlator.Latest()
	if m == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no measurement yet")
		return
	}
	ws.writeJSON(w, struct {
		*correlator.Measurement
		Calibration float64 `json:"calibration_fs_per_pixel"`
	}{m, ws.correlator.CalibrationFactor()})
}

// handleCorrelatorCalibrationImage marks the latest measurement's peak as
// calibration point 1 or 2, depending on the route.
func (ws *WebServer) handleCorrelatorCalibrationImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if ws.correlator == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "not running in autocorrelator mode")
		return
	}
	var err error
	if strings.HasSuffix(r.URL.Path, "-1") {
		err = ws.correlator.UseAsCalibration1()
	} else {
		err = ws.correlator.UseAsCalibration2()
	}
	if err != nil {
		ws.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	ws.writeJSON(w, map[string]string{"status": "calibration point stored"})
}

// handleCorrelatorCalibrate derives the fs-per-pixel factor from the two
// stored calibration peaks. Query params: delay (required), unit ("fs"
// default, or "um").
func (ws *WebServer) handleCorrelatorCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if ws.correlator == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "not running in autocorrelator mode")
		return
	}
	delay, err := strconv.ParseFloat(r.URL.Query().Get("delay"), 64)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, "missing or invalid 'delay' parameter")
		return
	}
	unit := correlator.DelayUnit(r.URL.Query().Get("unit"))
	if unit == "" {
		unit = correlator.DelayFemtoseconds
	}
	if err := ws.correlator.Calibrate(delay, unit); err != nil {
		ws.writeJSONError(w, http.StatusConflict, fmt.Sprintf("calibrate: %v", err))
		return
	}
	pipeline.Opsf("autocorrelator calibrated: %.4f fs/pixel", ws.correlator.CalibrationFactor())
	ws.writeJSON(w, map[string]float64{"calibration_fs_per_pixel": ws.correlator.CalibrationFactor()})
}
