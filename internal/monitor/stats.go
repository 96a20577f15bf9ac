package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/European-XFEL/imageProcessor/internal/pipeline"
)

// StatsSnapshot is one sampling-interval view of pipeline health: frame
// rates in and out, the rolling error fraction, and per-stage average
// processing times in microseconds.
type StatsSnapshot struct {
	Timestamp     time.Time          `json:"timestamp"`
	InPerSec      float64            `json:"in_per_sec"`
	OutPerSec     float64            `json:"out_per_sec"`
	ErrorFraction float64            `json:"error_fraction"`
	ErrorWarning  bool               `json:"error_warning"`
	ErrorsTotal   int64              `json:"errors_total"`
	StageMicros   map[string]float64 `json:"stage_micros"`
}

// Sampler drains the processor's rate and timing counters on a fixed
// interval and keeps the latest snapshot for the web interface.
type Sampler struct {
	proc *pipeline.Processor

	mu        sync.Mutex
	latest    *StatsSnapshot
	startTime time.Time
}

// NewSampler creates a sampler over the given processor.
func NewSampler(proc *pipeline.Processor) *Sampler {
	return &Sampler{proc: proc, startTime: time.Now()}
}

// Run samples once per interval until the context is cancelled. Intended
// to be started as a goroutine alongside the frame loop.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample drains the counters into a fresh snapshot and returns it.
func (s *Sampler) Sample() *StatsSnapshot {
	snap := &StatsSnapshot{
		Timestamp:     time.Now(),
		InPerSec:      s.proc.InRate.Sample(),
		OutPerSec:     s.proc.OutRate.Sample(),
		ErrorFraction: s.proc.Errors.Fraction(),
		ErrorWarning:  s.proc.Errors.Warning(),
		ErrorsTotal:   s.proc.Errors.Total(),
		StageMicros:   make(map[string]float64),
	}
	for stage, avg := range s.proc.Timing.SampleAverages() {
		snap.StageMicros[stage] = float64(avg.Nanoseconds()) / 1e3
	}

	if snap.InPerSec > 0 || snap.OutPerSec > 0 {
		pipeline.Diagf("rates: in %.2f/s out %.2f/s errors %.1f%%",
			snap.InPerSec, snap.OutPerSec, snap.ErrorFraction*100)
	}
	if snap.ErrorWarning {
		pipeline.Opsf("error fraction %.1f%% over threshold", snap.ErrorFraction*100)
	}

	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
	return snap
}

// Latest returns a copy of the most recent snapshot, or nil before the
// first sample.
func (s *Sampler) Latest() *StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	snap := *s.latest
	return &snap
}

// Uptime returns the time since the sampler was created.
func (s *Sampler) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startTime)
}
