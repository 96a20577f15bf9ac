package pipeline

import (
	"sync"
	"time"
)

// Stage names used as timing keys, in pipeline order.
const (
	StageGate        = "gate"
	StageBackground  = "background"
	StagePedestal    = "pedestal"
	StageStats       = "stats"
	StageHistogram   = "histogram"
	StageProjections = "projections"
	StageCentroid    = "centroid"
	StageFitX        = "fit_x"
	StageFitY        = "fit_y"
	StageFit2D       = "fit_2d"
	StageIntegration = "integration"
	StageTwoPeak     = "two_peak"
)

// StageOrder lists the stage timing keys in execution order, for stable
// presentation.
var StageOrder = []string{
	StageGate, StageBackground, StagePedestal, StageStats, StageHistogram,
	StageProjections, StageCentroid, StageFitX, StageFitY, StageFit2D,
	StageIntegration, StageTwoPeak,
}

// TimingStats accumulates per-stage elapsed time across frames, drained by
// the 1 Hz sampler alongside the rate counters.
type TimingStats struct {
	mu      sync.Mutex
	elapsed map[string]time.Duration
	count   map[string]int64
}

func NewTimingStats() *TimingStats {
	return &TimingStats{
		elapsed: make(map[string]time.Duration),
		count:   make(map[string]int64),
	}
}

// Observe records one stage execution.
func (ts *TimingStats) Observe(stage string, d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.elapsed[stage] += d
	ts.count[stage]++
}

// SampleAverages returns the mean elapsed time per stage since the last
// sample and resets the accumulators. Stages that did not run are absent.
func (ts *TimingStats) SampleAverages() map[string]time.Duration {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	out := make(map[string]time.Duration, len(ts.elapsed))
	for stage, total := range ts.elapsed {
		if n := ts.count[stage]; n > 0 {
			out[stage] = total / time.Duration(n)
		}
	}
	ts.elapsed = make(map[string]time.Duration)
	ts.count = make(map[string]int64)
	return out
}
