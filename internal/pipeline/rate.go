package pipeline

import (
	"sync"
	"time"
)

// RateCounter accumulates a monotonically increasing event count that a
// timer-driven sampler drains once per second. Incrementing never blocks
// the per-frame path on the sampling cadence.
type RateCounter struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	lastRate  float64
}

func NewRateCounter() *RateCounter {
	return &RateCounter{lastReset: time.Now()}
}

// Add records n events.
func (rc *RateCounter) Add(n int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.count += int64(n)
}

// Sample returns the events per second since the previous sample and
// resets the counter. Intended to be called on a fixed 1 Hz cadence.
func (rc *RateCounter) Sample() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rc.lastReset).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(rc.count) / elapsed
	}
	rc.count = 0
	rc.lastReset = now
	rc.lastRate = rate
	return rate
}

// Rate returns the most recently sampled rate without resetting anything.
func (rc *RateCounter) Rate() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lastRate
}

// Reset zeroes the counter and the last sampled rate.
func (rc *RateCounter) Reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.count = 0
	rc.lastRate = 0
	rc.lastReset = time.Now()
}
