package pipeline

import (
	"testing"
	"time"
)

func TestRateCounterSample(t *testing.T) {
	rc := NewRateCounter()
	rc.Add(10)
	time.Sleep(20 * time.Millisecond)

	rate := rc.Sample()
	if rate <= 0 {
		t.Fatalf("rate = %g, want > 0", rate)
	}
	if rc.Rate() != rate {
		t.Errorf("Rate() = %g, want last sample %g", rc.Rate(), rate)
	}

	// The sample drains the counter.
	time.Sleep(20 * time.Millisecond)
	if rate := rc.Sample(); rate != 0 {
		t.Errorf("second sample = %g, want 0", rate)
	}
}

func TestRateCounterReset(t *testing.T) {
	rc := NewRateCounter()
	rc.Add(5)
	rc.Sample()
	rc.Reset()
	if rc.Rate() != 0 {
		t.Errorf("rate after reset = %g, want 0", rc.Rate())
	}
}

func TestErrorCounterWindow(t *testing.T) {
	ec := NewErrorCounter(4, 0.5, 0.1)
	for i := 0; i < 4; i++ {
		ec.Append(false)
	}
	if ec.Fraction() != 0 {
		t.Fatalf("fraction = %g, want 0", ec.Fraction())
	}

	// Two errors replace two clean frames: window is [err err ok ok].
	ec.Append(true)
	ec.Append(true)
	if ec.Fraction() != 0.5 {
		t.Errorf("fraction = %g, want 0.5", ec.Fraction())
	}
	if ec.Total() != 6 {
		t.Errorf("total = %d, want 6", ec.Total())
	}
}

func TestErrorCounterHysteresis(t *testing.T) {
	ec := NewErrorCounter(10, 0.3, 0.05)

	// Exactly at threshold: inside the band, no warning. Errors go last
	// so no partial-window fraction overshoots the band.
	for i := 0; i < 10; i++ {
		ec.Append(i >= 7)
	}
	if ec.Warning() {
		t.Error("warning raised inside the hysteresis band")
	}

	// Push clearly above threshold+epsilon.
	for i := 0; i < 10; i++ {
		ec.Append(true)
	}
	if !ec.Warning() {
		t.Fatal("warning not raised at 100% errors")
	}

	// Drop back to the band: the warning must latch.
	for i := 0; i < 10; i++ {
		ec.Append(i >= 7)
	}
	if !ec.Warning() {
		t.Error("warning cleared inside the hysteresis band")
	}

	// Clearly below threshold-epsilon clears it.
	for i := 0; i < 10; i++ {
		ec.Append(false)
	}
	if ec.Warning() {
		t.Error("warning not cleared at 0% errors")
	}
}

func TestErrorCounterWarnBoundariesInclusive(t *testing.T) {
	// Dyadic threshold and epsilon so the band edges are exact floats.
	ec := NewErrorCounter(8, 0.25, 0.125)

	// Reaching exactly threshold+epsilon raises the warning.
	for i := 0; i < 8; i++ {
		ec.Append(i >= 5)
	}
	if f := ec.Fraction(); f != 0.375 {
		t.Fatalf("fraction = %g, want 0.375", f)
	}
	if !ec.Warning() {
		t.Error("warning not raised at exactly threshold+epsilon")
	}

	// Falling to exactly threshold-epsilon clears it.
	for i := 0; i < 7; i++ {
		ec.Append(false)
	}
	if f := ec.Fraction(); f != 0.125 {
		t.Fatalf("fraction = %g, want 0.125", f)
	}
	if ec.Warning() {
		t.Error("warning not cleared at exactly threshold-epsilon")
	}
}

func TestErrorCounterReset(t *testing.T) {
	ec := NewErrorCounter(5, 0.1, 0.01)
	for i := 0; i < 5; i++ {
		ec.Append(true)
	}
	ec.Reset()
	if ec.Fraction() != 0 || ec.Total() != 0 || ec.Warning() {
		t.Error("reset did not clear the counter")
	}
}

func TestTimingStatsAverages(t *testing.T) {
	ts := NewTimingStats()
	ts.Observe(StageStats, 10*time.Millisecond)
	ts.Observe(StageStats, 30*time.Millisecond)
	ts.Observe(StageFit2D, 100*time.Millisecond)

	avg := ts.SampleAverages()
	if avg[StageStats] != 20*time.Millisecond {
		t.Errorf("stats average = %v, want 20ms", avg[StageStats])
	}
	if avg[StageFit2D] != 100*time.Millisecond {
		t.Errorf("fit average = %v, want 100ms", avg[StageFit2D])
	}
	if _, ok := avg[StageGate]; ok {
		t.Error("stage that never ran must be absent")
	}

	// Sampling drains the accumulators.
	if len(ts.SampleAverages()) != 0 {
		t.Error("second sample not empty")
	}
}
