package pipeline

import "sync"

// ErrorCounter tracks the fraction of recent frames that produced an
// error, over a fixed-size sliding window. The warn condition has a
// hysteresis band around the threshold so it does not flap when the
// fraction hovers at the boundary: it turns on at threshold+epsilon
// and off at threshold-epsilon, both ends inclusive.
type ErrorCounter struct {
	mu        sync.Mutex
	window    []bool
	next      int
	filled    int
	errors    int
	total     int64
	threshold float64
	epsilon   float64
	warning   bool
}

// NewErrorCounter creates a counter over a window of size frames.
func NewErrorCounter(size int, threshold, epsilon float64) *ErrorCounter {
	if size < 1 {
		size = 1
	}
	return &ErrorCounter{
		window:    make([]bool, size),
		threshold: threshold,
		epsilon:   epsilon,
	}
}

// Append records the outcome of one frame.
func (ec *ErrorCounter) Append(isError bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if ec.filled == len(ec.window) {
		if ec.window[ec.next] {
			ec.errors--
		}
	} else {
		ec.filled++
	}
	ec.window[ec.next] = isError
	if isError {
		ec.errors++
	}
	ec.next = (ec.next + 1) % len(ec.window)
	ec.total++

	fraction := float64(ec.errors) / float64(ec.filled)
	if !ec.warning && fraction >= ec.threshold+ec.epsilon {
		ec.warning = true
	} else if ec.warning && fraction <= ec.threshold-ec.epsilon {
		ec.warning = false
	}
}

// Fraction returns the error fraction over the current window contents.
func (ec *ErrorCounter) Fraction() float64 {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.filled == 0 {
		return 0
	}
	return float64(ec.errors) / float64(ec.filled)
}

// Warning reports the hysteresis-filtered warn state.
func (ec *ErrorCounter) Warning() bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.warning
}

// Total returns the number of frames recorded since the last reset.
func (ec *ErrorCounter) Total() int64 {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.total
}

// Reset clears the window, the lifetime total, and the warn state.
func (ec *ErrorCounter) Reset() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for i := range ec.window {
		ec.window[i] = false
	}
	ec.next = 0
	ec.filled = 0
	ec.errors = 0
	ec.total = 0
	ec.warning = false
}
