package failover

import (
	"time"
)

const (
	// DefaultMaxRetry is the reconnect attempt budget per protocol run
	DefaultMaxRetry = 5

	// DefaultBackoffStep is the per-attempt increment of the default backoff
	DefaultBackoffStep = 1500 * time.Millisecond

	// DefaultBackoffCap bounds the delay of the default backoff
	DefaultBackoffCap = 10 * time.Second
)

// BackoffFunc maps a 1-based attempt number to the delay slept before that
// attempt is made.
type BackoffFunc func(attempt int) time.Duration

// DefaultBackoff ramps linearly: no delay before the first attempt, then
// 1.5s more per attempt, capped at 10s. Attempts 1..6 sleep
// 0, 1.5s, 3s, 4.5s, 6s, 7.5s.
func DefaultBackoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	delay := time.Duration(attempt-1) * DefaultBackoffStep
	if delay > DefaultBackoffCap {
		delay = DefaultBackoffCap
	}

	return delay
}
