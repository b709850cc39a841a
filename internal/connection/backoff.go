package connection

import "time"

// Backoff returns the delay before reconnect attempt n (1-based):
// base doubled per previous attempt, capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if attempt < 1 {
		return base
	}
	// 2^30 already exceeds any sane cap
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<(attempt-1))
	if d > max || d <= 0 {
		return max
	}
	return d
}
