package retry

import "time"

// ExponentialBackoff returns base * 2^attempt. Negative attempts are treated
// as zero and the shift is bounded so large attempts cannot overflow.
func ExponentialBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return base * (1 << attempt)
}

// Capped is ExponentialBackoff limited to limit.
func Capped(attempt int, base, limit time.Duration) time.Duration {
	if d := ExponentialBackoff(attempt, base); d < limit {
		return d
	}
	return limit
}
