package polling

import "time"

// NextInterval doubles the previous poll interval, capped at max.
func NextInterval(prev, max time.Duration) time.Duration {
	next := prev * 2
	if next > max || next <= 0 {
		return max
	}
	return next
}

// RetryDelay is the wait before retry number attempt+1: base*2^attempt plus jitter.
func RetryDelay(base time.Duration, attempt int, jitter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return base*time.Duration(1<<attempt) + jitter
}
