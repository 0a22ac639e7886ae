package poller

import "time"

// backoff computes the delay before the next attempt after a run of
// consecutive transient failures. Doubling from the floor, capped at the
// ceiling; zero failures means no delay.
func backoff(failures int, floor, ceiling time.Duration) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := floor
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
