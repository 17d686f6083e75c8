package recon

import "time"

// Backoff computes exponential retry delays: Base doubled per attempt,
// capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the pause before retry attempt n, counted from zero.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	// 2^31 seconds is beyond any sane cap already.
	if attempt > 30 {
		if b.Max > 0 {
			return b.Max
		}
		attempt = 30
	}
	d := b.Base * time.Duration(1<<uint(attempt))
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
