package syncer

import (
	"math"
	"time"
)

// Backoff is the retry schedule between drains that still hold retryable
// failures: exponential growth from Base by Factor, capped at Cap. Retries
// continue until the queue drains; the attempt counter resets on a clean
// drain and on connectivity recovery.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Factor: 2, Cap: 2 * time.Minute}
}

// Delay returns the pause before retry number attempt, counted from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}
	limit := b.Cap
	if limit <= 0 {
		limit = 2 * time.Minute
	}

	d := float64(base) * math.Pow(factor, float64(attempt-1))
	if d > float64(limit) || d < 0 {
		return limit
	}
	return time.Duration(d)
}
