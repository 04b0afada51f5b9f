package stream

import (
	"math"
	"time"
)

// Backoff computes reconnect delays. Multiplier 1 gives a fixed interval.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int // 0 means retry forever
}

// DefaultBackoff starts at one second and doubles up to thirty.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
	}
}

// Delay returns the wait before the given attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(initial) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt exceeds MaxAttempts.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}
