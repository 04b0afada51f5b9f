package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a per-key token bucket. Buckets idle long enough to be full again are pruned.
type Limiter struct {
	capacity   float64
	refillRate float64 // tokens per second
	now        func() time.Time

	mu     sync.Mutex
	m      map[string]*bucket
	sweeps int
}

// New creates a limiter that allows capacity bursts refilled at refillPerSec.
func New(capacity, refillPerSec float64) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	return &Limiter{
		capacity:   capacity,
		refillRate: refillPerSec,
		now:        time.Now,
		m:          make(map[string]*bucket),
	}
}

// Allow consumes one token for key if one is available.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(l.capacity, b.tokens+elapsed*l.refillRate)
		b.last = now
	}

	l.sweeps++
	if l.sweeps >= 1024 {
		l.sweeps = 0
		l.pruneLocked(now)
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (l *Limiter) pruneLocked(now time.Time) {
	full := time.Duration(l.capacity / l.refillRate * float64(time.Second))
	for k, b := range l.m {
		if now.Sub(b.last) > full {
			delete(l.m, k)
		}
	}
}
