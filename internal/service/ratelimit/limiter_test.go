package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterBurstThenRefill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(3, 1)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("client") {
			t.Fatalf("request %d within burst rejected", i)
		}
	}
	if l.Allow("client") {
		t.Fatalf("burst exceeded")
	}

	now = now.Add(1500 * time.Millisecond)
	if !l.Allow("client") {
		t.Fatalf("expected a refilled token")
	}
	if l.Allow("client") {
		t.Fatalf("only one token refilled")
	}
}

func TestLimiterKeysIndependent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(1, 1)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || l.Allow("a") {
		t.Fatalf("unexpected result for a")
	}
	if !l.Allow("b") {
		t.Fatalf("b must have its own bucket")
	}
}

func TestLimiterCapsAtCapacity(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(2, 10)
	l.now = func() time.Time { return now }

	l.Allow("k")
	now = now.Add(time.Hour)
	allowed := 0
	for i := 0; i < 5; i++ {
		if l.Allow("k") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("expected capacity 2 after idle, got %d", allowed)
	}
}

func TestLimiterPrunesIdleBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(1, 1)
	l.now = func() time.Time { return now }

	l.Allow("idle")
	now = now.Add(time.Minute)
	for i := 0; i < 1024; i++ {
		l.Allow("busy")
	}
	l.mu.Lock()
	_, ok := l.m["idle"]
	l.mu.Unlock()
	if ok {
		t.Fatalf("idle bucket not pruned")
	}
}
