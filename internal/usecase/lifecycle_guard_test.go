package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TickWatch/internal/domain/models"
	applogger "TickWatch/pkg/logger"
	"TickWatch/pkg/metrics"
)

type fakeSession struct {
	mu       sync.Mutex
	active   bool
	releases int
}

func (s *fakeSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *fakeSession) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	was := s.active
	s.active = false
	return was
}

func (s *fakeSession) activate() {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
}

type ctxCheckingCleaner struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (c *ctxCheckingCleaner) CleanupSubscription(ctx context.Context) (*models.CleanupResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.errs = append(c.errs, ctx.Err())
	return &models.CleanupResponse{Status: models.StatusCleaned}, nil
}

func (c *ctxCheckingCleaner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestGuard(cleaner SubscriptionCleaner, session Session, tr Disconnector, sources ...Source) *LifecycleGuard {
	return NewLifecycleGuard(cleaner, tr, session, metrics.Noop{}, applogger.Nop(), time.Second, sources...)
}

func TestParseTrigger(t *testing.T) {
	for _, s := range []string{"teardown", "hidden", "unload"} {
		if tr, ok := ParseTrigger(s); !ok || string(tr) != s {
			t.Fatalf("ParseTrigger(%q) = %q, %v", s, tr, ok)
		}
	}
	if _, ok := ParseTrigger("reload"); ok {
		t.Fatalf("unknown trigger accepted")
	}
}

func TestFireIdempotentWithoutSession(t *testing.T) {
	backend := &fakeBackend{}
	session := &fakeSession{active: true}
	tr := &fakeTransport{}
	g := newTestGuard(backend, session, tr)
	ctx := context.Background()

	if !g.Fire(ctx, TriggerTeardown) {
		t.Fatalf("active session must always clean up")
	}
	if session.Active() {
		t.Fatalf("session must be released")
	}
	if g.Fire(ctx, TriggerTeardown) {
		t.Fatalf("repeated trigger without a session must be skipped")
	}
	if !g.Fire(ctx, TriggerHidden) {
		t.Fatalf("a different trigger still runs once")
	}
	if g.Fire(ctx, TriggerHidden) {
		t.Fatalf("hidden must not run twice")
	}
	if _, _, n := backend.counts(); n != 2 {
		t.Fatalf("expected 2 backend cleanups, got %d", n)
	}

	// a new session re-arms every trigger
	session.activate()
	if !g.Fire(ctx, TriggerHidden) {
		t.Fatalf("active session must clean up")
	}
	if !g.Fire(ctx, TriggerTeardown) {
		t.Fatalf("teardown re-armed by the new session")
	}
	if _, _, n := backend.counts(); n != 4 {
		t.Fatalf("expected 4 backend cleanups, got %d", n)
	}
	if tr.disconnects != 4 {
		t.Fatalf("expected transport closed on every cleanup, got %d", tr.disconnects)
	}
}

func TestFireActiveAlwaysCleans(t *testing.T) {
	backend := &fakeBackend{}
	session := &fakeSession{}
	g := newTestGuard(backend, session, &fakeTransport{})

	for i := 0; i < 3; i++ {
		session.activate()
		if !g.Fire(context.Background(), TriggerUnload) {
			t.Fatalf("round %d: active session must clean up", i)
		}
	}
	if _, _, n := backend.counts(); n != 3 {
		t.Fatalf("expected 3 cleanups, got %d", n)
	}
}

func TestFireCleanupErrorSwallowed(t *testing.T) {
	backend := &fakeBackend{cleanupErr: errors.New("unreachable")}
	session := &fakeSession{active: true}
	g := newTestGuard(backend, session, &fakeTransport{})

	if !g.Fire(context.Background(), TriggerUnload) {
		t.Fatalf("cleanup attempt must be reported")
	}
	if session.Active() {
		t.Fatalf("local release happens regardless of the backend")
	}
}

func TestFireFromCancelledContext(t *testing.T) {
	cleaner := &ctxCheckingCleaner{}
	g := newTestGuard(cleaner, &fakeSession{active: true}, &fakeTransport{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g.Fire(ctx, TriggerTeardown)

	if cleaner.count() != 1 || cleaner.errs[0] != nil {
		t.Fatalf("cleanup must run on a live context, got %v", cleaner.errs)
	}
}

func TestRunWatchesSources(t *testing.T) {
	backend := &fakeBackend{}
	session := &fakeSession{active: true}
	detached := make(chan struct{}, 1)
	g := newTestGuard(backend, session, &fakeTransport{},
		ContextSource{Trigger: TriggerTeardown},
		ChannelSource{Trigger: TriggerHidden, C: detached},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	detached <- struct{}{}
	waitFor(t, func() bool { _, _, n := backend.counts(); return n == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	// teardown has not fired yet in this period, so it reaches the backend once
	if _, _, n := backend.counts(); n != 2 {
		t.Fatalf("expected teardown cleanup, got %d calls", n)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
