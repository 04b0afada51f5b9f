package usecase

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"

	"TickWatch/internal/domain/models"
	"TickWatch/internal/domain/repository"
	applogger "TickWatch/pkg/logger"
)

// Trigger names the host event that asked for cleanup.
type Trigger string

const (
	// TriggerTeardown is component teardown: the app stopping.
	TriggerTeardown Trigger = "teardown"
	// TriggerHidden is every viewer going away or reporting a hidden page.
	TriggerHidden Trigger = "hidden"
	// TriggerUnload is the process or page being unloaded.
	TriggerUnload Trigger = "unload"
)

// ParseTrigger maps a wire name to a Trigger.
func ParseTrigger(s string) (Trigger, bool) {
	switch t := Trigger(s); t {
	case TriggerTeardown, TriggerHidden, TriggerUnload:
		return t, true
	}
	return "", false
}

// Session is the local state the guard releases.
type Session interface {
	Active() bool
	Release() bool
}

// SubscriptionCleaner is the backend's best-effort release call.
type SubscriptionCleaner interface {
	CleanupSubscription(ctx context.Context) (*models.CleanupResponse, error)
}

// Disconnector is the part of the transport the guard closes.
type Disconnector interface {
	Disconnect()
}

// Source watches one host signal and calls fire when it happens. Watch
// returns when ctx is done.
type Source interface {
	Watch(ctx context.Context, fire func(Trigger))
}

// LifecycleGuard makes sure the backend subscription is released whenever
// the client goes away, whichever way that happens.
type LifecycleGuard struct {
	cleaner   SubscriptionCleaner
	transport Disconnector
	session   Session
	logger    *applogger.Logger
	metrics   repository.Metrics
	timeout   time.Duration
	sources   []Source

	mu    sync.Mutex
	fired map[Trigger]bool // triggers that already cleaned since the session was last active
}

// NewLifecycleGuard wires a guard. timeout bounds each backend cleanup call.
func NewLifecycleGuard(
	cleaner SubscriptionCleaner,
	transport Disconnector,
	session Session,
	metrics repository.Metrics,
	l *applogger.Logger,
	timeout time.Duration,
	sources ...Source,
) *LifecycleGuard {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LifecycleGuard{
		cleaner:   cleaner,
		transport: transport,
		session:   session,
		logger:    l,
		metrics:   metrics,
		timeout:   timeout,
		sources:   sources,
		fired:     make(map[Trigger]bool),
	}
}

// Run watches every source until ctx is done.
func (g *LifecycleGuard) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, src := range g.sources {
		wg.Add(1)
		go func(s Source) {
			defer wg.Done()
			s.Watch(ctx, func(t Trigger) { g.Fire(ctx, t) })
		}(src)
	}
	wg.Wait()
	return nil
}

// Fire runs cleanup for trigger. With an active session it always runs; with
// none, each trigger reaches the backend at most once until a session becomes
// active again. It reports whether cleanup ran. Errors are logged, never returned.
func (g *LifecycleGuard) Fire(ctx context.Context, trigger Trigger) bool {
	g.mu.Lock()
	active := g.session.Active()
	if active {
		g.fired = make(map[Trigger]bool)
	} else if g.fired[trigger] {
		g.mu.Unlock()
		g.logger.Debug("lifecycle cleanup skipped", applogger.String("trigger", string(trigger)))
		return false
	}
	g.fired[trigger] = true
	g.mu.Unlock()

	g.cleanup(ctx, trigger, active)
	return true
}

func (g *LifecycleGuard) cleanup(ctx context.Context, trigger Trigger, active bool) {
	start := time.Now()

	released := g.session.Release()
	g.transport.Disconnect()

	// teardown fires from a cancelled context; the request must still go out
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	resp, err := g.cleaner.CleanupSubscription(cctx)
	g.metrics.RecordLatency("lifecycle_cleanup", time.Since(start).Seconds())
	if err != nil {
		g.metrics.RecordError("lifecycle_cleanup")
		g.logger.Warn("lifecycle cleanup failed",
			applogger.String("trigger", string(trigger)),
			applogger.Bool("was_active", active),
			applogger.Error(err),
		)
		return
	}

	g.logger.Info("lifecycle cleanup",
		applogger.String("trigger", string(trigger)),
		applogger.Bool("released", released),
		applogger.String("status", resp.Status),
	)
}

// SignalSource fires once on the first of Signals. Stopping the process is
// left to whoever else listens for them.
type SignalSource struct {
	Trigger Trigger
	Signals []os.Signal
}

func (s SignalSource) Watch(ctx context.Context, fire func(Trigger)) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, s.Signals...)
	defer signal.Stop(ch)

	select {
	case <-ctx.Done():
	case <-ch:
		fire(s.Trigger)
	}
}

// ChannelSource fires on every receive from C.
type ChannelSource struct {
	Trigger Trigger
	C       <-chan struct{}
}

func (s ChannelSource) Watch(ctx context.Context, fire func(Trigger)) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-s.C:
			if !ok {
				return
			}
			fire(s.Trigger)
		}
	}
}

// ContextSource fires once when the watched context ends.
type ContextSource struct {
	Trigger Trigger
}

func (s ContextSource) Watch(ctx context.Context, fire func(Trigger)) {
	<-ctx.Done()
	fire(s.Trigger)
}
