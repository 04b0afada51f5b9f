package usecase

import (
	"context"
	"sync"
	"time"

	"TickWatch/internal/domain/models"
	"TickWatch/internal/domain/repository"
	applogger "TickWatch/pkg/logger"
)

// StatsFetcher is the backend call the poller repeats.
type StatsFetcher interface {
	Stats(ctx context.Context) (*models.Stats, error)
}

// StatsSink receives each successful poll.
type StatsSink interface {
	StatsUpdated(s models.Stats)
}

// StatsPoller refreshes the account summary on a fixed interval.
type StatsPoller struct {
	backend  StatsFetcher
	sink     StatsSink
	observer repository.SessionObserver
	metrics  repository.Metrics
	logger   *applogger.Logger
	interval time.Duration

	mu      sync.RWMutex
	last    *models.Stats
	failing bool
}

func NewStatsPoller(backend StatsFetcher, sink StatsSink, observer repository.SessionObserver, metrics repository.Metrics, l *applogger.Logger, interval time.Duration) *StatsPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if observer == nil {
		observer = Observers(nil)
	}
	return &StatsPoller{
		backend:  backend,
		sink:     sink,
		observer: observer,
		metrics:  metrics,
		logger:   l,
		interval: interval,
	}
}

// Run polls immediately, then every interval until ctx is done.
func (p *StatsPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches once. A failing run is reported with one notice, not one per tick.
func (p *StatsPoller) Poll(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	s, err := p.backend.Stats(cctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.RecordError("stats")
		p.mu.Lock()
		first := !p.failing
		p.failing = true
		p.mu.Unlock()

		p.logger.Warn("stats poll failed", applogger.Error(err))
		if first {
			p.observer.Notify(models.Notice{Level: models.NoticeError, Message: "Failed to fetch stats"})
		}
		return
	}

	p.mu.Lock()
	p.last = s
	p.failing = false
	p.mu.Unlock()

	if p.sink != nil {
		p.sink.StatsUpdated(*s)
	}
}

// Last is the most recent successful poll, nil before the first one.
func (p *StatsPoller) Last() *models.Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}
