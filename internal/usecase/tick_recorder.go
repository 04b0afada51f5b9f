package usecase

import (
	"context"
	"maps"
	"sync"
	"time"

	"TickWatch/internal/domain/models"
	"TickWatch/internal/domain/repository"
	applogger "TickWatch/pkg/logger"
)

// RecordSink takes the recorder's output, typically the realtime pipeline.
type RecordSink interface {
	Process(ctx context.Context, records []*models.TickRecord) error
}

// TickRecorder observes the session and forwards every tick it has not seen
// before to a sink. Batches are rolling windows, so it remembers the newest
// timestamp recorded per symbol and the quotes already taken in that second.
type TickRecorder struct {
	sink    RecordSink
	metrics repository.Metrics
	logger  *applogger.Logger
	queue   chan []*models.TickRecord

	mu   sync.Mutex
	last map[string]watermark
}

// watermark is the newest recorded second for a symbol. Timestamps have
// second resolution, so several ticks can share it; quotes tells them apart.
type watermark struct {
	ts     int64
	quotes map[float64]struct{}
}

func (w watermark) seen(t models.Tick) bool {
	if t.Timestamp != w.ts {
		return t.Timestamp < w.ts
	}
	_, ok := w.quotes[t.Quote]
	return ok
}

func (w *watermark) add(t models.Tick) {
	if t.Timestamp > w.ts || w.quotes == nil {
		w.ts = t.Timestamp
		w.quotes = make(map[float64]struct{})
	}
	if t.Timestamp == w.ts {
		w.quotes[t.Quote] = struct{}{}
	}
}

func NewTickRecorder(sink RecordSink, metrics repository.Metrics, l *applogger.Logger, queueSize int) *TickRecorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &TickRecorder{
		sink:    sink,
		metrics: metrics,
		logger:  l,
		queue:   make(chan []*models.TickRecord, queueSize),
		last:    make(map[string]watermark),
	}
}

func (r *TickRecorder) StateChanged(models.SubscriptionState) {}

func (r *TickRecorder) Notify(models.Notice) {}

// TicksReceived queues the unseen part of b. It never blocks the stream. The
// watermark only moves once the ticks are queued, so a dropped batch is
// picked up again from the next rolling window.
func (r *TickRecorder) TicksReceived(b models.TickBatch) {
	r.mu.Lock()
	fresh, next := r.freshLocked(b)
	if len(fresh) == 0 {
		r.mu.Unlock()
		return
	}

	select {
	case r.queue <- fresh:
		r.last[b.Symbol] = next
		r.mu.Unlock()
	default:
		r.mu.Unlock()
		r.metrics.RecordError("recorder_queue_full")
		r.logger.Warn("recorder queue full, ticks dropped",
			applogger.String("symbol", b.Symbol),
			applogger.Int("ticks", len(fresh)),
		)
	}
}

// Run hands queued records to the sink until ctx is done, then flushes the queue.
func (r *TickRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush(ctx)
			return nil
		case recs := <-r.queue:
			r.forward(ctx, recs)
		}
	}
}

func (r *TickRecorder) freshLocked(b models.TickBatch) ([]*models.TickRecord, watermark) {
	mark := r.last[b.Symbol]
	next := watermark{ts: mark.ts, quotes: maps.Clone(mark.quotes)}
	var out []*models.TickRecord
	for _, t := range b.Ticks {
		if mark.seen(t) || next.seen(t) {
			continue
		}
		out = append(out, &models.TickRecord{SessionID: b.SessionID, Symbol: b.Symbol, Tick: t})
		next.add(t)
	}
	return out, next
}

func (r *TickRecorder) forward(ctx context.Context, recs []*models.TickRecord) {
	// failed batches stay buffered in the sink; the error is informational
	if err := r.sink.Process(ctx, recs); err != nil {
		r.logger.Debug("tick sink deferred batch", applogger.Error(err))
	}
}

func (r *TickRecorder) flush(ctx context.Context) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for {
		select {
		case recs := <-r.queue:
			r.forward(fctx, recs)
		default:
			return
		}
	}
}
