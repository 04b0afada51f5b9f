package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TickWatch/internal/domain/models"
	domrepo "TickWatch/internal/domain/repository"
	applogger "TickWatch/pkg/logger"
)

// Proc is the downstream the pipeline feeds.
type Proc interface {
	ProcessBatch(ctx context.Context, records []*models.TickRecord) error
}

var errInvalidTick = errors.New("invalid tick record")

// RealtimePipeline sits between the recorder and the sink. It drops invalid
// records, spaces out writes per symbol, and holds batches the sink could
// not take in a bounded buffer for retry.
type RealtimePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	logger  *applogger.Logger
	minGap  time.Duration
	bufCh   chan []*models.TickRecord

	mu       sync.Mutex
	lastSent map[string]time.Time
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS caps sink writes per symbol per second; 0 disables the throttle.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.minGap = time.Second / time.Duration(n)
		} else {
			p.minGap = 0
		}
	}
}

// WithBufferSize sets how many batches wait for retry before new ones are dropped.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufCh = make(chan []*models.TickRecord, n)
		}
	}
}

func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, l *applogger.Logger, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		logger:   l,
		minGap:   time.Second / 20,
		bufCh:    make(chan []*models.TickRecord, 1000),
		lastSent: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates records and forwards them grouped by symbol. A throttled
// or failed group is buffered for Run to retry.
func (p *RealtimePipeline) Process(ctx context.Context, records []*models.TickRecord) error {
	start := time.Now()

	var errs []error
	for _, group := range groupBySymbol(p.validate(records)) {
		sym := group[0].Symbol
		if !p.allow(sym, start) {
			p.metrics.RecordError("pipeline_throttle")
			p.buffer(group)
			continue
		}
		if err := p.proc.ProcessBatch(ctx, group); err != nil {
			p.metrics.RecordError("pipeline_process")
			p.buffer(group)
			errs = append(errs, fmt.Errorf("pipeline downstream %s: %w", sym, err))
		}
	}

	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return errors.Join(errs...)
}

// Run retries buffered batches with capped back-off until ctx is done, then
// makes one last attempt at whatever is still buffered.
func (p *RealtimePipeline) Run(ctx context.Context) error {
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			p.drain(ctx)
			return nil
		case batch := <-p.bufCh:
			if err := p.proc.ProcessBatch(ctx, batch); err != nil {
				p.metrics.RecordError("pipeline_flush")
				p.logger.Debug("buffered batch retry failed",
					applogger.String("symbol", batch[0].Symbol),
					applogger.Int("records", len(batch)),
					applogger.Error(err),
				)
				p.buffer(batch)
				if backoff < 2*time.Second {
					backoff *= 2
				}
				select {
				case <-ctx.Done():
				case <-time.After(backoff):
				}
				continue
			}
			backoff = 50 * time.Millisecond
		}
	}
}

// Buffered is the number of batches waiting for retry.
func (p *RealtimePipeline) Buffered() int {
	return len(p.bufCh)
}

func (p *RealtimePipeline) drain(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	dropped := 0
	for {
		select {
		case batch := <-p.bufCh:
			if dctx.Err() != nil || p.proc.ProcessBatch(dctx, batch) != nil {
				dropped += len(batch)
			}
		default:
			if dropped > 0 {
				p.logger.Warn("tick records dropped at shutdown", applogger.Int("records", dropped))
			}
			return
		}
	}
}

func (p *RealtimePipeline) buffer(batch []*models.TickRecord) {
	select {
	case p.bufCh <- batch:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		p.logger.Warn("pipeline buffer full, batch dropped",
			applogger.String("symbol", batch[0].Symbol),
			applogger.Int("records", len(batch)),
		)
	}
}

func (p *RealtimePipeline) validate(records []*models.TickRecord) []*models.TickRecord {
	out := records[:0:0]
	for _, r := range records {
		if err := validateTick(r); err != nil {
			p.metrics.RecordError("pipeline_validate")
			continue
		}
		out = append(out, r)
	}
	return out
}

func (p *RealtimePipeline) allow(symbol string, now time.Time) bool {
	if p.minGap <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.lastSent[symbol]; ok && now.Sub(last) < p.minGap {
		return false
	}
	p.lastSent[symbol] = now
	return true
}

func validateTick(r *models.TickRecord) error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil", errInvalidTick)
	case r.Symbol == "":
		return fmt.Errorf("%w: empty symbol", errInvalidTick)
	case r.Tick.Timestamp <= 0:
		return fmt.Errorf("%w: timestamp %d", errInvalidTick, r.Tick.Timestamp)
	case r.Tick.Quote < 0 || r.Tick.Bid < 0 || r.Tick.Ask < 0:
		return fmt.Errorf("%w: negative price", errInvalidTick)
	}
	return nil
}

// groupBySymbol splits records into per-symbol runs, keeping first-seen order.
func groupBySymbol(records []*models.TickRecord) [][]*models.TickRecord {
	var (
		groups [][]*models.TickRecord
		index  = make(map[string]int)
	)
	for _, r := range records {
		i, ok := index[r.Symbol]
		if !ok {
			i = len(groups)
			index[r.Symbol] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}
	return groups
}
