package usecase

import (
	"context"
	"fmt"
	"time"

	"TickWatch/internal/domain/models"
	drepo "TickWatch/internal/domain/repository"
)

// Sink names accepted by sink.type.
const (
	SinkNone       = "none"
	SinkKafka      = "kafka"
	SinkClickHouse = "clickhouse"
)

// TickProcessor routes tick records to the configured sink.
type TickProcessor struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	sink    string
}

// NewTickProcessor needs pub for the kafka sink and store for clickhouse; the
// other may be nil.
func NewTickProcessor(pub drepo.Publisher, store drepo.Storage, metrics drepo.Metrics, sink string) *TickProcessor {
	return &TickProcessor{pub: pub, store: store, metrics: metrics, sink: sink}
}

func (p *TickProcessor) Sink() string { return p.sink }

// Process sends one record.
func (p *TickProcessor) Process(ctx context.Context, r *models.TickRecord) error {
	if r == nil {
		return fmt.Errorf("tick record is nil")
	}
	return p.ProcessBatch(ctx, []*models.TickRecord{r})
}

// ProcessBatch sends records in one sink call.
func (p *TickProcessor) ProcessBatch(ctx context.Context, records []*models.TickRecord) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	var err error
	switch {
	case p.sink == SinkKafka && p.pub != nil:
		err = p.pub.PublishBatch(ctx, records)
	case p.sink == SinkClickHouse && p.store != nil:
		err = p.store.StoreBatch(ctx, records)
	default:
		err = fmt.Errorf("sink %q is not configured", p.sink)
	}

	if err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	for _, r := range records {
		p.metrics.RecordMessageSent(p.sink, r.Symbol)
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return nil
}

// Close releases the sink.
func (p *TickProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
