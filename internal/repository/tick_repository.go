package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TickWatch/internal/domain/models"
	"TickWatch/internal/domain/repository"
	pkgch "TickWatch/pkg/clickhouse"
	pkgkafka "TickWatch/pkg/kafka"
)

const ticksTable = "ticks"

// ReplacingMergeTree collapses re-recorded ticks that share (symbol, ts).
const createTicksTable = `
CREATE TABLE IF NOT EXISTS ticks (
    ts          DateTime,
    symbol      LowCardinality(String),
    quote       Float64,
    bid         Float64,
    ask         Float64,
    session_id  String,
    recorded_at DateTime64(3)
) ENGINE = ReplacingMergeTree(recorded_at)
ORDER BY (symbol, ts)`

// ClickHouseStorage stores tick history in ClickHouse.
type ClickHouseStorage struct {
	client *pkgch.Client
	db     *sql.DB
}

func NewClickHouseStorage(client *pkgch.Client) *ClickHouseStorage {
	return &ClickHouseStorage{client: client, db: client.DB()}
}

var _ repository.Storage = (*ClickHouseStorage)(nil)

// Init creates the ticks table when missing.
func (s *ClickHouseStorage) Init(ctx context.Context) error {
	return s.client.Exec(ctx, createTicksTable)
}

func (s *ClickHouseStorage) Store(ctx context.Context, r *models.TickRecord) error {
	return s.StoreBatch(ctx, []*models.TickRecord{r})
}

// StoreBatch inserts records in one prepared batch; clickhouse-go sends the
// rows of a transaction as a single block on commit.
func (s *ClickHouseStorage) StoreBatch(ctx context.Context, records []*models.TickRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (ts, symbol, quote, bid, ask, session_id, recorded_at)", ticksTable))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range records {
		if r == nil || r.Symbol == "" || r.Tick.Timestamp <= 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			r.Tick.Time(),
			r.Symbol,
			r.Tick.Quote,
			r.Tick.Bid,
			r.Tick.Ask,
			r.SessionID,
			now,
		); err != nil {
			return fmt.Errorf("append tick %s@%d: %w", r.Symbol, r.Tick.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Query returns ticks for symbol in [from, to], newest first.
func (s *ClickHouseStorage) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.TickRecord, error) {
	q := fmt.Sprintf(`
        SELECT symbol, ts, quote, bid, ask, session_id
        FROM %s FINAL
        WHERE symbol = ? AND ts >= ? AND ts <= ?
        ORDER BY ts DESC
        LIMIT ?`, ticksTable)

	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	var out []*models.TickRecord
	for rows.Next() {
		var (
			r  models.TickRecord
			ts time.Time
		)
		if err := rows.Scan(&r.Symbol, &ts, &r.Tick.Quote, &r.Tick.Bid, &r.Tick.Ask, &r.SessionID); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		r.Tick.Timestamp = ts.Unix()
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

// Close is a no-op; the pool belongs to the client.
func (s *ClickHouseStorage) Close() error {
	return nil
}

// tickMessage is the Kafka wire shape of one tick.
type tickMessage struct {
	Symbol    string  `json:"symbol"`
	SessionID string  `json:"session_id"`
	Timestamp int64   `json:"timestamp"`
	Quote     float64 `json:"quote"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
}

func newTickMessage(r *models.TickRecord) tickMessage {
	return tickMessage{
		Symbol:    r.Symbol,
		SessionID: r.SessionID,
		Timestamp: r.Tick.Timestamp,
		Quote:     r.Tick.Quote,
		Bid:       r.Tick.Bid,
		Ask:       r.Tick.Ask,
	}
}

// KafkaPublisher writes one JSON message per tick, keyed by symbol.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

var _ repository.Publisher = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) Publish(ctx context.Context, r *models.TickRecord) error {
	return p.producer.Publish(ctx, p.topic, []byte(r.Symbol), newTickMessage(r))
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, records []*models.TickRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(records))
	for i, r := range records {
		msgs[i] = pkgkafka.Message{Key: []byte(r.Symbol), Value: newTickMessage(r)}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// Close is a no-op; the producer is shared with the log collector and closed by the app.
func (p *KafkaPublisher) Close() error {
	return nil
}
