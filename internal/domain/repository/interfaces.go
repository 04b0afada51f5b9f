package repository

import (
	"context"
	"encoding/json"
	"time"

	"TickWatch/internal/domain/models"
)

// Backend is the remote dashboard REST API.
type Backend interface {
	Stats(ctx context.Context) (*models.Stats, error)
	Markets(ctx context.Context) ([]models.Market, error)
	Subscribe(ctx context.Context, symbol string) (*models.SubscribeResponse, error)
	Unsubscribe(ctx context.Context) (*models.UnsubscribeResponse, error)
	SubscriptionStatus(ctx context.Context) (*models.SubscriptionStatus, error)
	CleanupSubscription(ctx context.Context) (*models.CleanupResponse, error)
	Ticks(ctx context.Context) (*models.TicksResponse, error)
	Health(ctx context.Context) (*models.HealthResponse, error)
}

// SettingsStore is the backend's key/value settings API. Values pass through untouched.
type SettingsStore interface {
	ListSettings(ctx context.Context) (map[string]json.RawMessage, error)
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	PutSetting(ctx context.Context, key string, value json.RawMessage) (*models.Setting, error)
	CreateSetting(ctx context.Context, s *models.Setting) (*models.Setting, error)
	DeleteSetting(ctx context.Context, key string) error
}

// StreamListener receives transport notifications. Calls for one connection
// are serialised and arrive in network order.
type StreamListener interface {
	StreamOpened()
	StreamMessage(raw []byte)
	StreamClosed(err error)
}

// StreamTransport maintains at most one push-stream connection.
type StreamTransport interface {
	SetListener(l StreamListener)
	// Connect replaces any existing connection with one to url. It does not
	// block on the dial.
	Connect(url string) error
	// Disconnect closes the connection and cancels pending reconnects. No
	// listener call happens after it returns. Listeners must not call it.
	Disconnect()
	IsOpen() bool
}

// SessionObserver is told about every externally visible session change.
type SessionObserver interface {
	StateChanged(state models.SubscriptionState)
	TicksReceived(batch models.TickBatch)
	Notify(n models.Notice)
}

// Publisher ships tick records to a message broker.
type Publisher interface {
	Publish(ctx context.Context, r *models.TickRecord) error
	PublishBatch(ctx context.Context, records []*models.TickRecord) error
	Close() error
}

// Storage persists tick history.
type Storage interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, r *models.TickRecord) error
	StoreBatch(ctx context.Context, records []*models.TickRecord) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.TickRecord, error)
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordMessageSent(sink, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordPhase(phase string)
	RecordFrame(eventType string)
	RecordReconnect()
	RecordTicks(symbol string, n int)
}
