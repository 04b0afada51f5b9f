package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"TickWatch/internal/domain/models"
	"TickWatch/internal/domain/repository"
	applogger "TickWatch/pkg/logger"
)

// ErrMalformedFrame is returned by Dispatch when a frame cannot be decoded
// into an event envelope.
var ErrMalformedFrame = errors.New("dispatch: malformed frame")

// Handler consumes the data of one event type. It runs on the transport's
// reader goroutine and must not block.
type Handler func(data json.RawMessage)

// Dispatcher routes decoded stream events to at most one handler per type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[models.EventType]Handler
	logger   *applogger.Logger
	metrics  repository.Metrics
}

func New(l *applogger.Logger, m repository.Metrics) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[models.EventType]Handler),
		logger:   l,
		metrics:  m,
	}
}

// On registers h for eventType, replacing any earlier handler. It reports
// whether a handler was replaced.
func (d *Dispatcher) On(eventType models.EventType, h Handler) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, replaced := d.handlers[eventType]
	d.handlers[eventType] = h
	return replaced
}

// Off removes the handler for eventType. Later events of that type are dropped.
func (d *Dispatcher) Off(eventType models.EventType) {
	d.mu.Lock()
	delete(d.handlers, eventType)
	d.mu.Unlock()
}

// Registered reports whether eventType has a handler.
func (d *Dispatcher) Registered(eventType models.EventType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[eventType]
	return ok
}

// Dispatch decodes raw and invokes the matching handler synchronously.
// Undecodable frames are logged and reported as ErrMalformedFrame; events
// nobody listens for are dropped silently.
func (d *Dispatcher) Dispatch(raw []byte) error {
	var ev models.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return d.malformed(raw, err)
	}
	if ev.Type == "" {
		return d.malformed(raw, errors.New("missing type"))
	}

	d.mu.RLock()
	h, ok := d.handlers[ev.Type]
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	d.metrics.RecordFrame(string(ev.Type))
	h(ev.Data)
	return nil
}

func (d *Dispatcher) malformed(raw []byte, cause error) error {
	d.metrics.RecordError("dispatch_decode")
	preview := raw
	if len(preview) > 128 {
		preview = preview[:128]
	}
	d.logger.Warn("stream frame dropped",
		applogger.Error(cause),
		applogger.String("frame", string(preview)),
	)
	return fmt.Errorf("%w: %v", ErrMalformedFrame, cause)
}
