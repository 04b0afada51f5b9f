package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"TickWatch/internal/domain/models"
	"TickWatch/internal/domain/repository"
	"TickWatch/internal/service/dispatch"
	applogger "TickWatch/pkg/logger"

	"github.com/google/uuid"
)

// EventRouter is the part of the dispatcher the controller drives.
type EventRouter interface {
	On(eventType models.EventType, h dispatch.Handler) bool
	Off(eventType models.EventType)
	Dispatch(raw []byte) error
}

// ControllerOption configures SubscriptionController.
type ControllerOption func(*SubscriptionController)

// WithUnsubscribeTimeout bounds the /unsubscribe call. Local teardown happens
// regardless of how the call ends.
func WithUnsubscribeTimeout(d time.Duration) ControllerOption {
	return func(c *SubscriptionController) {
		if d > 0 {
			c.unsubscribeTimeout = d
		}
	}
}

// WithSessionID pins the session id instead of generating one.
func WithSessionID(id string) ControllerOption {
	return func(c *SubscriptionController) {
		if id != "" {
			c.id = id
		}
	}
}

// SubscriptionController owns one session: it negotiates the subscription
// with the backend, drives the stream transport and keeps the derived state.
type SubscriptionController struct {
	id                 string
	backend            repository.Backend
	transport          repository.StreamTransport
	events             EventRouter
	observer           repository.SessionObserver
	metrics            repository.Metrics
	logger             *applogger.Logger
	streamURL          string
	unsubscribeTimeout time.Duration

	// connMu serialises transport Connect/Disconnect issued by the controller.
	// It is never taken by listener callbacks.
	connMu sync.Mutex

	mu          sync.Mutex
	symbol      string
	phase       models.Phase
	serverAvail bool
	streamOpen  bool
	ticks       []models.Tick
	lastTickAt  time.Time
	gen         uint64 // bumped on every teardown; stale callbacks compare against it
	// pending is set while a /subscribe or /unsubscribe call is outstanding,
	// including an orphan release. Release does not clear it.
	pending bool
}

// NewSubscriptionController creates an Idle session and registers itself as
// the transport's listener.
func NewSubscriptionController(
	backend repository.Backend,
	transport repository.StreamTransport,
	events EventRouter,
	observer repository.SessionObserver,
	metrics repository.Metrics,
	l *applogger.Logger,
	streamURL string,
	opts ...ControllerOption,
) *SubscriptionController {
	c := &SubscriptionController{
		id:                 uuid.NewString(),
		backend:            backend,
		transport:          transport,
		events:             events,
		observer:           observer,
		metrics:            metrics,
		streamURL:          streamURL,
		unsubscribeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.observer == nil {
		c.observer = Observers(nil)
	}
	c.logger = l.With(applogger.String("session", c.id))

	transport.SetListener(c)
	metrics.RecordPhase(models.PhaseIdle.String())
	return c
}

func (c *SubscriptionController) SessionID() string { return c.id }

// Subscribe negotiates a subscription to symbol and opens the stream on success.
func (c *SubscriptionController) Subscribe(ctx context.Context, symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return ErrEmptySymbol
	}

	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return ErrBusy
	}
	switch c.phase {
	case models.PhaseIdle:
	case models.PhaseSubscribed:
		c.mu.Unlock()
		return ErrAlreadySubscribed
	default:
		c.mu.Unlock()
		return ErrBusy
	}
	c.pending = true
	c.setPhaseLocked(models.PhaseSubscribing)
	gen := c.gen
	st := c.stateLocked()
	c.mu.Unlock()
	c.observer.StateChanged(st)

	start := time.Now()
	resp, err := c.backend.Subscribe(ctx, symbol)
	c.metrics.RecordLatency("subscribe", time.Since(start).Seconds())

	c.mu.Lock()
	if c.gen != gen {
		orphan := err == nil && resp.Status == models.StatusSubscribed
		// an orphan keeps pending set until its release call returns
		c.pending = orphan
		c.mu.Unlock()
		if orphan {
			c.releaseOrphan(symbol)
		}
		return ErrReleased
	}
	c.pending = false

	if err != nil {
		c.setPhaseLocked(models.PhaseIdle)
		st = c.stateLocked()
		c.mu.Unlock()

		c.metrics.RecordError("subscribe")
		c.logger.Error("subscribe request failed", applogger.String("symbol", symbol), applogger.Error(err))
		c.observer.StateChanged(st)
		c.observer.Notify(models.Notice{Level: models.NoticeError, Message: fmt.Sprintf("Failed to subscribe to %s", symbol)})
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	if resp.Status != models.StatusSubscribed {
		msg := resp.Message
		if msg == "" {
			msg = "subscribe failed"
		}
		c.setPhaseLocked(models.PhaseIdle)
		st = c.stateLocked()
		c.mu.Unlock()

		c.metrics.RecordError("subscribe_rejected")
		c.logger.Warn("subscribe rejected", applogger.String("symbol", symbol), applogger.String("message", msg))
		c.observer.StateChanged(st)
		c.observer.Notify(models.Notice{Level: models.NoticeError, Message: msg})
		return &RejectedError{Symbol: symbol, Message: msg}
	}

	c.adoptLocked(symbol, true)
	gen = c.gen
	st = c.stateLocked()
	c.mu.Unlock()

	c.connect(gen)
	c.logger.Info("subscribed", applogger.String("symbol", symbol))
	c.observer.StateChanged(st)
	c.observer.Notify(models.Notice{Level: models.NoticeSuccess, Message: fmt.Sprintf("Subscribed to %s", symbol)})
	return nil
}

// Unsubscribe ends the active subscription. Every outcome of the backend call
// (including timeout) ends with the session Idle and the stream closed; the
// returned error reports what the backend said.
func (c *SubscriptionController) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return ErrBusy
	}
	switch c.phase {
	case models.PhaseSubscribed:
	case models.PhaseIdle:
		c.mu.Unlock()
		return ErrNotSubscribed
	default:
		c.mu.Unlock()
		return ErrBusy
	}
	c.pending = true
	c.setPhaseLocked(models.PhaseUnsubscribing)
	symbol := c.symbol
	gen := c.gen
	st := c.stateLocked()
	c.mu.Unlock()
	c.observer.StateChanged(st)

	uctx, cancel := context.WithTimeout(ctx, c.unsubscribeTimeout)
	start := time.Now()
	resp, err := c.backend.Unsubscribe(uctx)
	cancel()
	c.metrics.RecordLatency("unsubscribe", time.Since(start).Seconds())

	// teardown is generation checked, so a subscribe started after a release
	// is left alone
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
	c.teardown(gen, true)

	switch {
	case err != nil:
		c.metrics.RecordError("unsubscribe")
		c.logger.Warn("unsubscribe request failed, stopped locally", applogger.String("symbol", symbol), applogger.Error(err))
		c.observer.Notify(models.Notice{Level: models.NoticeWarning, Message: fmt.Sprintf("Stopped %s locally; the backend did not confirm", symbol)})
		return fmt.Errorf("unsubscribe %s: %w", symbol, err)
	case resp.Status != models.StatusUnsubscribed:
		msg := resp.Message
		if msg == "" {
			msg = "unsubscribe failed"
		}
		c.metrics.RecordError("unsubscribe_rejected")
		c.logger.Warn("unsubscribe rejected, stopped locally", applogger.String("symbol", symbol), applogger.String("message", msg))
		c.observer.Notify(models.Notice{Level: models.NoticeWarning, Message: msg})
		return &RejectedError{Symbol: symbol, Message: msg}
	default:
		c.logger.Info("unsubscribed", applogger.String("symbol", symbol))
		c.observer.Notify(models.Notice{Level: models.NoticeSuccess, Message: fmt.Sprintf("Unsubscribed from %s", symbol)})
		return nil
	}
}

// Reconcile adopts a subscription the backend already holds, for example one
// left by an earlier run. It only acts while Idle.
func (c *SubscriptionController) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != models.PhaseIdle || c.pending {
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	c.mu.Unlock()

	status, err := c.backend.SubscriptionStatus(ctx)
	if err != nil {
		c.metrics.RecordError("reconcile")
		c.logger.Warn("subscription status unavailable", applogger.Error(err))
		return fmt.Errorf("reconcile: %w", err)
	}
	if !status.IsSubscribed || status.CurrentSymbol == "" {
		c.logger.Debug("no active subscription on backend")
		return nil
	}

	c.mu.Lock()
	if c.gen != gen || c.phase != models.PhaseIdle || c.pending {
		c.mu.Unlock()
		return nil
	}
	c.adoptLocked(status.CurrentSymbol, status.TickStreamAvailable)
	gen = c.gen
	st := c.stateLocked()
	c.mu.Unlock()

	c.connect(gen)
	c.logger.Info("adopted active subscription",
		applogger.String("symbol", status.CurrentSymbol),
		applogger.String("subscription_id", status.SubscriptionID),
		applogger.Int("total_ticks", status.TotalTicks),
	)
	c.observer.StateChanged(st)
	c.observer.Notify(models.Notice{
		Level:   models.NoticeWarning,
		Message: fmt.Sprintf("Active subscription found: %s", status.CurrentSymbol),
	})
	return nil
}

// Release tears the session down locally without calling the backend. It is
// idempotent and reports whether anything was active. A backend call already
// in flight keeps running, and Subscribe and Unsubscribe report ErrBusy until
// it returns.
func (c *SubscriptionController) Release() bool {
	return c.teardown(0, false)
}

// Active reports whether the session is anywhere but Idle.
func (c *SubscriptionController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase != models.PhaseIdle
}

func (c *SubscriptionController) State() models.SubscriptionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *SubscriptionController) Snapshot() models.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.SessionSnapshot{
		SessionID:       c.id,
		Symbol:          c.symbol,
		Phase:           c.phase,
		StreamAvailable: c.availableLocked(),
		StreamOpen:      c.streamOpen,
		Ticks:           c.ticks,
		TickCount:       len(c.ticks),
		LastTickAt:      c.lastTickAt,
	}
}

// Ticks returns up to limit of the most recent ticks in the current batch.
func (c *SubscriptionController) Ticks(limit int) []models.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit >= len(c.ticks) {
		return c.ticks
	}
	return c.ticks[len(c.ticks)-limit:]
}

// StreamOpened implements repository.StreamListener.
func (c *SubscriptionController) StreamOpened() {
	c.mu.Lock()
	before := c.availableLocked()
	c.streamOpen = true
	st := c.stateLocked()
	c.mu.Unlock()

	if st.StreamAvailable != before {
		c.observer.StateChanged(st)
	}
}

// StreamMessage implements repository.StreamListener.
func (c *SubscriptionController) StreamMessage(raw []byte) {
	// decode failures are logged and counted by the dispatcher
	_ = c.events.Dispatch(raw)
}

// StreamClosed implements repository.StreamListener. Availability drops
// immediately; the transport schedules the reconnect.
func (c *SubscriptionController) StreamClosed(err error) {
	c.mu.Lock()
	wasOpen := c.streamOpen
	before := c.availableLocked()
	c.streamOpen = false
	st := c.stateLocked()
	subscribed := c.phase == models.PhaseSubscribed
	c.mu.Unlock()

	if st.StreamAvailable != before {
		c.observer.StateChanged(st)
	}
	if wasOpen && subscribed {
		c.logger.Warn("tick stream lost", applogger.Error(err))
		c.observer.Notify(models.Notice{Level: models.NoticeWarning, Message: "Tick stream lost, reconnecting"})
	}
}

func (c *SubscriptionController) handleConnected(gen uint64, data json.RawMessage) {
	ev, err := models.DecodeConnected(data)
	if err != nil {
		c.logger.Debug("connected event undecodable", applogger.Error(err))
	}
	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}
	c.logger.Debug("stream handshake", applogger.String("message", ev.Message))
}

func (c *SubscriptionController) handleTickUpdate(gen uint64, data json.RawMessage) {
	u, err := models.DecodeTickUpdate(data)
	if err != nil {
		c.metrics.RecordError("tick_decode")
		c.logger.Warn("tick_update dropped", applogger.Error(err))
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.phase != models.PhaseSubscribed {
		c.mu.Unlock()
		return
	}
	before := c.availableLocked()
	c.serverAvail = u.Available
	if len(u.Ticks) > 0 {
		c.ticks = u.Ticks
		c.lastTickAt = time.Now()
	}
	st := c.stateLocked()
	batch := models.TickBatch{
		SessionID:  c.id,
		Symbol:     c.symbol,
		Ticks:      c.ticks,
		Available:  st.StreamAvailable,
		ReceivedAt: time.Now(),
	}
	c.mu.Unlock()

	if n := len(u.Ticks); n > 0 {
		c.metrics.RecordTicks(batch.Symbol, n)
		c.metrics.RecordLastPrice(batch.Symbol, u.Ticks[n-1].Quote)
	}
	if st.StreamAvailable != before {
		c.observer.StateChanged(st)
	}
	if len(u.Ticks) > 0 || st.StreamAvailable != before {
		c.observer.TicksReceived(batch)
	}
}

// adoptLocked enters Subscribed for symbol and routes stream events to this
// subscription generation.
func (c *SubscriptionController) adoptLocked(symbol string, serverAvail bool) {
	c.gen++
	c.setPhaseLocked(models.PhaseSubscribed)
	c.symbol = symbol
	c.serverAvail = serverAvail
	c.ticks = nil
	c.lastTickAt = time.Time{}

	gen := c.gen
	c.events.On(models.EventConnected, func(data json.RawMessage) { c.handleConnected(gen, data) })
	c.events.On(models.EventTickUpdate, func(data json.RawMessage) { c.handleTickUpdate(gen, data) })
}

// connect opens the stream unless the generation was torn down meanwhile.
func (c *SubscriptionController) connect(gen uint64) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}

	if err := c.transport.Connect(c.streamURL); err != nil {
		c.metrics.RecordError("stream_connect")
		c.logger.Error("stream connect failed", applogger.String("url", c.streamURL), applogger.Error(err))
	}
}

// teardown returns the session to Idle. With check set it only acts when the
// generation still matches gen.
func (c *SubscriptionController) teardown(gen uint64, check bool) bool {
	c.mu.Lock()
	if check && c.gen != gen {
		c.mu.Unlock()
		return false
	}
	wasActive := c.phase != models.PhaseIdle
	c.gen++
	c.events.Off(models.EventConnected)
	c.events.Off(models.EventTickUpdate)
	c.setPhaseLocked(models.PhaseIdle)
	c.symbol = ""
	c.serverAvail = false
	c.ticks = nil
	c.lastTickAt = time.Time{}
	c.mu.Unlock()

	c.connMu.Lock()
	c.transport.Disconnect()
	c.connMu.Unlock()

	c.mu.Lock()
	c.streamOpen = false
	st := c.stateLocked()
	c.mu.Unlock()

	if wasActive {
		c.observer.StateChanged(st)
	}
	return wasActive
}

// releaseOrphan drops a subscription the backend granted after the session
// was already released. The caller has left pending set; it is cleared once
// the backend answers so no new subscribe can race the release.
func (c *SubscriptionController) releaseOrphan(symbol string) {
	c.logger.Warn("releasing subscription granted after session release", applogger.String("symbol", symbol))
	go func() {
		defer func() {
			c.mu.Lock()
			c.pending = false
			c.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), c.unsubscribeTimeout)
		defer cancel()
		if _, err := c.backend.Unsubscribe(ctx); err != nil {
			c.metrics.RecordError("unsubscribe_orphan")
			c.logger.Warn("orphan unsubscribe failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}()
}

func (c *SubscriptionController) setPhaseLocked(p models.Phase) {
	c.phase = p
	c.metrics.RecordPhase(p.String())
}

func (c *SubscriptionController) availableLocked() bool {
	return c.phase == models.PhaseSubscribed && c.streamOpen && c.serverAvail
}

func (c *SubscriptionController) stateLocked() models.SubscriptionState {
	return models.SubscriptionState{
		Symbol:          c.symbol,
		Phase:           c.phase,
		StreamAvailable: c.availableLocked(),
	}
}
