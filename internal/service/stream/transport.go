package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"TickWatch/internal/domain/repository"
	xhttp "TickWatch/pkg/http"
	applogger "TickWatch/pkg/logger"
)

// Option configures Transport.
type Option func(*Transport)

// WithBackoff sets the reconnect schedule.
func WithBackoff(b Backoff) Option {
	return func(t *Transport) { t.backoff = b }
}

// WithClient sets the HTTP client used to open the stream. It must not carry
// a whole-request timeout.
func WithClient(c *xhttp.Client) Option {
	return func(t *Transport) { t.client = c }
}

type conn struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Transport is a server-sent-events StreamTransport. One reader goroutine per
// connection delivers frames in order; failures schedule a single reconnect
// on a timer.
type Transport struct {
	client  *xhttp.Client
	backoff Backoff
	logger  *applogger.Logger
	metrics repository.Metrics

	mu          sync.Mutex
	listener    repository.StreamListener
	url         string
	gen         uint64 // bumped by Connect and Disconnect; stale work compares against it
	cur         *conn
	timer       *time.Timer
	attempt     int
	open        bool
	retryHint   time.Duration
	lastEventID string
}

// New creates an idle transport.
func New(l *applogger.Logger, m repository.Metrics, opts ...Option) *Transport {
	t := &Transport{
		backoff:  DefaultBackoff(),
		logger:   l,
		metrics:  m,
		listener: noopListener{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = xhttp.NewClient(xhttp.WithTimeout(0))
	}
	return t
}

func (t *Transport) SetListener(l repository.StreamListener) {
	if l == nil {
		l = noopListener{}
	}
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport) Connect(url string) error {
	if url == "" {
		return ErrEmptyURL
	}

	t.mu.Lock()
	old := t.stopLocked()
	t.url = url
	t.attempt = 0
	t.retryHint = 0
	t.lastEventID = ""
	gen := t.gen
	t.mu.Unlock()

	// the previous reader must be gone before a new socket opens
	old.wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		// superseded by a concurrent Connect or Disconnect
		return nil
	}
	t.cur = t.dialLocked(gen)
	t.logger.Info("stream connecting", applogger.String("url", url))
	return nil
}

func (t *Transport) Disconnect() {
	t.mu.Lock()
	wasActive := t.cur != nil || t.timer != nil
	old := t.stopLocked()
	t.mu.Unlock()

	old.wait()
	if wasActive {
		t.logger.Info("stream disconnected")
	}
}

// stopLocked invalidates the current generation and returns the connection the
// caller must wait for.
func (t *Transport) stopLocked() *conn {
	t.gen++
	t.open = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	old := t.cur
	t.cur = nil
	if old != nil {
		old.cancel()
	}
	return old
}

func (c *conn) wait() {
	if c != nil {
		<-c.done
	}
}

func (t *Transport) dialLocked(gen uint64) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{cancel: cancel, done: make(chan struct{})}
	go t.run(ctx, c, gen, t.url, t.lastEventID)
	return c
}

func (t *Transport) run(ctx context.Context, c *conn, gen uint64, url, lastEventID string) {
	defer close(c.done)
	defer c.cancel()

	err := t.stream(ctx, gen, url, lastEventID)
	if ctx.Err() != nil {
		// cancelled by Connect or Disconnect
		return
	}

	t.metrics.RecordError("stream")
	t.logger.Warn("stream error", applogger.String("url", url), applogger.Error(err))

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.open = false
	listener := t.listener
	t.mu.Unlock()

	listener.StreamClosed(err)
	t.scheduleReconnect(gen)
}

func (t *Transport) stream(ctx context.Context, gen uint64, url, lastEventID string) error {
	headers := map[string]string{
		"Accept":        "text/event-stream",
		"Cache-Control": "no-cache",
	}
	if lastEventID != "" {
		headers["Last-Event-ID"] = lastEventID
	}

	resp, err := t.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     url,
		Headers: headers,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &xhttp.StatusError{Code: resp.StatusCode}
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return context.Canceled
	}
	t.open = true
	t.attempt = 0
	listener := t.listener
	t.mu.Unlock()

	t.logger.Info("stream open", applogger.String("url", url))
	listener.StreamOpened()

	err = readFrames(resp.Body, func(f frame) {
		t.mu.Lock()
		if t.gen != gen {
			t.mu.Unlock()
			return
		}
		if f.Retry > 0 {
			t.retryHint = f.Retry
		}
		if f.ID != "" {
			t.lastEventID = f.ID
		}
		t.mu.Unlock()

		if !f.HasData {
			return
		}
		if !utf8.ValidString(f.Data) {
			t.metrics.RecordError("stream_encoding")
			t.logger.Warn("stream frame dropped", applogger.Error(ErrInvalidEncoding), applogger.Int("bytes", len(f.Data)))
			return
		}
		listener.StreamMessage([]byte(f.Data))
	})
	if errors.Is(err, io.EOF) {
		return ErrStreamEnded
	}
	return fmt.Errorf("stream read: %w", err)
}

func (t *Transport) scheduleReconnect(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return
	}

	t.attempt++
	if t.backoff.Exhausted(t.attempt) {
		t.logger.Error("stream reconnect attempts exhausted",
			applogger.String("url", t.url),
			applogger.Int("attempts", t.attempt-1),
		)
		t.cur = nil
		return
	}

	b := t.backoff
	if t.retryHint > 0 {
		b.Initial = t.retryHint
	}
	delay := b.Delay(t.attempt)

	t.logger.Info("stream reconnect scheduled",
		applogger.Int("attempt", t.attempt),
		applogger.Duration("delay_ms", delay),
	)
	t.timer = time.AfterFunc(delay, func() { t.reconnect(gen) })
}

func (t *Transport) reconnect(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.timer == nil {
		return
	}
	t.timer = nil
	t.metrics.RecordReconnect()
	t.cur = t.dialLocked(gen)
}

type noopListener struct{}

func (noopListener) StreamOpened()        {}
func (noopListener) StreamMessage([]byte) {}
func (noopListener) StreamClosed(error)   {}
