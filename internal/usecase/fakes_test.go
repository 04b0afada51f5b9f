package usecase

import (
	"context"
	"errors"
	"sync"

	"TickWatch/internal/domain/models"
	"TickWatch/internal/domain/repository"
	"TickWatch/internal/service/dispatch"
	applogger "TickWatch/pkg/logger"
	"TickWatch/pkg/metrics"
)

type fakeBackend struct {
	mu sync.Mutex

	subscribeFn   func(ctx context.Context, symbol string) (*models.SubscribeResponse, error)
	unsubscribeFn func(ctx context.Context) (*models.UnsubscribeResponse, error)
	status        *models.SubscriptionStatus
	statusErr     error
	stats         *models.Stats
	statsErr      error
	markets       []models.Market
	marketsErr    error
	cleanupErr    error

	subscribeCalls   []string
	unsubscribeCalls int
	cleanupCalls     int
	marketsCalls     int
	statsCalls       int
}

func (b *fakeBackend) Subscribe(ctx context.Context, symbol string) (*models.SubscribeResponse, error) {
	b.mu.Lock()
	b.subscribeCalls = append(b.subscribeCalls, symbol)
	fn := b.subscribeFn
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, symbol)
	}
	return &models.SubscribeResponse{Status: models.StatusSubscribed}, nil
}

func (b *fakeBackend) Unsubscribe(ctx context.Context) (*models.UnsubscribeResponse, error) {
	b.mu.Lock()
	b.unsubscribeCalls++
	fn := b.unsubscribeFn
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return &models.UnsubscribeResponse{Status: models.StatusUnsubscribed}, nil
}

func (b *fakeBackend) SubscriptionStatus(context.Context) (*models.SubscriptionStatus, error) {
	if b.statusErr != nil {
		return nil, b.statusErr
	}
	if b.status == nil {
		return &models.SubscriptionStatus{}, nil
	}
	return b.status, nil
}

func (b *fakeBackend) CleanupSubscription(context.Context) (*models.CleanupResponse, error) {
	b.mu.Lock()
	b.cleanupCalls++
	b.mu.Unlock()
	if b.cleanupErr != nil {
		return nil, b.cleanupErr
	}
	return &models.CleanupResponse{Status: models.StatusCleaned}, nil
}

func (b *fakeBackend) Stats(context.Context) (*models.Stats, error) {
	b.mu.Lock()
	b.statsCalls++
	b.mu.Unlock()
	if b.statsErr != nil {
		return nil, b.statsErr
	}
	if b.stats == nil {
		return &models.Stats{}, nil
	}
	return b.stats, nil
}

func (b *fakeBackend) Markets(context.Context) ([]models.Market, error) {
	b.mu.Lock()
	b.marketsCalls++
	b.mu.Unlock()
	return b.markets, b.marketsErr
}

func (b *fakeBackend) Ticks(context.Context) (*models.TicksResponse, error) {
	return &models.TicksResponse{}, nil
}

func (b *fakeBackend) Health(context.Context) (*models.HealthResponse, error) {
	return &models.HealthResponse{Status: "ok"}, nil
}

func (b *fakeBackend) counts() (subscribe, unsubscribe, cleanup int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribeCalls), b.unsubscribeCalls, b.cleanupCalls
}

// fakeTransport opens synchronously and lets tests push frames.
type fakeTransport struct {
	mu          sync.Mutex
	listener    repository.StreamListener
	open        bool
	connects    []string
	disconnects int
}

func (t *fakeTransport) SetListener(l repository.StreamListener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

func (t *fakeTransport) Connect(url string) error {
	if url == "" {
		return errors.New("empty url")
	}
	t.mu.Lock()
	t.connects = append(t.connects, url)
	t.open = true
	l := t.listener
	t.mu.Unlock()
	l.StreamOpened()
	return nil
}

func (t *fakeTransport) Disconnect() {
	t.mu.Lock()
	t.disconnects++
	t.open = false
	t.mu.Unlock()
}

func (t *fakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) emit(raw string) {
	t.mu.Lock()
	l, open := t.listener, t.open
	t.mu.Unlock()
	if open {
		l.StreamMessage([]byte(raw))
	}
}

func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	t.open = false
	l := t.listener
	t.mu.Unlock()
	l.StreamClosed(err)
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.connects)
}

type recordingObserver struct {
	mu      sync.Mutex
	states  []models.SubscriptionState
	batches []models.TickBatch
	notices []models.Notice
}

func (o *recordingObserver) StateChanged(st models.SubscriptionState) {
	o.mu.Lock()
	o.states = append(o.states, st)
	o.mu.Unlock()
}

func (o *recordingObserver) TicksReceived(b models.TickBatch) {
	o.mu.Lock()
	o.batches = append(o.batches, b)
	o.mu.Unlock()
}

func (o *recordingObserver) Notify(n models.Notice) {
	o.mu.Lock()
	o.notices = append(o.notices, n)
	o.mu.Unlock()
}

func (o *recordingObserver) lastNotice() (models.Notice, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.notices) == 0 {
		return models.Notice{}, false
	}
	return o.notices[len(o.notices)-1], true
}

func (o *recordingObserver) batchCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.batches)
}

const testStreamURL = "http://backend.test/api/ticks/stream"

type controllerFixture struct {
	backend   *fakeBackend
	transport *fakeTransport
	observer  *recordingObserver
	ctrl      *SubscriptionController
}

func newControllerFixture(opts ...ControllerOption) *controllerFixture {
	f := &controllerFixture{
		backend:   &fakeBackend{},
		transport: &fakeTransport{},
		observer:  &recordingObserver{},
	}
	l := applogger.Nop()
	m := metrics.Noop{}
	f.ctrl = NewSubscriptionController(f.backend, f.transport, dispatch.New(l, m), f.observer, m, l, testStreamURL, opts...)
	return f
}
