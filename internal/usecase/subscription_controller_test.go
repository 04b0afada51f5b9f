package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"TickWatch/internal/domain/models"
)

const tickFrame = `{"type":"tick_update","data":{"ticks":[{"timestamp":1,"quote":100.12,"bid":100.10,"ask":100.14}],"available":true}}`

func TestSubscribeReceivesTicks(t *testing.T) {
	f := newControllerFixture()
	ctx := context.Background()

	if err := f.ctrl.Subscribe(ctx, "R_100"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if f.transport.connectCount() != 1 || f.transport.connects[0] != testStreamURL {
		t.Fatalf("expected one connect to %s, got %v", testStreamURL, f.transport.connects)
	}

	f.transport.emit(tickFrame)

	snap := f.ctrl.Snapshot()
	if snap.Phase != models.PhaseSubscribed || snap.Symbol != "R_100" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Ticks) != 1 {
		t.Fatalf("expected one tick, got %d", len(snap.Ticks))
	}
	tk := snap.Ticks[0]
	if tk.Timestamp != 1 || tk.Quote != 100.12 || tk.Bid != 100.10 || tk.Ask != 100.14 {
		t.Fatalf("unexpected tick %+v", tk)
	}
	if !f.ctrl.State().StreamAvailable {
		t.Fatalf("expected stream available")
	}
	if f.observer.batchCount() != 1 {
		t.Fatalf("expected one batch to observers, got %d", f.observer.batchCount())
	}
}

func TestSubscribeEmptySymbol(t *testing.T) {
	f := newControllerFixture()

	for _, sym := range []string{"", "   "} {
		if err := f.ctrl.Subscribe(context.Background(), sym); !errors.Is(err, ErrEmptySymbol) {
			t.Fatalf("expected ErrEmptySymbol, got %v", err)
		}
	}
	if n, _, _ := f.backend.counts(); n != 0 {
		t.Fatalf("backend must not be called, got %d calls", n)
	}
	if f.ctrl.State().Phase != models.PhaseIdle {
		t.Fatalf("expected Idle")
	}
}

func TestReconcileAdoptsActiveSubscription(t *testing.T) {
	f := newControllerFixture()
	f.backend.status = &models.SubscriptionStatus{
		IsSubscribed:        true,
		CurrentSymbol:       "FRXEURUSD",
		TickStreamAvailable: true,
	}

	if err := f.ctrl.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	st := f.ctrl.State()
	if st.Phase != models.PhaseSubscribed || st.Symbol != "FRXEURUSD" {
		t.Fatalf("unexpected state %+v", st)
	}
	if n, _, _ := f.backend.counts(); n != 0 {
		t.Fatalf("subscribe endpoint must not be called on reconcile")
	}
	if f.transport.connectCount() != 1 {
		t.Fatalf("expected transport to open")
	}
	if !st.StreamAvailable {
		t.Fatalf("expected stream available after reconcile")
	}
}

func TestReconcileNothingActive(t *testing.T) {
	f := newControllerFixture()
	if err := f.ctrl.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if f.ctrl.Active() || f.transport.connectCount() != 0 {
		t.Fatalf("nothing to adopt, session must stay Idle")
	}
}

func TestReconcileStatusError(t *testing.T) {
	f := newControllerFixture()
	f.backend.statusErr = errors.New("down")
	if err := f.ctrl.Reconcile(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if f.ctrl.Active() {
		t.Fatalf("expected Idle")
	}
}

func TestSubscribeRejected(t *testing.T) {
	f := newControllerFixture()
	f.backend.subscribeFn = func(context.Context, string) (*models.SubscribeResponse, error) {
		return &models.SubscribeResponse{Status: models.StatusError, Message: "symbol not tradable"}, nil
	}

	err := f.ctrl.Subscribe(context.Background(), "BAD")
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Message != "symbol not tradable" {
		t.Fatalf("expected rejection, got %v", err)
	}
	if f.ctrl.State().Phase != models.PhaseIdle {
		t.Fatalf("expected Idle")
	}
	if f.transport.connectCount() != 0 {
		t.Fatalf("transport must not open on rejection")
	}
	n, ok := f.observer.lastNotice()
	if !ok || n.Level != models.NoticeError || n.Message != "symbol not tradable" {
		t.Fatalf("unexpected notice %+v", n)
	}
}

func TestSubscribeTransportError(t *testing.T) {
	f := newControllerFixture()
	f.backend.subscribeFn = func(context.Context, string) (*models.SubscribeResponse, error) {
		return nil, errors.New("connection refused")
	}
	if err := f.ctrl.Subscribe(context.Background(), "R_100"); err == nil {
		t.Fatalf("expected error")
	}
	if f.ctrl.Active() {
		t.Fatalf("expected Idle")
	}
	n, _ := f.observer.lastNotice()
	if n.Message != "Failed to subscribe to R_100" {
		t.Fatalf("unexpected notice %+v", n)
	}
}

func TestSubscribeWhileBusy(t *testing.T) {
	f := newControllerFixture()
	release := make(chan struct{})
	entered := make(chan struct{})
	f.backend.subscribeFn = func(context.Context, string) (*models.SubscribeResponse, error) {
		close(entered)
		<-release
		return &models.SubscribeResponse{Status: models.StatusSubscribed}, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Subscribe(context.Background(), "R_100") }()
	<-entered

	if err := f.ctrl.Subscribe(context.Background(), "R_50"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := f.ctrl.Unsubscribe(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := f.ctrl.Subscribe(context.Background(), "R_50"); !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestUnsubscribeNotSubscribed(t *testing.T) {
	f := newControllerFixture()
	if err := f.ctrl.Unsubscribe(context.Background()); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
}

func TestTicksIgnoredAfterUnsubscribe(t *testing.T) {
	f := newControllerFixture()
	ctx := context.Background()
	if err := f.ctrl.Subscribe(ctx, "R_100"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := f.ctrl.Unsubscribe(ctx); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if f.transport.IsOpen() {
		t.Fatalf("transport must be closed")
	}

	// a frame already in flight when the stream closed
	f.ctrl.StreamMessage([]byte(tickFrame))

	snap := f.ctrl.Snapshot()
	if snap.Phase != models.PhaseIdle || len(snap.Ticks) != 0 || snap.StreamAvailable {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if f.observer.batchCount() != 0 {
		t.Fatalf("no batch may reach observers after unsubscribe")
	}
}

func TestUnsubscribeFailureStillStops(t *testing.T) {
	f := newControllerFixture()
	ctx := context.Background()
	f.backend.unsubscribeFn = func(context.Context) (*models.UnsubscribeResponse, error) {
		return nil, errors.New("502")
	}
	if err := f.ctrl.Subscribe(ctx, "R_100"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := f.ctrl.Unsubscribe(ctx); err == nil {
		t.Fatalf("expected error")
	}
	if f.ctrl.Active() || f.transport.IsOpen() {
		t.Fatalf("session must end Idle with the stream closed")
	}
	n, _ := f.observer.lastNotice()
	if n.Level != models.NoticeWarning {
		t.Fatalf("expected warning notice, got %+v", n)
	}
}

func TestUnsubscribeRejectedStillStops(t *testing.T) {
	f := newControllerFixture()
	ctx := context.Background()
	f.backend.unsubscribeFn = func(context.Context) (*models.UnsubscribeResponse, error) {
		return &models.UnsubscribeResponse{Status: models.StatusError, Message: "no subscription"}, nil
	}
	_ = f.ctrl.Subscribe(ctx, "R_100")

	var rej *RejectedError
	if err := f.ctrl.Unsubscribe(ctx); !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if f.ctrl.Active() {
		t.Fatalf("expected Idle")
	}
}

func TestUnsubscribeTimeout(t *testing.T) {
	f := newControllerFixture(WithUnsubscribeTimeout(20 * time.Millisecond))
	ctx := context.Background()
	f.backend.unsubscribeFn = func(ctx context.Context) (*models.UnsubscribeResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_ = f.ctrl.Subscribe(ctx, "R_100")

	err := f.ctrl.Unsubscribe(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if f.ctrl.Active() {
		t.Fatalf("expected Idle after timeout")
	}
}

func TestStreamLossDropsAvailability(t *testing.T) {
	f := newControllerFixture()
	_ = f.ctrl.Subscribe(context.Background(), "R_100")
	f.transport.emit(tickFrame)
	if !f.ctrl.State().StreamAvailable {
		t.Fatalf("expected available")
	}

	f.transport.drop(errors.New("eof"))

	st := f.ctrl.State()
	if st.StreamAvailable || st.Phase != models.PhaseSubscribed {
		t.Fatalf("unexpected state %+v", st)
	}
	n, _ := f.observer.lastNotice()
	if n.Level != models.NoticeWarning {
		t.Fatalf("expected warning notice, got %+v", n)
	}
	// the last batch survives a reconnect
	if len(f.ctrl.Ticks(0)) != 1 {
		t.Fatalf("ticks cleared on stream loss")
	}
}

func TestEmptyTickBatchKeepsTicks(t *testing.T) {
	f := newControllerFixture()
	_ = f.ctrl.Subscribe(context.Background(), "R_100")
	f.transport.emit(tickFrame)
	f.transport.emit(`{"type":"tick_update","data":{"ticks":[],"available":false}}`)

	if len(f.ctrl.Ticks(0)) != 1 {
		t.Fatalf("empty batch must not clear ticks")
	}
	if f.ctrl.State().StreamAvailable {
		t.Fatalf("server reported the stream unavailable")
	}
}

func TestMalformedTickUpdateIgnored(t *testing.T) {
	f := newControllerFixture()
	_ = f.ctrl.Subscribe(context.Background(), "R_100")
	f.transport.emit(`{"type":"tick_update","data":"nope"}`)
	f.transport.emit(`garbage`)

	if len(f.ctrl.Ticks(0)) != 0 || f.observer.batchCount() != 0 {
		t.Fatalf("malformed frames must be dropped")
	}
	if !f.ctrl.Active() {
		t.Fatalf("session must survive bad frames")
	}
}

func TestTicksLimit(t *testing.T) {
	f := newControllerFixture()
	_ = f.ctrl.Subscribe(context.Background(), "R_100")
	f.transport.emit(`{"type":"tick_update","data":{"ticks":[{"timestamp":1,"quote":1},{"timestamp":2,"quote":2},{"timestamp":3,"quote":3}],"available":true}}`)

	got := f.ctrl.Ticks(2)
	if len(got) != 2 || got[0].Timestamp != 2 || got[1].Timestamp != 3 {
		t.Fatalf("unexpected ticks %+v", got)
	}
}

func TestReleaseDuringSubscribeReleasesOrphan(t *testing.T) {
	f := newControllerFixture()
	release := make(chan struct{})
	entered := make(chan struct{})
	f.backend.subscribeFn = func(context.Context, string) (*models.SubscribeResponse, error) {
		close(entered)
		<-release
		return &models.SubscribeResponse{Status: models.StatusSubscribed}, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Subscribe(context.Background(), "R_100") }()
	<-entered

	if !f.ctrl.Release() {
		t.Fatalf("Release must report the in-flight session")
	}
	close(release)
	if err := <-done; !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
	if f.transport.connectCount() != 0 {
		t.Fatalf("released session must not open the stream")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, n, _ := f.backend.counts(); n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("orphaned subscription was not released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	f := newControllerFixture()
	_ = f.ctrl.Subscribe(context.Background(), "R_100")
	if !f.ctrl.Release() {
		t.Fatalf("first release must report an active session")
	}
	if f.ctrl.Release() {
		t.Fatalf("second release must be a no-op")
	}
	if f.ctrl.Active() {
		t.Fatalf("expected Idle")
	}
}

func TestReleaseDuringUnsubscribeBlocksSubscribe(t *testing.T) {
	f := newControllerFixture()
	if err := f.ctrl.Subscribe(context.Background(), "R_100"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	release := make(chan struct{})
	entered := make(chan struct{})
	f.backend.unsubscribeFn = func(context.Context) (*models.UnsubscribeResponse, error) {
		close(entered)
		<-release
		return &models.UnsubscribeResponse{Status: models.StatusUnsubscribed}, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Unsubscribe(context.Background()) }()
	<-entered

	if !f.ctrl.Release() {
		t.Fatalf("Release must report the unsubscribing session")
	}
	if err := f.ctrl.Subscribe(context.Background(), "FRXEURUSD"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while /unsubscribe is outstanding, got %v", err)
	}
	if err := f.ctrl.Unsubscribe(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if n, _, _ := f.backend.counts(); n != 1 {
		t.Fatalf("second subscribe must not reach the backend, got %d subscribe calls", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	if err := f.ctrl.Subscribe(context.Background(), "FRXEURUSD"); err != nil {
		t.Fatalf("subscribe after unsubscribe returned: %v", err)
	}
	st := f.ctrl.State()
	if st.Phase != models.PhaseSubscribed || st.Symbol != "FRXEURUSD" || !st.StreamAvailable {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestOrphanReleaseFinishesBeforeNextSubscribe(t *testing.T) {
	f := newControllerFixture()
	subRelease := make(chan struct{})
	subEntered := make(chan struct{})
	f.backend.subscribeFn = func(context.Context, string) (*models.SubscribeResponse, error) {
		select {
		case <-subEntered:
		default:
			close(subEntered)
			<-subRelease
		}
		return &models.SubscribeResponse{Status: models.StatusSubscribed}, nil
	}
	unsubRelease := make(chan struct{})
	unsubEntered := make(chan struct{})
	f.backend.unsubscribeFn = func(context.Context) (*models.UnsubscribeResponse, error) {
		close(unsubEntered)
		<-unsubRelease
		return &models.UnsubscribeResponse{Status: models.StatusUnsubscribed}, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Subscribe(context.Background(), "R_100") }()
	<-subEntered
	f.ctrl.Release()
	close(subRelease)
	if err := <-done; !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}

	<-unsubEntered
	if err := f.ctrl.Subscribe(context.Background(), "R_50"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while the orphan is released, got %v", err)
	}
	close(unsubRelease)

	deadline := time.Now().Add(2 * time.Second)
	for {
		err := f.ctrl.Subscribe(context.Background(), "R_50")
		if err == nil {
			break
		}
		if !errors.Is(err, ErrBusy) || time.Now().After(deadline) {
			t.Fatalf("subscribe after orphan release: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := f.ctrl.State(); st.Phase != models.PhaseSubscribed || st.Symbol != "R_50" {
		t.Fatalf("unexpected state %+v", st)
	}
}
