package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TickWatch/internal/domain/models"
	xlogger "TickWatch/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func newHubServer(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(xlogger.Nop())
	e := echo.New()
	e.GET("/ws", hub.ServeWS)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func waitDetached(t *testing.T, hub *Hub) {
	t.Helper()
	select {
	case <-hub.Detached():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a detached signal")
	}
}

func TestHubGreetsWithLatestState(t *testing.T) {
	hub, url := newHubServer(t)
	hub.StateChanged(models.SubscriptionState{Symbol: "R_100", Phase: models.PhaseSubscribed})
	hub.TicksReceived(models.TickBatch{Symbol: "R_100", Ticks: []models.Tick{{Timestamp: 1, Quote: 1}}})
	hub.StatsUpdated(models.Stats{Balance: 5})

	conn := dial(t, url)
	defer conn.Close()

	want := []string{MsgState, MsgTicks, MsgStats}
	for _, typ := range want {
		if env := readEnvelope(t, conn); env.Type != typ {
			t.Fatalf("got %q, want %q", env.Type, typ)
		}
	}
}

func TestHubBroadcasts(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Viewers() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("viewer never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Notify(models.Notice{Level: models.NoticeSuccess, Message: "Subscribed to R_100"})
	env := readEnvelope(t, conn)
	if env.Type != MsgNotice {
		t.Fatalf("unexpected envelope %+v", env)
	}
	data, _ := env.Data.(map[string]any)
	if data["message"] != "Subscribed to R_100" {
		t.Fatalf("unexpected notice %+v", env.Data)
	}
}

func TestHubIdleClearsTicks(t *testing.T) {
	hub, url := newHubServer(t)
	hub.TicksReceived(models.TickBatch{Symbol: "R_100", Ticks: []models.Tick{{Timestamp: 1}}})
	hub.StateChanged(models.SubscriptionState{Phase: models.PhaseIdle})

	conn := dial(t, url)
	defer conn.Close()

	if env := readEnvelope(t, conn); env.Type != MsgState {
		t.Fatalf("unexpected first envelope %q", env.Type)
	}
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var env Envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Fatalf("stale ticks sent after Idle: %+v", env)
	}
}

func TestHubHiddenMessageSignalsDetached(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "hidden"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitDetached(t, hub)
}

func TestHubLastViewerLeavingSignalsDetached(t *testing.T) {
	hub, url := newHubServer(t)
	conn := dial(t, url)

	deadline := time.Now().Add(2 * time.Second)
	for hub.Viewers() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("viewer never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = conn.Close()
	waitDetached(t, hub)
	if hub.Viewers() != 0 {
		t.Fatalf("viewer not removed")
	}
}
