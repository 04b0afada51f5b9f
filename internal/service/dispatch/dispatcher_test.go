package dispatch

import (
	"encoding/json"
	"errors"
	"testing"

	"TickWatch/internal/domain/models"
	applogger "TickWatch/pkg/logger"
	"TickWatch/pkg/metrics"
)

func newTestDispatcher() *Dispatcher {
	return New(applogger.Nop(), metrics.Noop{})
}

func TestDispatchRoutesByType(t *testing.T) {
	d := newTestDispatcher()
	var got string
	d.On(models.EventTickUpdate, func(data json.RawMessage) { got = string(data) })

	if err := d.Dispatch([]byte(`{"type":"tick_update","data":{"ticks":[],"available":true}}`)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got != `{"ticks":[],"available":true}` {
		t.Fatalf("unexpected data %q", got)
	}
}

func TestDispatchLastRegistrationWins(t *testing.T) {
	d := newTestDispatcher()
	var calls []string
	if d.On(models.EventConnected, func(json.RawMessage) { calls = append(calls, "first") }) {
		t.Fatalf("first registration must not report a replacement")
	}
	if !d.On(models.EventConnected, func(json.RawMessage) { calls = append(calls, "second") }) {
		t.Fatalf("second registration must report a replacement")
	}

	_ = d.Dispatch([]byte(`{"type":"connected","message":"hi"}`))
	if len(calls) != 1 || calls[0] != "second" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestDispatchUnknownTypeIgnored(t *testing.T) {
	d := newTestDispatcher()
	called := false
	d.On(models.EventConnected, func(json.RawMessage) { called = true })

	if err := d.Dispatch([]byte(`{"type":"heartbeat"}`)); err != nil {
		t.Fatalf("unknown types are not errors: %v", err)
	}
	if called {
		t.Fatalf("handler must not run for another type")
	}
}

func TestDispatchMalformed(t *testing.T) {
	d := newTestDispatcher()
	called := false
	d.On(models.EventTickUpdate, func(json.RawMessage) { called = true })

	for _, raw := range []string{`not json`, `{"data":{}}`, `[1,2]`} {
		err := d.Dispatch([]byte(raw))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("%s: expected ErrMalformedFrame, got %v", raw, err)
		}
	}
	if called {
		t.Fatalf("handler ran for a malformed frame")
	}
}

func TestOffRemovesHandler(t *testing.T) {
	d := newTestDispatcher()
	called := false
	d.On(models.EventTickUpdate, func(json.RawMessage) { called = true })
	d.Off(models.EventTickUpdate)

	if d.Registered(models.EventTickUpdate) {
		t.Fatalf("handler still registered")
	}
	_ = d.Dispatch([]byte(`{"type":"tick_update","data":{}}`))
	if called {
		t.Fatalf("removed handler was called")
	}
}

func TestHandlerMayReenter(t *testing.T) {
	d := newTestDispatcher()
	d.On(models.EventConnected, func(json.RawMessage) {
		d.Off(models.EventConnected)
	})
	_ = d.Dispatch([]byte(`{"type":"connected"}`))
	if d.Registered(models.EventConnected) {
		t.Fatalf("handler failed to unregister itself")
	}
}
