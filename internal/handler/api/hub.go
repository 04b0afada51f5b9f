package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"TickWatch/internal/domain/models"
	applogger "TickWatch/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Envelope types pushed to viewers.
const (
	MsgState  = "state"
	MsgTicks  = "ticks"
	MsgNotice = "notice"
	MsgStats  = "stats"
)

const (
	viewerQueue   = 64
	writeWait     = 10 * time.Second
	pongWait      = 90 * time.Second
	pingPeriod    = 45 * time.Second
	maxViewerRead = 4096
)

// Envelope is one message on the viewer channel.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// viewerMessage is what a viewer may send: {"type":"hidden"} when its page
// goes to the background.
type viewerMessage struct {
	Type string `json:"type"`
}

type viewer struct {
	conn *websocket.Conn
	out  chan Envelope
	done chan struct{}
}

// Hub fans session updates out to WebSocket viewers. It implements the
// session observer and the stats sink, and remembers the latest of each
// update so a new viewer starts from the current picture.
type Hub struct {
	logger   *applogger.Logger
	upgrader websocket.Upgrader
	detached chan struct{}

	mu      sync.RWMutex
	viewers map[*viewer]struct{}
	state   *models.SubscriptionState
	ticks   *models.TickBatch
	stats   *models.Stats
}

func NewHub(l *applogger.Logger) *Hub {
	return &Hub{
		logger: l,
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(*http.Request) bool { return true },
			EnableCompression: true,
		},
		detached: make(chan struct{}, 1),
		viewers:  make(map[*viewer]struct{}),
	}
}

// Detached signals when the last viewer leaves or a viewer reports its page hidden.
func (h *Hub) Detached() <-chan struct{} {
	return h.detached
}

func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (h *Hub) StateChanged(st models.SubscriptionState) {
	h.mu.Lock()
	h.state = &st
	if st.Phase == models.PhaseIdle {
		h.ticks = nil
	}
	h.mu.Unlock()
	h.broadcast(Envelope{Type: MsgState, Data: st})
}

func (h *Hub) TicksReceived(b models.TickBatch) {
	h.mu.Lock()
	h.ticks = &b
	h.mu.Unlock()
	h.broadcast(Envelope{Type: MsgTicks, Data: b})
}

func (h *Hub) Notify(n models.Notice) {
	h.broadcast(Envelope{Type: MsgNotice, Data: n})
}

func (h *Hub) StatsUpdated(s models.Stats) {
	h.mu.Lock()
	h.stats = &s
	h.mu.Unlock()
	h.broadcast(Envelope{Type: MsgStats, Data: s})
}

// ServeWS upgrades the request and serves one viewer until it disconnects.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("viewer upgrade failed", applogger.Error(err))
		return nil
	}
	defer conn.Close()

	v := &viewer{conn: conn, out: make(chan Envelope, viewerQueue), done: make(chan struct{})}
	h.attach(v)
	defer h.detach(v)

	go h.writeLoop(v)
	h.readLoop(v)
	return nil
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for v := range h.viewers {
		_ = v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = v.conn.Close()
	}
}

func (h *Hub) attach(v *viewer) {
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	n := len(h.viewers)
	// greeting goes into the queue before any broadcast can reach this viewer
	if h.state != nil {
		v.out <- Envelope{Type: MsgState, Data: *h.state}
	}
	if h.ticks != nil {
		v.out <- Envelope{Type: MsgTicks, Data: *h.ticks}
	}
	if h.stats != nil {
		v.out <- Envelope{Type: MsgStats, Data: *h.stats}
	}
	h.mu.Unlock()

	h.logger.Debug("viewer attached", applogger.Int("viewers", n))
}

func (h *Hub) detach(v *viewer) {
	close(v.done)

	h.mu.Lock()
	delete(h.viewers, v)
	n := len(h.viewers)
	h.mu.Unlock()

	h.logger.Debug("viewer detached", applogger.Int("viewers", n))
	if n == 0 {
		h.signalDetached()
	}
}

func (h *Hub) signalDetached() {
	select {
	case h.detached <- struct{}{}:
	default:
	}
}

func (h *Hub) broadcast(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for v := range h.viewers {
		select {
		case v.out <- env:
		default:
			// slow viewer; it catches up from the next update
		}
	}
}

func (h *Hub) writeLoop(v *viewer) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-v.done:
			return
		case env := <-v.out:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteJSON(env); err != nil {
				_ = v.conn.Close()
				return
			}
		case <-ping.C:
			if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = v.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) readLoop(v *viewer) {
	v.conn.SetReadLimit(maxViewerRead)
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := v.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg viewerMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Type == "hidden" {
			h.signalDetached()
		}
	}
}
