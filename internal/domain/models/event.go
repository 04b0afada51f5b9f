package models

import (
	"encoding/json"
	"fmt"
)

// EventType names a push-stream event.
type EventType string

const (
	EventConnected  EventType = "connected"
	EventTickUpdate EventType = "tick_update"
)

// Event is the envelope every push-stream frame carries. Data is decoded by
// the handler registered for Type.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ConnectedEvent is sent once by the backend when the stream opens.
type ConnectedEvent struct {
	Message string `json:"message"`
}

// TickUpdate replaces the client's current tick window.
type TickUpdate struct {
	Ticks     []Tick `json:"ticks"`
	Available bool   `json:"available"`
}

// DecodeTickUpdate parses the data of a tick_update event.
func DecodeTickUpdate(data json.RawMessage) (TickUpdate, error) {
	var u TickUpdate
	if len(data) == 0 {
		return u, fmt.Errorf("tick_update: empty data")
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return u, fmt.Errorf("tick_update: %w", err)
	}
	return u, nil
}

// DecodeConnected parses the data of a connected event. The backend also sends
// the message at the envelope level, so empty data is accepted.
func DecodeConnected(data json.RawMessage) (ConnectedEvent, error) {
	var e ConnectedEvent
	if len(data) == 0 || string(data) == "null" {
		return e, nil
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("connected: %w", err)
	}
	return e, nil
}
