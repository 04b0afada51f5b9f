package models

import (
	"fmt"
	"time"
)

// Phase is the subscription lifecycle position of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubscribing
	PhaseSubscribed
	PhaseUnsubscribing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSubscribing:
		return "subscribing"
	case PhaseSubscribed:
		return "subscribed"
	case PhaseUnsubscribing:
		return "unsubscribing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// SubscriptionState is the derived view of one session. StreamAvailable holds
// only while Phase is PhaseSubscribed and the push stream is open.
type SubscriptionState struct {
	Symbol          string `json:"symbol"`
	Phase           Phase  `json:"phase"`
	StreamAvailable bool   `json:"stream_available"`
}

// SessionSnapshot is a point-in-time copy of the controller's state.
type SessionSnapshot struct {
	SessionID       string    `json:"session_id"`
	Symbol          string    `json:"symbol"`
	Phase           Phase     `json:"phase"`
	StreamAvailable bool      `json:"stream_available"`
	StreamOpen      bool      `json:"stream_open"`
	Ticks           []Tick    `json:"ticks"`
	TickCount       int       `json:"tick_count"`
	LastTickAt      time.Time `json:"last_tick_at"`
}

type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible message surfaced to viewers.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}
