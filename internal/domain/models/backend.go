package models

import "encoding/json"

const (
	StatusSubscribed   = "subscribed"
	StatusUnsubscribed = "unsubscribed"
	StatusError        = "error"
	StatusCleaned      = "cleaned"
)

type SubscribeRequest struct {
	Symbol string `json:"symbol" validate:"required,max=64"`
}

type SubscribeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type UnsubscribeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type CleanupResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SubscriptionStatus is the backend's view of the active subscription.
type SubscriptionStatus struct {
	IsSubscribed        bool   `json:"is_subscribed"`
	CurrentSymbol       string `json:"current_symbol,omitempty"`
	TickStreamAvailable bool   `json:"tick_stream_available,omitempty"`
	SubscriptionID      string `json:"subscription_id,omitempty"`
	LastTickTime        int64  `json:"last_tick_time,omitempty"`
	TotalTicks          int    `json:"total_ticks,omitempty"`
}

type MarketsResponse struct {
	Markets []Market `json:"markets"`
}

// TicksResponse is the /ticks snapshot, same shape as a tick_update payload.
type TicksResponse = TickUpdate

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
}

// Setting values are arbitrary JSON owned by the backend.
type Setting struct {
	Key         string          `json:"key" param:"key" validate:"required,max=128"`
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description,omitempty"`
	Message     string          `json:"message,omitempty"`
}

type SettingsResponse struct {
	Settings map[string]json.RawMessage `json:"settings"`
}

type SettingValueRequest struct {
	Key   string          `param:"key" validate:"required,max=128"`
	Value json.RawMessage `json:"value" validate:"required"`
}

type LifecycleRequest struct {
	Trigger string `param:"trigger" validate:"required,oneof=teardown hidden unload"`
}

type TicksQuery struct {
	Limit int `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

// HistoryQuery selects recorded ticks; From and To are epoch seconds, To
// defaults to now and From to an hour before To.
type HistoryQuery struct {
	Symbol string `query:"symbol" validate:"required,max=64"`
	From   int64  `query:"from" validate:"gte=0"`
	To     int64  `query:"to" validate:"gte=0"`
	Limit  int    `query:"limit" default:"500" validate:"gte=1,lte=5000"`
}

// MarketsQuery forces a catalog refresh when Refresh is set.
type MarketsQuery struct {
	Refresh bool `query:"refresh"`
}
