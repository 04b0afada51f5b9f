package models

import "time"

// Tick is one price observation pushed by the backend. Immutable once received.
type Tick struct {
	Timestamp int64   `json:"timestamp"` // epoch seconds
	Quote     float64 `json:"quote"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Status    string  `json:"status,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// Time converts the epoch timestamp.
func (t Tick) Time() time.Time {
	return time.Unix(t.Timestamp, 0)
}

// TickBatch is what observers receive for each accepted tick_update.
type TickBatch struct {
	SessionID  string    `json:"session_id"`
	Symbol     string    `json:"symbol"`
	Ticks      []Tick    `json:"ticks"`
	Available  bool      `json:"available"`
	ReceivedAt time.Time `json:"received_at"`
}

// TickRecord is a single tick tagged with its symbol, the unit the sinks store.
type TickRecord struct {
	SessionID string
	Symbol    string
	Tick      Tick
}

// Market describes a tradable instrument as listed by the backend.
type Market struct {
	Symbol               string   `json:"symbol"`
	DisplayName          string   `json:"display_name"`
	Market               string   `json:"market"`
	HasTickStream        bool     `json:"has_tick_stream"`
	Submarket            string   `json:"submarket,omitempty"`
	Exchange             string   `json:"exchange,omitempty"`
	MarketDisplayName    string   `json:"market_display_name,omitempty"`
	SubmarketDisplayName string   `json:"submarket_display_name,omitempty"`
	Pip                  *float64 `json:"pip,omitempty"`
	PipSize              *float64 `json:"pip_size,omitempty"`
	MinStake             *float64 `json:"min_stake,omitempty"`
	MaxStake             *float64 `json:"max_stake,omitempty"`
	Spot                 *float64 `json:"spot,omitempty"`
	SpotTime             *int64   `json:"spot_time,omitempty"`
	ProductType          string   `json:"product_type,omitempty"`
	ContractType         string   `json:"contract_type,omitempty"`
}

// Stats is the account summary polled for the header.
type Stats struct {
	Balance float64 `json:"balance"`
}
