package events

import (
	"time"

	"trading-assistant/internal/chart"
	"trading-assistant/internal/transport"
)

// Event enumerates the outbound topics.
type Event string

const (
	EventConnectionStatus      Event = "connection.status"
	EventQuote                 Event = "quote.updated"
	EventChartReplaced         Event = "chart.replaced"
	EventPositionsChanged      Event = "positions.changed"
	EventAccountChanged        Event = "account.changed"
	EventTradeResult           Event = "trade.result"
	EventConfirmationRequested Event = "confirmation.requested"
)

// ConnectionStatus is published on every connection state transition.
type ConnectionStatus struct {
	State   string    `json:"state"`
	Attempt int       `json:"attempt"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

type QuoteUpdate struct {
	Quote transport.Quote `json:"quote"`
}

// ChartUpdate carries the full series set of the active chart.
type ChartUpdate struct {
	Snapshot chart.Snapshot `json:"snapshot"`
}

type PositionsChanged struct {
	Positions []transport.Position `json:"positions"`
}

type AccountChanged struct {
	Account transport.AccountSnapshot `json:"account"`
}

// TradeResult reports the terminal outcome of a trade attempt.
type TradeResult struct {
	RecordID   string         `json:"record_id"`
	Action     string         `json:"action"`
	Symbol     string         `json:"symbol"`
	Side       transport.Side `json:"side,omitempty"`
	Volume     float64        `json:"volume"`
	PositionID string         `json:"position_id,omitempty"`
	Success    bool           `json:"success"`
	OrderID    string         `json:"order_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	At         time.Time      `json:"at"`
}

// ConfirmationRequest asks the UI to approve a large trade.
type ConfirmationRequest struct {
	ID        string         `json:"id"`
	Symbol    string         `json:"symbol"`
	Side      transport.Side `json:"side"`
	Volume    float64        `json:"volume"`
	Price     float64        `json:"price"`
	ExpiresAt time.Time      `json:"expires_at"`
}
