// Package performance keeps the append-only trade record log and the
// aggregate statistics derived from it.
package performance

import (
	"time"

	"github.com/google/uuid"

	"trading-assistant/internal/transport"
)

// Action names the trade operation a record describes.
type Action string

const (
	ActionOpen   Action = "open"
	ActionClose  Action = "close"
	ActionModify Action = "modify"
)

// Params are the request parameters of a trade attempt.
type Params struct {
	Symbol     string         `json:"symbol"`
	Side       transport.Side `json:"side,omitempty"`
	Volume     float64        `json:"volume"`
	StopLoss   float64        `json:"stop_loss,omitempty"`
	TakeProfit float64        `json:"take_profit,omitempty"`
	PositionID string         `json:"position_id,omitempty"`
}

// Result is the terminal outcome of a trade attempt.
type Result struct {
	Success bool    `json:"success"`
	OrderID string  `json:"order_id,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	Profit  float64 `json:"profit"`
}

// TradeRecord is immutable once created.
type TradeRecord struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	Params    Params    `json:"params"`
	Result    Result    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecord stamps a fresh id and the current time.
func NewRecord(action Action, p Params, r Result) TradeRecord {
	return TradeRecord{
		ID:        uuid.NewString(),
		Action:    action,
		Params:    p,
		Result:    r,
		Timestamp: time.Now().UTC(),
	}
}

// Realized reports whether the record settled profit or loss. Only successful
// closes do; opens, modifies and failures are neutral.
func (r TradeRecord) Realized() bool {
	return r.Action == ActionClose && r.Result.Success
}
