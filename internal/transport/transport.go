// Package transport defines the contract between the assistant core and a host
// trading platform. Implementations are chosen explicitly at construction time.
package transport

import (
	"context"
	"time"
)

// Transport is the host binding consumed by the connection manager and the executor.
type Transport interface {
	// Connect opens the channel to the host. It returns once the channel is usable
	// for the handshake.
	Connect(ctx context.Context) error
	// Handshake registers the client; a nil error means registration was acknowledged.
	Handshake(ctx context.Context, reg Registration) error
	Disconnect() error

	SubscribeQuotes(ctx context.Context, symbols []string) error
	UnsubscribeQuotes(ctx context.Context, symbols []string) error

	GetAccount(ctx context.Context) (AccountSnapshot, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetSymbols(ctx context.Context) ([]SymbolInfo, error)

	CreateOrder(ctx context.Context, spec OrderSpec) (OrderResult, error)
	// ClosePosition closes volume lots of the position; volume 0 closes all of it.
	ClosePosition(ctx context.Context, id string, volume float64) (CloseResult, error)
	// ModifyPosition sets the protective levels; 0 clears a level.
	ModifyPosition(ctx context.Context, id string, stopLoss, takeProfit float64) error

	Ping(ctx context.Context) error

	// Events is the single push channel for the lifetime of the transport.
	Events() <-chan Event
}

// HistorySource is implemented by transports that can serve chart history.
type HistorySource interface {
	History(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// Side denotes the direction of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is buy or sell.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Quote is a single top-of-book sample.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Spread    float64   `json:"spread"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the midpoint between bid and ask.
func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// EntryPrice is the price a new order of the given side would fill at.
func (q Quote) EntryPrice(side Side) float64 {
	if side == SideBuy {
		return q.Ask
	}
	return q.Bid
}

// Position mirrors an open position on the host. Zero StopLoss/TakeProfit means unset.
type Position struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Volume       float64   `json:"volume"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	Profit       float64   `json:"profit"`
	Swap         float64   `json:"swap"`
	Commission   float64   `json:"commission"`
	StopLoss     float64   `json:"stop_loss,omitempty"`
	TakeProfit   float64   `json:"take_profit,omitempty"`
	OpenTime     time.Time `json:"open_time"`
}

// AccountSnapshot is replaced wholesale on every account update.
type AccountSnapshot struct {
	Balance     float64   `json:"balance"`
	Equity      float64   `json:"equity"`
	Margin      float64   `json:"margin"`
	FreeMargin  float64   `json:"free_margin"`
	MarginLevel float64   `json:"margin_level"`
	Profit      float64   `json:"profit"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SymbolInfo describes a tradable instrument.
type SymbolInfo struct {
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Digits       int     `json:"digits"`
	ContractSize float64 `json:"contract_size"`
	MinVolume    float64 `json:"min_volume"`
	MaxVolume    float64 `json:"max_volume"`
	VolumeStep   float64 `json:"volume_step"`
}

// OrderSpec is a market order request sent to the host.
type OrderSpec struct {
	ClientID   string  `json:"client_id"`
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Volume     float64 `json:"volume"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
}

// OrderResult is the host acknowledgement of a created order.
type OrderResult struct {
	OrderID string `json:"order_id"`
}

// CloseResult reports what the host closed. Profit is zero when the host does not report it.
type CloseResult struct {
	ClosedVolume float64 `json:"closed_volume"`
	Profit       float64 `json:"profit"`
}

// Candle is one historical bar used to seed the chart.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Registration is the handshake payload.
type Registration struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Token    string `json:"token,omitempty"`
	Version  string `json:"version"`
}

// ExecutionKind classifies an execution event.
type ExecutionKind string

const (
	ExecFill         ExecutionKind = "fill"
	ExecPartialClose ExecutionKind = "partial_close"
	ExecClose        ExecutionKind = "close"
	ExecModify       ExecutionKind = "modify"
)

// ExecutionEvent is pushed by the host when a position changes. Volume is the
// remaining position volume after the event.
type ExecutionEvent struct {
	Seq        uint64        `json:"seq"`
	Kind       ExecutionKind `json:"kind"`
	PositionID string        `json:"position_id"`
	OrderID    string        `json:"order_id,omitempty"`
	Symbol     string        `json:"symbol"`
	Side       Side          `json:"side"`
	Volume     float64       `json:"volume"`
	Price      float64       `json:"price"`
	StopLoss   float64       `json:"stop_loss,omitempty"`
	TakeProfit float64       `json:"take_profit,omitempty"`
	Profit     float64       `json:"profit"`
	Time       time.Time     `json:"time"`
}

// EventKind enumerates transport push events.
type EventKind int

const (
	EventOpened EventKind = iota
	EventClosed
	EventQuote
	EventExecution
	EventAccount
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventQuote:
		return "quote"
	case EventExecution:
		return "execution"
	case EventAccount:
		return "account"
	default:
		return "unknown"
	}
}

// Event carries one push notification. Only the field matching Kind is set.
type Event struct {
	Kind      EventKind
	Quote     Quote
	Execution ExecutionEvent
	Account   AccountSnapshot
	Err       error // reason for EventClosed
}
