package wsclient

import (
	"encoding/json"

	"trading-assistant/internal/transport"
)

// Method names of the host JSON-RPC protocol.
const (
	MethodHandshake      = "handshake"
	MethodSubscribe      = "subscribe"
	MethodUnsubscribe    = "unsubscribe"
	MethodAccount        = "account"
	MethodPositions      = "positions"
	MethodSymbols        = "symbols"
	MethodCreateOrder    = "create_order"
	MethodClosePosition  = "close_position"
	MethodModifyPosition = "modify_position"
	MethodPing           = "ping"
	MethodHistory        = "history"
)

// Push event names.
const (
	PushQuote     = "quote"
	PushExecution = "execution"
	PushAccount   = "account"
)

// ErrCodeRejected marks a request the host understood and refused.
const ErrCodeRejected = "rejected"

// Request is a client call. ID correlates the response.
type Request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Message is anything the host sends: a response when ID is set, a push when
// Event is set.
type Message struct {
	ID     uint64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type symbolsParams struct {
	Symbols []string `json:"symbols"`
}

type closeParams struct {
	PositionID string  `json:"position_id"`
	Volume     float64 `json:"volume,omitempty"`
}

type modifyParams struct {
	PositionID string  `json:"position_id"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

type historyParams struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Limit     int    `json:"limit"`
}

func decodePush(m Message) (transport.Event, error) {
	switch m.Event {
	case PushQuote:
		var q transport.Quote
		err := json.Unmarshal(m.Data, &q)
		return transport.Event{Kind: transport.EventQuote, Quote: q}, err
	case PushExecution:
		var x transport.ExecutionEvent
		err := json.Unmarshal(m.Data, &x)
		return transport.Event{Kind: transport.EventExecution, Execution: x}, err
	case PushAccount:
		var a transport.AccountSnapshot
		err := json.Unmarshal(m.Data, &a)
		return transport.Event{Kind: transport.EventAccount, Account: a}, err
	}
	return transport.Event{}, errUnknownPush
}
