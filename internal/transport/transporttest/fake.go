// Package transporttest provides a programmable Transport double.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"trading-assistant/internal/transport"
)

// Fake records every call and answers from its configurable fields. Hooks run
// with no lock held and may block to simulate a slow host.
type Fake struct {
	mu    sync.Mutex
	calls map[string]int

	ConnectErr   error
	HandshakeErr error
	PingErr      error
	SubscribeErr error

	Account   transport.AccountSnapshot
	Positions []transport.Position
	Symbols   []transport.SymbolInfo
	Candles   []transport.Candle

	OnConnect func(ctx context.Context) error
	OnCreate  func(ctx context.Context, spec transport.OrderSpec) (transport.OrderResult, error)
	OnClose   func(ctx context.Context, id string, volume float64) (transport.CloseResult, error)
	OnModify  func(ctx context.Context, id string, sl, tp float64) error

	Subscribed   []string
	Unsubscribed []string
	Orders       []transport.OrderSpec
	Registration transport.Registration

	events chan transport.Event
	nextID int
}

// NewFake returns a Fake with a buffered event channel.
func NewFake() *Fake {
	return &Fake{
		calls:  make(map[string]int),
		events: make(chan transport.Event, 256),
	}
}

func (f *Fake) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TradeCalls sums create, close and modify invocations.
func (f *Fake) TradeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["create"] + f.calls["close"] + f.calls["modify"]
}

// Emit pushes an event as if the host had sent it.
func (f *Fake) Emit(ev transport.Event) { f.events <- ev }

// SetPositions replaces the positions served by GetPositions.
func (f *Fake) SetPositions(ps []transport.Position) {
	f.mu.Lock()
	f.Positions = append([]transport.Position(nil), ps...)
	f.mu.Unlock()
}

func (f *Fake) Connect(ctx context.Context) error {
	f.count("connect")
	if f.OnConnect != nil {
		return f.OnConnect(ctx)
	}
	return f.ConnectErr
}

func (f *Fake) Handshake(ctx context.Context, reg transport.Registration) error {
	f.mu.Lock()
	f.Registration = reg
	f.mu.Unlock()
	f.count("handshake")
	return f.HandshakeErr
}

func (f *Fake) Disconnect() error {
	f.count("disconnect")
	return nil
}

// Calls are counted after the call is recorded, so a test observing the count
// also observes the recorded arguments.
func (f *Fake) SubscribeQuotes(ctx context.Context, symbols []string) error {
	defer f.count("subscribe")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeErr != nil {
		return f.SubscribeErr
	}
	f.Subscribed = append(f.Subscribed, symbols...)
	return nil
}

func (f *Fake) UnsubscribeQuotes(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	f.Unsubscribed = append(f.Unsubscribed, symbols...)
	f.mu.Unlock()
	f.count("unsubscribe")
	return nil
}

func (f *Fake) GetAccount(ctx context.Context) (transport.AccountSnapshot, error) {
	f.count("account")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Account, nil
}

func (f *Fake) GetPositions(ctx context.Context) ([]transport.Position, error) {
	f.count("positions")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Position(nil), f.Positions...), nil
}

func (f *Fake) GetSymbols(ctx context.Context) ([]transport.SymbolInfo, error) {
	f.count("symbols")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.SymbolInfo(nil), f.Symbols...), nil
}

func (f *Fake) CreateOrder(ctx context.Context, spec transport.OrderSpec) (transport.OrderResult, error) {
	f.mu.Lock()
	f.Orders = append(f.Orders, spec)
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	f.mu.Unlock()
	f.count("create")
	if f.OnCreate != nil {
		return f.OnCreate(ctx, spec)
	}
	return transport.OrderResult{OrderID: id}, nil
}

func (f *Fake) ClosePosition(ctx context.Context, id string, volume float64) (transport.CloseResult, error) {
	f.count("close")
	if f.OnClose != nil {
		return f.OnClose(ctx, id, volume)
	}
	return transport.CloseResult{ClosedVolume: volume}, nil
}

func (f *Fake) ModifyPosition(ctx context.Context, id string, sl, tp float64) error {
	f.count("modify")
	if f.OnModify != nil {
		return f.OnModify(ctx, id, sl, tp)
	}
	return nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.count("ping")
	return f.PingErr
}

func (f *Fake) History(ctx context.Context, symbol, timeframe string, limit int) ([]transport.Candle, error) {
	f.count("history")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.Candles
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]transport.Candle(nil), out...), nil
}

func (f *Fake) Events() <-chan transport.Event { return f.events }
