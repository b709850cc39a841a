// Package engine composes the assistant core behind a single facade. The API
// layer only talks to the core through Service.
package engine

import (
	"context"

	"trading-assistant/internal/chart"
	"trading-assistant/internal/events"
	"trading-assistant/internal/order"
	"trading-assistant/internal/performance"
	"trading-assistant/internal/risk"
	"trading-assistant/internal/state"
	"trading-assistant/internal/transport"
)

// Service defines every operation exposed to the control surface.
type Service interface {
	// Connection
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error

	// Market data
	Quotes() []transport.Quote
	Quote(symbol string) (transport.Quote, bool)
	Symbols() []transport.SymbolInfo
	SelectChart(ctx context.Context, symbol, timeframe string) error
	Chart() chart.Snapshot
	Indicators(symbol string) map[string]float64

	// Account & positions
	Account() transport.AccountSnapshot
	Positions() []transport.Position

	// Trading
	PlaceOrder(ctx context.Context, side transport.Side, p order.Params) (order.Result, error)
	SubmitOrder(ctx context.Context, side transport.Side, p order.Params) error
	SuggestVolume(symbol string, side transport.Side, stopLoss, riskPercent float64) (float64, error)
	ClosePosition(ctx context.Context, id string, volume float64) (order.CloseOutcome, error)
	ModifyPosition(ctx context.Context, id string, stopLoss, takeProfit *float64) error
	CloseAll(ctx context.Context, f CloseFilter) state.BatchResult
	Confirmations() []events.ConfirmationRequest
	ResolveConfirmation(id string, approve bool) error

	// Risk & performance
	RiskLimits() risk.Limits
	RiskMetrics() risk.Metrics
	Performance() PerformanceReport
	Trades(limit int) []performance.TradeRecord

	// System
	Status(ctx context.Context) SystemStatus
	Bus() *events.Bus
}
