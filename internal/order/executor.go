// Package order validates, risk-checks and submits trades against the host,
// and guards per-position close and modify requests.
package order

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"trading-assistant/internal/events"
	"trading-assistant/internal/monitor"
	"trading-assistant/internal/performance"
	"trading-assistant/internal/risk"
	"trading-assistant/internal/state"
	"trading-assistant/internal/transport"
)

const volumeTolerance = 1e-9

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._#-]{1,31}$`)

// Link exposes the live transport; connection.Manager implements it.
type Link interface {
	Transport() transport.Transport
	Connected() bool
}

type QuoteSource interface {
	Latest(symbol string) (transport.Quote, bool)
}

type AccountSource interface {
	Snapshot() transport.AccountSnapshot
}

type SymbolSource interface {
	Get(name string) (transport.SymbolInfo, bool)
}

// Recorder receives one TradeRecord per settled attempt.
type Recorder interface {
	Record(rec performance.TradeRecord)
}

// Config holds the executor options. A zero ConfirmVolumeThreshold disables
// confirmation; a zero OrdersPerSecond disables throttling.
type Config struct {
	DefaultVolume          float64
	ConfirmVolumeThreshold float64
	OrdersPerSecond        float64
}

// Deps are the collaborators of an Executor. Bus, Metrics, Recorder and
// Symbols are optional.
type Deps struct {
	Link      Link
	Quotes    QuoteSource
	Account   AccountSource
	Symbols   SymbolSource
	Positions *state.Registry
	Risk      *risk.Manager
	Confirmer Confirmer
	Recorder  Recorder
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	Log       zerolog.Logger
}

// Params describe a market order. Volume 0 sizes the order from RiskPercent
// when a stop-loss is set and falls back to the default volume otherwise.
type Params struct {
	Symbol      string  `json:"symbol"`
	Volume      float64 `json:"volume"`
	StopLoss    float64 `json:"stop_loss,omitempty"`
	TakeProfit  float64 `json:"take_profit,omitempty"`
	RiskPercent float64 `json:"risk_percent,omitempty"`
}

// Result is returned for a submitted order.
type Result struct {
	RecordID string  `json:"record_id"`
	OrderID  string  `json:"order_id"`
	Volume   float64 `json:"volume"`
	Price    float64 `json:"price"`
}

// CloseOutcome is returned for a settled close.
type CloseOutcome struct {
	RecordID     string  `json:"record_id"`
	ClosedVolume float64 `json:"closed_volume"`
	Remaining    float64 `json:"remaining"`
	Profit       float64 `json:"profit"`
}

type Executor struct {
	cfg       Config
	link      Link
	quotes    QuoteSource
	account   AccountSource
	symbols   SymbolSource
	positions *state.Registry
	risk      *risk.Manager
	confirmer Confirmer
	recorder  Recorder
	bus       *events.Bus
	metrics   *monitor.Metrics
	limiter   *rate.Limiter
	log       zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewExecutor(cfg Config, deps Deps) *Executor {
	limit := rate.Inf
	burst := 1
	if cfg.OrdersPerSecond > 0 {
		limit = rate.Limit(cfg.OrdersPerSecond)
		burst = int(math.Max(1, math.Ceil(cfg.OrdersPerSecond)))
	}
	confirmer := deps.Confirmer
	if confirmer == nil {
		confirmer = AutoConfirm{Approve: true}
	}
	return &Executor{
		cfg:       cfg,
		link:      deps.Link,
		quotes:    deps.Quotes,
		account:   deps.Account,
		symbols:   deps.Symbols,
		positions: deps.Positions,
		risk:      deps.Risk,
		confirmer: confirmer,
		recorder:  deps.Recorder,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		limiter:   rate.NewLimiter(limit, burst),
		log:       deps.Log.With().Str("component", "executor").Logger(),
		inflight:  make(map[string]struct{}),
	}
}

// ticket is a validated order ready for the risk gate.
type ticket struct {
	side     transport.Side
	params   Params
	price    float64
	contract float64
}

func (t ticket) recordParams() performance.Params {
	return performance.Params{
		Symbol:     t.params.Symbol,
		Side:       t.side,
		Volume:     t.params.Volume,
		StopLoss:   t.params.StopLoss,
		TakeProfit: t.params.TakeProfit,
	}
}

// Execute runs a market order through validation, the risk gate, the optional
// confirmation and submission. Position state is not touched here; it follows
// the host's execution events.
func (e *Executor) Execute(ctx context.Context, side transport.Side, p Params) (Result, error) {
	t, err := e.prepare(side, p)
	if err != nil {
		return Result{}, err
	}
	return e.submit(ctx, t)
}

// prepare performs every structural check. Failures return a *ValidationError
// and are not recorded.
func (e *Executor) prepare(side transport.Side, p Params) (ticket, error) {
	p.Symbol = strings.TrimSpace(p.Symbol)
	if !symbolPattern.MatchString(p.Symbol) {
		return ticket{}, invalid("symbol", "%q is not a valid symbol", p.Symbol)
	}
	if !side.Valid() {
		return ticket{}, invalid("side", "%q is not buy or sell", side)
	}
	if p.StopLoss < 0 || p.TakeProfit < 0 {
		return ticket{}, invalid("levels", "stop-loss and take-profit must not be negative")
	}
	limits := e.risk.GetLimits()
	if p.Volume != 0 {
		if err := validateVolume(p.Volume, limits); err != nil {
			return ticket{}, err
		}
	}

	q, ok := e.quotes.Latest(p.Symbol)
	if !ok {
		return ticket{}, invalid("symbol", "no price for %s", p.Symbol)
	}
	price := q.EntryPrice(side)
	if err := validateLevels(side, price, p.StopLoss, p.TakeProfit); err != nil {
		return ticket{}, err
	}

	contract := e.contractSize(p.Symbol, limits)
	if p.Volume == 0 {
		p.Volume = e.cfg.DefaultVolume
		if p.StopLoss > 0 {
			if v := e.risk.SuggestVolume(e.account.Snapshot().Balance, p.RiskPercent, price, p.StopLoss, contract); v > 0 {
				p.Volume = v
			}
		}
		if err := validateVolume(p.Volume, limits); err != nil {
			return ticket{}, err
		}
	}
	return ticket{side: side, params: p, price: price, contract: contract}, nil
}

func (e *Executor) submit(ctx context.Context, t ticket) (Result, error) {
	if err := e.gate(t); err != nil {
		return Result{}, err
	}

	if e.cfg.ConfirmVolumeThreshold > 0 && t.params.Volume > e.cfg.ConfirmVolumeThreshold {
		approved, err := e.confirmer.Confirm(ctx, events.ConfirmationRequest{
			Symbol: t.params.Symbol,
			Side:   t.side,
			Volume: t.params.Volume,
			Price:  t.price,
		})
		if err != nil {
			e.record(performance.ActionOpen, t.recordParams(), performance.Result{Reason: "confirmation failed: " + err.Error()})
			return Result{}, err
		}
		if !approved {
			e.record(performance.ActionOpen, t.recordParams(), performance.Result{Reason: ErrCancelled.Error()})
			return Result{}, ErrCancelled
		}
		// the prompt may have taken a while; check against current state again
		if q, ok := e.quotes.Latest(t.params.Symbol); ok {
			t.price = q.EntryPrice(t.side)
		}
		if err := validateLevels(t.side, t.price, t.params.StopLoss, t.params.TakeProfit); err != nil {
			e.record(performance.ActionOpen, t.recordParams(), performance.Result{Reason: err.Error()})
			return Result{}, err
		}
		if err := e.gate(t); err != nil {
			return Result{}, err
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		e.record(performance.ActionOpen, t.recordParams(), performance.Result{Reason: "throttled: " + err.Error()})
		return Result{}, err
	}

	spec := transport.OrderSpec{
		ClientID:   uuid.NewString(),
		Symbol:     t.params.Symbol,
		Side:       t.side,
		Volume:     t.params.Volume,
		StopLoss:   t.params.StopLoss,
		TakeProfit: t.params.TakeProfit,
	}
	start := time.Now()
	res, err := e.link.Transport().CreateOrder(context.WithoutCancel(ctx), spec)
	e.metrics.RecordOrderLatency(time.Since(start))
	if err != nil {
		xerr := executionError("create order", err)
		e.record(performance.ActionOpen, t.recordParams(), performance.Result{Reason: xerr.Reason})
		return Result{}, xerr
	}

	rec := e.record(performance.ActionOpen, t.recordParams(), performance.Result{Success: true, OrderID: res.OrderID})
	return Result{RecordID: rec.ID, OrderID: res.OrderID, Volume: t.params.Volume, Price: t.price}, nil
}

// gate checks the connection and the risk rules. A failure is recorded.
func (e *Executor) gate(t ticket) error {
	if !e.link.Connected() {
		err := transport.Wrap("create order", transport.ErrNotConnected)
		e.record(performance.ActionOpen, t.recordParams(), performance.Result{Reason: transport.ErrNotConnected.Error()})
		return err
	}
	acc := e.account.Snapshot()
	d := e.risk.CheckTrade(risk.TradeRequest{
		Symbol:       t.params.Symbol,
		Side:         string(t.side),
		Volume:       t.params.Volume,
		EntryPrice:   t.price,
		StopLoss:     t.params.StopLoss,
		ContractSize: t.contract,
	}, risk.Account{Balance: acc.Balance, FreeMargin: acc.FreeMargin}, e.positions.Count())
	if !d.Allowed {
		e.record(performance.ActionOpen, t.recordParams(), performance.Result{Reason: d.Reason})
		return d.Err()
	}
	return nil
}

// SuggestVolume sizes an order on symbol so that a stop at stopLoss risks
// riskPercent of the balance.
func (e *Executor) SuggestVolume(symbol string, side transport.Side, stopLoss, riskPercent float64) (float64, error) {
	if !side.Valid() {
		return 0, invalid("side", "%q is not buy or sell", side)
	}
	q, ok := e.quotes.Latest(symbol)
	if !ok {
		return 0, invalid("symbol", "no price for %s", symbol)
	}
	price := q.EntryPrice(side)
	if err := validateLevels(side, price, stopLoss, 0); err != nil {
		return 0, err
	}
	contract := e.contractSize(symbol, e.risk.GetLimits())
	return e.risk.SuggestVolume(e.account.Snapshot().Balance, riskPercent, price, stopLoss, contract), nil
}

// ClosePosition closes volume lots of position id; volume 0 closes all of it.
// Only one close or modify per position may be in flight.
func (e *Executor) ClosePosition(ctx context.Context, id string, volume float64) (CloseOutcome, error) {
	if !e.acquire(id) {
		return CloseOutcome{}, ErrOperationInProgress
	}
	defer e.release(id)

	pos, ok := e.positions.Get(id)
	if !ok {
		return CloseOutcome{}, invalid("position", "%s not found", id)
	}
	if volume < 0 || volume > pos.Volume+volumeTolerance {
		return CloseOutcome{}, invalid("volume", "%g outside (0, %g]", volume, pos.Volume)
	}
	full := volume == 0 || volume >= pos.Volume-volumeTolerance
	send := volume
	if full {
		send = 0
		volume = pos.Volume
	}
	params := performance.Params{Symbol: pos.Symbol, Side: pos.Side, Volume: volume, PositionID: id}

	if !e.link.Connected() {
		e.record(performance.ActionClose, params, performance.Result{Reason: transport.ErrNotConnected.Error()})
		return CloseOutcome{}, transport.Wrap("close position", transport.ErrNotConnected)
	}

	start := time.Now()
	res, err := e.link.Transport().ClosePosition(context.WithoutCancel(ctx), id, send)
	e.metrics.RecordCloseLatency(time.Since(start))
	if err != nil {
		xerr := executionError("close position", err)
		e.record(performance.ActionClose, params, performance.Result{Reason: xerr.Reason})
		return CloseOutcome{}, xerr
	}

	closed := res.ClosedVolume
	if closed <= 0 {
		closed = volume
	}
	remaining := 0.0
	if !full {
		remaining, _ = decimal.NewFromFloat(pos.Volume).Sub(decimal.NewFromFloat(closed)).Float64()
	}
	// an execution event may have settled the position while we waited
	if cur, ok := e.positions.Get(id); ok && cur.Volume == pos.Volume {
		e.positions.ApplyClose(id, remaining)
	}
	e.risk.UpdateMetrics(risk.TradeResult{Symbol: pos.Symbol, Side: string(pos.Side), Volume: closed, Profit: res.Profit})

	rec := e.record(performance.ActionClose, params, performance.Result{Success: true, Profit: res.Profit})
	return CloseOutcome{RecordID: rec.ID, ClosedVolume: closed, Remaining: remaining, Profit: res.Profit}, nil
}

// ModifyPosition sets new protective levels. A nil level keeps the current
// value and 0 clears it.
func (e *Executor) ModifyPosition(ctx context.Context, id string, stopLoss, takeProfit *float64) error {
	if !e.acquire(id) {
		return ErrOperationInProgress
	}
	defer e.release(id)

	pos, ok := e.positions.Get(id)
	if !ok {
		return invalid("position", "%s not found", id)
	}
	sl, tp := pos.StopLoss, pos.TakeProfit
	if stopLoss != nil {
		sl = *stopLoss
	}
	if takeProfit != nil {
		tp = *takeProfit
	}
	if sl < 0 || tp < 0 {
		return invalid("levels", "stop-loss and take-profit must not be negative")
	}
	ref := pos.CurrentPrice
	if q, ok := e.quotes.Latest(pos.Symbol); ok {
		ref = q.EntryPrice(pos.Side.Opposite())
	}
	if ref > 0 {
		if err := validateLevels(pos.Side, ref, sl, tp); err != nil {
			return err
		}
	}
	params := performance.Params{Symbol: pos.Symbol, Side: pos.Side, Volume: pos.Volume, StopLoss: sl, TakeProfit: tp, PositionID: id}

	if !e.link.Connected() {
		e.record(performance.ActionModify, params, performance.Result{Reason: transport.ErrNotConnected.Error()})
		return transport.Wrap("modify position", transport.ErrNotConnected)
	}
	if err := e.link.Transport().ModifyPosition(context.WithoutCancel(ctx), id, sl, tp); err != nil {
		xerr := executionError("modify position", err)
		e.record(performance.ActionModify, params, performance.Result{Reason: xerr.Reason})
		return xerr
	}
	e.positions.ApplyModify(id, sl, tp)
	e.record(performance.ActionModify, params, performance.Result{Success: true})
	return nil
}

// CloseAll fully closes every position matching pred, continuing past failures.
func (e *Executor) CloseAll(ctx context.Context, pred func(transport.Position) bool) state.BatchResult {
	return e.positions.CloseAllMatching(ctx, pred, func(ctx context.Context, id string) error {
		_, err := e.ClosePosition(ctx, id, 0)
		return err
	})
}

// InFlight reports whether a close or modify on id is pending.
func (e *Executor) InFlight(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[id]
	return ok
}

func (e *Executor) acquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[id]; busy {
		return false
	}
	e.inflight[id] = struct{}{}
	return true
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
}

func (e *Executor) contractSize(symbol string, l risk.Limits) float64 {
	if e.symbols != nil {
		if info, ok := e.symbols.Get(symbol); ok && info.ContractSize > 0 {
			return info.ContractSize
		}
	}
	return l.ContractSize
}

func (e *Executor) record(action performance.Action, p performance.Params, r performance.Result) performance.TradeRecord {
	rec := performance.NewRecord(action, p, r)
	if e.recorder != nil {
		e.recorder.Record(rec)
	}
	if e.bus != nil {
		e.bus.Trades.Publish(events.TradeResult{
			RecordID:   rec.ID,
			Action:     string(action),
			Symbol:     p.Symbol,
			Side:       p.Side,
			Volume:     p.Volume,
			PositionID: p.PositionID,
			Success:    r.Success,
			OrderID:    r.OrderID,
			Reason:     r.Reason,
			At:         rec.Timestamp,
		})
	}
	ev := e.log.Info()
	if !r.Success {
		ev = e.log.Warn().Str("reason", r.Reason)
	}
	ev.Str("action", string(action)).
		Str("symbol", p.Symbol).
		Str("position_id", p.PositionID).
		Str("order_id", r.OrderID).
		Float64("volume", p.Volume).
		Bool("success", r.Success).
		Msg("trade attempt settled")
	return rec
}

func executionError(op string, err error) *ExecutionError {
	var rj *transport.Rejected
	if errors.As(err, &rj) {
		return &ExecutionError{Op: op, Reason: rj.Reason, Err: err}
	}
	return &ExecutionError{Op: op, Reason: err.Error(), Err: err}
}

func validateVolume(v float64, l risk.Limits) error {
	if v <= 0 {
		return invalid("volume", "%g must be positive", v)
	}
	if v < l.MinVolume-volumeTolerance || v > l.MaxVolume+volumeTolerance {
		return invalid("volume", "%g outside [%g, %g]", v, l.MinVolume, l.MaxVolume)
	}
	if l.VolumeStep > 0 {
		steps := v / l.VolumeStep
		if math.Abs(steps-math.Round(steps)) > 1e-6 {
			return invalid("volume", "%g is not a multiple of step %g", v, l.VolumeStep)
		}
	}
	return nil
}

// validateLevels requires a buy's stop below and target above price, and the
// reverse for a sell. Zero levels are unset.
func validateLevels(side transport.Side, price, stopLoss, takeProfit float64) error {
	switch side {
	case transport.SideBuy:
		if stopLoss > 0 && stopLoss >= price {
			return invalid("stop_loss", "%g must be below %g for a buy", stopLoss, price)
		}
		if takeProfit > 0 && takeProfit <= price {
			return invalid("take_profit", "%g must be above %g for a buy", takeProfit, price)
		}
	case transport.SideSell:
		if stopLoss > 0 && stopLoss <= price {
			return invalid("stop_loss", "%g must be above %g for a sell", stopLoss, price)
		}
		if takeProfit > 0 && takeProfit >= price {
			return invalid("take_profit", "%g must be below %g for a sell", takeProfit, price)
		}
	}
	return nil
}
