// Package sim is an in-process simulated host: random-walk quotes, market
// fills with slippage, positions with stop/target triggers and a margin account.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-assistant/internal/transport"
	"trading-assistant/pkg/license"
)

// ErrDropped is the close reason emitted by Drop.
var ErrDropped = errors.New("simulated connection drop")

// Config drives the simulation. Zero values take the defaults noted per field.
type Config struct {
	Symbols        []transport.SymbolInfo // DefaultSymbols
	TickInterval   time.Duration          // 500ms
	InitialBalance float64                // 10000
	SlippageBps    float64
	Leverage       float64 // 100
	// Secret, when set, requires a signed registration token on handshake.
	Secret string
	Seed   int64
}

// DefaultSymbols is the catalog served when Config.Symbols is empty.
func DefaultSymbols() []transport.SymbolInfo {
	return []transport.SymbolInfo{
		{Name: "EURUSD", Description: "Euro vs US Dollar", Digits: 5, ContractSize: 100000, MinVolume: 0.01, MaxVolume: 100, VolumeStep: 0.01},
		{Name: "GBPUSD", Description: "Pound vs US Dollar", Digits: 5, ContractSize: 100000, MinVolume: 0.01, MaxVolume: 100, VolumeStep: 0.01},
		{Name: "USDJPY", Description: "US Dollar vs Yen", Digits: 3, ContractSize: 100000, MinVolume: 0.01, MaxVolume: 100, VolumeStep: 0.01},
		{Name: "XAUUSD", Description: "Gold vs US Dollar", Digits: 2, ContractSize: 100, MinVolume: 0.01, MaxVolume: 50, VolumeStep: 0.01},
	}
}

var startPrices = map[string]float64{"EURUSD": 1.1000, "GBPUSD": 1.2700, "USDJPY": 150.00, "XAUUSD": 2300.0}

type market struct {
	info   transport.SymbolInfo
	mid    float64
	spread float64
	step   float64
}

// Host implements transport.Transport and transport.HistorySource.
type Host struct {
	cfg Config
	log zerolog.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	markets    map[string]*market
	subscribed map[string]bool
	positions  map[string]*transport.Position
	balance    float64
	connected  bool
	stop       chan struct{}
	nextID     int
	seq        uint64

	events chan transport.Event
}

func New(cfg Config, log zerolog.Logger) *Host {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = DefaultSymbols()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 100
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	h := &Host{
		cfg:        cfg,
		log:        log.With().Str("component", "sim").Logger(),
		rng:        rand.New(rand.NewSource(seed)),
		markets:    make(map[string]*market, len(cfg.Symbols)),
		subscribed: make(map[string]bool),
		positions:  make(map[string]*transport.Position),
		balance:    cfg.InitialBalance,
		events:     make(chan transport.Event, 1024),
	}
	for _, s := range cfg.Symbols {
		mid := startPrices[s.Name]
		if mid == 0 {
			mid = 100
		}
		pip := math.Pow10(-(s.Digits - 1))
		h.markets[s.Name] = &market{info: s, mid: mid, spread: 2 * pip, step: 3 * pip}
	}
	return h
}

func (h *Host) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	if h.connected {
		h.mu.Unlock()
		return nil
	}
	h.connected = true
	stop := make(chan struct{})
	h.stop = stop
	h.mu.Unlock()

	go h.tickLoop(stop)
	h.emit(transport.Event{Kind: transport.EventOpened})
	return nil
}

func (h *Host) Handshake(ctx context.Context, reg transport.Registration) error {
	if !h.isConnected() {
		return transport.ErrNotConnected
	}
	if err := license.Validate(h.cfg.Secret, reg); err != nil {
		return &transport.Rejected{Reason: err.Error()}
	}
	h.mu.Lock()
	// sequence numbers restart with every session
	h.seq = 0
	h.mu.Unlock()
	h.log.Info().Str("client_id", reg.ClientID).Str("version", reg.Version).Msg("client registered")
	return nil
}

func (h *Host) Disconnect() error {
	h.halt()
	return nil
}

// Drop simulates the host losing the channel: ticking stops and a closed
// event is emitted.
func (h *Host) Drop() {
	if h.halt() {
		h.emit(transport.Event{Kind: transport.EventClosed, Err: ErrDropped})
	}
}

func (h *Host) halt() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return false
	}
	h.connected = false
	close(h.stop)
	h.stop = nil
	return true
}

func (h *Host) isConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *Host) SubscribeQuotes(ctx context.Context, symbols []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return transport.ErrNotConnected
	}
	for _, s := range symbols {
		if _, ok := h.markets[s]; !ok {
			return &transport.Rejected{Reason: fmt.Sprintf("unknown symbol %s", s)}
		}
	}
	for _, s := range symbols {
		h.subscribed[s] = true
	}
	return nil
}

func (h *Host) UnsubscribeQuotes(ctx context.Context, symbols []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range symbols {
		delete(h.subscribed, s)
	}
	return nil
}

func (h *Host) GetAccount(ctx context.Context) (transport.AccountSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return transport.AccountSnapshot{}, transport.ErrNotConnected
	}
	return h.accountLocked(), nil
}

func (h *Host) accountLocked() transport.AccountSnapshot {
	var profit, margin float64
	for _, p := range h.positions {
		profit += p.Profit
		m := h.markets[p.Symbol]
		margin += p.Volume * m.info.ContractSize * p.EntryPrice / h.cfg.Leverage
	}
	acc := transport.AccountSnapshot{
		Balance:   h.balance,
		Equity:    h.balance + profit,
		Margin:    margin,
		Profit:    profit,
		UpdatedAt: time.Now().UTC(),
	}
	acc.FreeMargin = acc.Equity - margin
	if margin > 0 {
		acc.MarginLevel = acc.Equity / margin * 100
	}
	return acc
}

func (h *Host) GetPositions(ctx context.Context) ([]transport.Position, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return nil, transport.ErrNotConnected
	}
	out := make([]transport.Position, 0, len(h.positions))
	for _, p := range h.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (h *Host) GetSymbols(ctx context.Context) ([]transport.SymbolInfo, error) {
	if !h.isConnected() {
		return nil, transport.ErrNotConnected
	}
	return append([]transport.SymbolInfo(nil), h.cfg.Symbols...), nil
}

func (h *Host) Ping(ctx context.Context) error {
	if !h.isConnected() {
		return transport.ErrNotConnected
	}
	return nil
}

func (h *Host) Events() <-chan transport.Event { return h.events }

// emit delivers quotes best-effort and everything else reliably.
func (h *Host) emit(ev transport.Event) {
	if ev.Kind == transport.EventQuote {
		select {
		case h.events <- ev:
		default:
		}
		return
	}
	h.events <- ev
}

func (h *Host) tickLoop(stop <-chan struct{}) {
	t := time.NewTicker(h.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			h.Tick()
		}
	}
}

// Tick advances every market one random-walk step, publishes quotes for
// subscribed symbols and triggers stops and targets.
func (h *Host) Tick() {
	now := time.Now().UTC()
	h.mu.Lock()
	if !h.connected {
		h.mu.Unlock()
		return
	}
	var out []transport.Event
	for name, m := range h.markets {
		m.mid = roundTo(m.mid+(h.rng.Float64()*2-1)*m.step, m.info.Digits)
		if m.mid <= 0 {
			m.mid = m.step
		}
		if h.subscribed[name] {
			q := h.quoteLocked(m)
			q.Timestamp = now
			out = append(out, transport.Event{Kind: transport.EventQuote, Quote: q})
		}
	}
	h.markToMarketLocked()
	out = append(out, h.triggerLocked(now)...)
	h.mu.Unlock()

	for _, ev := range out {
		h.emit(ev)
	}
}

func (h *Host) quoteLocked(m *market) transport.Quote {
	half := m.spread / 2
	bid := roundTo(m.mid-half, m.info.Digits)
	ask := roundTo(m.mid+half, m.info.Digits)
	return transport.Quote{Symbol: m.info.Name, Bid: bid, Ask: ask, Spread: ask - bid}
}

func (h *Host) markToMarketLocked() {
	for _, p := range h.positions {
		m := h.markets[p.Symbol]
		q := h.quoteLocked(m)
		p.CurrentPrice = q.EntryPrice(p.Side.Opposite())
		p.Profit = pnl(p.Side, p.EntryPrice, p.CurrentPrice, p.Volume, m.info.ContractSize)
	}
}

func (h *Host) triggerLocked(now time.Time) []transport.Event {
	var out []transport.Event
	for id, p := range h.positions {
		hitSL := p.StopLoss > 0 && ((p.Side == transport.SideBuy && p.CurrentPrice <= p.StopLoss) ||
			(p.Side == transport.SideSell && p.CurrentPrice >= p.StopLoss))
		hitTP := p.TakeProfit > 0 && ((p.Side == transport.SideBuy && p.CurrentPrice >= p.TakeProfit) ||
			(p.Side == transport.SideSell && p.CurrentPrice <= p.TakeProfit))
		if !hitSL && !hitTP {
			continue
		}
		h.balance += p.Profit
		h.seq++
		out = append(out, transport.Event{Kind: transport.EventExecution, Execution: transport.ExecutionEvent{
			Seq: h.seq, Kind: transport.ExecClose, PositionID: id, Symbol: p.Symbol, Side: p.Side,
			Price: p.CurrentPrice, Profit: p.Profit, Time: now,
		}})
		delete(h.positions, id)
	}
	if len(out) > 0 {
		out = append(out, transport.Event{Kind: transport.EventAccount, Account: h.accountLocked()})
	}
	return out
}

func pnl(side transport.Side, entry, exit, volume, contract float64) float64 {
	diff := exit - entry
	if side == transport.SideSell {
		diff = -diff
	}
	return math.Round(diff*volume*contract*100) / 100
}

func roundTo(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
