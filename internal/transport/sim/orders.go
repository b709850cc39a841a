package sim

import (
	"context"
	"fmt"
	"time"

	"trading-assistant/internal/transport"
)

// CreateOrder fills a market order at the current price moved against the
// client by up to SlippageBps.
func (h *Host) CreateOrder(ctx context.Context, spec transport.OrderSpec) (transport.OrderResult, error) {
	now := time.Now().UTC()
	h.mu.Lock()
	if !h.connected {
		h.mu.Unlock()
		return transport.OrderResult{}, transport.ErrNotConnected
	}
	m, ok := h.markets[spec.Symbol]
	if !ok {
		h.mu.Unlock()
		return transport.OrderResult{}, &transport.Rejected{Reason: "unknown symbol " + spec.Symbol}
	}
	if spec.Volume < m.info.MinVolume || spec.Volume > m.info.MaxVolume {
		h.mu.Unlock()
		return transport.OrderResult{}, &transport.Rejected{Reason: "invalid volume"}
	}

	price := h.quoteLocked(m).EntryPrice(spec.Side)
	if frac := h.cfg.SlippageBps / 10000; frac > 0 {
		noise := h.rng.Float64() * frac
		if spec.Side == transport.SideBuy {
			price *= 1 + noise
		} else {
			price *= 1 - noise
		}
		price = roundTo(price, m.info.Digits)
	}

	acc := h.accountLocked()
	required := spec.Volume * m.info.ContractSize * price / h.cfg.Leverage
	if required > acc.FreeMargin {
		h.mu.Unlock()
		return transport.OrderResult{}, &transport.Rejected{Reason: "not enough money"}
	}

	h.nextID++
	orderID := fmt.Sprintf("sim-ord-%d", h.nextID)
	posID := fmt.Sprintf("sim-pos-%d", h.nextID)
	p := &transport.Position{
		ID:           posID,
		Symbol:       spec.Symbol,
		Side:         spec.Side,
		Volume:       spec.Volume,
		EntryPrice:   price,
		CurrentPrice: price,
		StopLoss:     spec.StopLoss,
		TakeProfit:   spec.TakeProfit,
		OpenTime:     now,
	}
	h.positions[posID] = p
	h.seq++
	fill := transport.ExecutionEvent{
		Seq: h.seq, Kind: transport.ExecFill, PositionID: posID, OrderID: orderID,
		Symbol: spec.Symbol, Side: spec.Side, Volume: spec.Volume, Price: price,
		StopLoss: spec.StopLoss, TakeProfit: spec.TakeProfit, Time: now,
	}
	account := h.accountLocked()
	h.mu.Unlock()

	h.log.Info().Str("order_id", orderID).Str("symbol", spec.Symbol).Str("side", string(spec.Side)).
		Float64("volume", spec.Volume).Float64("price", price).Msg("order filled")
	h.emit(transport.Event{Kind: transport.EventExecution, Execution: fill})
	h.emit(transport.Event{Kind: transport.EventAccount, Account: account})
	return transport.OrderResult{OrderID: orderID}, nil
}

// ClosePosition realizes profit on volume lots; volume 0 closes everything.
func (h *Host) ClosePosition(ctx context.Context, id string, volume float64) (transport.CloseResult, error) {
	now := time.Now().UTC()
	h.mu.Lock()
	if !h.connected {
		h.mu.Unlock()
		return transport.CloseResult{}, transport.ErrNotConnected
	}
	p, ok := h.positions[id]
	if !ok {
		h.mu.Unlock()
		return transport.CloseResult{}, &transport.Rejected{Reason: "position not found"}
	}
	if volume <= 0 || volume > p.Volume {
		volume = p.Volume
	}
	m := h.markets[p.Symbol]
	exit := h.quoteLocked(m).EntryPrice(p.Side.Opposite())
	profit := pnl(p.Side, p.EntryPrice, exit, volume, m.info.ContractSize)
	h.balance += profit

	remaining := roundTo(p.Volume-volume, 8)
	kind := transport.ExecPartialClose
	if remaining <= 0 {
		kind = transport.ExecClose
		remaining = 0
		delete(h.positions, id)
	} else {
		p.Volume = remaining
	}
	h.seq++
	ev := transport.ExecutionEvent{
		Seq: h.seq, Kind: kind, PositionID: id, Symbol: p.Symbol, Side: p.Side,
		Volume: remaining, Price: exit, Profit: profit, Time: now,
	}
	account := h.accountLocked()
	h.mu.Unlock()

	h.emit(transport.Event{Kind: transport.EventExecution, Execution: ev})
	h.emit(transport.Event{Kind: transport.EventAccount, Account: account})
	return transport.CloseResult{ClosedVolume: volume, Profit: profit}, nil
}

func (h *Host) ModifyPosition(ctx context.Context, id string, stopLoss, takeProfit float64) error {
	h.mu.Lock()
	if !h.connected {
		h.mu.Unlock()
		return transport.ErrNotConnected
	}
	p, ok := h.positions[id]
	if !ok {
		h.mu.Unlock()
		return &transport.Rejected{Reason: "position not found"}
	}
	p.StopLoss = stopLoss
	p.TakeProfit = takeProfit
	h.seq++
	ev := transport.ExecutionEvent{
		Seq: h.seq, Kind: transport.ExecModify, PositionID: id, Symbol: p.Symbol, Side: p.Side,
		Volume: p.Volume, StopLoss: stopLoss, TakeProfit: takeProfit, Time: time.Now().UTC(),
	}
	h.mu.Unlock()

	h.emit(transport.Event{Kind: transport.EventExecution, Execution: ev})
	return nil
}

// History walks backwards from the current price to produce limit candles
// ending now.
func (h *Host) History(ctx context.Context, symbol, timeframe string, limit int) ([]transport.Candle, error) {
	frame, err := transport.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.markets[symbol]
	if !ok {
		return nil, &transport.Rejected{Reason: "unknown symbol " + symbol}
	}

	out := make([]transport.Candle, limit)
	end := time.Now().UTC().Truncate(frame)
	closePx := m.mid
	for i := limit - 1; i >= 0; i-- {
		open := roundTo(closePx+(h.rng.Float64()*2-1)*m.step*4, m.info.Digits)
		hi := roundTo(max(open, closePx)+h.rng.Float64()*m.step, m.info.Digits)
		lo := roundTo(min(open, closePx)-h.rng.Float64()*m.step, m.info.Digits)
		out[i] = transport.Candle{
			Time:   end.Add(-time.Duration(limit-1-i) * frame),
			Open:   open,
			High:   hi,
			Low:    lo,
			Close:  closePx,
			Volume: float64(10 + h.rng.Intn(90)),
		}
		closePx = open
	}
	return out, nil
}
