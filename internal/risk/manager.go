package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Manager is the synchronous pre-trade gate. It never contacts the host.
type Manager struct {
	limits  Limits
	metrics Metrics
	day     string
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemory creates a risk manager with the given limits.
func NewInMemory(limits Limits) *Manager {
	return &Manager{limits: limits, now: time.Now}
}

// GetLimits returns a copy of current limits.
func (m *Manager) GetLimits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// UpdateLimits replaces the active limits.
func (m *Manager) UpdateLimits(l Limits) error {
	if l.MaxPositions < 1 || l.MaxRiskPercent <= 0 || l.Leverage <= 0 || l.ContractSize <= 0 {
		return fmt.Errorf("invalid risk limits: %+v", l)
	}
	m.mu.Lock()
	m.limits = l
	m.mu.Unlock()
	return nil
}

// RiskAmount is the canonical money-at-risk formula used by both the gate and
// position sizing: |entry - stopLoss| × volume × contractSize.
func RiskAmount(entry, stopLoss, volume, contractSize float64) float64 {
	return math.Abs(entry-stopLoss) * volume * contractSize
}

// RequiredMargin is volume × contractSize × price / leverage.
func RequiredMargin(volume, contractSize, price, leverage float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	return volume * contractSize * price / leverage
}

// CheckTrade evaluates req against the limits in a fixed order and stops at the
// first violated rule: open positions, margin, then per-trade risk.
func (m *Manager) CheckTrade(req TradeRequest, account Account, openPositions int) Decision {
	m.mu.Lock()
	m.metrics.ChecksTotal++
	l := m.limits
	m.mu.Unlock()

	dec := evaluate(l, req, account, openPositions)
	if !dec.Allowed {
		m.mu.Lock()
		m.metrics.RejectionsTotal++
		m.mu.Unlock()
	}
	return dec
}

func evaluate(l Limits, req TradeRequest, account Account, openPositions int) Decision {
	contract := req.ContractSize
	if contract <= 0 {
		contract = l.ContractSize
	}

	if openPositions >= l.MaxPositions {
		return Decision{
			Rule:   RulePositions,
			Reason: fmt.Sprintf("maximum positions limit reached (%d/%d)", openPositions, l.MaxPositions),
		}
	}

	dec := Decision{RequiredMargin: RequiredMargin(req.Volume, contract, req.EntryPrice, l.Leverage)}
	if dec.RequiredMargin > account.FreeMargin {
		dec.Rule = RuleMargin
		dec.Reason = fmt.Sprintf("insufficient margin: required %.2f, free %.2f", dec.RequiredMargin, account.FreeMargin)
		return dec
	}

	if req.StopLoss != 0 {
		dec.RiskAmount = RiskAmount(req.EntryPrice, req.StopLoss, req.Volume, contract)
		if account.Balance <= 0 {
			dec.Rule = RuleRisk
			dec.Reason = "risk cannot be assessed: account balance is not positive"
			return dec
		}
		dec.RiskPercent = dec.RiskAmount / account.Balance * 100
		if dec.RiskPercent > l.MaxRiskPercent {
			dec.Rule = RuleRisk
			dec.Reason = fmt.Sprintf("risk %.2f%% exceeds maximum %g%%", dec.RiskPercent, l.MaxRiskPercent)
			return dec
		}
	}

	dec.Allowed = true
	return dec
}

// SuggestVolume sizes a position so that hitting stopLoss loses riskPercent of
// balance, using RiskAmount. riskPercent 0 uses the default. The result is
// floored to the volume step and clamped to the volume range; 0 means no
// sensible size exists (no stop distance or no balance).
func (m *Manager) SuggestVolume(balance, riskPercent, entry, stopLoss, contractSize float64) float64 {
	l := m.GetLimits()
	if riskPercent <= 0 {
		riskPercent = l.DefaultRiskPercent
	}
	if contractSize <= 0 {
		contractSize = l.ContractSize
	}
	perLot := RiskAmount(entry, stopLoss, 1, contractSize)
	if perLot <= 0 || balance <= 0 {
		return 0
	}
	raw := balance * riskPercent / 100 / perLot

	// rounding first absorbs float noise such as 0.0999999999 for 0.1
	vol := decimal.NewFromFloat(raw).Round(8)
	if l.VolumeStep > 0 {
		step := decimal.NewFromFloat(l.VolumeStep)
		vol = vol.Div(step).Floor().Mul(step)
	}
	out, _ := vol.Float64()
	if out < l.MinVolume {
		return l.MinVolume
	}
	if l.MaxVolume > 0 && out > l.MaxVolume {
		return l.MaxVolume
	}
	return out
}

// UpdateMetrics folds a realized close into the running metrics.
func (m *Manager) UpdateMetrics(trade TradeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	net := trade.Profit
	m.metrics.DailyTrades++
	m.metrics.DailyPnL += net
	if net < 0 {
		m.metrics.DailyLosses += -net
	}

	m.metrics.TotalRealizedPnL += net
	if m.metrics.TotalRealizedPnL > m.metrics.MaxProfit {
		m.metrics.MaxProfit = m.metrics.TotalRealizedPnL
	}
	drawdown := m.metrics.MaxProfit - m.metrics.TotalRealizedPnL
	if drawdown > m.metrics.MaxDrawdown {
		m.metrics.MaxDrawdown = drawdown
	}
}

// rollover clears the daily counters when the UTC date changes. Caller holds mu.
func (m *Manager) rollover() {
	day := m.now().UTC().Format("2006-01-02")
	if day == m.day {
		return
	}
	m.day = day
	m.metrics.DailyPnL = 0
	m.metrics.DailyTrades = 0
	m.metrics.DailyLosses = 0
}

// GetMetrics returns current metrics snapshot. Daily counters cover the
// current UTC day only.
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	return m.metrics
}
