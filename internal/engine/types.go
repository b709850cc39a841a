package engine

import (
	"time"

	"trading-assistant/internal/connection"
	"trading-assistant/internal/monitor"
	"trading-assistant/internal/performance"
	"trading-assistant/internal/transport"
)

// SystemStatus is a point-in-time view of the assistant.
type SystemStatus struct {
	Version        string            `json:"version"`
	Transport      string            `json:"transport"`
	ClientID       string            `json:"client_id"`
	Connection     connection.Status `json:"connection"`
	ActiveSymbol   string            `json:"active_symbol"`
	Timeframe      string            `json:"timeframe"`
	Subscriptions  []string          `json:"subscriptions"`
	OpenPositions  int               `json:"open_positions"`
	PendingOrders  int               `json:"pending_orders"`
	PendingConfirm int               `json:"pending_confirmations"`
	JournalPending int               `json:"journal_pending"`
	DroppedEvents  map[string]uint64 `json:"dropped_events"`
	StartedAt      time.Time         `json:"started_at"`
	Uptime         string            `json:"uptime"`

	PositionsRefreshing bool      `json:"positions_refreshing"`
	AccountSyncedAt     time.Time `json:"account_synced_at"`
	// Runtime carries the order and close round-trip latency histograms.
	Runtime monitor.MetricsSnapshot `json:"runtime"`
}

// PerformanceReport is the aggregated trade history.
type PerformanceReport struct {
	Total             int     `json:"total"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	WinRate           float64 `json:"win_rate"`
	CurrentWinStreak  int     `json:"current_win_streak"`
	CurrentLossStreak int     `json:"current_loss_streak"`
	MaxWinStreak      int     `json:"max_win_streak"`
	MaxLossStreak     int     `json:"max_loss_streak"`
	LargestWin        float64 `json:"largest_win"`
	LargestLoss       float64 `json:"largest_loss"`
	NetProfit         string  `json:"net_profit"`
}

func newPerformanceReport(s performance.Stats) PerformanceReport {
	largestWin, _ := s.LargestWin.Float64()
	largestLoss, _ := s.LargestLoss.Float64()
	return PerformanceReport{
		Total:             s.Total,
		Successful:        s.Successful,
		Failed:            s.Failed,
		Wins:              s.Wins,
		Losses:            s.Losses,
		WinRate:           s.WinRate(),
		CurrentWinStreak:  s.CurrentWinStreak,
		CurrentLossStreak: s.CurrentLossStreak,
		MaxWinStreak:      s.MaxWinStreak,
		MaxLossStreak:     s.MaxLossStreak,
		LargestWin:        largestWin,
		LargestLoss:       largestLoss,
		NetProfit:         s.NetProfit.StringFixed(2),
	}
}

// CloseFilter selects positions for CloseAll. Empty fields match everything.
type CloseFilter struct {
	Symbol string         `json:"symbol,omitempty"`
	Side   transport.Side `json:"side,omitempty"`
}

func (f CloseFilter) match(p transport.Position) bool {
	if f.Symbol != "" && p.Symbol != f.Symbol {
		return false
	}
	if f.Side != "" && p.Side != f.Side {
		return false
	}
	return true
}
