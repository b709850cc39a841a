package performance

import (
	"github.com/shopspring/decimal"
)

// Stats aggregates a trade record log. Money fields are decimal so that
// replaying a log always reproduces the incremental totals exactly.
type Stats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Wins       int `json:"wins"`
	Losses     int `json:"losses"`

	CurrentWinStreak  int `json:"current_win_streak"`
	CurrentLossStreak int `json:"current_loss_streak"`
	MaxWinStreak      int `json:"max_win_streak"`
	MaxLossStreak     int `json:"max_loss_streak"`

	LargestWin  decimal.Decimal `json:"largest_win"`
	LargestLoss decimal.Decimal `json:"largest_loss"`
	NetProfit   decimal.Decimal `json:"net_profit"`
}

// WinRate returns wins over realized trades in percent, 0 when nothing settled.
func (s Stats) WinRate() float64 {
	settled := s.Wins + s.Losses
	if settled == 0 {
		return 0
	}
	return float64(s.Wins) / float64(settled) * 100
}

// Add folds one record into s. A break-even close is realized but neither a
// win nor a loss, and leaves both streaks untouched.
func (s *Stats) Add(r TradeRecord) {
	s.Total++
	if r.Result.Success {
		s.Successful++
	} else {
		s.Failed++
	}
	if !r.Realized() {
		return
	}

	profit := decimal.NewFromFloat(r.Result.Profit)
	s.NetProfit = s.NetProfit.Add(profit)

	switch profit.Sign() {
	case 1:
		s.Wins++
		s.CurrentWinStreak++
		s.CurrentLossStreak = 0
		if s.CurrentWinStreak > s.MaxWinStreak {
			s.MaxWinStreak = s.CurrentWinStreak
		}
		if profit.GreaterThan(s.LargestWin) {
			s.LargestWin = profit
		}
	case -1:
		s.Losses++
		s.CurrentLossStreak++
		s.CurrentWinStreak = 0
		if s.CurrentLossStreak > s.MaxLossStreak {
			s.MaxLossStreak = s.CurrentLossStreak
		}
		if profit.LessThan(s.LargestLoss) {
			s.LargestLoss = profit
		}
	}
}

// Replay derives Stats from a full log in order.
func Replay(records []TradeRecord) Stats {
	var s Stats
	for _, r := range records {
		s.Add(r)
	}
	return s
}
