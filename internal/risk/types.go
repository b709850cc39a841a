package risk

import "fmt"

// Rule names carried by a Rejection.
const (
	RulePositions = "max_positions"
	RuleMargin    = "margin"
	RuleRisk      = "risk_percent"
)

// Limits defines the per-trade gate and the position sizing parameters.
type Limits struct {
	MaxPositions       int     `json:"max_positions"`
	MaxRiskPercent     float64 `json:"max_risk_percent"`
	DefaultRiskPercent float64 `json:"default_risk_percent"`
	Leverage           float64 `json:"leverage"`
	ContractSize       float64 `json:"contract_size"`
	MinVolume          float64 `json:"min_volume"`
	MaxVolume          float64 `json:"max_volume"`
	VolumeStep         float64 `json:"volume_step"`
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() Limits {
	return Limits{
		MaxPositions:       5,
		MaxRiskPercent:     5,
		DefaultRiskPercent: 1,
		Leverage:           100,
		ContractSize:       100000,
		MinVolume:          0.01,
		MaxVolume:          10,
		VolumeStep:         0.01,
	}
}

// TradeRequest is the proposed trade under evaluation. StopLoss 0 means unset;
// ContractSize 0 falls back to the limits.
type TradeRequest struct {
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Volume       float64 `json:"volume"`
	EntryPrice   float64 `json:"entry_price"`
	StopLoss     float64 `json:"stop_loss,omitempty"`
	ContractSize float64 `json:"contract_size,omitempty"`
}

// Account is the subset of the account snapshot the gate needs.
type Account struct {
	Balance    float64 `json:"balance"`
	FreeMargin float64 `json:"free_margin"`
}

// Decision is the outcome of CheckTrade.
type Decision struct {
	Allowed        bool    `json:"allowed"`
	Rule           string  `json:"rule,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	RequiredMargin float64 `json:"required_margin"`
	RiskAmount     float64 `json:"risk_amount"`
	RiskPercent    float64 `json:"risk_percent"`
}

// Err returns the decision as a *Rejection, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &Rejection{Rule: d.Rule, Reason: d.Reason}
}

// Rejection is returned when a trade fails a risk rule.
type Rejection struct {
	Rule   string
	Reason string
}

func (r *Rejection) Error() string { return fmt.Sprintf("risk rejected (%s): %s", r.Rule, r.Reason) }

// Metrics tracks gate activity and realized results.
type Metrics struct {
	ChecksTotal      uint64  `json:"checks_total"`
	RejectionsTotal  uint64  `json:"rejections_total"`
	DailyPnL         float64 `json:"daily_pnl"`
	DailyTrades      int     `json:"daily_trades"`
	DailyLosses      float64 `json:"daily_losses"`
	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	MaxProfit        float64 `json:"max_profit"`
}

// TradeResult represents a realized close.
type TradeResult struct {
	Symbol string
	Side   string
	Volume float64
	Profit float64 // net of swap and commission
}
