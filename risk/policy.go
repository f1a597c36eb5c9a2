package risk

import "fmt"

// HedgePolicy decides what happens when a decision opposes an open position.
type HedgePolicy string

const (
	HedgeVeto       HedgePolicy = "veto"
	HedgeCloseFirst HedgePolicy = "close-first"
)

// StopMethod selects how the stop distance is derived.
type StopMethod string

const (
	StopATR     StopMethod = "atr"
	StopPercent StopMethod = "percent"
	StopPips    StopMethod = "pips"
)

// Hard bounds on the per-trade risk fraction. Configuration, operator
// overrides and adaptation all stay inside them.
const (
	MinPerTradeRiskPct = 0.001
	MaxPerTradeRiskPct = 0.05
)

// Config is the risk section of the agent configuration. The three limits
// have no defaults and must be supplied.
type Config struct {
	MaxPositionSize float64 `yaml:"max_position_size" json:"max_position_size" validate:"required,gt=0"`
	PerTradeRiskPct float64 `yaml:"per_trade_risk_pct" json:"per_trade_risk_pct" validate:"required,gte=0.001,lte=0.05"`
	DailyLossLimit  float64 `yaml:"daily_loss_limit" json:"daily_loss_limit" validate:"required,gt=0"`

	StopMethod      StopMethod `yaml:"stop_method" json:"stop_method" default:"atr" validate:"oneof=atr percent pips"`
	StopATRMultiple float64    `yaml:"stop_atr_multiple" json:"stop_atr_multiple" default:"1.5" validate:"gt=0"`
	StopPct         float64    `yaml:"stop_pct" json:"stop_pct" default:"0.02" validate:"gt=0,lt=1"`
	StopPips        float64    `yaml:"stop_pips" json:"stop_pips" default:"20" validate:"gt=0"`
	RewardRisk      float64    `yaml:"reward_risk" json:"reward_risk" default:"2" validate:"gt=0"`
	// TrailPct trails the stop this fraction behind the best price; 0 disables.
	TrailPct float64 `yaml:"trail_pct" json:"trail_pct" default:"0.02" validate:"gte=0,lt=1"`

	HedgePolicy HedgePolicy `yaml:"hedge_policy" json:"hedge_policy" default:"veto" validate:"oneof=veto close-first"`
	// LotStep is used for symbols missing from market.Instruments.
	LotStep float64 `yaml:"lot_step" json:"lot_step" default:"1" validate:"gt=0"`
}

// DefaultConfig returns the optional settings with their defaults. The
// limits are left zero.
func DefaultConfig() Config {
	return Config{
		StopMethod:      StopATR,
		StopATRMultiple: 1.5,
		StopPct:         0.02,
		StopPips:        20,
		RewardRisk:      2,
		TrailPct:        0.02,
		HedgePolicy:     HedgeVeto,
		LotStep:         1,
	}
}

// Check reports the first missing or out-of-range limit.
func (c Config) Check() error {
	switch {
	case c.MaxPositionSize <= 0:
		return fmt.Errorf("risk.max_position_size must be > 0")
	case c.PerTradeRiskPct < MinPerTradeRiskPct || c.PerTradeRiskPct > MaxPerTradeRiskPct:
		return fmt.Errorf("risk.per_trade_risk_pct must be in [%g, %g]", MinPerTradeRiskPct, MaxPerTradeRiskPct)
	case c.DailyLossLimit <= 0:
		return fmt.Errorf("risk.daily_loss_limit must be > 0")
	case c.HedgePolicy != HedgeVeto && c.HedgePolicy != HedgeCloseFirst:
		return fmt.Errorf("risk.hedge_policy %q unknown", c.HedgePolicy)
	}
	return nil
}
