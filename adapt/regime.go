package adapt

import (
	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
)

type Regime string

const (
	TrendingHighVol Regime = "TRENDING_HIGH_VOL"
	TrendingLowVol  Regime = "TRENDING_LOW_VOL"
	RangingHighVol  Regime = "RANGING_HIGH_VOL"
	RangingLowVol   Regime = "RANGING_LOW_VOL"
	Uncertain       Regime = "UNCERTAIN"
	Unknown         Regime = "UNKNOWN"
)

const (
	levelHigh    = "high"
	levelLow     = "low"
	levelUnknown = "unknown"
	trending     = "trending"
	ranging      = "ranging"
)

type RegimeConfig struct {
	ATRPeriod int `yaml:"atr_period" json:"atr_period" default:"14" validate:"gt=0"`
	ADXPeriod int `yaml:"adx_period" json:"adx_period" default:"14" validate:"gt=0"`
	// ATR as a fraction of price above which volatility is high.
	VolatilityThreshold float64 `yaml:"volatility_threshold" json:"volatility_threshold" default:"0.02" validate:"gt=0"`
	// ADX above which the market is trending.
	TrendThreshold float64 `yaml:"trend_threshold" json:"trend_threshold" default:"20" validate:"gt=0"`
}

func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		ATRPeriod:           14,
		ADXPeriod:           14,
		VolatilityThreshold: 0.02,
		TrendThreshold:      20,
	}
}

// Analysis is the market condition read from a bar window.
type Analysis struct {
	Regime     Regime  `json:"regime"`
	Volatility string  `json:"volatility"`
	Trend      string  `json:"trend"`
	ATRPct     float64 `json:"atr_pct"`
	ADX        float64 `json:"adx"`
}

// AnalyzeRegime classifies bars by volatility (ATR over close) and trend
// strength (ADX). Too little history yields UNCERTAIN, no bars UNKNOWN.
func AnalyzeRegime(cfg RegimeConfig, bars []market.Bar) Analysis {
	if len(bars) == 0 {
		return Analysis{Regime: Unknown, Volatility: levelUnknown, Trend: levelUnknown}
	}
	a := Analysis{Volatility: levelUnknown, Trend: levelUnknown}

	if pct, err := indicators.ATRPercent(bars, cfg.ATRPeriod); err == nil {
		a.ATRPct = pct
		a.Volatility = levelLow
		if a.ATRPct > cfg.VolatilityThreshold {
			a.Volatility = levelHigh
		}
	}
	if adx, ready := indicators.Run(indicators.NewADX(cfg.ADXPeriod), bars); ready {
		a.ADX = adx
		a.Trend = ranging
		if adx > cfg.TrendThreshold {
			a.Trend = trending
		}
	}

	switch {
	case a.Trend == trending && a.Volatility == levelHigh:
		a.Regime = TrendingHighVol
	case a.Trend == trending && a.Volatility == levelLow:
		a.Regime = TrendingLowVol
	case a.Trend == ranging && a.Volatility == levelHigh:
		a.Regime = RangingHighVol
	case a.Trend == ranging && a.Volatility == levelLow:
		a.Regime = RangingLowVol
	default:
		a.Regime = Uncertain
	}
	return a
}

// Suggestion scales the risk proposal for a regime.
type Suggestion struct {
	Regime         Regime  `json:"regime"`
	Mode           string  `json:"mode"`
	RiskMultiplier float64 `json:"risk_multiplier"`
	StopMultiplier float64 `json:"stop_multiplier"`
	TakeMultiplier float64 `json:"take_multiplier"`
}

var suggestions = map[Regime]Suggestion{
	TrendingHighVol: {Mode: "trend_following", RiskMultiplier: 0.8, StopMultiplier: 1.5, TakeMultiplier: 2.0},
	TrendingLowVol:  {Mode: "trend_following", RiskMultiplier: 1.0, StopMultiplier: 1.0, TakeMultiplier: 1.5},
	RangingHighVol:  {Mode: "range_bound", RiskMultiplier: 0.6, StopMultiplier: 1.8, TakeMultiplier: 1.2},
	RangingLowVol:   {Mode: "range_bound", RiskMultiplier: 1.0, StopMultiplier: 1.0, TakeMultiplier: 1.0},
}

// Suggest maps an analysis to multipliers. Unknown regimes halve risk.
// The stop widens 20% in high volatility and tightens 20% in low.
func Suggest(a Analysis) Suggestion {
	s, ok := suggestions[a.Regime]
	if !ok {
		s = Suggestion{Mode: "hold", RiskMultiplier: 0.5, StopMultiplier: 1.0, TakeMultiplier: 1.0}
	}
	s.Regime = a.Regime
	switch a.Volatility {
	case levelHigh:
		s.StopMultiplier *= 1.2
	case levelLow:
		s.StopMultiplier *= 0.8
	}
	return s
}
