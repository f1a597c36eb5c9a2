package strategies

import (
	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
)

// SMCConfig configures the market structure strategy.
type SMCConfig struct {
	Lookback  int `yaml:"lookback" json:"lookback" default:"20" validate:"gt=1"`
	ATRPeriod int `yaml:"atr_period" json:"atr_period" default:"14" validate:"gt=0"`
	// BreakoutScale is the breakout distance, in ATRs, that earns full confidence.
	BreakoutScale   float64 `yaml:"breakout_scale" json:"breakout_scale" default:"1" validate:"gt=0"`
	SweepConfidence float64 `yaml:"sweep_confidence" json:"sweep_confidence" default:"0.5" validate:"gt=0,lte=1"`
}

func SMCConfigDefaults() SMCConfig {
	return SMCConfig{
		Lookback:        20,
		ATRPeriod:       14,
		BreakoutScale:   1,
		SweepConfidence: 0.5,
	}
}

// SMC looks for a break of the prior swing structure, or a liquidity
// sweep that pierces a swing extreme and closes back inside.
type SMC struct {
	SMCConfig
}

func NewSMC(cfg SMCConfig) *SMC {
	d := SMCConfigDefaults()
	if cfg.Lookback <= 1 {
		cfg.Lookback = d.Lookback
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = d.ATRPeriod
	}
	if cfg.BreakoutScale <= 0 {
		cfg.BreakoutScale = d.BreakoutScale
	}
	if cfg.SweepConfidence <= 0 || cfg.SweepConfidence > 1 {
		cfg.SweepConfidence = d.SweepConfidence
	}
	return &SMC{SMCConfig: cfg}
}

func (s *SMC) ID() string { return "smc" }

func (s *SMC) MinBars() int { return max(s.Lookback, s.ATRPeriod) + 1 }

func (s *SMC) Evaluate(window []market.Bar) (Signal, bool) {
	n := len(window)
	if n < s.MinBars() {
		return Signal{}, false
	}

	last := window[n-1]
	prior := window[n-1-s.Lookback : n-1]
	swingHigh := indicators.HighestHigh(prior)
	swingLow := indicators.LowestLow(prior)

	atr, err := indicators.ATRFunc(window, s.ATRPeriod)
	if err != nil || atr <= 0 {
		atr = last.Range()
	}

	meta := map[string]float64{
		"swing_high": swingHigh,
		"swing_low":  swingLow,
		"atr":        atr,
	}

	mid := last.Low + last.Range()/2
	switch {
	case last.Close > swingHigh:
		return newSignal(s.ID(), window, Long, s.breakout(last.Close-swingHigh, atr), meta), true

	case last.Close < swingLow:
		return newSignal(s.ID(), window, Short, s.breakout(swingLow-last.Close, atr), meta), true

	case last.High > swingHigh && last.Close <= mid:
		// swept the highs and got rejected
		return newSignal(s.ID(), window, Short, s.SweepConfidence, meta), true

	case last.Low < swingLow && last.Close >= mid:
		return newSignal(s.ID(), window, Long, s.SweepConfidence, meta), true
	}
	return newSignal(s.ID(), window, Flat, 0, meta), true
}

func (s *SMC) breakout(distance, atr float64) float64 {
	if atr <= 0 {
		return 0.5
	}
	return 0.5 + 0.5*clamp01(distance/atr/s.BreakoutScale)
}
