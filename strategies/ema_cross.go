package strategies

import (
	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
)

// EMACrossConfig configures the EMA crossover strategy. It is registered as
// "ema-cross" but not enabled by default.
type EMACrossConfig struct {
	FastPeriod int `yaml:"fast_period" json:"fast_period" default:"10" validate:"gt=0"`
	SlowPeriod int `yaml:"slow_period" json:"slow_period" default:"30" validate:"gtfield=FastPeriod"`

	// ADX filter; MinADX of 0 disables it.
	ADXPeriod int     `yaml:"adx_period" json:"adx_period" default:"14" validate:"gt=0"`
	MinADX    float64 `yaml:"min_adx" json:"min_adx" default:"0" validate:"gte=0"`
}

func EMACrossConfigDefaults() EMACrossConfig {
	return EMACrossConfig{
		FastPeriod: 10,
		SlowPeriod: 30,
		ADXPeriod:  14,
	}
}

// EMACross signals only on the bar where the fast EMA crosses the slow EMA.
// - Bull cross: diff goes from <=0 to >0
// - Bear cross: diff goes from >=0 to <0
// Any other bar is reported flat.
type EMACross struct {
	EMACrossConfig
}

func NewEMACross(cfg EMACrossConfig) *EMACross {
	d := EMACrossConfigDefaults()
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = d.FastPeriod
	}
	if cfg.SlowPeriod <= cfg.FastPeriod {
		cfg.SlowPeriod = max(d.SlowPeriod, cfg.FastPeriod+1)
	}
	if cfg.ADXPeriod <= 0 {
		cfg.ADXPeriod = d.ADXPeriod
	}
	return &EMACross{EMACrossConfig: cfg}
}

func (s *EMACross) ID() string { return "ema-cross" }

func (s *EMACross) MinBars() int {
	n := s.SlowPeriod + 1
	if s.MinADX > 0 {
		n = max(n, 2*s.ADXPeriod)
	}
	return n
}

func (s *EMACross) Evaluate(window []market.Bar) (Signal, bool) {
	if len(window) < s.MinBars() {
		return Signal{}, false
	}

	closes := market.Closes(window)
	fast, _ := indicators.EMASeries(closes, s.FastPeriod)
	slow, _ := indicators.EMASeries(closes, s.SlowPeriod)

	// both series end at the last bar
	diff := fast[len(fast)-1] - slow[len(slow)-1]
	lastDiff := fast[len(fast)-2] - slow[len(slow)-2]

	meta := map[string]float64{
		"ema_fast": fast[len(fast)-1],
		"ema_slow": slow[len(slow)-1],
	}

	if s.MinADX > 0 {
		adx, ready := indicators.Run(indicators.NewADX(s.ADXPeriod), window)
		meta["adx"] = adx
		if !ready || adx < s.MinADX {
			return newSignal(s.ID(), window, Flat, 0, meta), true
		}
	}

	switch {
	case diff > 0 && lastDiff <= 0:
		return newSignal(s.ID(), window, Long, 1, meta), true
	case diff < 0 && lastDiff >= 0:
		return newSignal(s.ID(), window, Short, 1, meta), true
	}
	return newSignal(s.ID(), window, Flat, 0, meta), true
}
