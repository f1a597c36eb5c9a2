package strategies

import (
	"math"

	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
)

// PVGConfig configures the price-volume-gradient strategy.
type PVGConfig struct {
	FastPeriod   int `yaml:"fast_period" json:"fast_period" default:"14" validate:"gt=0"`
	SlowPeriod   int `yaml:"slow_period" json:"slow_period" default:"50" validate:"gtfield=FastPeriod"`
	VolumePeriod int `yaml:"volume_period" json:"volume_period" default:"20" validate:"gt=0"`
	// GapScale is the relative fast/slow gap that earns full confidence.
	GapScale float64 `yaml:"gap_scale" json:"gap_scale" default:"0.01" validate:"gt=0"`
}

func PVGConfigDefaults() PVGConfig {
	return PVGConfig{
		FastPeriod:   14,
		SlowPeriod:   50,
		VolumePeriod: 20,
		GapScale:     0.01,
	}
}

// PVG compares a fast and a slow SMA of close and confirms the gap with
// the latest volume relative to its average.
type PVG struct {
	PVGConfig
}

func NewPVG(cfg PVGConfig) *PVG {
	d := PVGConfigDefaults()
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = d.FastPeriod
	}
	if cfg.SlowPeriod <= cfg.FastPeriod {
		cfg.SlowPeriod = max(d.SlowPeriod, cfg.FastPeriod+1)
	}
	if cfg.VolumePeriod <= 0 {
		cfg.VolumePeriod = d.VolumePeriod
	}
	if cfg.GapScale <= 0 {
		cfg.GapScale = d.GapScale
	}
	return &PVG{PVGConfig: cfg}
}

func (p *PVG) ID() string { return "pvg" }

func (p *PVG) MinBars() int { return max(p.SlowPeriod, p.VolumePeriod) }

func (p *PVG) Evaluate(window []market.Bar) (Signal, bool) {
	if len(window) < p.MinBars() {
		return Signal{}, false
	}

	closes := market.Closes(window)
	fast, _ := indicators.SMA(closes, p.FastPeriod)
	slow, _ := indicators.SMA(closes, p.SlowPeriod)
	if slow <= 0 {
		return Signal{}, false
	}
	gap := fast - slow

	volAvg, _ := indicators.SMA(market.Volumes(window), p.VolumePeriod)
	volRatio := 0.0
	if volAvg > 0 {
		volRatio = market.Last(window).Volume / volAvg
	}

	meta := map[string]float64{
		"sma_fast":     fast,
		"sma_slow":     slow,
		"volume_ratio": volRatio,
	}
	if gap == 0 {
		return newSignal(p.ID(), window, Flat, 0, meta), true
	}

	base := clamp01(math.Abs(gap) / slow / p.GapScale)
	confidence := base * (0.5 + 0.5*math.Min(1, volRatio))
	return newSignal(p.ID(), window, directionOf(gap), confidence, meta), true
}
