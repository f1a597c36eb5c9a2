package strategies

import (
	"math"

	"github.com/rustyeddy/autotrader/indicators"
	"github.com/rustyeddy/autotrader/market"
)

// TPRConfig configures the trend-pullback-reversal strategy.
type TPRConfig struct {
	TrendPeriod    int `yaml:"trend_period" json:"trend_period" default:"50" validate:"gt=0"`
	PullbackPeriod int `yaml:"pullback_period" json:"pullback_period" default:"20" validate:"gt=0"`
	PullbackBars   int `yaml:"pullback_bars" json:"pullback_bars" default:"5" validate:"gt=0"`
	VolumePeriod   int `yaml:"volume_period" json:"volume_period" default:"20" validate:"gt=0"`
	SlopeBars      int `yaml:"slope_bars" json:"slope_bars" default:"5" validate:"gt=0"`
	// SlopeScale is the relative EMA change over SlopeBars that earns full
	// slope confidence.
	SlopeScale float64 `yaml:"slope_scale" json:"slope_scale" default:"0.005" validate:"gt=0"`
	// WaitConfidence is reported with the flat signal while a trend waits
	// for its pullback and reversal.
	WaitConfidence float64 `yaml:"wait_confidence" json:"wait_confidence" default:"0.2" validate:"gte=0,lte=1"`
}

func TPRConfigDefaults() TPRConfig {
	return TPRConfig{
		TrendPeriod:    50,
		PullbackPeriod: 20,
		PullbackBars:   5,
		VolumePeriod:   20,
		SlopeBars:      5,
		SlopeScale:     0.005,
		WaitConfidence: 0.2,
	}
}

// TPR trades with an EMA trend after price pulls back to a faster EMA and
// the latest bar reverses in the trend direction on above-average volume.
type TPR struct {
	TPRConfig
}

func NewTPR(cfg TPRConfig) *TPR {
	d := TPRConfigDefaults()
	if cfg.TrendPeriod <= 0 {
		cfg.TrendPeriod = d.TrendPeriod
	}
	if cfg.PullbackPeriod <= 0 {
		cfg.PullbackPeriod = d.PullbackPeriod
	}
	if cfg.PullbackBars <= 0 {
		cfg.PullbackBars = d.PullbackBars
	}
	if cfg.VolumePeriod <= 0 {
		cfg.VolumePeriod = d.VolumePeriod
	}
	if cfg.SlopeBars <= 0 {
		cfg.SlopeBars = d.SlopeBars
	}
	if cfg.SlopeScale <= 0 {
		cfg.SlopeScale = d.SlopeScale
	}
	return &TPR{TPRConfig: cfg}
}

func (t *TPR) ID() string { return "tpr" }

func (t *TPR) MinBars() int {
	return max(t.TrendPeriod+t.SlopeBars, t.PullbackPeriod+t.PullbackBars+1, t.VolumePeriod)
}

func (t *TPR) Evaluate(window []market.Bar) (Signal, bool) {
	n := len(window)
	if n < t.MinBars() {
		return Signal{}, false
	}

	closes := market.Closes(window)
	trend, _ := indicators.EMASeries(closes, t.TrendPeriod)
	ema := trend[len(trend)-1]
	prev := trend[len(trend)-1-t.SlopeBars]
	if prev <= 0 {
		return Signal{}, false
	}
	slope := (ema - prev) / prev

	last := window[n-1]
	meta := map[string]float64{
		"ema_trend": ema,
		"slope":     slope,
	}

	var dir Direction
	switch {
	case last.Close > ema && slope > 0:
		dir = Long
	case last.Close < ema && slope < 0:
		dir = Short
	default:
		return newSignal(t.ID(), window, Flat, 0, meta), true
	}

	// pullback EMA value for window index i is pb[i-(PullbackPeriod-1)]
	pb, _ := indicators.EMASeries(closes, t.PullbackPeriod)
	touched := false
	for i := n - 1 - t.PullbackBars; i < n-1; i++ {
		v := pb[i-(t.PullbackPeriod-1)]
		if window[i].Low <= v && v <= window[i].High {
			touched = true
			break
		}
	}

	volAvg, _ := indicators.SMA(market.Volumes(window), t.VolumePeriod)
	volRatio := 0.0
	if volAvg > 0 {
		volRatio = last.Volume / volAvg
	}
	meta["volume_ratio"] = volRatio

	reversal := last.Close*dir.Sign() > last.Open*dir.Sign() && volRatio >= 1
	if !touched || !reversal {
		return newSignal(t.ID(), window, Flat, t.WaitConfidence, meta), true
	}

	slopeScore := clamp01(math.Abs(slope) / t.SlopeScale)
	volScore := math.Min(1, volRatio/2)
	return newSignal(t.ID(), window, dir, 0.5*slopeScore+0.5*volScore, meta), true
}
