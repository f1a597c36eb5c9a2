package adapt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/autotrader/market/markettest"
)

func TestAnalyzeRegime(t *testing.T) {
	t.Parallel()
	cfg := DefaultRegimeConfig()

	tests := []struct {
		name   string
		closes []float64
		spread float64
		want   Regime
	}{
		{"steady trend", markettest.Linear(40, 100, 1), 0.1, TrendingLowVol},
		{"wild trend", markettest.Linear(40, 100, 1), 3, TrendingHighVol},
		{"quiet range", markettest.Flat(40, 100), 0.1, RangingLowVol},
		{"wild range", markettest.Flat(40, 100), 5, RangingHighVol},
		{"short history", markettest.Linear(10, 100, 1), 0.1, Uncertain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars := markettest.Series("XYZ", tt.closes, tt.spread, 1000)
			assert.Equal(t, tt.want, AnalyzeRegime(cfg, bars).Regime)
		})
	}

	assert.Equal(t, Unknown, AnalyzeRegime(cfg, nil).Regime)
}

func TestSuggest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a                Analysis
		risk, stop, take float64
		mode             string
	}{
		{Analysis{Regime: TrendingHighVol, Volatility: levelHigh}, 0.8, 1.8, 2.0, "trend_following"},
		{Analysis{Regime: TrendingLowVol, Volatility: levelLow}, 1.0, 0.8, 1.5, "trend_following"},
		{Analysis{Regime: RangingHighVol, Volatility: levelHigh}, 0.6, 2.16, 1.2, "range_bound"},
		{Analysis{Regime: RangingLowVol, Volatility: levelLow}, 1.0, 0.8, 1.0, "range_bound"},
		{Analysis{Regime: Uncertain, Volatility: levelUnknown}, 0.5, 1.0, 1.0, "hold"},
	}
	for _, tt := range tests {
		t.Run(string(tt.a.Regime), func(t *testing.T) {
			s := Suggest(tt.a)
			assert.Equal(t, tt.a.Regime, s.Regime)
			assert.Equal(t, tt.mode, s.Mode)
			assert.InDelta(t, tt.risk, s.RiskMultiplier, 1e-9)
			assert.InDelta(t, tt.stop, s.StopMultiplier, 1e-9)
			assert.InDelta(t, tt.take, s.TakeMultiplier, 1e-9)
		})
	}
}
