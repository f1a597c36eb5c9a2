package adapt

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/fusion"
)

type fakeRisk struct {
	mu  sync.Mutex
	pct float64
	err error
	set []float64
}

func (f *fakeRisk) PerTradeRiskPct() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pct
}

func (f *fakeRisk) SetPerTradeRiskPct(pct float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.pct = pct
	f.set = append(f.set, pct)
	return nil
}

type capture struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capture) Publish(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func newTestController(t *testing.T, cfg Config, pct float64) (*Controller, *fakeRisk, *capture) {
	t.Helper()
	r := &fakeRisk{pct: pct}
	pub := &capture{}
	c, err := NewController(cfg, map[string]float64{"pvg": 0.5, "smc": 0.5, "tpr": 0.5}, r, pub, zerolog.Nop())
	require.NoError(t, err)
	return c, r, pub
}

func win(ids ...string) Outcome  { return Outcome{Symbol: "XYZ", Strategies: ids, RealizedPnL: 10} }
func loss(ids ...string) Outcome { return Outcome{Symbol: "XYZ", Strategies: ids, RealizedPnL: -10} }

func TestControllerImplementsWeightSource(t *testing.T) {
	var _ fusion.WeightSource = (*Controller)(nil)
}

func TestOutcomeResult(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pnl   float64
		want  Result
		score float64
	}{
		{12.5, Win, 1},
		{-0.01, Loss, 0},
		{0, Neutral, 0.5},
	}
	for _, tt := range tests {
		got := Outcome{RealizedPnL: tt.pnl}.Result()
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.score, got.Score())
	}
}

func TestRecordMovesWeightsWithinMaxStep(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Alpha = 1 // win rate jumps to the score
	c, _, _ := newTestController(t, cfg, 0.01)

	u := c.Record(win("pvg"))
	require.Len(t, u.Weights, 1)
	assert.Equal(t, 1.0, u.Weights[0].RollingWinRate)
	assert.InDelta(t, 0.6, c.Weight("pvg"), 1e-9, "capped at one step")

	c.Record(loss("smc"))
	assert.InDelta(t, 0.4, c.Weight("smc"), 1e-9)
	assert.InDelta(t, 0.5, c.Weight("tpr"), 1e-9, "untouched")
}

func TestWeightsStayInBoundsOverLongStreaks(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, DefaultConfig(), 0.01)
	cfg := DefaultConfig()

	prev := c.Weight("pvg")
	for range 200 {
		c.Record(loss("pvg"))
		w := c.Weight("pvg")
		assert.LessOrEqual(t, prev-w, cfg.MaxStep+1e-12)
		assert.GreaterOrEqual(t, w, cfg.MinWeight-1e-12)
		prev = w
	}
	assert.InDelta(t, cfg.MinWeight, c.Weight("pvg"), 1e-6)

	for range 200 {
		c.Record(win("pvg"))
		w := c.Weight("pvg")
		assert.LessOrEqual(t, w-prev, cfg.MaxStep+1e-12)
		assert.LessOrEqual(t, w, cfg.MaxWeight+1e-12)
		prev = w
	}
	assert.Greater(t, c.Weight("pvg"), 0.9)
}

func TestRecordDedupesStrategyIDs(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, DefaultConfig(), 0.01)

	u := c.Record(win("pvg", "pvg", "smc"))
	require.Len(t, u.Weights, 2)
	assert.Equal(t, "pvg", u.Weights[0].StrategyID)
	assert.Equal(t, 1, u.Weights[0].SampleCount)
}

func TestUnknownStrategyStartsAtDefault(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, DefaultConfig(), 0.01)

	assert.Equal(t, 0.5, c.Weight("ema-cross"))
	c.Record(win("ema-cross"))
	assert.Greater(t, c.Weight("ema-cross"), 0.5)
	assert.Len(t, c.Weights(), 4)
}

func TestLossStreakTightensRisk(t *testing.T) {
	t.Parallel()
	c, r, _ := newTestController(t, DefaultConfig(), 0.01)

	c.Record(loss("pvg"))
	c.Record(loss("pvg"))
	assert.Empty(t, r.set)

	u := c.Record(loss("pvg"))
	assert.InDelta(t, 0.008, u.RiskPct, 1e-12)
	assert.InDelta(t, 0.01, u.PrevRiskPct, 1e-12)
	assert.InDelta(t, 0.008, r.PerTradeRiskPct(), 1e-12)

	_, ls := c.Streaks()
	assert.Zero(t, ls, "streak restarts after tightening")
}

func TestWinStreakLoosensRisk(t *testing.T) {
	t.Parallel()
	c, r, _ := newTestController(t, DefaultConfig(), 0.01)

	for range 4 {
		c.Record(win("smc"))
	}
	assert.Empty(t, r.set)
	c.Record(win("smc"))
	assert.InDelta(t, 0.011, r.PerTradeRiskPct(), 1e-12)
}

func TestNeutralOutcomeKeepsStreak(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, DefaultConfig(), 0.01)

	c.Record(loss("pvg"))
	c.Record(loss("pvg"))
	c.Record(Outcome{Strategies: []string{"pvg"}, State: "cancelled"})
	_, ls := c.Streaks()
	assert.Equal(t, 2, ls)
}

func TestRiskNeverLeavesBounds(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.RiskFloor = 0.0001 // below the hard floor
	cfg.RiskCeiling = 0.5  // above the hard ceiling
	c, r, _ := newTestController(t, cfg, 0.01)

	for range 300 {
		c.Record(loss("pvg"))
		assert.GreaterOrEqual(t, r.PerTradeRiskPct(), RiskPctFloor)
	}
	assert.InDelta(t, RiskPctFloor, r.PerTradeRiskPct(), 1e-12)

	for range 300 {
		c.Record(win("pvg"))
		assert.LessOrEqual(t, r.PerTradeRiskPct(), RiskPctCeiling)
	}
	assert.InDelta(t, RiskPctCeiling, r.PerTradeRiskPct(), 1e-12)
}

func TestRiskTunerErrorKeepsCurrent(t *testing.T) {
	t.Parallel()
	c, r, _ := newTestController(t, DefaultConfig(), 0.01)
	r.err = errors.New("locked")

	var u Update
	for range 3 {
		u = c.Record(loss("pvg"))
	}
	assert.Equal(t, 0.01, u.RiskPct)
}

func TestDecayReturnsTowardInitial(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Alpha = 1
	c, _, pub := newTestController(t, cfg, 0.01)

	c.Record(win("pvg"))
	require.InDelta(t, 0.6, c.Weight("pvg"), 1e-9)

	c.Decay()
	assert.InDelta(t, 0.58, c.Weight("pvg"), 1e-9)
	for range 10 {
		c.Decay()
	}
	assert.InDelta(t, 0.5, c.Weight("pvg"), 1e-9)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.NotEmpty(t, pub.events)
	assert.Equal(t, events.KindWeights, pub.events[len(pub.events)-1].Kind)
}

func TestSetWeight(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, DefaultConfig(), 0.01)

	sw, err := c.SetWeight("tpr", 1.7)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sw.Weight)
	assert.Equal(t, 1.0, c.Weight("tpr"))

	c.Decay()
	assert.Equal(t, 1.0, c.Weight("tpr"), "override is the new resting weight")

	_, err = c.SetWeight("", 0.3)
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"alpha", func(c *Config) { c.Alpha = 0 }},
		{"weights", func(c *Config) { c.MinWeight, c.MaxWeight = 0.8, 0.2 }},
		{"step", func(c *Config) { c.MaxStep = 0 }},
		{"tighten", func(c *Config) { c.TightenFactor = 1.2 }},
		{"loosen", func(c *Config) { c.LoosenFactor = 0.9 }},
		{"risk", func(c *Config) { c.RiskFloor, c.RiskCeiling = 0.02, 0.01 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			_, err := NewController(cfg, nil, nil, nil, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestConcurrentRecord(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestController(t, DefaultConfig(), 0.01)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				c.Record(win("pvg", "smc"))
			} else {
				c.Record(loss("tpr"))
			}
			_ = c.Weight("pvg")
		}()
	}
	wg.Wait()

	for _, w := range c.Weights() {
		assert.GreaterOrEqual(t, w.Weight, 0.0)
		assert.LessOrEqual(t, w.Weight, 1.0)
	}
	assert.Equal(t, 25, c.Weights()[0].SampleCount)
}
