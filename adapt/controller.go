// Package adapt feeds closed-trade outcomes back into strategy weights and
// per-trade risk, and reads the market regime for the risk proposal.
package adapt

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/strategies"
)

// Hard bounds on per-trade risk. Configured bounds are clipped to these.
const (
	RiskPctFloor   = risk.MinPerTradeRiskPct
	RiskPctCeiling = risk.MaxPerTradeRiskPct
)

type Config struct {
	// EMA factor for the rolling win rate.
	Alpha     float64 `yaml:"alpha" json:"alpha" default:"0.2" validate:"gt=0,lte=1"`
	MinWeight float64 `yaml:"min_weight" json:"min_weight" default:"0.05" validate:"gte=0,lte=1"`
	MaxWeight float64 `yaml:"max_weight" json:"max_weight" default:"1" validate:"gtefield=MinWeight,lte=1"`
	// Largest change a single outcome or decay step may make to a weight.
	MaxStep   float64 `yaml:"max_step" json:"max_step" default:"0.1" validate:"gt=0,lte=1"`
	DecayStep float64 `yaml:"decay_step" json:"decay_step" default:"0.02" validate:"gte=0"`

	LossStreak    int     `yaml:"loss_streak" json:"loss_streak" default:"3" validate:"gte=1"`
	WinStreak     int     `yaml:"win_streak" json:"win_streak" default:"5" validate:"gte=1"`
	TightenFactor float64 `yaml:"tighten_factor" json:"tighten_factor" default:"0.8" validate:"gt=0,lt=1"`
	LoosenFactor  float64 `yaml:"loosen_factor" json:"loosen_factor" default:"1.1" validate:"gt=1"`
	RiskFloor     float64 `yaml:"risk_floor" json:"risk_floor" default:"0.0025" validate:"gt=0"`
	RiskCeiling   float64 `yaml:"risk_ceiling" json:"risk_ceiling" default:"0.02" validate:"gtfield=RiskFloor"`

	Regime RegimeConfig `yaml:"regime" json:"regime"`
}

func DefaultConfig() Config {
	return Config{
		Alpha:         0.2,
		MinWeight:     0.05,
		MaxWeight:     1,
		MaxStep:       0.1,
		DecayStep:     0.02,
		LossStreak:    3,
		WinStreak:     5,
		TightenFactor: 0.8,
		LoosenFactor:  1.1,
		RiskFloor:     0.0025,
		RiskCeiling:   0.02,
		Regime:        DefaultRegimeConfig(),
	}
}

func (c Config) check() error {
	var errs []error
	if c.Alpha <= 0 || c.Alpha > 1 {
		errs = append(errs, fmt.Errorf("adapt.alpha %g out of range (0, 1]", c.Alpha))
	}
	if c.MinWeight < 0 || c.MaxWeight > 1 || c.MinWeight > c.MaxWeight {
		errs = append(errs, fmt.Errorf("adapt weight bounds [%g, %g] invalid", c.MinWeight, c.MaxWeight))
	}
	if c.MaxStep <= 0 {
		errs = append(errs, fmt.Errorf("adapt.max_step must be > 0"))
	}
	if c.TightenFactor <= 0 || c.TightenFactor >= 1 {
		errs = append(errs, fmt.Errorf("adapt.tighten_factor %g out of range (0, 1)", c.TightenFactor))
	}
	if c.LoosenFactor <= 1 {
		errs = append(errs, fmt.Errorf("adapt.loosen_factor %g must be > 1", c.LoosenFactor))
	}
	if c.RiskFloor <= 0 || c.RiskCeiling < c.RiskFloor {
		errs = append(errs, fmt.Errorf("adapt risk bounds [%g, %g] invalid", c.RiskFloor, c.RiskCeiling))
	}
	return errors.Join(errs...)
}

// riskBounds returns the configured bounds clipped to the hard limits.
func (c Config) riskBounds() (lo, hi float64) {
	return math.Max(c.RiskFloor, RiskPctFloor), math.Min(c.RiskCeiling, RiskPctCeiling)
}

type Result string

const (
	Win     Result = "win"
	Loss    Result = "loss"
	Neutral Result = "neutral"
)

// Score maps a result onto [0,1] for the win rate average.
func (r Result) Score() float64 {
	switch r {
	case Win:
		return 1
	case Loss:
		return 0
	}
	return 0.5
}

// Outcome is a closed trade, or an order that ended without one.
type Outcome struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction,omitempty"`
	Strategies  []string  `json:"strategies"`
	Quantity    float64   `json:"quantity,omitempty"`
	EntryPrice  float64   `json:"entry_price,omitempty"`
	ExitPrice   float64   `json:"exit_price,omitempty"`
	RealizedPnL float64   `json:"realized_pnl"`
	State       string    `json:"state"`
	Time        time.Time `json:"time"`
}

func (o Outcome) Result() Result {
	switch {
	case o.RealizedPnL > 0:
		return Win
	case o.RealizedPnL < 0:
		return Loss
	}
	return Neutral
}

type StrategyWeight struct {
	StrategyID     string  `json:"strategy_id"`
	Weight         float64 `json:"weight"`
	Initial        float64 `json:"initial"`
	RollingWinRate float64 `json:"rolling_win_rate"`
	SampleCount    int     `json:"sample_count"`
}

// RiskTuner is the part of the risk manager the controller adjusts.
type RiskTuner interface {
	PerTradeRiskPct() float64
	SetPerTradeRiskPct(pct float64) error
}

type Publisher interface {
	Publish(events.Event)
}

// Update describes what one outcome changed.
type Update struct {
	Outcome     Outcome          `json:"outcome"`
	Result      Result           `json:"result"`
	Weights     []StrategyWeight `json:"weights"`
	RiskPct     float64          `json:"risk_pct"`
	PrevRiskPct float64          `json:"prev_risk_pct"`
	WinStreak   int              `json:"win_streak"`
	LossStreak  int              `json:"loss_streak"`
}

type Controller struct {
	cfg  Config
	risk RiskTuner
	pub  Publisher
	log  zerolog.Logger

	mu         sync.RWMutex
	weights    map[string]*StrategyWeight
	winStreak  int
	lossStreak int
}

// NewController seeds a weight for every id in initial. Strategies seen
// later start at strategies.DefaultWeight.
func NewController(cfg Config, initial map[string]float64, risk RiskTuner, pub Publisher, log zerolog.Logger) (*Controller, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	d := DefaultRegimeConfig()
	if cfg.Regime.ATRPeriod <= 0 {
		cfg.Regime.ATRPeriod = d.ATRPeriod
	}
	if cfg.Regime.ADXPeriod <= 0 {
		cfg.Regime.ADXPeriod = d.ADXPeriod
	}
	if cfg.Regime.VolatilityThreshold <= 0 {
		cfg.Regime.VolatilityThreshold = d.VolatilityThreshold
	}
	if cfg.Regime.TrendThreshold <= 0 {
		cfg.Regime.TrendThreshold = d.TrendThreshold
	}
	c := &Controller{
		cfg:     cfg,
		risk:    risk,
		pub:     pub,
		log:     log.With().Str("component", "adapt").Logger(),
		weights: make(map[string]*StrategyWeight),
	}
	for sid, w := range initial {
		c.weights[sid] = newWeight(sid, w)
	}
	return c, nil
}

func newWeight(sid string, w float64) *StrategyWeight {
	w = clamp(w, 0, 1)
	return &StrategyWeight{StrategyID: sid, Weight: w, Initial: w, RollingWinRate: 0.5}
}

// Weight returns the current fusion weight for id.
func (c *Controller) Weight(sid string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if w, ok := c.weights[sid]; ok {
		return w.Weight
	}
	return strategies.DefaultWeight
}

func (c *Controller) weightLocked(sid string) *StrategyWeight {
	w, ok := c.weights[sid]
	if !ok {
		w = newWeight(sid, strategies.DefaultWeight)
		c.weights[sid] = w
	}
	return w
}

// Record folds an outcome into the originating strategies' weights and
// the streak counters. A full losing streak tightens per-trade risk and a
// full winning streak loosens it; the streak then starts over.
func (c *Controller) Record(o Outcome) Update {
	res := o.Result()
	score := res.Score()

	c.mu.Lock()
	u := Update{Outcome: o, Result: res}

	seen := make(map[string]bool, len(o.Strategies))
	for _, sid := range o.Strategies {
		if sid == "" || seen[sid] {
			continue
		}
		seen[sid] = true
		w := c.weightLocked(sid)
		w.RollingWinRate += c.cfg.Alpha * (score - w.RollingWinRate)
		w.SampleCount++
		target := clamp(w.RollingWinRate, c.cfg.MinWeight, c.cfg.MaxWeight)
		w.Weight = stepToward(w.Weight, target, c.cfg.MaxStep)
		u.Weights = append(u.Weights, *w)
	}
	sort.Slice(u.Weights, func(i, j int) bool { return u.Weights[i].StrategyID < u.Weights[j].StrategyID })

	var factor float64
	switch res {
	case Win:
		c.winStreak++
		c.lossStreak = 0
		if c.winStreak >= c.cfg.WinStreak {
			factor = c.cfg.LoosenFactor
			c.winStreak = 0
		}
	case Loss:
		c.lossStreak++
		c.winStreak = 0
		if c.lossStreak >= c.cfg.LossStreak {
			factor = c.cfg.TightenFactor
			c.lossStreak = 0
		}
	}
	u.WinStreak, u.LossStreak = c.winStreak, c.lossStreak
	c.mu.Unlock()

	if c.risk != nil {
		u.PrevRiskPct = c.risk.PerTradeRiskPct()
		u.RiskPct = u.PrevRiskPct
		if factor > 0 {
			u.RiskPct = c.tune(u.PrevRiskPct * factor)
		}
	}

	c.log.Info().
		Str("symbol", o.Symbol).
		Str("result", string(res)).
		Float64("pnl", o.RealizedPnL).
		Strs("strategies", o.Strategies).
		Float64("risk_pct", u.RiskPct).
		Msg("outcome recorded")
	c.publish("outcome applied", u)
	return u
}

// tune applies pct clipped to the risk bounds and returns what was set.
func (c *Controller) tune(pct float64) float64 {
	lo, hi := c.cfg.riskBounds()
	pct = clamp(pct, lo, hi)
	if err := c.risk.SetPerTradeRiskPct(pct); err != nil {
		c.log.Error().Err(err).Float64("risk_pct", pct).Msg("cannot set per-trade risk")
		return c.risk.PerTradeRiskPct()
	}
	c.log.Warn().Float64("risk_pct", pct).Msg("per-trade risk adjusted")
	return pct
}

// Decay pulls every weight back toward its initial value by DecayStep,
// never more than MaxStep.
func (c *Controller) Decay() []StrategyWeight {
	step := math.Min(c.cfg.DecayStep, c.cfg.MaxStep)
	if step <= 0 {
		return c.Weights()
	}
	c.mu.Lock()
	for _, w := range c.weights {
		w.Weight = stepToward(w.Weight, w.Initial, step)
	}
	c.mu.Unlock()

	ws := c.Weights()
	c.publish("weights decayed", Update{Weights: ws})
	return ws
}

// SetWeight overrides a strategy weight. The value is clamped to [0,1] and
// becomes the weight's new initial value.
func (c *Controller) SetWeight(sid string, w float64) (StrategyWeight, error) {
	if sid == "" || math.IsNaN(w) {
		return StrategyWeight{}, fmt.Errorf("bad weight override %q=%g", sid, w)
	}
	c.mu.Lock()
	sw := c.weightLocked(sid)
	sw.Weight = clamp(w, 0, 1)
	sw.Initial = sw.Weight
	out := *sw
	c.mu.Unlock()

	c.log.Info().Str("strategy", sid).Float64("weight", out.Weight).Msg("weight overridden")
	c.publish("weight overridden", Update{Weights: []StrategyWeight{out}})
	return out, nil
}

// Weights returns a copy of all weights sorted by strategy id.
func (c *Controller) Weights() []StrategyWeight {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]StrategyWeight, 0, len(c.weights))
	for _, w := range c.weights {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

// Streaks returns the current win and loss streak lengths.
func (c *Controller) Streaks() (win, loss int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.winStreak, c.lossStreak
}

// Analyze reads the regime of bars and the matching suggestion.
func (c *Controller) Analyze(bars []market.Bar) (Analysis, Suggestion) {
	a := AnalyzeRegime(c.cfg.Regime, bars)
	return a, Suggest(a)
}

func (c *Controller) publish(msg string, u Update) {
	if c.pub == nil {
		return
	}
	c.pub.Publish(events.Event{
		Kind:    events.KindWeights,
		Symbol:  u.Outcome.Symbol,
		Message: msg,
		Data:    u,
	})
}

func stepToward(from, to, step float64) float64 {
	switch d := to - from; {
	case d > step:
		return from + step
	case d < -step:
		return from - step
	}
	return to
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
