// Package fusion combines strategy signals into one composite decision by
// weighted vote.
package fusion

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/autotrader/strategies"
)

// Reasons a decision resolves to flat.
const (
	ReasonNoSignals    = "no_signals"
	ReasonTooFew       = "too_few_strategies"
	ReasonZeroWeight   = "zero_weight"
	ReasonNearZero     = "net_vote_near_zero"
	ReasonNoDominance  = "no_dominant_side"
	ReasonWrongSymbols = "no_signals_for_symbol"
)

type Config struct {
	// MinStrategies is the number of distinct strategies that must report.
	MinStrategies int `yaml:"min_strategies" json:"min_strategies" default:"2" validate:"gte=1"`
	// Epsilon is the net vote at or below which the decision is flat.
	Epsilon float64 `yaml:"epsilon" json:"epsilon" default:"0.05" validate:"gte=0"`
	// Dominance is the share of total weighted confidence the winning side
	// must exceed.
	Dominance float64 `yaml:"dominance" json:"dominance" default:"0.6" validate:"gte=0.5,lt=1"`
}

func DefaultConfig() Config {
	return Config{
		MinStrategies: 2,
		Epsilon:       0.05,
		Dominance:     0.6,
	}
}

// WeightSource supplies the current weight of a strategy.
type WeightSource interface {
	Weight(strategyID string) float64
}

// StaticWeights is a fixed weight table. Unknown strategies weigh 1.
type StaticWeights map[string]float64

func (w StaticWeights) Weight(id string) float64 {
	if v, ok := w[id]; ok {
		return v
	}
	return 1
}

// Decision is the fused outcome of one tick for one symbol.
type Decision struct {
	Symbol     string               `json:"symbol"`
	Time       time.Time            `json:"time"`
	Direction  strategies.Direction `json:"direction"`
	Strength   float64              `json:"strength"`
	Net        float64              `json:"net"`
	Signals    []strategies.Signal  `json:"signals"`
	VetoReason string               `json:"veto_reason,omitempty"`
	Rationale  string               `json:"rationale"`
}

// Actionable reports whether the decision points to a side.
func (d Decision) Actionable() bool {
	return d.Direction != strategies.Flat
}

// StrategyIDs returns the ids of the contributing strategies.
func (d Decision) StrategyIDs() []string {
	ids := make([]string, len(d.Signals))
	for i, s := range d.Signals {
		ids[i] = s.StrategyID
	}
	return ids
}

type Fuser struct {
	cfg     Config
	weights WeightSource
}

func New(cfg Config, weights WeightSource) *Fuser {
	if cfg.MinStrategies <= 0 {
		cfg.MinStrategies = 1
	}
	if weights == nil {
		weights = StaticWeights{}
	}
	return &Fuser{cfg: cfg, weights: weights}
}

// Fuse combines the signals of one tick. The result does not depend on the
// order of signals.
func (f *Fuser) Fuse(symbol string, at time.Time, signals []strategies.Signal) Decision {
	d := Decision{
		Symbol:    symbol,
		Time:      at,
		Direction: strategies.Flat,
	}
	if len(signals) == 0 {
		return d.flat(ReasonNoSignals)
	}

	d.Signals = dedupe(symbol, signals)
	if len(d.Signals) == 0 {
		return d.flat(ReasonWrongSymbols)
	}
	if len(d.Signals) < f.cfg.MinStrategies {
		return d.flat(ReasonTooFew)
	}

	var net, totalWeight, totalConf, longConf, shortConf float64
	var b strings.Builder
	for _, s := range d.Signals {
		w := clampWeight(f.weights.Weight(s.StrategyID))
		wc := w * s.Confidence

		net += wc * s.Direction.Sign()
		totalWeight += w
		totalConf += wc
		switch s.Direction {
		case strategies.Long:
			longConf += wc
		case strategies.Short:
			shortConf += wc
		}
		fmt.Fprintf(&b, "%s %s %.2f w=%.2f; ", s.StrategyID, s.Direction, s.Confidence, w)
	}
	d.Net = net
	d.Rationale = strings.TrimSuffix(b.String(), "; ")

	if totalWeight <= 0 {
		return d.flat(ReasonZeroWeight)
	}
	if math.Abs(net) <= f.cfg.Epsilon {
		return d.flat(ReasonNearZero)
	}

	winning := longConf
	if net < 0 {
		winning = shortConf
	}
	if totalConf <= 0 || winning/totalConf <= f.cfg.Dominance {
		return d.flat(ReasonNoDominance)
	}

	if net > 0 {
		d.Direction = strategies.Long
	} else {
		d.Direction = strategies.Short
	}
	d.Strength = math.Min(1, math.Abs(net)/totalWeight)
	d.Rationale = fmt.Sprintf("%s %.2f: %s", d.Direction, d.Strength, d.Rationale)
	return d
}

func (d Decision) flat(reason string) Decision {
	d.Direction = strategies.Flat
	d.Strength = 0
	d.VetoReason = reason
	if d.Rationale == "" {
		d.Rationale = "flat: " + reason
	} else {
		d.Rationale = "flat (" + reason + "): " + d.Rationale
	}
	return d
}

// dedupe keeps one signal per strategy, preferring the latest and then the
// most confident, and returns them sorted by strategy id.
func dedupe(symbol string, signals []strategies.Signal) []strategies.Signal {
	sorted := make([]strategies.Signal, 0, len(signals))
	for _, s := range signals {
		if s.Symbol != "" && s.Symbol != symbol {
			continue
		}
		sorted = append(sorted, s)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.StrategyID != b.StrategyID {
			return a.StrategyID < b.StrategyID
		}
		if !a.Time.Equal(b.Time) {
			return a.Time.After(b.Time)
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Direction < b.Direction
	})

	out := make([]strategies.Signal, 0, len(sorted))
	for i, s := range sorted {
		if i > 0 && s.StrategyID == sorted[i-1].StrategyID {
			continue
		}
		out = append(out, s)
	}
	return out
}

func clampWeight(w float64) float64 {
	if w != w || w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
