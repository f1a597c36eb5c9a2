package strategies

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/autotrader/market"
)

// Engine evaluates a fixed set of strategies against a bar window.
type Engine struct {
	strategies []Strategy
	log        zerolog.Logger
}

func NewEngine(log zerolog.Logger, strategies ...Strategy) *Engine {
	return &Engine{
		strategies: strategies,
		log:        log.With().Str("component", "strategies").Logger(),
	}
}

// IDs returns the strategy ids in evaluation order.
func (e *Engine) IDs() []string {
	ids := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		ids[i] = s.ID()
	}
	return ids
}

// MinBars returns the longest history any strategy in the engine needs.
func (e *Engine) MinBars() int {
	return MinBars(e.strategies)
}

// Evaluate runs every strategy in registration order and returns the
// signals of those that had enough history. A strategy that panics is
// treated as having produced no signal.
func (e *Engine) Evaluate(window []market.Bar) []Signal {
	if len(window) == 0 {
		return nil
	}
	out := make([]Signal, 0, len(e.strategies))
	for _, s := range e.strategies {
		sig, ok := e.evaluate(s, window)
		if !ok {
			continue
		}
		out = append(out, sig)
	}
	return out
}

func (e *Engine) evaluate(s Strategy, window []market.Bar) (sig Signal, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Str("strategy", s.ID()).
				Str("panic", fmt.Sprint(r)).
				Msg("strategy panicked, ignoring")
			sig, ok = Signal{}, false
		}
	}()

	sig, ok = s.Evaluate(window)
	if !ok {
		return Signal{}, false
	}
	if sig.StrategyID == "" {
		sig.StrategyID = s.ID()
	}
	last := market.Last(window)
	if sig.Symbol == "" {
		sig.Symbol = last.Symbol
	}
	if sig.Time.IsZero() {
		sig.Time = last.Time
	}
	sig.Confidence = clamp01(sig.Confidence)
	return sig, true
}
