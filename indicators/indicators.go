// Package indicators provides technical analysis indicators for trading
package indicators

import "github.com/rustyeddy/autotrader/market"

// Indicator computes a single streaming value from bars.
// It is deterministic and safe to use in live and replayed feeds.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)" or "ATR(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next *closed* bar and updates internal state.
	Update(b market.Bar)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns the current value, or 0 before Ready().
	Value() float64
}

// Run feeds every bar to ind and returns its final value and readiness.
func Run(ind Indicator, bars []market.Bar) (float64, bool) {
	ind.Reset()
	for _, b := range bars {
		ind.Update(b)
	}
	return ind.Value(), ind.Ready()
}
