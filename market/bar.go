package market

import (
	"fmt"
	"time"
)

// Bar is an OHLCV aggregate for one symbol over one interval. Bars are values
// and are never mutated once produced.
type Bar struct {
	Symbol string
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Range returns High-Low.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool {
	return b.Close > b.Open
}

// Bearish reports whether the bar closed below its open.
func (b Bar) Bearish() bool {
	return b.Close < b.Open
}

// ValidateWindow checks that bars form a proper window for one symbol:
// non-empty, one symbol, strictly increasing timestamps and sane prices.
func ValidateWindow(bars []Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("empty bar window")
	}
	sym := bars[0].Symbol
	for i, b := range bars {
		if b.Symbol != sym {
			return fmt.Errorf("bar %d: symbol %q in window for %q", i, b.Symbol, sym)
		}
		if b.High < b.Low {
			return fmt.Errorf("bar %d: high %.6f below low %.6f", i, b.High, b.Low)
		}
		if b.Close <= 0 {
			return fmt.Errorf("bar %d: non-positive close %.6f", i, b.Close)
		}
		if i > 0 && !b.Time.After(bars[i-1].Time) {
			return fmt.Errorf("bar %d: time %s not after %s", i, b.Time.Format(time.RFC3339), bars[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// Closes returns the close prices of bars.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes returns the volumes of bars.
func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// Last returns the most recent bar. It panics on an empty slice, callers
// validate the window first.
func Last(bars []Bar) Bar {
	return bars[len(bars)-1]
}
