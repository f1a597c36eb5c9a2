package indicators

import "github.com/rustyeddy/autotrader/market"

// HighestHigh returns the highest high of bars, or 0 for an empty slice.
func HighestHigh(bars []market.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	hi := bars[0].High
	for _, b := range bars[1:] {
		if b.High > hi {
			hi = b.High
		}
	}
	return hi
}

// LowestLow returns the lowest low of bars, or 0 for an empty slice.
func LowestLow(bars []market.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	lo := bars[0].Low
	for _, b := range bars[1:] {
		if b.Low < lo {
			lo = b.Low
		}
	}
	return lo
}
