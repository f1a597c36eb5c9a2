// Package markettest builds synthetic bar series for tests.
package markettest

import (
	"time"

	"github.com/rustyeddy/autotrader/market"
)

var Start = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// Series builds bars whose closes are given by closes. Each bar opens at
// the previous close, spans +/- spread around its body and carries volume.
func Series(symbol string, closes []float64, spread, volume float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	prev := closes[0]
	for i, c := range closes {
		open := prev
		hi, lo := open, c
		if c > open {
			hi, lo = c, open
		}
		bars[i] = market.Bar{
			Symbol: symbol,
			Time:   Start.Add(time.Duration(i) * time.Hour),
			Open:   open,
			High:   hi + spread,
			Low:    lo - spread,
			Close:  c,
			Volume: volume,
		}
		prev = c
	}
	return bars
}

// Linear returns n closes starting at start and moving step per bar.
func Linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Flat returns n identical closes.
func Flat(n int, price float64) []float64 {
	return Linear(n, price, 0)
}

// Concat joins close sequences.
func Concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
