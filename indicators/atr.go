package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/autotrader/market"
)

// wilder is Wilder's running average: the mean of the first n inputs,
// then avg = (avg*(n-1) + x) / n.
type wilder struct {
	n    int
	seen int
	sum  float64
	avg  float64
}

func (w *wilder) add(x float64) {
	if w.seen < w.n {
		w.sum += x
		w.seen++
		if w.seen == w.n {
			w.avg = w.sum / float64(w.n)
		}
		return
	}
	w.avg = (w.avg*float64(w.n-1) + x) / float64(w.n)
}

func (w *wilder) ready() bool { return w.n > 0 && w.seen >= w.n }

// TrueRange is the widest of the bar's range and the gaps from the
// previous close.
func TrueRange(b market.Bar, prevClose float64) float64 {
	return math.Max(b.High-b.Low, math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
}

// ATR is the Wilder-smoothed average true range. The first bar only
// supplies a previous close, so it needs period+1 bars.
type ATR struct {
	period    int
	prevClose float64
	started   bool
	avg       wilder
}

func NewATR(period int) *ATR {
	return &ATR{period: period, avg: wilder{n: period}}
}

func (a *ATR) Name() string { return fmt.Sprintf("ATR(%d)", a.period) }
func (a *ATR) Warmup() int  { return a.period + 1 }
func (a *ATR) Reset()       { *a = *NewATR(a.period) }
func (a *ATR) Ready() bool  { return a.avg.ready() }

func (a *ATR) Update(b market.Bar) {
	if a.started {
		a.avg.add(TrueRange(b, a.prevClose))
	}
	a.prevClose = b.Close
	a.started = true
}

func (a *ATR) Value() float64 {
	if !a.Ready() {
		return 0
	}
	return a.avg.avg
}

// ATRFunc returns the ATR over bars, or an error when bars cannot fill the
// warmup.
func ATRFunc(bars []market.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("atr: period %d must be positive", period)
	}
	if len(bars) <= period {
		return 0, fmt.Errorf("atr(%d): %d bars, need %d", period, len(bars), period+1)
	}
	v, _ := Run(NewATR(period), bars)
	return v, nil
}

// ATRPercent is ATRFunc relative to the last close.
func ATRPercent(bars []market.Bar, period int) (float64, error) {
	atr, err := ATRFunc(bars, period)
	if err != nil {
		return 0, err
	}
	last := market.Last(bars).Close
	if last <= 0 {
		return 0, fmt.Errorf("atr: non-positive close %g", last)
	}
	return atr / last, nil
}
