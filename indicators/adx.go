package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/autotrader/market"
)

// ADX implements Wilder's Average Directional Index (trend strength).
// Usage:
//
//	adx := indicators.NewADX(14)
//	adx.Update(bar)
//	if adx.Ready() && adx.Value() >= 20 { ... }
type ADX struct {
	period int

	prev     market.Bar
	havePrev bool

	// Wilder-smoothed sums
	tr  float64
	pdm float64
	mdm float64

	samples int
	dx      wilder
}

func NewADX(period int) *ADX {
	return &ADX{period: period, dx: wilder{n: period}}
}

func (a *ADX) Name() string {
	return fmt.Sprintf("ADX(%d)", a.period)
}

// Warmup is period bars to seed the smoothed sums plus period DX values.
func (a *ADX) Warmup() int {
	return 2 * a.period
}

func (a *ADX) Reset() {
	*a = *NewADX(a.period)
}

func (a *ADX) Update(b market.Bar) {
	if !a.havePrev {
		a.prev = b
		a.havePrev = true
		return
	}

	upMove := b.High - a.prev.High
	downMove := a.prev.Low - b.Low

	var pdm, mdm float64
	if upMove > downMove && upMove > 0 {
		pdm = upMove
	}
	if downMove > upMove && downMove > 0 {
		mdm = downMove
	}
	tr := TrueRange(b, a.prev.Close)
	a.prev = b
	a.samples++

	p := float64(a.period)
	if a.samples <= a.period {
		a.tr += tr
		a.pdm += pdm
		a.mdm += mdm
		if a.samples < a.period {
			return
		}
	} else {
		a.tr = a.tr - a.tr/p + tr
		a.pdm = a.pdm - a.pdm/p + pdm
		a.mdm = a.mdm - a.mdm/p + mdm
	}

	a.dx.add(a.directional())
}

// directional is DX: the spread of +DI and -DI over their sum.
func (a *ADX) directional() float64 {
	if a.tr == 0 {
		return 0
	}
	pdi := 100 * a.pdm / a.tr
	mdi := 100 * a.mdm / a.tr
	if pdi+mdi == 0 {
		return 0
	}
	return 100 * math.Abs(pdi-mdi) / (pdi + mdi)
}

func (a *ADX) Ready() bool {
	return a.dx.ready()
}

func (a *ADX) Value() float64 {
	if !a.Ready() {
		return 0
	}
	return a.dx.avg
}
