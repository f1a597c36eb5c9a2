package risk

import (
	"time"

	"github.com/rustyeddy/autotrader/strategies"
)

const qtyEpsilon = 1e-9

// Position is the net holding in one symbol, derived from fills.
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"` // >0 long, <0 short
	AvgEntryPrice float64   `json:"avg_entry_price"`
	LastPrice     float64   `json:"last_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	StopPrice     float64   `json:"stop_price"`
	TakePrice     float64   `json:"take_price"`
	Strategies    []string  `json:"strategies,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Direction returns the side of the position.
func (p Position) Direction() strategies.Direction {
	switch {
	case p.Quantity > qtyEpsilon:
		return strategies.Long
	case p.Quantity < -qtyEpsilon:
		return strategies.Short
	}
	return strategies.Flat
}

// Flat reports whether the position holds nothing.
func (p Position) Flat() bool {
	return p.Direction() == strategies.Flat
}

// AtRisk is the loss if the stop is hit from the average entry. A stop
// trailed past the entry risks nothing.
func (p Position) AtRisk() float64 {
	if p.Flat() || p.StopPrice <= 0 {
		return 0
	}
	loss := (p.AvgEntryPrice - p.StopPrice) * p.Direction().Sign()
	if loss <= 0 {
		return 0
	}
	return abs(p.Quantity) * loss
}

func (p *Position) mark(price float64) {
	p.LastPrice = price
	p.UnrealizedPnL = p.Quantity * (price - p.AvgEntryPrice)
}

// apply adds a signed fill and returns the realized PnL and the quantity
// that closed existing exposure.
func (p *Position) apply(signedQty, price float64) (realized, closedQty float64) {
	if p.Flat() || (p.Quantity > 0) == (signedQty > 0) {
		newQty := p.Quantity + signedQty
		p.AvgEntryPrice = (p.AvgEntryPrice*abs(p.Quantity) + price*abs(signedQty)) / abs(newQty)
		p.Quantity = newQty
		p.mark(price)
		return 0, 0
	}

	closedQty = min(abs(signedQty), abs(p.Quantity))
	realized = closedQty * (price - p.AvgEntryPrice) * p.Direction().Sign()

	switch remaining := p.Quantity + signedQty; {
	case abs(remaining) <= qtyEpsilon:
		p.Quantity = 0
		p.AvgEntryPrice = 0
		p.StopPrice = 0
		p.TakePrice = 0
	case (remaining > 0) == (p.Quantity > 0):
		p.Quantity = remaining
	default:
		// flipped through zero
		p.Quantity = remaining
		p.AvgEntryPrice = price
		p.StopPrice = 0
		p.TakePrice = 0
	}
	p.mark(price)
	return realized, closedQty
}
