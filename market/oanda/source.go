package oanda

import (
	"context"

	"github.com/rustyeddy/autotrader/market"
)

// Source serves the most recent closed candles of one granularity.
type Source struct {
	client      *Client
	granularity string
	price       string
}

func NewSource(c *Client, granularity, price string) *Source {
	if granularity == "" {
		granularity = "M1"
	}
	return &Source{client: c, granularity: granularity, price: price}
}

// GetBars implements market.DataSource.
func (s *Source) GetBars(ctx context.Context, symbol string, n int) ([]market.Bar, error) {
	// one extra for the candle still forming
	bars, err := s.client.Candles(ctx, CandlesOptions{
		Instrument:  symbol,
		Granularity: s.granularity,
		Price:       s.price,
		Count:       n + 1,
	})
	if err != nil {
		return nil, err
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}
