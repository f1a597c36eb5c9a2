package oanda

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

type CandlesOptions struct {
	Instrument  string
	Granularity string // e.g. M1, H1, D
	Price       string // M, B or A

	From  time.Time // optional
	To    time.Time // optional
	Count int       // optional (used if >0)

	// IncludeIncomplete keeps the still-forming last candle.
	IncludeIncomplete bool
}

type ohlc struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type candlesResp struct {
	Instrument  string `json:"instrument"`
	Granularity string `json:"granularity"`
	Candles     []struct {
		Complete bool   `json:"complete"`
		Time     string `json:"time"`
		Volume   int    `json:"volume"`
		Mid      *ohlc  `json:"mid,omitempty"`
		Bid      *ohlc  `json:"bid,omitempty"`
		Ask      *ohlc  `json:"ask,omitempty"`
	} `json:"candles"`
}

// Candles fetches candles as bars, oldest first.
func (c *Client) Candles(ctx context.Context, opts CandlesOptions) ([]market.Bar, error) {
	if opts.Instrument == "" {
		return nil, fmt.Errorf("oanda: missing instrument")
	}
	if opts.Granularity == "" {
		return nil, fmt.Errorf("oanda: missing granularity")
	}
	price := strings.ToUpper(strings.TrimSpace(opts.Price))
	if price == "" {
		price = "M"
	}
	if price != "M" && price != "B" && price != "A" {
		return nil, fmt.Errorf("oanda: price %q not supported, use M, B or A", opts.Price)
	}

	q := url.Values{}
	q.Set("granularity", opts.Granularity)
	q.Set("price", price)
	if opts.Count > 0 {
		q.Set("count", strconv.Itoa(opts.Count))
	} else {
		if !opts.From.IsZero() {
			q.Set("from", opts.From.UTC().Format(time.RFC3339Nano))
		}
		if !opts.To.IsZero() {
			q.Set("to", opts.To.UTC().Format(time.RFC3339Nano))
		}
	}

	body, err := c.get(ctx, fmt.Sprintf("/v3/instruments/%s/candles", opts.Instrument), q)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var cr candlesResp
	if err := json.NewDecoder(body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("oanda candles: %w", err)
	}

	bars := make([]market.Bar, 0, len(cr.Candles))
	for _, cd := range cr.Candles {
		if !cd.Complete && !opts.IncludeIncomplete {
			continue
		}
		var p *ohlc
		switch price {
		case "M":
			p = cd.Mid
		case "B":
			p = cd.Bid
		case "A":
			p = cd.Ask
		}
		if p == nil {
			continue
		}
		b, err := toBar(opts.Instrument, cd.Time, cd.Volume, p)
		if err != nil {
			return nil, fmt.Errorf("oanda candle %s: %w", cd.Time, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func toBar(symbol, ts string, volume int, p *ohlc) (market.Bar, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return market.Bar{}, err
	}
	var vals [4]float64
	for i, s := range []string{p.O, p.H, p.L, p.C} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("bad number %q: %w", s, err)
		}
		vals[i] = v
	}
	return market.Bar{
		Symbol: symbol,
		Time:   t.UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: float64(volume),
	}, nil
}
