package paper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/market"
)

var t0 = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

func newBroker(t *testing.T, mutate func(*Config)) *Broker {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HalfSpread = 0
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, zerolog.Nop())
}

func quote(symbol string, bid, ask float64) market.Quote {
	return market.Quote{Symbol: symbol, Time: t0, Bid: bid, Ask: ask}
}

func marketOrder(client string, side broker.Side, qty float64) broker.OrderRequest {
	return broker.OrderRequest{ClientOrderID: client, Symbol: "EUR_USD", Side: side, Quantity: qty, Type: broker.Market}
}

func TestMarketOrderFillsAtQuoteSide(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBroker(t, nil)
	require.NoError(t, b.UpdatePrice(quote("EUR_USD", 1.1000, 1.1002)))

	buyID, err := b.SubmitOrder(ctx, marketOrder("c-1", broker.Buy, 1000))
	require.NoError(t, err)
	st, err := b.GetOrderStatus(ctx, buyID)
	require.NoError(t, err)
	assert.Equal(t, broker.StateFilled, st.State)
	assert.Equal(t, 1000.0, st.FilledQuantity)
	assert.Equal(t, 1.1002, st.AvgFillPrice)
	require.Len(t, st.Fills, 1)
	assert.Equal(t, buyID+"-1", st.Fills[0].ID)

	sellID, err := b.SubmitOrder(ctx, marketOrder("c-2", broker.Sell, 1000))
	require.NoError(t, err)
	st, err = b.GetOrderStatus(ctx, sellID)
	require.NoError(t, err)
	assert.Equal(t, 1.1000, st.AvgFillPrice)

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	// paid the spread once
	assert.InDelta(t, -0.2, acct.RealizedPnL, 1e-9)
	assert.InDelta(t, 100_000-0.2, acct.Equity, 1e-9)
	qty, _ := b.Position("EUR_USD")
	assert.Zero(t, qty)
}

func TestSubmitIsIdempotentOnClientOrderID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBroker(t, nil)
	require.NoError(t, b.UpdatePrice(quote("EUR_USD", 1.1, 1.1)))

	first, err := b.SubmitOrder(ctx, marketOrder("same", broker.Buy, 10))
	require.NoError(t, err)
	second, err := b.SubmitOrder(ctx, marketOrder("same", broker.Buy, 10))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, b.OrderCount())
	qty, _ := b.Position("EUR_USD")
	assert.Equal(t, 10.0, qty)

	st, err := b.LookupOrder(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, first, st.BrokerOrderID)
}

func TestRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBroker(t, nil)

	// no price yet
	_, err := b.SubmitOrder(ctx, marketOrder("no-quote", broker.Buy, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrRejected))

	st, err := b.LookupOrder(ctx, "no-quote")
	require.NoError(t, err)
	assert.Equal(t, broker.StateRejected, st.State)
	assert.Contains(t, st.Reason, "no price")

	// resubmitting a rejected client id is rejected again
	_, err = b.SubmitOrder(ctx, marketOrder("no-quote", broker.Buy, 10))
	assert.True(t, errors.Is(err, broker.ErrRejected))

	require.NoError(t, b.UpdatePrice(quote("EUR_USD", 1.1, 1.1)))
	_, err = b.SubmitOrder(ctx, marketOrder("zero", broker.Buy, 0))
	var rej *broker.RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Contains(t, rej.Reason, "quantity")
}

func TestPartialFillsProgressWithPrices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBroker(t, func(c *Config) { c.PartialFillRatio = 0.4 })
	require.NoError(t, b.UpdatePrice(quote("EUR_USD", 1.1, 1.1)))

	oid, err := b.SubmitOrder(ctx, marketOrder("p", broker.Buy, 100))
	require.NoError(t, err)

	st, _ := b.GetOrderStatus(ctx, oid)
	assert.Equal(t, broker.StatePartiallyFilled, st.State)
	assert.Equal(t, 40.0, st.FilledQuantity)

	require.NoError(t, b.UpdatePrice(quote("EUR_USD", 1.2, 1.2)))
	st, _ = b.GetOrderStatus(ctx, oid)
	assert.Equal(t, 80.0, st.FilledQuantity)
	assert.InDelta(t, 1.15, st.AvgFillPrice, 1e-9)

	require.NoError(t, b.UpdatePrice(quote("EUR_USD", 1.2, 1.2)))
	st, _ = b.GetOrderStatus(ctx, oid)
	assert.Equal(t, broker.StateFilled, st.State)
	assert.Equal(t, 100.0, st.FilledQuantity)
	assert.Len(t, st.Fills, 3)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBroker(t, func(c *Config) { c.PartialFillRatio = 0.4 })
	require.NoError(t, b.UpdatePrice(quote("EUR_USD", 1.1, 1.1)))

	oid, err := b.SubmitOrder(ctx, marketOrder("x", broker.Sell, 100))
	require.NoError(t, err)
	require.NoError(t, b.CancelOrder(ctx, oid))

	st, _ := b.GetOrderStatus(ctx, oid)
	assert.Equal(t, broker.StateCancelled, st.State)
	assert.Equal(t, 40.0, st.FilledQuantity)

	// later prices do not fill a cancelled order
	require.NoError(t, b.UpdatePrice(quote("EUR_USD", 1.1, 1.1)))
	st, _ = b.GetOrderStatus(ctx, oid)
	assert.Equal(t, 40.0, st.FilledQuantity)

	err = b.CancelOrder(ctx, "nope")
	assert.True(t, errors.Is(err, broker.ErrNotFound))
	_, err = b.GetOrderStatus(ctx, "nope")
	assert.True(t, errors.Is(err, broker.ErrNotFound))
	_, err = b.LookupOrder(ctx, "nope")
	assert.True(t, errors.Is(err, broker.ErrNotFound))
}

func TestCancelAfterFillKeepsFill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBroker(t, nil)
	require.NoError(t, b.UpdatePrice(quote("EUR_USD", 1.1, 1.1)))

	oid, err := b.SubmitOrder(ctx, marketOrder("f", broker.Buy, 5))
	require.NoError(t, err)
	require.NoError(t, b.CancelOrder(ctx, oid))

	st, _ := b.GetOrderStatus(ctx, oid)
	assert.Equal(t, broker.StateFilled, st.State)
}

func TestLimitOrderWaitsForPriceAndNotifies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBroker(t, nil)
	require.NoError(t, b.UpdatePrice(quote("EUR_USD", 1.1000, 1.1002)))

	var (
		mu      sync.Mutex
		updates []broker.OrderStatus
	)
	b.OnOrderUpdate(func(st broker.OrderStatus) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, st)
	})

	req := marketOrder("lim", broker.Buy, 10)
	req.Type = broker.Limit
	req.LimitPrice = 1.0950
	oid, err := b.SubmitOrder(ctx, req)
	require.NoError(t, err)

	st, _ := b.GetOrderStatus(ctx, oid)
	assert.Equal(t, broker.StateOpen, st.State)

	require.NoError(t, b.UpdatePrice(quote("EUR_USD", 1.0940, 1.0945)))
	st, _ = b.GetOrderStatus(ctx, oid)
	assert.Equal(t, broker.StateFilled, st.State)
	assert.Equal(t, 1.0945, st.AvgFillPrice)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 2)
	assert.Equal(t, broker.StateOpen, updates[0].State)
	assert.Equal(t, broker.StateFilled, updates[1].State)
}

func TestObserveBarAppliesSpread(t *testing.T) {
	t.Parallel()
	b := New(Config{HalfSpread: 0.001, InitialBalance: 1000}, zerolog.Nop())
	b.ObserveBar(market.Bar{Symbol: "BTC_USD", Time: t0, Open: 100, High: 101, Low: 99, Close: 100})

	q, err := b.Quote("BTC_USD")
	require.NoError(t, err)
	assert.InDelta(t, 99.9, q.Bid, 1e-9)
	assert.InDelta(t, 100.1, q.Ask, 1e-9)
}

func TestCancelledContextFailsFast(t *testing.T) {
	t.Parallel()
	b := newBroker(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.SubmitOrder(ctx, marketOrder("ctx", broker.Buy, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.OrderCount())
}
