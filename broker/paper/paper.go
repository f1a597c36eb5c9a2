// Package paper is an in-memory broker that fills orders against the last
// observed price. It stands in for a live broker in dry runs and replays.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/id"
	"github.com/rustyeddy/autotrader/market"
)

type Config struct {
	AccountID      string  `yaml:"account_id" json:"account_id" default:"paper"`
	Currency       string  `yaml:"currency" json:"currency" default:"USD"`
	InitialBalance float64 `yaml:"initial_balance" json:"initial_balance" default:"100000" validate:"gt=0"`
	// HalfSpread is the fraction of the bar close added to the ask and
	// taken from the bid.
	HalfSpread float64 `yaml:"half_spread" json:"half_spread" default:"0.00005" validate:"gte=0,lt=1"`
	// PartialFillRatio fills at most this share of the order quantity per
	// price update; 0 fills orders completely.
	PartialFillRatio float64 `yaml:"partial_fill_ratio" json:"partial_fill_ratio" default:"0" validate:"gte=0,lte=1"`
}

func DefaultConfig() Config {
	return Config{
		AccountID:      "paper",
		Currency:       "USD",
		InitialBalance: 100_000,
		HalfSpread:     0.00005,
	}
}

type order struct {
	req    broker.OrderRequest
	status broker.OrderStatus
}

func (o *order) remaining() float64 {
	return o.req.Quantity - o.status.FilledQuantity
}

type position struct {
	qty float64 // >0 long, <0 short
	avg float64
}

type Broker struct {
	mu        sync.Mutex
	cfg       Config
	acct      broker.Account
	quotes    *market.QuoteStore
	orders    map[string]*order
	byClient  map[string]string
	positions map[string]*position
	listeners []func(broker.OrderStatus)
	now       func() time.Time
	log       zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Broker {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.AccountID == "" {
		cfg.AccountID = "paper"
	}
	return &Broker{
		cfg: cfg,
		acct: broker.Account{
			ID:          cfg.AccountID,
			Currency:    cfg.Currency,
			Balance:     cfg.InitialBalance,
			Equity:      cfg.InitialBalance,
			BuyingPower: cfg.InitialBalance,
		},
		quotes:    market.NewQuoteStore(),
		orders:    make(map[string]*order),
		byClient:  make(map[string]string),
		positions: make(map[string]*position),
		now:       time.Now,
		log:       log.With().Str("component", "paper-broker").Logger(),
	}
}

// OnOrderUpdate registers fn for every order change. Listeners are called
// after the broker lock is released.
func (b *Broker) OnOrderUpdate(fn func(broker.OrderStatus)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func (b *Broker) notify(updates []broker.OrderStatus) {
	if len(updates) == 0 {
		return
	}
	b.mu.Lock()
	listeners := append([]func(broker.OrderStatus){}, b.listeners...)
	b.mu.Unlock()

	for _, st := range updates {
		for _, fn := range listeners {
			fn(st)
		}
	}
}

// ObserveBar prices the symbol from a closed bar.
func (b *Broker) ObserveBar(bar market.Bar) {
	half := bar.Close * b.cfg.HalfSpread
	_ = b.UpdatePrice(market.Quote{
		Symbol: bar.Symbol,
		Time:   bar.Time,
		Bid:    bar.Close - half,
		Ask:    bar.Close + half,
	})
}

// UpdatePrice stores the quote and works open orders for its symbol.
func (b *Broker) UpdatePrice(q market.Quote) error {
	if q.Symbol == "" || q.Bid <= 0 || q.Ask <= 0 {
		return fmt.Errorf("invalid quote %+v", q)
	}

	b.mu.Lock()
	b.quotes.Set(q)

	ids := make([]string, 0, len(b.orders))
	for oid, o := range b.orders {
		if o.req.Symbol == q.Symbol && !o.status.State.Terminal() {
			ids = append(ids, oid)
		}
	}
	// ULIDs sort in submission order
	sort.Strings(ids)

	var updates []broker.OrderStatus
	for _, oid := range ids {
		if b.workLocked(b.orders[oid], q) {
			updates = append(updates, b.orders[oid].snapshot())
		}
	}
	b.revalueLocked()
	b.mu.Unlock()

	b.notify(updates)
	return nil
}

func (b *Broker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	if existing, ok := b.byClient[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		o := b.orders[existing]
		b.mu.Unlock()
		if o.status.State == broker.StateRejected {
			return existing, broker.Reject("%s", o.status.Reason)
		}
		return existing, nil
	}

	o := &order{
		req: req,
		status: broker.OrderStatus{
			BrokerOrderID: id.New(),
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Quantity:      req.Quantity,
			State:         broker.StateOpen,
			UpdatedAt:     b.now(),
		},
	}
	if o.req.Type == "" {
		o.req.Type = broker.Market
	}
	b.orders[o.status.BrokerOrderID] = o
	if req.ClientOrderID != "" {
		b.byClient[req.ClientOrderID] = o.status.BrokerOrderID
	}

	q, qerr := b.quotes.Get(req.Symbol)
	reason := validate(o.req)
	if reason == "" && qerr != nil && o.req.Type == broker.Market {
		reason = fmt.Sprintf("no price for %s", req.Symbol)
	}
	if reason != "" {
		o.status.State = broker.StateRejected
		o.status.Reason = reason
		st := o.snapshot()
		b.mu.Unlock()

		b.log.Info().Str("client_order_id", req.ClientOrderID).Str("reason", reason).Msg("order rejected")
		b.notify([]broker.OrderStatus{st})
		return st.BrokerOrderID, broker.Reject("%s", reason)
	}

	if qerr == nil {
		b.workLocked(o, q)
		b.revalueLocked()
	}
	st := o.snapshot()
	b.mu.Unlock()

	b.notify([]broker.OrderStatus{st})
	return st.BrokerOrderID, nil
}

func validate(req broker.OrderRequest) string {
	switch {
	case req.Symbol == "":
		return "missing symbol"
	case req.Side != broker.Buy && req.Side != broker.Sell:
		return fmt.Sprintf("bad side %q", req.Side)
	case req.Quantity <= 0:
		return fmt.Sprintf("quantity %g must be positive", req.Quantity)
	case req.Type == broker.Limit && req.LimitPrice <= 0:
		return "limit order without limit price"
	case req.Type != broker.Market && req.Type != broker.Limit:
		return fmt.Sprintf("unsupported order type %q", req.Type)
	}
	return ""
}

// workLocked fills what it can of o at q and reports whether o changed.
func (b *Broker) workLocked(o *order, q market.Quote) bool {
	price := q.Ask
	if o.req.Side == broker.Sell {
		price = q.Bid
	}
	if o.req.Type == broker.Limit {
		if o.req.Side == broker.Buy && price > o.req.LimitPrice {
			return false
		}
		if o.req.Side == broker.Sell && price < o.req.LimitPrice {
			return false
		}
	}

	qty := o.remaining()
	if r := b.cfg.PartialFillRatio; r > 0 && r < 1 {
		qty = min(qty, o.req.Quantity*r)
	}
	if qty <= 0 {
		return false
	}

	at := q.Time
	if at.IsZero() {
		at = b.now()
	}
	fill := broker.Fill{
		ID:       fmt.Sprintf("%s-%d", o.status.BrokerOrderID, len(o.status.Fills)+1),
		Quantity: qty,
		Price:    price,
		Time:     at,
	}

	st := &o.status
	st.AvgFillPrice = (st.AvgFillPrice*st.FilledQuantity + price*qty) / (st.FilledQuantity + qty)
	st.FilledQuantity += qty
	st.Fills = append(st.Fills, fill)
	st.UpdatedAt = at
	if o.remaining() <= 1e-9 {
		st.FilledQuantity = o.req.Quantity
		st.State = broker.StateFilled
	} else {
		st.State = broker.StatePartiallyFilled
	}

	b.applyFillLocked(o.req.Symbol, o.req.Side.Sign()*qty, price)
	return true
}

func (b *Broker) applyFillLocked(symbol string, signed, price float64) {
	p, ok := b.positions[symbol]
	if !ok {
		p = &position{}
		b.positions[symbol] = p
	}

	if p.qty == 0 || (p.qty > 0) == (signed > 0) {
		n := p.qty + signed
		p.avg = (p.avg*abs(p.qty) + price*abs(signed)) / abs(n)
		p.qty = n
		return
	}

	closed := min(abs(signed), abs(p.qty))
	dir := 1.0
	if p.qty < 0 {
		dir = -1
	}
	pl := closed * (price - p.avg) * dir
	b.acct.Balance += pl
	b.acct.RealizedPnL += pl

	n := p.qty + signed
	switch {
	case abs(n) <= 1e-9:
		delete(b.positions, symbol)
	case (n > 0) == (p.qty > 0):
		p.qty = n
	default:
		p.qty = n
		p.avg = price
	}
}

func (b *Broker) revalueLocked() {
	equity := b.acct.Balance
	for sym, p := range b.positions {
		q, err := b.quotes.Get(sym)
		if err != nil {
			continue
		}
		// longs mark on bid, shorts on ask
		mark := q.Bid
		if p.qty < 0 {
			mark = q.Ask
		}
		equity += p.qty * (mark - p.avg)
	}
	b.acct.Equity = equity
	b.acct.BuyingPower = equity
}

func (b *Broker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	o, ok := b.orders[brokerOrderID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("cancel %q: %w", brokerOrderID, broker.ErrNotFound)
	}
	if o.status.State.Terminal() {
		// too late; the status tells the caller what happened
		b.mu.Unlock()
		return nil
	}
	o.status.State = broker.StateCancelled
	o.status.UpdatedAt = b.now()
	st := o.snapshot()
	b.mu.Unlock()

	b.notify([]broker.OrderStatus{st})
	return nil
}

func (b *Broker) GetOrderStatus(ctx context.Context, brokerOrderID string) (broker.OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderStatus{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerOrderID]
	if !ok {
		return broker.OrderStatus{}, fmt.Errorf("order %q: %w", brokerOrderID, broker.ErrNotFound)
	}
	return o.snapshot(), nil
}

func (b *Broker) LookupOrder(ctx context.Context, clientOrderID string) (broker.OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderStatus{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	oid, ok := b.byClient[clientOrderID]
	if !ok {
		return broker.OrderStatus{}, fmt.Errorf("client order %q: %w", clientOrderID, broker.ErrNotFound)
	}
	return b.orders[oid].snapshot(), nil
}

func (b *Broker) GetAccount(ctx context.Context) (broker.Account, error) {
	if err := ctx.Err(); err != nil {
		return broker.Account{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revalueLocked()
	return b.acct, nil
}

// Quote returns the last observed quote for symbol.
func (b *Broker) Quote(symbol string) (market.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quotes.Get(symbol)
}

// Position returns the broker-side net quantity and average price.
func (b *Broker) Position(symbol string) (qty, avg float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[symbol]; ok {
		return p.qty, p.avg
	}
	return 0, 0
}

// OrderCount returns how many orders the broker has accepted or rejected.
func (b *Broker) OrderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func (o *order) snapshot() broker.OrderStatus {
	st := o.status
	st.Fills = append([]broker.Fill(nil), o.status.Fills...)
	return st
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
