// Package execution owns every order from submission to a terminal state.
// It retries transient broker failures with the same client order id,
// reconciles unknown outcomes before retrying, and treats the broker as
// the source of truth for fills.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/internal/id"
)

type Config struct {
	MaxSubmitAttempts int           `yaml:"max_submit_attempts" json:"max_submit_attempts" default:"3" validate:"gte=1"`
	BackoffBase       time.Duration `yaml:"backoff_base" json:"backoff_base" default:"200ms" validate:"gt=0"`
	BackoffMax        time.Duration `yaml:"backoff_max" json:"backoff_max" default:"5s" validate:"gtefield=BackoffBase"`
	CallTimeout       time.Duration `yaml:"call_timeout" json:"call_timeout" default:"10s" validate:"gt=0"`
	PollInterval      time.Duration `yaml:"poll_interval" json:"poll_interval" default:"2s" validate:"gt=0"`
	// Terminal orders older than Retention are dropped from memory.
	Retention        time.Duration `yaml:"retention" json:"retention" default:"24h"`
	CancelOnShutdown bool          `yaml:"cancel_on_shutdown" json:"cancel_on_shutdown" default:"true"`
}

func DefaultConfig() Config {
	return Config{
		MaxSubmitAttempts: 3,
		BackoffBase:       200 * time.Millisecond,
		BackoffMax:        5 * time.Second,
		CallTimeout:       10 * time.Second,
		PollInterval:      2 * time.Second,
		Retention:         24 * time.Hour,
		CancelOnShutdown:  true,
	}
}

// Publisher receives order events. *events.Bus satisfies it.
type Publisher interface {
	Publish(events.Event)
}

const qtyEpsilon = 1e-9

type tracked struct {
	mu    sync.Mutex
	o     Order
	fills map[string]bool
}

type guardKey struct {
	symbol string
	side   broker.Side
}

// Manager publishes events while holding the order's lock. Handlers must
// use the event payload and not call back into the Manager for the same
// order.
type Manager struct {
	cfg    Config
	broker broker.Broker
	pub    Publisher
	log    zerolog.Logger

	mu       sync.Mutex
	orders   map[string]*tracked
	byBroker map[string]*tracked
	byClient map[string]*tracked
	active   map[guardKey]string
	closing  bool
	inflight sync.WaitGroup

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(cfg Config, b broker.Broker, pub Publisher, log zerolog.Logger) *Manager {
	d := DefaultConfig()
	if cfg.MaxSubmitAttempts <= 0 {
		cfg.MaxSubmitAttempts = d.MaxSubmitAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = d.BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = max(d.BackoffMax, cfg.BackoffBase)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = d.CallTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	m := &Manager{
		cfg:      cfg,
		broker:   b,
		pub:      pub,
		log:      log.With().Str("component", "execution").Logger(),
		orders:   make(map[string]*tracked),
		byBroker: make(map[string]*tracked),
		byClient: make(map[string]*tracked),
		active:   make(map[guardKey]string),
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepCtx,
	}
	if n, ok := b.(broker.Notifier); ok {
		n.OnOrderUpdate(m.HandleUpdate)
	}
	return m
}

// SetClock replaces the time source. Used by replays and tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the delay after the given failed attempt: base doubled
// per attempt, capped at BackoffMax.
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.BackoffMax {
			return m.cfg.BackoffMax
		}
	}
	return min(d, m.cfg.BackoffMax)
}

// Submit creates an order for intent and hands it to the broker. It blocks
// through retries and returns the order as it stands afterwards. At most
// one non-terminal order may exist per symbol and side.
func (m *Manager) Submit(ctx context.Context, in Intent) (Order, error) {
	if err := in.validate(); err != nil {
		return Order{}, err
	}
	if in.Type == "" {
		in.Type = broker.Market
	}
	if in.Purpose == "" {
		in.Purpose = PurposeOpen
	}

	t, err := m.create(in)
	if err != nil {
		return Order{}, err
	}
	defer m.inflight.Done()
	m.publish(events.KindOrderTransition, in.Symbol, "order created", Transition{To: Pending, Order: m.snapshot(t)})

	req := broker.OrderRequest{
		ClientOrderID: t.o.ClientOrderID,
		Symbol:        in.Symbol,
		Side:          in.Side,
		Quantity:      in.Quantity,
		Type:          in.Type,
		LimitPrice:    in.LimitPrice,
		StopLoss:      in.StopPrice,
		TakeProfit:    in.TakePrice,
	}
	l := m.log.With().Str("order", t.o.ID).Str("client_order_id", req.ClientOrderID).Str("symbol", in.Symbol).Logger()

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxSubmitAttempts; attempt++ {
		t.mu.Lock()
		t.o.Attempts = attempt
		t.mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		brokerID, err := m.broker.SubmitOrder(callCtx, req)
		cancel()

		if err == nil {
			m.accept(t, brokerID)
			return m.snapshot(t), nil
		}
		lastErr = err

		if errors.Is(err, broker.ErrRejected) {
			l.Warn().Err(err).Msg("order rejected")
			m.reject(t, err.Error())
			return m.snapshot(t), err
		}

		if broker.IsUnknownOutcome(err) {
			// The request may have reached the broker. Find out before
			// sending it again.
			if found, lerr := m.reconcile(ctx, t); lerr == nil && found {
				l.Info().Err(err).Msg("submit outcome unknown, broker has the order")
				return m.snapshot(t), nil
			} else if lerr != nil {
				l.Warn().Err(lerr).Msg("lookup after unknown submit outcome failed")
			}
		}
		if ctx.Err() != nil {
			break
		}
		if attempt == m.cfg.MaxSubmitAttempts {
			break
		}

		wait := m.backoff(attempt)
		l.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("submit failed, retrying")
		m.publish(events.KindOrderRetry, in.Symbol, "submit retry", RetryEvent{
			Order:   m.snapshot(t),
			Attempt: attempt,
			Error:   err.Error(),
			Backoff: wait,
		})
		if err := m.sleep(ctx, wait); err != nil {
			break
		}
	}

	// One last look so an order the broker did take is not marked failed.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CallTimeout)
	found, _ := m.reconcile(lctx, t)
	cancel()
	if found {
		return m.snapshot(t), nil
	}

	if ctx.Err() != nil && lastErr == nil {
		lastErr = ctx.Err()
	}
	t.mu.Lock()
	if t.o.State != Pending {
		// a pushed update got there first
		t.mu.Unlock()
		return m.snapshot(t), nil
	}
	m.transitionLocked(t, Failed, fmt.Sprint(lastErr))
	t.mu.Unlock()
	l.Error().Err(lastErr).Msg("submit failed")
	return m.snapshot(t), fmt.Errorf("%w: %v", ErrSubmitFailed, lastErr)
}

func (m *Manager) create(in Intent) (*tracked, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return nil, ErrShuttingDown
	}
	key := guardKey{in.Symbol, in.Side}
	if oid, ok := m.active[key]; ok {
		return nil, fmt.Errorf("%w: %s %s (order %s)", ErrDuplicateOrder, in.Symbol, in.Side, oid)
	}

	now := m.now()
	t := &tracked{
		o: Order{
			ID:            id.New(),
			ClientOrderID: id.NewClientOrderID(),
			Symbol:        in.Symbol,
			Side:          in.Side,
			Quantity:      in.Quantity,
			Type:          in.Type,
			LimitPrice:    in.LimitPrice,
			StopPrice:     in.StopPrice,
			TakePrice:     in.TakePrice,
			State:         Pending,
			Strategies:    append([]string(nil), in.Strategies...),
			Purpose:       in.Purpose,
			ReservationID: in.ReservationID,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		fills: make(map[string]bool),
	}
	m.orders[t.o.ID] = t
	m.byClient[t.o.ClientOrderID] = t
	m.active[key] = t.o.ID
	m.inflight.Add(1)
	return t, nil
}

// accept records a successful submission. A pushed update may already have
// moved the order further along.
func (m *Manager) accept(t *tracked, brokerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m.bindLocked(t, brokerID)
	if t.o.State == Pending {
		m.transitionLocked(t, Submitted, "")
	}
}

func (m *Manager) reject(t *tracked, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m.transitionLocked(t, Rejected, reason)
}

// reconcile asks the broker for the order by client id and adopts what it
// reports. It returns true when the broker knows the order.
func (m *Manager) reconcile(ctx context.Context, t *tracked) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	st, err := m.broker.LookupOrder(callCtx, t.o.ClientOrderID)
	if errors.Is(err, broker.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m.applyLocked(t, st)
	return true, nil
}

func (m *Manager) bindLocked(t *tracked, brokerID string) {
	if brokerID == "" || t.o.BrokerOrderID == brokerID {
		return
	}
	if t.o.BrokerOrderID != "" {
		m.log.Warn().Err(ErrReconciliationConflict).Str("order", t.o.ID).
			Str("had", t.o.BrokerOrderID).Str("got", brokerID).Msg("broker order id changed")
	}
	t.o.BrokerOrderID = brokerID
	m.mu.Lock()
	m.byBroker[brokerID] = t
	m.mu.Unlock()
}

// transitionLocked moves t to state to if the move is allowed. Terminal
// states release the symbol and side guard.
func (m *Manager) transitionLocked(t *tracked, to State, reason string) bool {
	from := t.o.State
	if from == to {
		return false
	}
	if !canTransition(from, to) {
		m.log.Warn().Err(ErrReconciliationConflict).Str("order", t.o.ID).
			Str("from", string(from)).Str("to", string(to)).Msg("ignoring illegal transition")
		return false
	}
	t.o.State = to
	t.o.UpdatedAt = m.now()
	if reason != "" {
		t.o.LastError = reason
	}
	if to.Terminal() {
		m.releaseGuard(t.o)
	}
	m.log.Debug().Str("order", t.o.ID).Str("from", string(from)).Str("to", string(to)).Msg("order transition")
	m.publish(events.KindOrderTransition, t.o.Symbol, string(to), Transition{From: from, To: to, Order: t.o.clone()})
	return true
}

func (m *Manager) releaseGuard(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := guardKey{o.Symbol, o.Side}
	if m.active[key] == o.ID {
		delete(m.active, key)
	}
}

// applyLocked folds a broker status into the local order. New fills are
// recorded once each; a cumulative fill below what is already known is a
// conflict and ignored. Fill events go out before the state change they
// cause.
func (m *Manager) applyLocked(t *tracked, st broker.OrderStatus) {
	m.bindLocked(t, st.BrokerOrderID)
	if t.o.State.Terminal() {
		if string(st.State) != string(t.o.State) {
			m.log.Warn().Err(ErrReconciliationConflict).Str("order", t.o.ID).
				Str("local", string(t.o.State)).Str("broker", string(st.State)).Msg("terminal order changed at broker")
		}
		return
	}
	if t.o.State == Pending {
		m.transitionLocked(t, Submitted, "")
	}

	if max(st.FilledQuantity, listedQuantity(st.Fills)) < t.o.FilledQuantity-qtyEpsilon {
		m.log.Warn().Err(ErrReconciliationConflict).Str("order", t.o.ID).
			Float64("local_filled", t.o.FilledQuantity).Float64("broker_filled", st.FilledQuantity).
			Msg("broker reports less filled than known, ignoring update")
		return
	}

	// The broker's total bounds what is recorded locally. Listed fills are
	// cumulative, so the first FilledQuantity units of the list are already
	// counted, whether they arrived itemized or as a synthetic fill.
	ceiling := st.FilledQuantity
	if listed := listedQuantity(st.Fills); listed > ceiling {
		ceiling = listed
	}
	if ceiling > t.o.Quantity+qtyEpsilon {
		m.log.Warn().Err(ErrReconciliationConflict).Str("order", t.o.ID).
			Float64("quantity", t.o.Quantity).Float64("broker_filled", ceiling).
			Msg("broker reports more filled than ordered, capping")
		ceiling = t.o.Quantity
	}
	var cum float64
	for _, f := range st.Fills {
		start, end := cum, min(cum+f.Quantity, ceiling)
		cum += f.Quantity
		if from := max(start, t.o.FilledQuantity); end-from > qtyEpsilon {
			m.recordFillLocked(t, Fill{ID: f.ID, Quantity: end - from, Price: f.Price, Time: f.Time})
		}
	}
	// Brokers that only report totals get a synthetic fill for the delta.
	if delta := ceiling - t.o.FilledQuantity; delta > qtyEpsilon {
		price := st.AvgFillPrice
		if rest := st.FilledQuantity - t.o.FilledQuantity; t.o.FilledQuantity > 0 && rest > qtyEpsilon {
			price = (st.AvgFillPrice*st.FilledQuantity - t.o.AvgFillPrice*t.o.FilledQuantity) / rest
		}
		m.recordFillLocked(t, Fill{
			ID:       fmt.Sprintf("%s-cum-%g", t.o.ID, ceiling),
			Quantity: delta,
			Price:    price,
			Time:     st.UpdatedAt,
		})
	}

	switch st.State {
	case broker.StateOpen:
		// Open with fills is still partial. CancelRequested waits for the
		// broker to confirm.
	case broker.StatePartiallyFilled:
		if t.o.State == Submitted {
			m.transitionLocked(t, PartiallyFilled, "")
		}
	case broker.StateFilled:
		m.transitionLocked(t, Filled, "")
	case broker.StateCancelled:
		m.transitionLocked(t, Cancelled, st.Reason)
	case broker.StateRejected:
		m.transitionLocked(t, Rejected, st.Reason)
	}
}

func listedQuantity(fills []broker.Fill) float64 {
	var q float64
	for _, f := range fills {
		q += f.Quantity
	}
	return q
}

func (m *Manager) recordFillLocked(t *tracked, f Fill) {
	if f.Quantity <= 0 {
		return
	}
	if f.ID != "" && t.fills[f.ID] {
		return
	}
	if f.Time.IsZero() {
		f.Time = m.now()
	}
	t.fills[f.ID] = true

	total := t.o.FilledQuantity + f.Quantity
	t.o.AvgFillPrice = (t.o.AvgFillPrice*t.o.FilledQuantity + f.Price*f.Quantity) / total
	t.o.FilledQuantity = total
	t.o.Fills = append(t.o.Fills, f)
	t.o.UpdatedAt = m.now()

	m.publish(events.KindOrderFill, t.o.Symbol, "fill", FillEvent{Order: t.o.clone(), Fill: f})
	if t.o.State == Submitted && t.o.Remaining() > qtyEpsilon {
		m.transitionLocked(t, PartiallyFilled, "")
	}
}

// HandleUpdate applies a status pushed by the broker. Updates for unknown
// orders are ignored.
func (m *Manager) HandleUpdate(st broker.OrderStatus) {
	m.mu.Lock()
	t, ok := m.byBroker[st.BrokerOrderID]
	if !ok {
		t, ok = m.byClient[st.ClientOrderID]
	}
	m.mu.Unlock()
	if !ok {
		m.log.Debug().Str("broker_order_id", st.BrokerOrderID).Msg("update for unknown order")
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m.applyLocked(t, st)
}

// Cancel requests cancellation and then adopts whatever the broker reports.
// A fill that won the race leaves the order Filled. When the broker does
// not take the request the order goes back to its working state and the
// error wraps ErrCancelFailed.
func (m *Manager) Cancel(ctx context.Context, orderID string) (Order, error) {
	t, ok := m.lookup(orderID)
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	t.mu.Lock()
	if !t.o.State.Cancellable() {
		state := t.o.State
		t.mu.Unlock()
		return m.snapshot(t), fmt.Errorf("%w: %s is %s", ErrNotCancellable, orderID, state)
	}
	prev := t.o.State
	m.transitionLocked(t, CancelRequested, "")
	brokerID := t.o.BrokerOrderID
	t.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	err := m.broker.CancelOrder(callCtx, brokerID)
	cancel()
	if errors.Is(err, broker.ErrNotFound) {
		// already gone at the broker; the refresh settles it
		err = nil
	}
	if err != nil {
		m.log.Warn().Err(err).Str("order", orderID).Msg("cancel request failed")
		t.mu.Lock()
		if t.o.State == CancelRequested {
			m.transitionLocked(t, prev, "cancel failed: "+err.Error())
		}
		t.mu.Unlock()
		err = fmt.Errorf("%w: %s: %w", ErrCancelFailed, orderID, err)
	}

	rerr := m.refresh(ctx, t)
	return m.snapshot(t), errors.Join(err, rerr)
}

func (m *Manager) refresh(ctx context.Context, t *tracked) error {
	t.mu.Lock()
	brokerID := t.o.BrokerOrderID
	t.mu.Unlock()
	if brokerID == "" {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	st, err := m.broker.GetOrderStatus(callCtx, brokerID)
	cancel()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m.applyLocked(t, st)
	return nil
}

// PollOnce refreshes every working order from the broker and drops
// terminal orders past retention.
func (m *Manager) PollOnce(ctx context.Context) {
	for _, t := range m.working() {
		if err := m.refresh(ctx, t); err != nil {
			m.log.Warn().Err(err).Str("order", t.o.ID).Msg("order status poll failed")
		}
	}
	m.prune()
}

// Run polls the broker until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	tick := time.NewTicker(m.cfg.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			m.PollOnce(ctx)
		}
	}
}

// Shutdown stops new submissions, waits for in-flight ones and, when
// configured, cancels working orders.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if !m.cfg.CancelOnShutdown {
		return nil
	}
	var errs []error
	for _, o := range m.Open() {
		if !o.State.Cancellable() {
			continue
		}
		if _, err := m.Cancel(ctx, o.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) publish(kind events.Kind, symbol, msg string, data any) {
	if m.pub == nil {
		return
	}
	m.pub.Publish(events.Event{
		Kind:    kind,
		Time:    m.now(),
		Symbol:  symbol,
		Message: msg,
		Data:    data,
	})
}

func (m *Manager) lookup(orderID string) (*tracked, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.orders[orderID]
	return t, ok
}

func (m *Manager) snapshot(t *tracked) Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.o.clone()
}

func (m *Manager) all() []*tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*tracked, 0, len(m.orders))
	for _, t := range m.orders {
		out = append(out, t)
	}
	return out
}

func (m *Manager) working() []*tracked {
	var out []*tracked
	for _, t := range m.all() {
		t.mu.Lock()
		if !t.o.State.Terminal() && t.o.BrokerOrderID != "" {
			out = append(out, t)
		}
		t.mu.Unlock()
	}
	return out
}

func (m *Manager) prune() {
	if m.cfg.Retention <= 0 {
		return
	}
	cutoff := m.now().Add(-m.cfg.Retention)
	var drop []Order
	for _, t := range m.all() {
		t.mu.Lock()
		if t.o.State.Terminal() && t.o.UpdatedAt.Before(cutoff) {
			drop = append(drop, t.o)
		}
		t.mu.Unlock()
	}
	if len(drop) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range drop {
		delete(m.orders, o.ID)
		delete(m.byClient, o.ClientOrderID)
		delete(m.byBroker, o.BrokerOrderID)
	}
}

// Get returns a copy of the order.
func (m *Manager) Get(orderID string) (Order, bool) {
	t, ok := m.lookup(orderID)
	if !ok {
		return Order{}, false
	}
	return m.snapshot(t), true
}

// Orders returns copies of all tracked orders, oldest first.
func (m *Manager) Orders() []Order {
	ts := m.all()
	out := make([]Order, 0, len(ts))
	for _, t := range ts {
		out = append(out, m.snapshot(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Open returns the non-terminal orders, oldest first.
func (m *Manager) Open() []Order {
	var out []Order
	for _, o := range m.Orders() {
		if !o.State.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

// Working reports whether a non-terminal order exists for symbol and side.
func (m *Manager) Working(symbol string, side broker.Side) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[guardKey{symbol, side}]
	return ok
}

// Stats counts tracked orders by state.
func (m *Manager) Stats() map[State]int {
	out := make(map[State]int)
	for _, o := range m.Orders() {
		out[o.State]++
	}
	return out
}
