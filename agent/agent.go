// Package agent runs the trading loop: it pulls bars for each symbol, runs
// the strategies, fuses their signals, gates the decision through risk and
// hands approved orders to execution. Fills and order outcomes flow back
// through the event bus into risk and adaptation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/autotrader/adapt"
	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/fusion"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/metrics"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/strategies"
)

var (
	// ErrTickInProgress is returned when a tick for the symbol is still
	// running.
	ErrTickInProgress = errors.New("tick already in progress")
	ErrUnknownSymbol  = errors.New("symbol not traded")
)

// Exporter publishes snapshots to an external store.
type Exporter interface {
	Export(ctx context.Context, s Snapshot) error
}

// Deps are the components the agent drives. Metrics and Exporter are
// optional.
type Deps struct {
	Data       market.DataSource
	Broker     broker.Broker
	Strategies *strategies.Engine
	Fuser      *fusion.Fuser
	Risk       *risk.Manager
	Orders     *execution.Manager
	Adapt      *adapt.Controller
	Bus        *events.Bus
	Metrics    *metrics.Recorder
	Exporter   Exporter
}

func (d Deps) check() error {
	switch {
	case d.Data == nil:
		return errors.New("agent: missing data source")
	case d.Broker == nil:
		return errors.New("agent: missing broker")
	case d.Strategies == nil || d.Fuser == nil:
		return errors.New("agent: missing strategies or fusion")
	case d.Risk == nil || d.Orders == nil || d.Adapt == nil:
		return errors.New("agent: missing risk, execution or adapt")
	case d.Bus == nil:
		return errors.New("agent: missing event bus")
	}
	return nil
}

type symbolState struct {
	tick     sync.Mutex
	mu       sync.Mutex
	decision fusion.Decision
	regime   adapt.Analysis
	lastTick time.Time
	lastBar  time.Time
	lastErr  string
	ticks    int
}

// trade accumulates what an order closed until it is terminal.
type trade struct {
	realized float64
	closed   float64
	notional float64
	dir      strategies.Direction
	ids      []string
}

type Agent struct {
	cfg    Config
	Deps
	offset time.Duration
	log    zerolog.Logger

	symbols map[string]*symbolState
	paused  atomic.Bool
	reason  atomic.Value // string
	halted  atomic.Bool

	tradesMu sync.Mutex
	trades   map[string]*trade

	acctMu  sync.Mutex
	account broker.Account

	started time.Time
	now     func() time.Time
	unsub   func()
}

func New(cfg Config, deps Deps, log zerolog.Logger) (*Agent, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("agent: no symbols configured")
	}
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = d.TickTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	offset, err := ParseSessionReset(cfg.SessionReset)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:     cfg,
		Deps:    deps,
		offset:  offset,
		log:     log.With().Str("component", "agent").Logger(),
		symbols: make(map[string]*symbolState, len(cfg.Symbols)),
		trades:  make(map[string]*trade),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, s := range cfg.Symbols {
		if _, dup := a.symbols[s]; dup {
			return nil, fmt.Errorf("agent: symbol %s listed twice", s)
		}
		a.symbols[s] = &symbolState{}
	}
	a.reason.Store("")
	a.paused.Store(cfg.StartPaused)
	if cfg.StartPaused {
		a.reason.Store("started paused")
	}
	a.started = a.now()
	a.unsub = a.Bus.Subscribe(a.handle)
	return a, nil
}

// SetClock replaces the time source. Used by replays and tests.
func (a *Agent) SetClock(now func() time.Time) {
	a.now = now
}

func (a *Agent) window() int {
	if a.cfg.Window > 0 {
		return a.cfg.Window
	}
	return max(120, a.Strategies.MinBars())
}

// Tick runs one pass of the pipeline for symbol. A tick for a symbol never
// overlaps another tick for the same symbol.
func (a *Agent) Tick(ctx context.Context, symbol string) (err error) {
	st, ok := a.symbols[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if !st.tick.TryLock() {
		a.observe(symbol, "skipped", 0)
		return ErrTickInProgress
	}
	defer st.tick.Unlock()

	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			a.log.Warn().Err(err).Str("symbol", symbol).Msg("tick failed")
		}
		st.mu.Lock()
		st.lastTick = a.now()
		st.ticks++
		st.lastErr = ""
		if err != nil {
			st.lastErr = err.Error()
		}
		st.mu.Unlock()
		a.observe(symbol, result, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.TickTimeout)
	defer cancel()

	bars, err := a.Data.GetBars(ctx, symbol, a.window())
	if err != nil {
		return fmt.Errorf("get bars: %w", err)
	}
	if err := market.ValidateWindow(bars); err != nil {
		return fmt.Errorf("bars for %s: %w", symbol, err)
	}
	if bars[0].Symbol != symbol {
		return fmt.Errorf("bars for %s: source returned %s", symbol, bars[0].Symbol)
	}
	last := market.Last(bars)
	st.mu.Lock()
	st.lastBar = last.Time
	st.mu.Unlock()

	// Open positions are watched even while paused.
	a.Risk.Mark(symbol, last.Close)
	for _, ex := range a.Risk.CheckExits(last) {
		a.submitExit(ctx, ex)
	}

	if a.paused.Load() {
		return nil
	}

	signals := a.Strategies.Evaluate(bars)
	decision := a.Fuser.Fuse(symbol, last.Time, signals)
	analysis, suggestion := a.Adapt.Analyze(bars)
	st.mu.Lock()
	st.decision = decision
	st.regime = analysis
	st.mu.Unlock()
	a.publish(events.KindDecision, symbol, decision.Rationale, decision)

	if !decision.Actionable() {
		return nil
	}

	acct, err := a.refreshAccount(ctx)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}

	verdict := a.Risk.Evaluate(decision, risk.Proposal{
		Entry:          last.Close,
		ATR:            analysis.ATRPct * last.Close,
		Equity:         acct.Equity,
		RiskMultiplier: suggestion.RiskMultiplier,
		StopMultiplier: suggestion.StopMultiplier,
		TakeMultiplier: suggestion.TakeMultiplier,
	})
	if verdict.Vetoed() {
		a.log.Info().Str("symbol", symbol).Str("code", verdict.Code()).Str("reason", verdict.Reason()).Msg("decision vetoed")
		a.publish(events.KindVeto, symbol, verdict.Reason(), verdict)
		return nil
	}

	in := execution.Intent{
		Symbol:     symbol,
		Side:       broker.SideFor(verdict.Direction),
		Quantity:   verdict.Quantity,
		Type:       broker.Market,
		Strategies: decision.StrategyIDs(),
	}
	switch verdict.Action {
	case risk.ActionClose:
		in.Purpose = execution.PurposeClose
		if pos, ok := a.Risk.Position(symbol); ok {
			in.Strategies = pos.Strategies
		}
	default:
		in.Purpose = execution.PurposeOpen
		in.StopPrice = verdict.StopPrice
		in.TakePrice = verdict.TakePrice
		in.ReservationID = verdict.ReservationID
	}

	o, err := a.Orders.Submit(ctx, in)
	if err != nil {
		a.Risk.Release(verdict.ReservationID)
		if errors.Is(err, execution.ErrDuplicateOrder) {
			a.log.Debug().Str("symbol", symbol).Msg("order already working")
			return nil
		}
		if errors.Is(err, broker.ErrRejected) {
			return nil
		}
		return fmt.Errorf("submit: %w", err)
	}
	a.log.Info().
		Str("symbol", symbol).
		Str("order", o.ID).
		Str("side", string(o.Side)).
		Float64("qty", o.Quantity).
		Float64("strength", decision.Strength).
		Str("regime", string(analysis.Regime)).
		Msg("order submitted")
	return nil
}

func (a *Agent) submitExit(ctx context.Context, ex risk.ExitIntent) {
	o, err := a.Orders.Submit(ctx, execution.Intent{
		Symbol:     ex.Symbol,
		Side:       broker.SideFor(ex.Direction),
		Quantity:   ex.Quantity,
		Type:       broker.Market,
		Strategies: ex.Strategies,
		Purpose:    execution.PurposeExit,
	})
	if err != nil {
		if !errors.Is(err, execution.ErrDuplicateOrder) {
			a.Risk.ClearExit(ex.Symbol)
		}
		a.log.Warn().Err(err).Str("symbol", ex.Symbol).Str("reason", ex.Reason).Msg("exit order failed")
		return
	}
	a.log.Info().Str("symbol", ex.Symbol).Str("order", o.ID).Str("reason", ex.Reason).Float64("price", ex.Price).Msg("exit submitted")
}

func (a *Agent) refreshAccount(ctx context.Context) (broker.Account, error) {
	acct, err := a.Broker.GetAccount(ctx)
	if err != nil {
		return broker.Account{}, err
	}
	a.acctMu.Lock()
	a.account = acct
	a.acctMu.Unlock()
	if a.Metrics != nil {
		a.Metrics.SetEquity(acct.Equity)
	}
	return acct, nil
}

func (a *Agent) observe(symbol, result string, d time.Duration) {
	if a.Metrics != nil {
		a.Metrics.ObserveTick(symbol, result, d)
	}
}

func (a *Agent) publish(kind events.Kind, symbol, msg string, data any) {
	a.Bus.Publish(events.Event{
		Kind:    kind,
		Time:    a.now(),
		Symbol:  symbol,
		Message: msg,
		Data:    data,
	})
}

// Close detaches the agent from the event bus.
func (a *Agent) Close() {
	if a.unsub != nil {
		a.unsub()
	}
}
