package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/autotrader/adapt"
	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/fusion"
	"github.com/rustyeddy/autotrader/risk"
)

// Pause stops new entries. Open positions keep their stops and exits, and
// working orders keep being reconciled.
func (a *Agent) Pause(reason string) {
	if reason == "" {
		reason = "paused by operator"
	}
	a.reason.Store(reason)
	if !a.paused.Swap(true) {
		a.log.Warn().Str("reason", reason).Msg("agent paused")
		a.control("pause", reason)
	}
}

func (a *Agent) Resume() {
	if a.paused.Swap(false) {
		a.reason.Store("")
		a.log.Info().Msg("agent resumed")
		a.control("resume", "")
	}
}

func (a *Agent) Paused() bool {
	return a.paused.Load()
}

func (a *Agent) control(action, reason string) {
	if a.Metrics != nil {
		a.Metrics.SetPaused(a.paused.Load())
	}
	a.publish(events.KindControl, "", action, Override{Action: Action(action), Reason: reason})
}

type Action string

const (
	ActionFlattenAll   Action = "flatten-all"
	ActionFlatten      Action = "flatten"
	ActionHalt         Action = "halt"
	ActionUnhalt       Action = "unhalt"
	ActionSetRisk      Action = "set-risk"
	ActionSetWeight    Action = "set-weight"
	ActionResetSession Action = "reset-session"
)

var (
	ErrUnknownOverride = errors.New("unknown override action")
	ErrBadOverride     = errors.New("bad override")
)

// Override is an operator command. Symbol scopes flatten, halt and unhalt.
// Param and Value carry set-risk (a risk parameter name) and set-weight (a
// strategy id).
type Override struct {
	Action Action  `json:"action" validate:"required"`
	Symbol string  `json:"symbol,omitempty"`
	Param  string  `json:"param,omitempty"`
	Value  float64 `json:"value,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

type OverrideResult struct {
	Action  Action            `json:"action"`
	Message string            `json:"message"`
	Orders  []execution.Order `json:"orders,omitempty"`
}

// ApplyOverride executes an operator command and reports what it did.
func (a *Agent) ApplyOverride(ctx context.Context, ov Override) (OverrideResult, error) {
	res := OverrideResult{Action: ov.Action}
	var err error

	switch ov.Action {
	case ActionFlattenAll:
		// stay flat until resumed
		a.Pause("flatten-all")
		res.Orders, err = a.flattenAll(ctx)
		res.Message = fmt.Sprintf("flattening, %d close orders", len(res.Orders))
	case ActionFlatten:
		if ov.Symbol == "" {
			return res, fmt.Errorf("%w: flatten needs a symbol", ErrBadOverride)
		}
		res.Orders, err = a.flatten(ctx, ov.Symbol)
		res.Message = fmt.Sprintf("flattening %s", ov.Symbol)
	case ActionHalt:
		reason := ov.Reason
		if reason == "" {
			reason = "operator halt"
		}
		if ov.Symbol == "" {
			a.Risk.Halt(reason)
			res.Message = "trading halted"
		} else {
			a.Risk.HaltSymbol(ov.Symbol, reason)
			res.Message = ov.Symbol + " halted"
		}
	case ActionUnhalt:
		if ov.Symbol == "" {
			a.Risk.Unhalt()
			res.Message = "manual halt cleared"
		} else {
			a.Risk.UnhaltSymbol(ov.Symbol)
			res.Message = ov.Symbol + " unhalted"
		}
	case ActionSetRisk:
		if ov.Param == "" {
			return res, fmt.Errorf("%w: set-risk needs a param", ErrBadOverride)
		}
		if err := a.Risk.Override(ov.Param, ov.Value); err != nil {
			return res, fmt.Errorf("%w: %v", ErrBadOverride, err)
		}
		res.Message = fmt.Sprintf("%s set to %g", ov.Param, ov.Value)
	case ActionSetWeight:
		if ov.Value < 0 || ov.Value > 1 || math.IsNaN(ov.Value) {
			return res, fmt.Errorf("%w: weight %g outside [0,1]", ErrBadOverride, ov.Value)
		}
		w, werr := a.Adapt.SetWeight(ov.Param, ov.Value)
		if werr != nil {
			return res, fmt.Errorf("%w: %v", ErrBadOverride, werr)
		}
		res.Message = fmt.Sprintf("%s weight set to %g", w.StrategyID, w.Weight)
	case ActionResetSession:
		a.ResetSession()
		res.Message = "session reset"
	default:
		return res, fmt.Errorf("%w: %q", ErrUnknownOverride, ov.Action)
	}

	a.log.Warn().Str("action", string(ov.Action)).Str("symbol", ov.Symbol).Str("param", ov.Param).Msg(res.Message)
	a.publish(events.KindControl, ov.Symbol, res.Message, ov)
	a.checkHalt()
	return res, err
}

func (a *Agent) flattenAll(ctx context.Context) ([]execution.Order, error) {
	symbols := map[string]bool{}
	for _, p := range a.Risk.Positions() {
		symbols[p.Symbol] = true
	}
	for _, o := range a.Orders.Open() {
		symbols[o.Symbol] = true
	}
	names := make([]string, 0, len(symbols))
	for s := range symbols {
		names = append(names, s)
	}
	sort.Strings(names)

	var (
		orders []execution.Order
		errs   []error
	)
	for _, s := range names {
		os, err := a.flatten(ctx, s)
		orders = append(orders, os...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return orders, errors.Join(errs...)
}

// flatten cancels working entry orders for symbol and closes its position.
func (a *Agent) flatten(ctx context.Context, symbol string) ([]execution.Order, error) {
	var errs []error
	for _, o := range a.Orders.Open() {
		if o.Symbol != symbol || o.Purpose != execution.PurposeOpen || !o.State.Cancellable() {
			continue
		}
		if _, err := a.Orders.Cancel(ctx, o.ID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", o.ID, err))
		}
	}

	pos, ok := a.Risk.Position(symbol)
	if !ok || pos.Flat() {
		return nil, errors.Join(errs...)
	}
	o, err := a.Orders.Submit(ctx, execution.Intent{
		Symbol:     symbol,
		Side:       broker.SideFor(pos.Direction().Opposite()),
		Quantity:   math.Abs(pos.Quantity),
		Type:       broker.Market,
		Strategies: pos.Strategies,
		Purpose:    execution.PurposeFlatten,
	})
	switch {
	case errors.Is(err, execution.ErrDuplicateOrder):
		// a close is already working
	case err != nil:
		errs = append(errs, fmt.Errorf("flatten %s: %w", symbol, err))
	}
	var out []execution.Order
	if o.ID != "" {
		out = append(out, o)
	}
	return out, errors.Join(errs...)
}

// ResetSession starts a new trading day: the daily PnL goes back to zero
// and a loss halt clears.
func (a *Agent) ResetSession() {
	prev := a.Risk.ResetSession(a.now())
	a.halted.Store(false)
	a.log.Info().Float64("previous_pnl", prev).Msg("session reset")
	a.publish(events.KindSession, "", "session reset", a.Risk.Snapshot())
}

type SymbolStatus struct {
	Symbol    string          `json:"symbol"`
	LastTick  time.Time       `json:"last_tick"`
	LastBar   time.Time       `json:"last_bar"`
	Ticks     int             `json:"ticks"`
	LastError string          `json:"last_error,omitempty"`
	Decision  fusion.Decision `json:"decision"`
	Regime    adapt.Analysis  `json:"regime"`
}

// Snapshot is the agent state for dashboards.
type Snapshot struct {
	Time        time.Time               `json:"time"`
	StartedAt   time.Time               `json:"started_at"`
	Paused      bool                    `json:"paused"`
	PauseReason string                  `json:"pause_reason,omitempty"`
	Risk        risk.Profile            `json:"risk"`
	Account     broker.Account          `json:"account"`
	Orders      []execution.Order       `json:"orders"`
	OrderStats  map[execution.State]int `json:"order_stats"`
	Weights     []adapt.StrategyWeight  `json:"weights"`
	Symbols     []SymbolStatus          `json:"symbols"`
}

func (a *Agent) Snapshot() Snapshot {
	a.acctMu.Lock()
	acct := a.account
	a.acctMu.Unlock()

	s := Snapshot{
		Time:        a.now(),
		StartedAt:   a.started,
		Paused:      a.paused.Load(),
		PauseReason: a.reason.Load().(string),
		Risk:        a.Risk.Snapshot(),
		Account:     acct,
		Orders:      a.Orders.Open(),
		OrderStats:  a.Orders.Stats(),
		Weights:     a.Adapt.Weights(),
	}
	for _, sym := range a.cfg.Symbols {
		st := a.symbols[sym]
		st.mu.Lock()
		s.Symbols = append(s.Symbols, SymbolStatus{
			Symbol:    sym,
			LastTick:  st.lastTick,
			LastBar:   st.lastBar,
			Ticks:     st.ticks,
			LastError: st.lastErr,
			Decision:  st.decision,
			Regime:    st.regime,
		})
		st.mu.Unlock()
	}
	return s
}
