package agent

import (
	"fmt"

	"github.com/rustyeddy/autotrader/adapt"
	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/execution"
	"github.com/rustyeddy/autotrader/risk"
)

// handle runs on the publishing goroutine, which for order events holds
// that order's lock. It must not call back into execution for the order.
func (a *Agent) handle(e events.Event) {
	switch d := e.Data.(type) {
	case execution.FillEvent:
		a.onFill(d)
	case execution.Transition:
		a.onTransition(d)
	}
}

func (a *Agent) onFill(fe execution.FillEvent) {
	o := fe.Order
	dir := o.Side.Direction()
	res, err := a.Risk.ApplyFill(risk.Fill{
		Symbol:        o.Symbol,
		Direction:     dir,
		Quantity:      fe.Fill.Quantity,
		Price:         fe.Fill.Price,
		ReservationID: o.ReservationID,
		Strategies:    o.Strategies,
		Time:          fe.Fill.Time,
	})
	if err != nil {
		a.log.Error().Err(err).Str("order", o.ID).Str("fill", fe.Fill.ID).Msg("cannot apply fill")
		return
	}

	if res.ClosedQuantity > 0 {
		closedDir := dir.Opposite()
		entry := fe.Fill.Price - res.Realized/(res.ClosedQuantity*closedDir.Sign())

		a.tradesMu.Lock()
		t, ok := a.trades[o.ID]
		if !ok {
			t = &trade{dir: closedDir, ids: res.Strategies}
			a.trades[o.ID] = t
		}
		t.realized += res.Realized
		t.closed += res.ClosedQuantity
		t.notional += entry * res.ClosedQuantity
		a.tradesMu.Unlock()

		a.log.Info().
			Str("symbol", o.Symbol).
			Float64("closed", res.ClosedQuantity).
			Float64("realized", res.Realized).
			Msg("position reduced")
	}
	a.checkHalt()
}

func (a *Agent) onTransition(tr execution.Transition) {
	if !tr.To.Terminal() {
		return
	}
	o := tr.Order
	if o.ReservationID != "" {
		a.Risk.Release(o.ReservationID)
	}
	if o.Purpose.Reduces() && tr.To != execution.Filled {
		a.Risk.ClearExit(o.Symbol)
	}
	if tr.To == execution.Failed {
		a.Risk.HaltSymbol(o.Symbol, fmt.Sprintf("order %s failed: %s", o.ID, o.LastError))
		a.log.Error().Str("symbol", o.Symbol).Str("order", o.ID).Msg("symbol halted after failed order")
		a.publish(events.KindHalt, o.Symbol, "order failed", a.Risk.Snapshot())
	}

	a.tradesMu.Lock()
	t := a.trades[o.ID]
	delete(a.trades, o.ID)
	a.tradesMu.Unlock()

	var out adapt.Outcome
	switch {
	case t != nil && t.closed > 0:
		out = adapt.Outcome{
			OrderID:     o.ID,
			Symbol:      o.Symbol,
			Direction:   t.dir.String(),
			Strategies:  t.ids,
			Quantity:    t.closed,
			EntryPrice:  t.notional / t.closed,
			ExitPrice:   o.AvgFillPrice,
			RealizedPnL: t.realized,
			State:       string(tr.To),
			Time:        o.UpdatedAt,
		}
	case o.Purpose == execution.PurposeOpen && o.FilledQuantity == 0 && tr.To != execution.Filled:
		// nothing traded; counts as breakeven for the strategies
		out = adapt.Outcome{
			OrderID:    o.ID,
			Symbol:     o.Symbol,
			Direction:  o.Side.Direction().String(),
			Strategies: o.Strategies,
			State:      string(tr.To),
			Time:       o.UpdatedAt,
		}
	default:
		return
	}

	a.Adapt.Record(out)
	a.publish(events.KindOutcome, o.Symbol, string(out.Result()), out)
}

// checkHalt announces the first time the daily loss limit halts trading.
func (a *Agent) checkHalt() {
	p := a.Risk.Snapshot()
	if a.Metrics != nil {
		a.Metrics.SetProfile(p)
	}
	if p.Halted && !a.halted.Swap(true) {
		a.log.Error().Float64("daily_pnl", p.CurrentDailyPnL).Str("reason", p.HaltReason).Msg("trading halted")
		a.publish(events.KindHalt, "", p.HaltReason, p)
	}
}
