package journal

import (
	"context"

	"github.com/rustyeddy/autotrader/adapt"
	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/events"
	"github.com/rustyeddy/autotrader/execution"
)

// Sink writes bus events into a Journal. Attach it with events.Bus.AddSink
// so database writes stay off the trading path.
type Sink struct {
	j Journal
}

func NewSink(j Journal) *Sink {
	return &Sink{j: j}
}

func (s *Sink) Write(ctx context.Context, e events.Event) error {
	switch d := e.Data.(type) {
	case execution.Transition:
		return s.j.RecordOrder(OrderFromExecution(d.Order))
	case execution.FillEvent:
		return s.j.RecordFill(FillRecord{
			OrderID:  d.Order.ID,
			FillID:   d.Fill.ID,
			Symbol:   d.Order.Symbol,
			Side:     string(d.Order.Side),
			Quantity: d.Fill.Quantity,
			Price:    d.Fill.Price,
			Time:     d.Fill.Time,
		})
	case adapt.Outcome:
		return s.j.RecordTrade(TradeFromOutcome(d))
	case broker.Account:
		return s.j.RecordEquity(EquitySnapshot{
			Time:        e.Time,
			Balance:     d.Balance,
			Equity:      d.Equity,
			RealizedPnL: d.RealizedPnL,
			BuyingPower: d.BuyingPower,
		})
	}
	return nil
}

func (s *Sink) Close() error {
	return s.j.Close()
}

func OrderFromExecution(o execution.Order) OrderRecord {
	return OrderRecord{
		OrderID:        o.ID,
		ClientOrderID:  o.ClientOrderID,
		BrokerOrderID:  o.BrokerOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Quantity:       o.Quantity,
		State:          string(o.State),
		FilledQuantity: o.FilledQuantity,
		AvgFillPrice:   o.AvgFillPrice,
		Attempts:       o.Attempts,
		Purpose:        string(o.Purpose),
		Strategies:     o.Strategies,
		LastError:      o.LastError,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func TradeFromOutcome(o adapt.Outcome) TradeRecord {
	return TradeRecord{
		OrderID:     o.OrderID,
		Symbol:      o.Symbol,
		Direction:   o.Direction,
		Strategies:  o.Strategies,
		Quantity:    o.Quantity,
		EntryPrice:  o.EntryPrice,
		ExitPrice:   o.ExitPrice,
		RealizedPnL: o.RealizedPnL,
		Result:      string(o.Result()),
		State:       o.State,
		CloseTime:   o.Time,
	}
}
