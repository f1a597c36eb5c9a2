// Package broker defines the capability the agent needs from a broker:
// submit, cancel and query orders and read the account.
package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/autotrader/strategies"
)

type Broker interface {
	// SubmitOrder hands an order to the broker and returns its broker id.
	// Submitting the same ClientOrderID twice must not create two orders.
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrderStatus(ctx context.Context, brokerOrderID string) (OrderStatus, error)
	// LookupOrder finds an order by client order id. It returns ErrNotFound
	// when the broker never accepted it.
	LookupOrder(ctx context.Context, clientOrderID string) (OrderStatus, error)
	GetAccount(ctx context.Context) (Account, error)
}

// Notifier is implemented by brokers that push order updates.
type Notifier interface {
	OnOrderUpdate(fn func(OrderStatus))
}

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// SideFor maps a trade direction to the order side that opens it.
func SideFor(dir strategies.Direction) Side {
	if dir == strategies.Short {
		return Sell
	}
	return Buy
}

// Direction returns the trade direction a fill on this side adds.
func (s Side) Direction() strategies.Direction {
	switch s {
	case Buy:
		return strategies.Long
	case Sell:
		return strategies.Short
	}
	return strategies.Flat
}

func (s Side) Sign() float64 {
	return s.Direction().Sign()
}

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

type OrderRequest struct {
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Quantity      float64   `json:"quantity"`
	Type          OrderType `json:"type"`
	LimitPrice    float64   `json:"limit_price,omitempty"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
}

// State is the broker's view of an order.
type State string

const (
	StateOpen            State = "open"
	StatePartiallyFilled State = "partially_filled"
	StateFilled          State = "filled"
	StateCancelled       State = "cancelled"
	StateRejected        State = "rejected"
)

// Terminal reports whether the broker will not change the order again.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected:
		return true
	}
	return false
}

type Fill struct {
	ID       string    `json:"id"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Time     time.Time `json:"time"`
}

// OrderStatus is the authoritative broker state of one order.
type OrderStatus struct {
	BrokerOrderID  string    `json:"broker_order_id"`
	ClientOrderID  string    `json:"client_order_id"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Quantity       float64   `json:"quantity"`
	State          State     `json:"state"`
	FilledQuantity float64   `json:"filled_quantity"`
	AvgFillPrice   float64   `json:"avg_fill_price"`
	Fills          []Fill    `json:"fills,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Account struct {
	ID          string  `json:"id"`
	Currency    string  `json:"currency"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	BuyingPower float64 `json:"buying_power"`
	RealizedPnL float64 `json:"realized_pnl"`
}
