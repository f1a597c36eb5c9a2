package execution

import (
	"fmt"
	"time"

	"github.com/rustyeddy/autotrader/broker"
)

// Purpose records why an order exists.
type Purpose string

const (
	PurposeOpen    Purpose = "open"
	PurposeClose   Purpose = "close"
	PurposeExit    Purpose = "exit"
	PurposeFlatten Purpose = "flatten"
)

// Reduces reports whether the order only takes exposure off.
func (p Purpose) Reduces() bool {
	return p != PurposeOpen
}

type Fill struct {
	ID       string    `json:"id"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Time     time.Time `json:"time"`
}

// Order is owned by the Manager for its whole life. Callers only ever see
// copies.
type Order struct {
	ID            string           `json:"id"`
	ClientOrderID string           `json:"client_order_id"`
	Symbol        string           `json:"symbol"`
	Side          broker.Side      `json:"side"`
	Quantity      float64          `json:"quantity"`
	Type          broker.OrderType `json:"type"`
	LimitPrice    float64          `json:"limit_price,omitempty"`
	StopPrice     float64          `json:"stop_price,omitempty"`
	TakePrice     float64          `json:"take_price,omitempty"`

	State          State   `json:"state"`
	BrokerOrderID  string  `json:"broker_order_id,omitempty"`
	Fills          []Fill  `json:"fills,omitempty"`
	FilledQuantity float64 `json:"filled_quantity"`
	AvgFillPrice   float64 `json:"avg_fill_price"`
	Attempts       int     `json:"attempts"`

	Strategies    []string  `json:"strategies,omitempty"`
	Purpose       Purpose   `json:"purpose"`
	ReservationID string    `json:"reservation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}

func (o Order) clone() Order {
	c := o
	c.Fills = append([]Fill(nil), o.Fills...)
	c.Strategies = append([]string(nil), o.Strategies...)
	return c
}

// Intent is a request to open or reduce exposure. It has already passed
// the risk manager.
type Intent struct {
	Symbol        string
	Side          broker.Side
	Quantity      float64
	Type          broker.OrderType
	LimitPrice    float64
	StopPrice     float64
	TakePrice     float64
	Strategies    []string
	Purpose       Purpose
	ReservationID string
}

func (in Intent) validate() error {
	switch {
	case in.Symbol == "":
		return fmt.Errorf("intent: missing symbol")
	case in.Side != broker.Buy && in.Side != broker.Sell:
		return fmt.Errorf("intent: bad side %q", in.Side)
	case in.Quantity <= 0:
		return fmt.Errorf("intent: quantity %g must be positive", in.Quantity)
	case in.Type == broker.Limit && in.LimitPrice <= 0:
		return fmt.Errorf("intent: limit order needs a limit price")
	}
	return nil
}

// Transition is the payload of an order transition event.
type Transition struct {
	From  State `json:"from"`
	To    State `json:"to"`
	Order Order `json:"order"`
}

// FillEvent is the payload of an order fill event.
type FillEvent struct {
	Order Order `json:"order"`
	Fill  Fill  `json:"fill"`
}

// RetryEvent is the payload of a submit retry event.
type RetryEvent struct {
	Order   Order         `json:"order"`
	Attempt int           `json:"attempt"`
	Error   string        `json:"error"`
	Backoff time.Duration `json:"backoff"`
}
