// Package journal keeps an audit trail of orders, fills, closed trades and
// account equity.
package journal

import (
	"time"
)

// OrderRecord is the latest known state of an order. Later records for
// the same order replace earlier ones.
type OrderRecord struct {
	OrderID        string
	ClientOrderID  string
	BrokerOrderID  string
	Symbol         string
	Side           string
	Quantity       float64
	State          string
	FilledQuantity float64
	AvgFillPrice   float64
	Attempts       int
	Purpose        string
	Strategies     []string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type FillRecord struct {
	OrderID  string
	FillID   string
	Symbol   string
	Side     string
	Quantity float64
	Price    float64
	Time     time.Time
}

// TradeRecord is one closed trade or an order that ended without one.
type TradeRecord struct {
	OrderID     string
	Symbol      string
	Direction   string
	Strategies  []string
	Quantity    float64
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64
	Result      string
	State       string
	CloseTime   time.Time
}

type EquitySnapshot struct {
	Time        time.Time
	Balance     float64
	Equity      float64
	RealizedPnL float64
	BuyingPower float64
}

type Journal interface {
	RecordOrder(OrderRecord) error
	RecordFill(FillRecord) error
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}
