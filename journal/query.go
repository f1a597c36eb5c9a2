package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

// GetOrder returns the latest record of an order.
func (j *SQLite) GetOrder(orderID string) (OrderRecord, error) {
	row := j.db.QueryRow(`
		SELECT order_id, client_order_id, broker_order_id, symbol, side, quantity, state,
		       filled_quantity, avg_fill_price, attempts, purpose, strategies, last_error, created_at, updated_at
		FROM orders
		WHERE order_id = ?`, orderID)

	rec, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return OrderRecord{}, fmt.Errorf("order %q: %w", orderID, ErrNotFound)
	}
	return rec, err
}

// ListOrders returns orders updated within [start, end), optionally only
// those in state, newest first.
func (j *SQLite) ListOrders(start, end time.Time, state string) ([]OrderRecord, error) {
	rows, err := j.db.Query(`
		SELECT order_id, client_order_id, broker_order_id, symbol, side, quantity, state,
		       filled_quantity, avg_fill_price, attempts, purpose, strategies, last_error, created_at, updated_at
		FROM orders
		WHERE updated_at >= ? AND updated_at < ? AND (? = '' OR state = ?)
		ORDER BY updated_at DESC`, start, end, state, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (OrderRecord, error) {
	var (
		rec        OrderRecord
		strategies string
	)
	err := s.Scan(
		&rec.OrderID,
		&rec.ClientOrderID,
		&rec.BrokerOrderID,
		&rec.Symbol,
		&rec.Side,
		&rec.Quantity,
		&rec.State,
		&rec.FilledQuantity,
		&rec.AvgFillPrice,
		&rec.Attempts,
		&rec.Purpose,
		&strategies,
		&rec.LastError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	rec.Strategies = splitIDs(strategies)
	return rec, err
}

// ListFills returns the fills of an order in time order.
func (j *SQLite) ListFills(orderID string) ([]FillRecord, error) {
	rows, err := j.db.Query(`
		SELECT order_id, fill_id, symbol, side, quantity, price, time
		FROM fills
		WHERE order_id = ?
		ORDER BY time ASC, fill_id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var rec FillRecord
		if err := rows.Scan(&rec.OrderID, &rec.FillID, &rec.Symbol, &rec.Side, &rec.Quantity, &rec.Price, &rec.Time); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT order_id, symbol, direction, strategies, quantity, entry_price, exit_price, realized_pl, result, state, close_time
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC, id ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			rec        TradeRecord
			strategies string
		)
		if err := rows.Scan(
			&rec.OrderID,
			&rec.Symbol,
			&rec.Direction,
			&strategies,
			&rec.Quantity,
			&rec.EntryPrice,
			&rec.ExitPrice,
			&rec.RealizedPnL,
			&rec.Result,
			&rec.State,
			&rec.CloseTime,
		); err != nil {
			return nil, err
		}
		rec.Strategies = splitIDs(strategies)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (j *SQLite) ListEquityBetween(start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT time, balance, equity, realized_pl, buying_power
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.Time, &e.Balance, &e.Equity, &e.RealizedPnL, &e.BuyingPower); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summary aggregates trades closed within a window.
type Summary struct {
	Trades       int
	Wins         int
	Losses       int
	GrossProfit  float64
	GrossLoss    float64
	NetPnL       float64
	ProfitFactor float64
	WinRate      float64
}

// Summarize computes Summary over trades closed within [start, end).
// ProfitFactor is zero when there are no losses.
func (j *SQLite) Summarize(start, end time.Time) (Summary, error) {
	trades, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(trades), nil
}

func Summarize(trades []TradeRecord) Summary {
	var s Summary
	for _, t := range trades {
		s.Trades++
		s.NetPnL += t.RealizedPnL
		switch {
		case t.RealizedPnL > 0:
			s.Wins++
			s.GrossProfit += t.RealizedPnL
		case t.RealizedPnL < 0:
			s.Losses++
			s.GrossLoss -= t.RealizedPnL
		}
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	if decided := s.Wins + s.Losses; decided > 0 {
		s.WinRate = float64(s.Wins) / float64(decided)
	}
	return s
}
