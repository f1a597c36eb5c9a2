package journal

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordOrder(o OrderRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO orders
		(order_id, client_order_id, broker_order_id, symbol, side, quantity, state,
		 filled_quantity, avg_fill_price, attempts, purpose, strategies, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			broker_order_id = excluded.broker_order_id,
			state = excluded.state,
			filled_quantity = excluded.filled_quantity,
			avg_fill_price = excluded.avg_fill_price,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		o.OrderID, o.ClientOrderID, o.BrokerOrderID, o.Symbol, o.Side, o.Quantity, o.State,
		o.FilledQuantity, o.AvgFillPrice, o.Attempts, o.Purpose, joinIDs(o.Strategies), o.LastError,
		o.CreatedAt, o.UpdatedAt,
	)
	return err
}

// RecordFill ignores a fill already recorded for the order.
func (j *SQLite) RecordFill(f FillRecord) error {
	_, err := j.db.Exec(`
		INSERT OR IGNORE INTO fills
		(order_id, fill_id, symbol, side, quantity, price, time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.FillID, f.Symbol, f.Side, f.Quantity, f.Price, f.Time,
	)
	return err
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(order_id, symbol, direction, strategies, quantity, entry_price, exit_price, realized_pl, result, state, close_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OrderID, t.Symbol, t.Direction, joinIDs(t.Strategies), t.Quantity, t.EntryPrice,
		t.ExitPrice, t.RealizedPnL, t.Result, t.State, t.CloseTime,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, balance, equity, realized_pl, buying_power)
		VALUES (?, ?, ?, ?, ?)`,
		e.Time, e.Balance, e.Equity, e.RealizedPnL, e.BuyingPower,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
