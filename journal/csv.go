package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	orderHeader  = []string{"order_id", "client_order_id", "broker_order_id", "symbol", "side", "quantity", "state", "filled_quantity", "avg_fill_price", "attempts", "purpose", "strategies", "last_error", "updated_at"}
	fillHeader   = []string{"order_id", "fill_id", "symbol", "side", "quantity", "price", "time"}
	tradeHeader  = []string{"order_id", "symbol", "direction", "strategies", "quantity", "entry_price", "exit_price", "realized_pl", "result", "state", "close_time"}
	equityHeader = []string{"time", "balance", "equity", "realized_pl", "buying_power"}
)

type csvFile struct {
	f *os.File
	w *csv.Writer
}

func createCSV(path string, header []string) (*csvFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	c := &csvFile{f: f, w: csv.NewWriter(f)}
	if err := c.write(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

func (c *csvFile) write(row []string) error {
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvFile) close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		_ = c.f.Close()
		return err
	}
	return c.f.Close()
}

// CSVJournal appends to orders.csv, fills.csv, trades.csv and equity.csv
// in a directory. Every order transition is a new row.
type CSVJournal struct {
	mu     sync.Mutex
	orders *csvFile
	fills  *csvFile
	trades *csvFile
	equity *csvFile
}

func NewCSV(dir string) (*CSVJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	j := &CSVJournal{}
	var err error
	for _, file := range []struct {
		dst    **csvFile
		name   string
		header []string
	}{
		{&j.orders, "orders.csv", orderHeader},
		{&j.fills, "fills.csv", fillHeader},
		{&j.trades, "trades.csv", tradeHeader},
		{&j.equity, "equity.csv", equityHeader},
	} {
		if *file.dst, err = createCSV(filepath.Join(dir, file.name), file.header); err != nil {
			_ = j.Close()
			return nil, fmt.Errorf("create %s: %w", file.name, err)
		}
	}
	return j, nil
}

func (j *CSVJournal) RecordOrder(o OrderRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.orders.write([]string{
		o.OrderID,
		o.ClientOrderID,
		o.BrokerOrderID,
		o.Symbol,
		o.Side,
		f(o.Quantity),
		o.State,
		f(o.FilledQuantity),
		f(o.AvgFillPrice),
		strconv.Itoa(o.Attempts),
		o.Purpose,
		joinIDs(o.Strategies),
		o.LastError,
		o.UpdatedAt.Format(time.RFC3339),
	})
}

func (j *CSVJournal) RecordFill(fr FillRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fills.write([]string{
		fr.OrderID,
		fr.FillID,
		fr.Symbol,
		fr.Side,
		f(fr.Quantity),
		f(fr.Price),
		fr.Time.Format(time.RFC3339),
	})
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.trades.write([]string{
		t.OrderID,
		t.Symbol,
		t.Direction,
		joinIDs(t.Strategies),
		f(t.Quantity),
		f(t.EntryPrice),
		f(t.ExitPrice),
		f(t.RealizedPnL),
		t.Result,
		t.State,
		t.CloseTime.Format(time.RFC3339),
	})
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.equity.write([]string{
		e.Time.Format(time.RFC3339),
		f(e.Balance),
		f(e.Equity),
		f(e.RealizedPnL),
		f(e.BuyingPower),
	})
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var errs []error
	for _, c := range []*csvFile{j.orders, j.fills, j.trades, j.equity} {
		if c != nil {
			errs = append(errs, c.close())
		}
	}
	return errors.Join(errs...)
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
