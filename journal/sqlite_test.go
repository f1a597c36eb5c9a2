package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

var t0 = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	for _, table := range []string{"orders", "fills", "trades", "equity"} {
		assert.True(t, found[table], table)
	}
}

func TestSQLiteOrderUpsert(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)

	rec := OrderRecord{
		OrderID:       "O1",
		ClientOrderID: "C1",
		Symbol:        "EUR_USD",
		Side:          "buy",
		Quantity:      1000,
		State:         "pending",
		Purpose:       "open",
		Strategies:    []string{"pvg", "smc"},
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
	require.NoError(t, j.RecordOrder(rec))

	rec.State = "filled"
	rec.BrokerOrderID = "B1"
	rec.FilledQuantity = 1000
	rec.AvgFillPrice = 1.1
	rec.Attempts = 2
	rec.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, j.RecordOrder(rec))

	got, err := j.GetOrder("O1")
	require.NoError(t, err)
	assert.Equal(t, "filled", got.State)
	assert.Equal(t, "B1", got.BrokerOrderID)
	assert.Equal(t, 2, got.Attempts)
	assert.InDelta(t, 1.1, got.AvgFillPrice, 1e-12)
	assert.Equal(t, []string{"pvg", "smc"}, got.Strategies)
	assert.True(t, t0.Equal(got.CreatedAt))
	assert.True(t, rec.UpdatedAt.Equal(got.UpdatedAt))

	_, err = j.GetOrder("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteListOrdersByState(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)

	for i, state := range []string{"filled", "cancelled", "filled"} {
		require.NoError(t, j.RecordOrder(OrderRecord{
			OrderID:   string(rune('A' + i)),
			Symbol:    "XYZ",
			Side:      "buy",
			State:     state,
			CreatedAt: t0,
			UpdatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := j.ListOrders(t0, t0.Add(time.Hour), "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "C", all[0].OrderID, "newest first")

	filled, err := j.ListOrders(t0, t0.Add(time.Hour), "filled")
	require.NoError(t, err)
	assert.Len(t, filled, 2)
}

func TestSQLiteFillsAreIdempotent(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)

	f1 := FillRecord{OrderID: "O1", FillID: "f1", Symbol: "XYZ", Side: "buy", Quantity: 40, Price: 10, Time: t0}
	f2 := FillRecord{OrderID: "O1", FillID: "f2", Symbol: "XYZ", Side: "buy", Quantity: 60, Price: 11, Time: t0.Add(time.Second)}
	require.NoError(t, j.RecordFill(f1))
	require.NoError(t, j.RecordFill(f1))
	require.NoError(t, j.RecordFill(f2))

	fills, err := j.ListFills("O1")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "f1", fills[0].FillID)
	assert.InDelta(t, 60, fills[1].Quantity, 1e-12)
}

func TestSQLiteTradesAndSummary(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)

	pnls := []float64{30, -10, 0, 20, -20}
	for i, pnl := range pnls {
		require.NoError(t, j.RecordTrade(TradeRecord{
			OrderID:     "O",
			Symbol:      "XYZ",
			Direction:   "long",
			Strategies:  []string{"tpr"},
			RealizedPnL: pnl,
			State:       "filled",
			CloseTime:   t0.Add(time.Duration(i) * time.Hour),
		}))
	}

	trades, err := j.ListTradesClosedBetween(t0, t0.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, []string{"tpr"}, trades[0].Strategies)
	assert.InDelta(t, -10, trades[1].RealizedPnL, 1e-12)

	s, err := j.Summarize(t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 5, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 50, s.GrossProfit, 1e-12)
	assert.InDelta(t, 30, s.GrossLoss, 1e-12)
	assert.InDelta(t, 20, s.NetPnL, 1e-12)
	assert.InDelta(t, 50.0/30.0, s.ProfitFactor, 1e-12)
	assert.InDelta(t, 0.5, s.WinRate, 1e-12)
}

func TestSQLiteEquity(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)

	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: t0, Balance: 100, Equity: 101}))
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: t0.Add(time.Hour), Balance: 100, Equity: 99}))

	eq, err := j.ListEquityBetween(t0, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, eq, 1)
	assert.InDelta(t, 101, eq[0].Equity, 1e-12)
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Summary{}, Summarize(nil))
}
