package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/fusion"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/strategies"
)

// XYZ is not in market.Instruments so the configured lot step applies.
const sym = "XYZ"

func newTestManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxPositionSize = 1_000_000
	cfg.PerTradeRiskPct = 0.01
	cfg.DailyLossLimit = 100_000
	cfg.StopATRMultiple = 1
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func decision(dir strategies.Direction) fusion.Decision {
	return fusion.Decision{Symbol: sym, Direction: dir, Strength: 0.5}
}

func proposal(atr float64) Proposal {
	return Proposal{Entry: 100, ATR: atr, Equity: 100_000}
}

func TestNewManagerRequiresLimits(t *testing.T) {
	t.Parallel()
	_, err := NewManager(DefaultConfig(), zerolog.Nop())
	assert.ErrorContains(t, err, "max_position_size")

	cfg := DefaultConfig()
	cfg.MaxPositionSize, cfg.PerTradeRiskPct = 10, 0.01
	_, err = NewManager(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "daily_loss_limit")
}

func TestHaltedAtDailyLossLimitVetoesEverything(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, func(c *Config) { c.DailyLossLimit = 100 })
	m.RecordRealized(-100)

	for _, dir := range []strategies.Direction{strategies.Long, strategies.Short, strategies.Flat} {
		d := decision(dir)
		d.Strength = 1
		v := m.Evaluate(d, proposal(1))
		assert.False(t, v.Approved, dir.String())
		assert.Equal(t, CodeHalted, v.Code(), dir.String())
		assert.Empty(t, v.ReservationID)
	}
	assert.True(t, m.Snapshot().Halted)

	// a winning fill does not lift the halt before the session ends
	m.RecordRealized(50)
	assert.True(t, m.Halted(sym))

	m.ResetSession(time.Now())
	v := m.Evaluate(decision(strategies.Long), proposal(1))
	assert.True(t, v.Approved)
}

func TestFlatDecisionVetoed(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	v := m.Evaluate(decision(strategies.Flat), proposal(1))
	assert.Equal(t, CodeNoDirection, v.Code())
}

func TestSizingMonotoneInStopDistance(t *testing.T) {
	t.Parallel()
	prev := -1.0
	for atr := 0.25; atr <= 20; atr += 0.25 {
		m := newTestManager(t, nil)
		v := m.Evaluate(decision(strategies.Long), proposal(atr))
		require.True(t, v.Approved, "atr %v: %s", atr, v.Reason())
		if prev >= 0 {
			assert.LessOrEqual(t, v.Quantity, prev, "atr %v", atr)
		}
		prev = v.Quantity
	}
}

func TestApprovedVerdictLevels(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	long := m.Evaluate(decision(strategies.Long), proposal(2))
	require.True(t, long.Approved)
	assert.Equal(t, ActionOpen, long.Action)
	// 100000 * 0.01 / 2
	assert.Equal(t, 500.0, long.Quantity)
	assert.Equal(t, 98.0, long.StopPrice)
	assert.Equal(t, 104.0, long.TakePrice)
	assert.InDelta(t, 1000.0, long.RiskAmount, 1e-9)
	assert.NotEmpty(t, long.ReservationID)

	m2 := newTestManager(t, nil)
	short := m2.Evaluate(decision(strategies.Short), proposal(2))
	require.True(t, short.Approved)
	assert.Equal(t, 102.0, short.StopPrice)
	assert.Equal(t, 96.0, short.TakePrice)
}

func TestMultipliersScaleRiskAndStop(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	p := proposal(2)
	p.RiskMultiplier = 0.5
	p.StopMultiplier = 2
	v := m.Evaluate(decision(strategies.Long), p)
	require.True(t, v.Approved)
	assert.Equal(t, 4.0, v.StopDistance)
	// 100000 * 0.005 / 4
	assert.Equal(t, 125.0, v.Quantity)
}

func TestClampToMaxPositionSize(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, func(c *Config) { c.MaxPositionSize = 300 })

	v := m.Evaluate(decision(strategies.Long), proposal(2))
	require.True(t, v.Approved)
	assert.Equal(t, 300.0, v.Quantity)
	require.Len(t, v.Adjustments, 1)
	assert.Equal(t, CodeClampMaxPosition, v.Adjustments[0].Code)

	// the reservation uses up the room
	v = m.Evaluate(decision(strategies.Long), proposal(2))
	assert.Equal(t, CodeSizeNonPositive, v.Code())
}

func TestClampToRemainingDailyBudget(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, func(c *Config) { c.DailyLossLimit = 300 })
	m.RecordRealized(-100)

	// budget 200 / stop 2 = 100 units
	v := m.Evaluate(decision(strategies.Long), proposal(2))
	require.True(t, v.Approved)
	assert.Equal(t, 100.0, v.Quantity)
	require.Len(t, v.Adjustments, 1)
	assert.Equal(t, CodeClampDailyBudget, v.Adjustments[0].Code)

	// committed risk leaves nothing
	v2 := m.Evaluate(decision(strategies.Long), proposal(2))
	assert.Equal(t, CodeSizeNonPositive, v2.Code())

	m.Release(v.ReservationID)
	v3 := m.Evaluate(decision(strategies.Long), proposal(2))
	assert.True(t, v3.Approved)
}

func TestOpposingPositionPolicy(t *testing.T) {
	t.Parallel()

	veto := newTestManager(t, nil)
	_, err := veto.ApplyFill(Fill{Symbol: sym, Direction: strategies.Long, Quantity: 100, Price: 100})
	require.NoError(t, err)
	v := veto.Evaluate(decision(strategies.Short), proposal(1))
	assert.Equal(t, CodeOpposing, v.Code())

	closeFirst := newTestManager(t, func(c *Config) { c.HedgePolicy = HedgeCloseFirst })
	_, err = closeFirst.ApplyFill(Fill{Symbol: sym, Direction: strategies.Long, Quantity: 100, Price: 100})
	require.NoError(t, err)
	v = closeFirst.Evaluate(decision(strategies.Short), proposal(1))
	require.True(t, v.Approved)
	assert.Equal(t, ActionClose, v.Action)
	assert.Equal(t, 100.0, v.Quantity)
	assert.Empty(t, v.ReservationID)
}

func TestPendingOpposingReservationVetoes(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, func(c *Config) { c.HedgePolicy = HedgeCloseFirst })

	long := m.Evaluate(decision(strategies.Long), proposal(1))
	require.True(t, long.Approved)

	v := m.Evaluate(decision(strategies.Short), proposal(1))
	assert.Equal(t, CodeOpposing, v.Code())
}

func TestSymbolHalt(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	m.HaltSymbol(sym, "submit failed")

	v := m.Evaluate(decision(strategies.Long), proposal(1))
	assert.Equal(t, CodeSymbolHalted, v.Code())

	other := decision(strategies.Long)
	other.Symbol = "ABC"
	assert.True(t, m.Evaluate(other, proposal(1)).Approved)

	m.UnhaltSymbol(sym)
	assert.True(t, m.Evaluate(decision(strategies.Long), proposal(1)).Approved)
}

func TestManualHalt(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	m.Halt("operator")
	v := m.Evaluate(decision(strategies.Long), proposal(1))
	assert.Equal(t, CodeHalted, v.Code())
	assert.Contains(t, v.Reason(), "operator")

	m.Unhalt()
	assert.True(t, m.Evaluate(decision(strategies.Long), proposal(1)).Approved)
}

func TestApplyFill(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		m := newTestManager(t, nil)
		_, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Long, Quantity: 100, Price: 100, Strategies: []string{"pvg", "smc"}})
		require.NoError(t, err)

		res, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Short, Quantity: 100, Price: 101})
		require.NoError(t, err)
		assert.InDelta(t, 100.0, res.Realized, 1e-9)
		assert.True(t, res.Closed)
		assert.Equal(t, []string{"pvg", "smc"}, res.Strategies)

		_, ok := m.Position(sym)
		assert.False(t, ok)
		assert.InDelta(t, 100.0, m.Snapshot().CurrentDailyPnL, 1e-9)
	})

	t.Run("partial close", func(t *testing.T) {
		m := newTestManager(t, nil)
		_, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Long, Quantity: 100, Price: 100})
		require.NoError(t, err)

		res, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Short, Quantity: 40, Price: 99})
		require.NoError(t, err)
		assert.InDelta(t, -40.0, res.Realized, 1e-9)
		assert.False(t, res.Closed)
		assert.Equal(t, 60.0, res.Position.Quantity)
		assert.Equal(t, 100.0, res.Position.AvgEntryPrice)
	})

	t.Run("flip", func(t *testing.T) {
		m := newTestManager(t, nil)
		_, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Long, Quantity: 100, Price: 100})
		require.NoError(t, err)

		res, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Short, Quantity: 150, Price: 102})
		require.NoError(t, err)
		assert.InDelta(t, 200.0, res.Realized, 1e-9)
		assert.True(t, res.Closed)
		assert.Equal(t, -50.0, res.Position.Quantity)
		assert.Equal(t, 102.0, res.Position.AvgEntryPrice)
		assert.Greater(t, res.Position.StopPrice, 102.0)
	})

	t.Run("averaging in", func(t *testing.T) {
		m := newTestManager(t, nil)
		_, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Short, Quantity: 10, Price: 100, Strategies: []string{"pvg"}})
		require.NoError(t, err)
		res, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Short, Quantity: 30, Price: 104, Strategies: []string{"tpr"}})
		require.NoError(t, err)
		assert.Equal(t, -40.0, res.Position.Quantity)
		assert.InDelta(t, 103.0, res.Position.AvgEntryPrice, 1e-9)
		assert.Equal(t, []string{"pvg", "tpr"}, res.Position.Strategies)
	})

	t.Run("invalid", func(t *testing.T) {
		m := newTestManager(t, nil)
		_, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Long, Quantity: 0, Price: 100})
		assert.Error(t, err)
		_, err = m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Flat, Quantity: 1, Price: 100})
		assert.Error(t, err)
	})
}

func TestFillConsumesReservation(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, func(c *Config) {
		c.StopMethod = StopPercent
		c.StopPct = 0.02
	})

	v := m.Evaluate(decision(strategies.Long), proposal(0))
	require.True(t, v.Approved)
	assert.Equal(t, 1, m.Snapshot().Reservations)

	res, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Long, Quantity: v.Quantity, Price: 100, ReservationID: v.ReservationID})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Snapshot().Reservations)
	assert.InDelta(t, 98.0, res.Position.StopPrice, 1e-9)
	assert.InDelta(t, 104.0, res.Position.TakePrice, 1e-9)
}

func TestTrailingStopAndExits(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, func(c *Config) {
		c.StopMethod = StopPercent
		c.StopPct = 0.02
		c.TrailPct = 0.02
	})

	v := m.Evaluate(decision(strategies.Long), proposal(0))
	require.True(t, v.Approved)
	_, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Long, Quantity: 10, Price: 100, ReservationID: v.ReservationID, Strategies: []string{"smc"}})
	require.NoError(t, err)

	m.Mark(sym, 103)
	pos, _ := m.Position(sym)
	assert.InDelta(t, 100.94, pos.StopPrice, 1e-9)
	assert.InDelta(t, 30.0, pos.UnrealizedPnL, 1e-9)

	// the stop never loosens
	m.Mark(sym, 101)
	pos, _ = m.Position(sym)
	assert.InDelta(t, 100.94, pos.StopPrice, 1e-9)

	// take profit at 104 first
	exits := m.CheckExits(market.Bar{Symbol: sym, High: 104.5, Low: 101, Close: 104})
	require.Len(t, exits, 1)
	assert.Equal(t, ExitTakeProfit, exits[0].Reason)
	assert.Equal(t, strategies.Short, exits[0].Direction)
	assert.Equal(t, 10.0, exits[0].Quantity)
	assert.Equal(t, []string{"smc"}, exits[0].Strategies)

	// reported once until cleared
	assert.Empty(t, m.CheckExits(market.Bar{Symbol: sym, High: 104.5, Low: 100, Close: 100}))
	m.ClearExit(sym)
	exits = m.CheckExits(market.Bar{Symbol: sym, High: 101, Low: 100, Close: 100.5})
	require.Len(t, exits, 1)
	assert.Equal(t, ExitStopLoss, exits[0].Reason)
	assert.InDelta(t, 100.94, exits[0].Price, 1e-9)
}

func TestShortTrailingStop(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, func(c *Config) { c.TrailPct = 0.02 })
	_, err := m.ApplyFill(Fill{Symbol: sym, Direction: strategies.Short, Quantity: 10, Price: 100})
	require.NoError(t, err)

	pos, _ := m.Position(sym)
	assert.InDelta(t, 102.0, pos.StopPrice, 1e-9)

	m.Mark(sym, 95)
	pos, _ = m.Position(sym)
	assert.InDelta(t, 96.9, pos.StopPrice, 1e-9)

	exits := m.CheckExits(market.Bar{Symbol: sym, High: 97, Low: 95, Close: 96.5})
	require.Len(t, exits, 1)
	assert.Equal(t, ExitStopLoss, exits[0].Reason)
	assert.Equal(t, strategies.Long, exits[0].Direction)
}

func TestOverride(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	require.NoError(t, m.Override("per_trade_risk_pct", 0.002))
	assert.Equal(t, 0.002, m.PerTradeRiskPct())
	require.NoError(t, m.Override("max_position_size", 42))
	assert.Equal(t, 42.0, m.Snapshot().MaxPositionSize)

	assert.Error(t, m.Override("per_trade_risk_pct", 2))
	assert.Error(t, m.Override("per_trade_risk_pct", MaxPerTradeRiskPct*1.2))
	assert.Equal(t, 0.002, m.PerTradeRiskPct())
	assert.Error(t, m.Override("max_position_size", -1))
	assert.Error(t, m.Override("leverage", 10))
	assert.Error(t, m.Override("trail_pct", 1))
}

func TestPerTradeRiskHardBounds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pct  float64
		ok   bool
	}{
		{"floor", MinPerTradeRiskPct, true},
		{"ceiling", MaxPerTradeRiskPct, true},
		{"below floor", MinPerTradeRiskPct / 2, false},
		{"above ceiling", 0.2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			cfg.MaxPositionSize, cfg.DailyLossLimit = 10, 100
			cfg.PerTradeRiskPct = tt.pct
			_, err := NewManager(cfg, zerolog.Nop())
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, "per_trade_risk_pct")
			}
		})
	}
}

func TestConcurrentEvaluationsNeverExceedBudget(t *testing.T) {
	t.Parallel()
	// each approval commits 100 of a 1000 budget
	m := newTestManager(t, func(c *Config) {
		c.DailyLossLimit = 1000
		c.PerTradeRiskPct = 0.001
	})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := m.Evaluate(decision(strategies.Long), proposal(1))
			if v.Approved {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, approved)
	assert.InDelta(t, 1000.0, m.Snapshot().CommittedRisk, 1e-6)
}
