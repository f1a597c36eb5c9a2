package fusion

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/strategies"
)

var now = time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

func sig(id string, dir strategies.Direction, conf float64) strategies.Signal {
	return strategies.Signal{StrategyID: id, Symbol: "EUR_USD", Time: now, Direction: dir, Confidence: conf}
}

func TestFuse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		cfg          Config
		weights      StaticWeights
		signals      []strategies.Signal
		wantDir      strategies.Direction
		wantStrength float64
		wantReason   string
	}{
		{
			name:       "no signals",
			cfg:        DefaultConfig(),
			wantDir:    strategies.Flat,
			wantReason: ReasonNoSignals,
		},
		{
			name:         "two long one short with equal weights",
			cfg:          DefaultConfig(),
			signals:      []strategies.Signal{sig("pvg", strategies.Long, 0.8), sig("smc", strategies.Long, 0.6), sig("tpr", strategies.Short, 0.5)},
			wantDir:      strategies.Long,
			wantStrength: 0.3,
		},
		{
			name:       "below minimum strategies",
			cfg:        DefaultConfig(),
			signals:    []strategies.Signal{sig("pvg", strategies.Long, 1)},
			wantDir:    strategies.Flat,
			wantReason: ReasonTooFew,
		},
		{
			name:       "duplicate ids count once",
			cfg:        DefaultConfig(),
			signals:    []strategies.Signal{sig("pvg", strategies.Long, 1), sig("pvg", strategies.Long, 0.9)},
			wantDir:    strategies.Flat,
			wantReason: ReasonTooFew,
		},
		{
			name:       "exact tie",
			cfg:        DefaultConfig(),
			signals:    []strategies.Signal{sig("pvg", strategies.Long, 0.5), sig("smc", strategies.Short, 0.5)},
			wantDir:    strategies.Flat,
			wantReason: ReasonNearZero,
		},
		{
			name:       "comparable disagreement",
			cfg:        DefaultConfig(),
			signals:    []strategies.Signal{sig("pvg", strategies.Long, 0.6), sig("smc", strategies.Short, 0.4)},
			wantDir:    strategies.Flat,
			wantReason: ReasonNoDominance,
		},
		{
			name:       "flat signals dilute dominance",
			cfg:        DefaultConfig(),
			signals:    []strategies.Signal{sig("pvg", strategies.Long, 0.9), sig("smc", strategies.Flat, 0.9), sig("tpr", strategies.Flat, 0.9)},
			wantDir:    strategies.Flat,
			wantReason: ReasonNoDominance,
		},
		{
			name:         "one flat signal still allows a side",
			cfg:          DefaultConfig(),
			signals:      []strategies.Signal{sig("pvg", strategies.Long, 0.9), sig("smc", strategies.Long, 0.9), sig("tpr", strategies.Flat, 0.9)},
			wantDir:      strategies.Long,
			wantStrength: 0.6,
		},
		{
			name:       "all weights zero",
			cfg:        DefaultConfig(),
			weights:    StaticWeights{"pvg": 0, "smc": 0},
			signals:    []strategies.Signal{sig("pvg", strategies.Short, 1), sig("smc", strategies.Short, 1)},
			wantDir:    strategies.Flat,
			wantReason: ReasonZeroWeight,
		},
		{
			name:         "weights tip the vote",
			cfg:          DefaultConfig(),
			weights:      StaticWeights{"pvg": 0.2, "smc": 1},
			signals:      []strategies.Signal{sig("pvg", strategies.Long, 1), sig("smc", strategies.Short, 1)},
			wantDir:      strategies.Short,
			wantStrength: 0.8 / 1.2,
		},
		{
			name:       "other symbols ignored",
			cfg:        DefaultConfig(),
			signals:    []strategies.Signal{{StrategyID: "pvg", Symbol: "USD_JPY", Direction: strategies.Long, Confidence: 1}},
			wantDir:    strategies.Flat,
			wantReason: ReasonWrongSymbols,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.cfg, tt.weights).Fuse("EUR_USD", now, tt.signals)
			assert.Equal(t, tt.wantDir, d.Direction)
			assert.InDelta(t, tt.wantStrength, d.Strength, 1e-9)
			assert.Equal(t, tt.wantReason, d.VetoReason)
			assert.Equal(t, "EUR_USD", d.Symbol)
			assert.Equal(t, tt.wantDir != strategies.Flat, d.Actionable())
			assert.NotEmpty(t, d.Rationale)
		})
	}
}

func TestFuseIsOrderIndependent(t *testing.T) {
	t.Parallel()
	signals := []strategies.Signal{
		sig("pvg", strategies.Long, 0.83),
		sig("smc", strategies.Short, 0.21),
		sig("tpr", strategies.Long, 0.47),
		sig("ema-cross", strategies.Flat, 0.1),
		sig("smc", strategies.Long, 0.9),
	}
	weights := StaticWeights{"pvg": 0.7, "smc": 0.3, "tpr": 0.9, "ema-cross": 0.5}
	f := New(DefaultConfig(), weights)
	want := f.Fuse("EUR_USD", now, signals)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]strategies.Signal(nil), signals...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := f.Fuse("EUR_USD", now, shuffled)
		require.Equal(t, want.Direction, got.Direction)
		require.Equal(t, want.Strength, got.Strength)
		require.Equal(t, want.StrategyIDs(), got.StrategyIDs())
	}
	assert.Equal(t, []string{"ema-cross", "pvg", "smc", "tpr"}, want.StrategyIDs())
}

func TestStrengthStaysInRange(t *testing.T) {
	t.Parallel()
	f := New(Config{MinStrategies: 1, Epsilon: 0, Dominance: 0.5}, StaticWeights{"pvg": 3})
	d := f.Fuse("EUR_USD", now, []strategies.Signal{sig("pvg", strategies.Short, 1)})
	assert.Equal(t, strategies.Short, d.Direction)
	assert.Equal(t, 1.0, d.Strength)
}
