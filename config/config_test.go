package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
agent:
  symbols: [EUR_USD, USD_JPY]
  interval: 5m
risk:
  max_position_size: 50000
  per_trade_risk_pct: 0.005
  daily_loss_limit: 750
data:
  csv: bars.csv
`

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()

	assert.Equal(t, time.Minute, cfg.Agent.Interval)
	assert.Equal(t, "00:00", cfg.Agent.SessionReset)
	assert.Equal(t, []string{"pvg", "smc", "tpr"}, cfg.Strategies.Enabled)
	assert.Equal(t, 2, cfg.Fusion.MinStrategies)
	assert.Equal(t, 3, cfg.Execution.MaxSubmitAttempts)
	assert.True(t, cfg.Execution.CancelOnShutdown)
	assert.Equal(t, 0.2, cfg.Adapt.Alpha)
	assert.Equal(t, "paper", cfg.Broker.Kind)
	assert.Equal(t, 100_000.0, cfg.Broker.Paper.InitialBalance)
	assert.Equal(t, "sqlite", cfg.Journal.Kind)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Events.Kafka.Enabled)

	// never defaulted
	assert.Zero(t, cfg.Risk.MaxPositionSize)
	assert.Zero(t, cfg.Risk.DailyLossLimit)
	require.ErrorIs(t, cfg.Validate(), ErrFatalConfig)

	require.NoError(t, Example().Validate())
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"EUR_USD", "USD_JPY"}, cfg.Agent.Symbols)
	assert.Equal(t, 5*time.Minute, cfg.Agent.Interval)
	assert.Equal(t, 750.0, cfg.Risk.DailyLossLimit)
	// untouched sections keep defaults
	assert.Equal(t, 30*time.Second, cfg.Agent.TickTimeout)
	assert.Equal(t, 1.5, cfg.Risk.StopATRMultiple)
	assert.EqualValues(t, "veto", cfg.Risk.HedgePolicy)
}

func TestParseJSONFallback(t *testing.T) {
	t.Parallel()
	js := `{
	  "agent": {"symbols": ["EUR_USD"], "interval": 60000000000},
	  "risk": {"max_position_size": 1000, "per_trade_risk_pct": 0.01, "daily_loss_limit": 100},
	  "data": {"csv": "bars.csv"}
	}`
	cfg, err := Parse([]byte(js))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Agent.Interval)
	assert.Equal(t, 1000.0, cfg.Risk.MaxPositionSize)
}

func TestFatalConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing daily loss limit",
			yaml: "agent: {symbols: [EUR_USD]}\nrisk: {max_position_size: 1, per_trade_risk_pct: 0.01}\ndata: {csv: x.csv}\n",
			want: "daily_loss_limit",
		},
		{
			name: "risk pct above one",
			yaml: "agent: {symbols: [EUR_USD]}\nrisk: {max_position_size: 1, per_trade_risk_pct: 2, daily_loss_limit: 10}\ndata: {csv: x.csv}\n",
			want: "per_trade_risk_pct",
		},
		{
			name: "no symbols",
			yaml: "risk: {max_position_size: 1, per_trade_risk_pct: 0.01, daily_loss_limit: 10}\ndata: {csv: x.csv}\n",
			want: "Agent.Symbols",
		},
		{
			name: "oanda without token",
			yaml: "agent: {symbols: [EUR_USD]}\nrisk: {max_position_size: 1, per_trade_risk_pct: 0.01, daily_loss_limit: 10}\ndata: {source: oanda}\n",
			want: EnvOANDAToken,
		},
		{
			name: "unknown strategy",
			yaml: "agent: {symbols: [EUR_USD]}\nrisk: {max_position_size: 1, per_trade_risk_pct: 0.01, daily_loss_limit: 10}\ndata: {csv: x.csv}\nstrategies: {enabled: [pvg, magic]}\n",
			want: "magic",
		},
		{
			name: "kafka without brokers",
			yaml: "agent: {symbols: [EUR_USD]}\nrisk: {max_position_size: 1, per_trade_risk_pct: 0.01, daily_loss_limit: 10}\ndata: {csv: x.csv}\nevents: {kafka: {enabled: true}}\n",
			want: "Brokers",
		},
		{
			name: "bad session reset",
			yaml: "agent: {symbols: [EUR_USD], session_reset: '7pm'}\nrisk: {max_position_size: 1, per_trade_risk_pct: 0.01, daily_loss_limit: 10}\ndata: {csv: x.csv}\n",
			want: "session_reset",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrFatalConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseGarbage(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("agent: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tried YAML and JSON")
}

func TestEnvCredentials(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("OANDA_TOKEN=secret-token\nAUTOTRADER_KAFKA_BROKERS=k1:9092,k2:9092\n"), 0o600))

	t.Setenv(EnvOANDAToken, "")
	os.Unsetenv(EnvOANDAToken)
	t.Setenv(EnvKafkaBrokers, "")
	os.Unsetenv(EnvKafkaBrokers)
	t.Setenv(EnvRedisPassword, "hunter2")

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), env))

	cfg, err := Parse([]byte(minimalYAML + "  source: oanda\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.Data.OANDA.Token)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Kafka.Brokers)
	assert.Equal(t, "hunter2", cfg.Export.Password)
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	for _, name := range []string{"autotrader.yaml", "autotrader.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			want := Example()
			want.Agent.Interval = 15 * time.Minute
			require.NoError(t, want.SaveToFile(path))

			got, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, want.Agent, got.Agent)
			assert.Equal(t, want.Risk, got.Risk)
			assert.Equal(t, want.Strategies, got.Strategies)
			assert.Equal(t, want.Execution, got.Execution)
		})
	}

	_, err := LoadFromFile(filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
}
