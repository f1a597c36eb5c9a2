package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/agent"
	"github.com/rustyeddy/autotrader/risk"
)

type memStore struct {
	values    map[string]string
	ttls      map[string]time.Duration
	published map[string][]string
	failSet   error
}

func newMemStore() *memStore {
	return &memStore{
		values:    map[string]string{},
		ttls:      map[string]time.Duration{},
		published: map[string][]string{},
	}
}

func str(v any) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	}
	return ""
}

func (m *memStore) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if m.failSet != nil {
		cmd.SetErr(m.failSet)
		return cmd
	}
	m.values[key] = str(value)
	m.ttls[key] = ttl
	cmd.SetVal("OK")
	return cmd
}

func (m *memStore) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	v, ok := m.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (m *memStore) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	m.published[channel] = append(m.published[channel], str(message))
	cmd.SetVal(1)
	return cmd
}

func testConfig() Config {
	return Config{Key: "at:snap", Channel: "at:updates", TTL: time.Minute}
}

func TestExportRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ms := newMemStore()
	e := newExporter(testConfig(), ms, zerolog.Nop())

	_, err := e.Latest(ctx)
	require.ErrorIs(t, err, ErrNoSnapshot)

	snap := agent.Snapshot{
		Time:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Paused:      true,
		PauseReason: "maintenance",
		Risk:        risk.Profile{DailyLossLimit: 500, CurrentDailyPnL: -120},
	}
	require.NoError(t, e.Export(ctx, snap))

	assert.Equal(t, time.Minute, ms.ttls["at:snap"])
	require.Len(t, ms.published["at:updates"], 1)
	assert.Equal(t, ms.values["at:snap"], ms.published["at:updates"][0])

	got, err := e.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, got.Time.Equal(snap.Time))
	assert.True(t, got.Paused)
	assert.Equal(t, "maintenance", got.PauseReason)
	assert.Equal(t, -120.0, got.Risk.CurrentDailyPnL)
}

func TestExportWithoutChannel(t *testing.T) {
	t.Parallel()
	ms := newMemStore()
	cfg := testConfig()
	cfg.Channel = ""
	e := newExporter(cfg, ms, zerolog.Nop())

	require.NoError(t, e.Export(context.Background(), agent.Snapshot{}))
	assert.Empty(t, ms.published)
	assert.Contains(t, ms.values, "at:snap")
}

func TestExportErrors(t *testing.T) {
	t.Parallel()
	ms := newMemStore()
	ms.failSet = errors.New("connection refused")
	e := newExporter(testConfig(), ms, zerolog.Nop())

	err := e.Export(context.Background(), agent.Snapshot{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, ms.published)

	ms.values["at:snap"] = "{not json"
	_, err = e.Latest(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSnapshot)
	assert.NoError(t, e.Close())
}
