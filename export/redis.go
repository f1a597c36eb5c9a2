// Package export pushes agent snapshots to Redis, where external dashboards
// read the latest state and subscribe to updates.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/autotrader/agent"
)

type Config struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Addr     string        `yaml:"addr" json:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password string        `yaml:"password" json:"-"`
	DB       int           `yaml:"db" json:"db" validate:"gte=0"`
	Key      string        `yaml:"key" json:"key" default:"autotrader:snapshot"`
	Channel  string        `yaml:"channel" json:"channel" default:"autotrader:snapshots"`
	TTL      time.Duration `yaml:"ttl" json:"ttl" default:"5m"`
}

// ErrNoSnapshot is returned by Latest when nothing was exported yet or the
// last snapshot expired.
var ErrNoSnapshot = errors.New("no snapshot exported")

// store is the subset of redis.Cmdable the exporter uses.
type store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisExporter writes each snapshot as JSON under Key with a TTL and
// announces it on Channel. An empty Channel disables the announcement.
type RedisExporter struct {
	cfg    Config
	store  store
	closer func() error
	log    zerolog.Logger
}

func NewRedisExporter(cfg Config, log zerolog.Logger) *RedisExporter {
	cli := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	e := newExporter(cfg, cli, log)
	e.closer = cli.Close
	return e
}

func newExporter(cfg Config, s store, log zerolog.Logger) *RedisExporter {
	if cfg.Key == "" {
		cfg.Key = "autotrader:snapshot"
	}
	return &RedisExporter{
		cfg:   cfg,
		store: s,
		log:   log.With().Str("component", "export").Logger(),
	}
}

// Ping checks the connection.
func (e *RedisExporter) Ping(ctx context.Context) error {
	if p, ok := e.store.(interface {
		Ping(ctx context.Context) *redis.StatusCmd
	}); ok {
		if err := p.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", e.cfg.Addr, err)
		}
	}
	return nil
}

// Export implements agent.Exporter.
func (e *RedisExporter) Export(ctx context.Context, s agent.Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := e.store.Set(ctx, e.cfg.Key, b, e.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", e.cfg.Key, err)
	}
	if e.cfg.Channel != "" {
		if err := e.store.Publish(ctx, e.cfg.Channel, b).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", e.cfg.Channel, err)
		}
	}
	e.log.Debug().Int("bytes", len(b)).Str("key", e.cfg.Key).Msg("snapshot exported")
	return nil
}

// Latest reads back the last exported snapshot.
func (e *RedisExporter) Latest(ctx context.Context) (agent.Snapshot, error) {
	b, err := e.store.Get(ctx, e.cfg.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return agent.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return agent.Snapshot{}, fmt.Errorf("redis get %s: %w", e.cfg.Key, err)
	}
	var s agent.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return agent.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

func (e *RedisExporter) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer()
}
