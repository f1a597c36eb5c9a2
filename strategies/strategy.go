package strategies

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rustyeddy/autotrader/market"
)

// Strategy turns a window of closed bars into a directional signal.
// Evaluate returns ok=false when the window is too short; it never errors.
type Strategy interface {
	ID() string
	Evaluate(window []market.Bar) (Signal, bool)
}

// HistoryNeeder is implemented by strategies that know the shortest window
// they can evaluate.
type HistoryNeeder interface {
	MinBars() int
}

// MinBars returns the longest history any of strats needs. Strategies that
// do not implement HistoryNeeder count as zero.
func MinBars(strats []Strategy) int {
	n := 0
	for _, s := range strats {
		if h, ok := s.(HistoryNeeder); ok {
			n = max(n, h.MinBars())
		}
	}
	return n
}

// Factory builds a strategy from the strategies config section.
type Factory func(cfg Config) Strategy

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

func init() {
	Register("pvg", func(cfg Config) Strategy { return NewPVG(cfg.PVG) })
	Register("smc", func(cfg Config) Strategy { return NewSMC(cfg.SMC) })
	Register("tpr", func(cfg Config) Strategy { return NewTPR(cfg.TPR) })
	Register("ema-cross", func(cfg Config) Strategy { return NewEMACross(cfg.EMACross) })
}

// Register makes a strategy available by id. Registering an id twice
// replaces the earlier factory.
func Register(id string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[normalize(id)] = f
}

// Registered returns the known strategy ids in sorted order.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// New builds the strategy registered under id.
func New(id string, cfg Config) (Strategy, error) {
	mu.RLock()
	f, ok := registry[normalize(id)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", id, strings.Join(Registered(), ", "))
	}
	return f(cfg), nil
}

// Build returns the enabled strategies in configuration order.
func Build(cfg Config) ([]Strategy, error) {
	seen := make(map[string]bool)
	var out []Strategy
	for _, id := range cfg.Enabled {
		if seen[normalize(id)] {
			return nil, fmt.Errorf("strategy %q enabled twice", id)
		}
		seen[normalize(id)] = true

		s, err := New(id, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
