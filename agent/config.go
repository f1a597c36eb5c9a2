package agent

import (
	"fmt"
	"time"
)

type Config struct {
	Symbols []string `yaml:"symbols" json:"symbols" validate:"min=1,dive,required"`
	// Interval between ticks when bars are polled.
	Interval time.Duration `yaml:"interval" json:"interval" default:"1m" validate:"gt=0"`
	// Push ticks on every bar from a source that can stream them.
	Push bool `yaml:"push" json:"push"`
	// Window is the number of bars fetched per tick; zero uses the
	// strategies' configured window.
	Window      int           `yaml:"window" json:"window" validate:"gte=0"`
	TickTimeout time.Duration `yaml:"tick_timeout" json:"tick_timeout" default:"30s" validate:"gt=0"`
	// SessionReset is the UTC time of day (HH:MM) the daily loss resets.
	SessionReset     string        `yaml:"session_reset" json:"session_reset" default:"00:00"`
	DecayInterval    time.Duration `yaml:"decay_interval" json:"decay_interval" default:"1h"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval" json:"snapshot_interval" default:"30s"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" default:"15s"`
	StartPaused      bool          `yaml:"start_paused" json:"start_paused"`
}

func DefaultConfig() Config {
	return Config{
		Interval:         time.Minute,
		TickTimeout:      30 * time.Second,
		SessionReset:     "00:00",
		DecayInterval:    time.Hour,
		SnapshotInterval: 30 * time.Second,
		ShutdownTimeout:  15 * time.Second,
	}
}

// ParseSessionReset parses an HH:MM time of day into an offset from
// midnight UTC.
func ParseSessionReset(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("session_reset %q: want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// nextBoundary returns the first session boundary strictly after now.
func nextBoundary(now time.Time, offset time.Duration) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	b := day.Add(offset)
	if !b.After(now) {
		b = b.AddDate(0, 0, 1)
	}
	return b
}
