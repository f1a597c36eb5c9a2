package strategies

import (
	"fmt"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

// Direction is the side a signal or decision points to.
type Direction int

const (
	Flat Direction = iota
	Long
	Short
)

// Sign returns +1 for Long, -1 for Short and 0 for Flat.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	}
	return 0
}

// Opposite returns the other side. Flat is its own opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	}
	return Flat
}

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	}
	return "flat"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	dir, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = dir
	return nil
}

// ParseDirection parses "long", "short" or "flat" (also "buy", "sell", "hold").
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	case "flat", "hold", "":
		return Flat, nil
	}
	return Flat, fmt.Errorf("unknown direction %q", s)
}

// Signal is one strategy's opinion on the latest bar of a window.
type Signal struct {
	StrategyID string             `json:"strategy_id"`
	Symbol     string             `json:"symbol"`
	Time       time.Time          `json:"time"`
	Direction  Direction          `json:"direction"`
	Confidence float64            `json:"confidence"`
	Metadata   map[string]float64 `json:"metadata,omitempty"`
}

func newSignal(id string, window []market.Bar, dir Direction, confidence float64, meta map[string]float64) Signal {
	last := market.Last(window)
	return Signal{
		StrategyID: id,
		Symbol:     last.Symbol,
		Time:       last.Time,
		Direction:  dir,
		Confidence: clamp01(confidence),
		Metadata:   meta,
	}
}

func clamp01(x float64) float64 {
	if x != x || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func directionOf(x float64) Direction {
	switch {
	case x > 0:
		return Long
	case x < 0:
		return Short
	}
	return Flat
}
