package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ReplaySource serves pre-loaded bars as if they were arriving live. Each
// symbol has a cursor; GetBars only sees bars up to the cursor and Advance or
// Subscribe moves it forward.
type ReplaySource struct {
	mu     sync.Mutex
	bars   map[string][]Bar
	cursor map[string]int
	pace   time.Duration
	hooks  []func(Bar)
}

// NewReplaySource groups bars by symbol, orders them by time and drops
// duplicate timestamps (first one wins).
func NewReplaySource(bars []Bar, pace time.Duration) *ReplaySource {
	by := make(map[string][]Bar)
	for _, b := range bars {
		by[b.Symbol] = append(by[b.Symbol], b)
	}
	for sym, list := range by {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Time.Before(list[j].Time) })
		dedup := list[:0]
		for i, b := range list {
			if i > 0 && b.Time.Equal(dedup[len(dedup)-1].Time) {
				continue
			}
			dedup = append(dedup, b)
		}
		by[sym] = dedup
	}
	return &ReplaySource{
		bars:   by,
		cursor: make(map[string]int),
		pace:   pace,
	}
}

// OnBar registers fn to be called with every bar the cursor passes.
func (r *ReplaySource) OnBar(fn func(Bar)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *ReplaySource) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.bars))
	for s := range r.bars {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (r *ReplaySource) GetBars(ctx context.Context, symbol string, n int) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("replay: unknown symbol %q", symbol)
	}
	end := r.cursor[symbol]
	start := end - n
	if start < 0 {
		start = 0
	}
	out := make([]Bar, end-start)
	copy(out, list[start:end])
	return out, nil
}

// Advance moves symbol's cursor by one bar and returns that bar.
func (r *ReplaySource) Advance(symbol string) (Bar, bool) {
	r.mu.Lock()
	list := r.bars[symbol]
	idx := r.cursor[symbol]
	if idx >= len(list) {
		r.mu.Unlock()
		return Bar{}, false
	}
	b := list[idx]
	r.cursor[symbol] = idx + 1
	hooks := append([]func(Bar){}, r.hooks...)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(b)
	}
	return b, true
}

// Skip advances symbol's cursor by n bars, typically to pre-fill the
// strategy warmup window before trading starts.
func (r *ReplaySource) Skip(symbol string, n int) {
	for i := 0; i < n; i++ {
		if _, ok := r.Advance(symbol); !ok {
			return
		}
	}
}

func (r *ReplaySource) Subscribe(ctx context.Context, symbol string) (<-chan Bar, error) {
	r.mu.Lock()
	_, ok := r.bars[symbol]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("replay: unknown symbol %q", symbol)
	}

	ch := make(chan Bar)
	go func() {
		defer close(ch)
		for {
			b, ok := r.Advance(symbol)
			if !ok {
				return
			}
			select {
			case ch <- b:
			case <-ctx.Done():
				return
			}
			if r.pace > 0 {
				select {
				case <-time.After(r.pace):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// LoadBarsCSV reads rows of the form
//
//	time,symbol,open,high,low,close,volume
//
// where time is RFC3339 or unix seconds. A header row is allowed and
// short rows are skipped.
func LoadBarsCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadBarsCSV(f)
}

func ReadBarsCSV(rd io.Reader) ([]Bar, error) {
	r := csv.NewReader(rd)
	r.FieldsPerRecord = -1

	var (
		out      []Bar
		sawFirst bool
		line     int
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line++

		if !sawFirst {
			sawFirst = true
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		b, ok, err := parseBarRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ok {
			out = append(out, b)
		}
	}
}

func parseBarRow(row []string) (Bar, bool, error) {
	if len(row) < 7 {
		return Bar{}, false, nil
	}
	ts := strings.TrimSpace(row[0])
	sym := strings.TrimSpace(row[1])
	if ts == "" || sym == "" {
		return Bar{}, false, nil
	}

	t, err := parseTime(ts)
	if err != nil {
		return Bar{}, false, err
	}

	var vals [5]float64
	for i := range vals {
		s := strings.TrimSpace(row[2+i])
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Bar{}, false, fmt.Errorf("bad number %q: %w", s, err)
		}
		vals[i] = v
	}

	return Bar{
		Symbol: sym,
		Time:   t,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, true, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}

// WriteBarsCSV writes bars in the format ReadBarsCSV reads, with a header.
func WriteBarsCSV(w io.Writer, bars []Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "symbol", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	num := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	for _, b := range bars {
		row := []string{
			b.Time.UTC().Format(time.RFC3339Nano),
			b.Symbol,
			num(b.Open), num(b.High), num(b.Low), num(b.Close), num(b.Volume),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
