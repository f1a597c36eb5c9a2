// Package events carries order transitions, fills, decisions and control
// actions from the components that produce them to in-process handlers and
// external sinks.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/autotrader/internal/id"
)

type Kind string

const (
	KindOrderTransition Kind = "order.transition"
	KindOrderFill       Kind = "order.fill"
	KindOrderRetry      Kind = "order.retry"
	KindDecision        Kind = "decision"
	KindVeto            Kind = "risk.veto"
	KindOutcome         Kind = "trade.outcome"
	KindHalt            Kind = "risk.halt"
	KindWeights         Kind = "adapt.weights"
	KindControl         Kind = "agent.control"
	KindSession         Kind = "risk.session"
	KindEquity          Kind = "account.equity"
)

type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// Handler consumes events synchronously on the publishing goroutine.
type Handler func(Event)

// Sink receives events asynchronously, e.g. a message broker.
type Sink interface {
	Write(ctx context.Context, e Event) error
	Close() error
}

const historySize = 256

type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	order    []int
	nextID   int
	sinks    []*asyncSink
	closed   bool

	histMu  sync.Mutex
	history []Event
	next    int

	log zerolog.Logger
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[int]Handler),
		history:  make([]Event, 0, historySize),
		log:      log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hid := b.nextID
	b.nextID++
	b.handlers[hid] = h
	b.order = append(b.order, hid)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, hid)
		for i, o := range b.order {
			if o == hid {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers e to every handler in subscription order, then queues it
// for the sinks. A full sink queue drops the event for that sink.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = id.New()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b.remember(e)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(b.order))
	for _, hid := range b.order {
		handlers = append(handlers, b.handlers[hid])
	}
	for _, s := range b.sinks {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			b.log.Warn().Str("kind", string(e.Kind)).Str("sink", s.name).Msg("sink queue full, dropping event")
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.call(h, e)
	}
}

func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("kind", string(e.Kind)).Str("panic", fmt.Sprint(r)).Msg("event handler panicked")
		}
	}()
	h(e)
}

func (b *Bus) remember(e Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	if len(b.history) < historySize {
		b.history = append(b.history, e)
		return
	}
	b.history[b.next] = e
	b.next = (b.next + 1) % historySize
}

// Recent returns up to n of the latest events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	ordered := make([]Event, 0, len(b.history))
	if len(b.history) < historySize {
		ordered = append(ordered, b.history...)
	} else {
		ordered = append(ordered, b.history[b.next:]...)
		ordered = append(ordered, b.history[:b.next]...)
	}
	if n > 0 && n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

type asyncSink struct {
	name    string
	sink    Sink
	ch      chan Event
	done    chan struct{}
	dropped atomic.Int64
}

// AddSink starts a goroutine that forwards events to s through a queue of
// the given size.
func (b *Bus) AddSink(name string, s Sink, queue int) {
	if queue <= 0 {
		queue = 1024
	}
	as := &asyncSink{
		name: name,
		sink: s,
		ch:   make(chan Event, queue),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.sinks = append(b.sinks, as)
	b.mu.Unlock()

	go func() {
		defer close(as.done)
		for e := range as.ch {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := as.sink.Write(ctx, e); err != nil {
				b.log.Warn().Err(err).Str("sink", name).Str("kind", string(e.Kind)).Msg("sink write failed")
			}
			cancel()
		}
	}()
}

// Close stops accepting events, drains the sink queues and closes the sinks.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sinks := b.sinks
	for _, s := range sinks {
		close(s.ch)
	}
	b.mu.Unlock()

	var firstErr error
	for _, s := range sinks {
		<-s.done
		if err := s.sink.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close sink %s: %w", s.name, err)
		}
	}
	return firstErr
}
