// Package progress relays evaluation progress from a worker goroutine to an
// observer without ever blocking the worker.
package progress

import (
	"context"
	"sync"
	"sync/atomic"
)

// Event reports the position of a running evaluation.
type Event struct {
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
	ID         string `json:"id"`
}

// NewEvent builds an event with Percentage = floor(100*current/total).
func NewEvent(current, total int, id string) Event {
	pct := 0
	if total > 0 {
		pct = 100 * current / total
	}
	return Event{Current: current, Total: total, Percentage: pct, ID: id}
}

// Sink receives progress events. Post must not block.
type Sink interface {
	Post(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Post calls f.
func (f SinkFunc) Post(ev Event) { f(ev) }

// Discard is a Sink that drops everything.
var Discard Sink = SinkFunc(func(Event) {})

type multi []Sink

func (m multi) Post(ev Event) {
	for _, s := range m {
		s.Post(ev)
	}
}

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

// Func returns an evaluation progress callback that posts to s.
func Func(s Sink) func(current, total int, id string) {
	return func(current, total int, id string) {
		s.Post(NewEvent(current, total, id))
	}
}

// Bridge is a bounded, drop-oldest relay. When the buffer is full the oldest
// queued event is discarded, so the newest event (and the final one of a run)
// always gets a slot.
type Bridge struct {
	mu       sync.Mutex
	ch       chan Event
	closed   bool
	detached atomic.Bool
	dropped  atomic.Int64
}

// NewBridge creates a bridge that buffers up to size events.
func NewBridge(size int) *Bridge {
	if size < 1 {
		size = 1
	}
	return &Bridge{ch: make(chan Event, size)}
}

// Post enqueues ev. It never blocks and is a no-op after Close or Detach.
func (b *Bridge) Post(ev Event) {
	if b.detached.Load() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for {
		select {
		case b.ch <- ev:
			return
		default:
		}
		select {
		case <-b.ch:
			b.dropped.Add(1)
		default:
		}
	}
}

// Events returns the observer side. It is closed by Close.
func (b *Bridge) Events() <-chan Event {
	return b.ch
}

// Close ends the stream. Called by the producer when the run finishes.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Detach is called by an observer that went away. Later posts are dropped;
// the producer is unaffected.
func (b *Bridge) Detach() {
	b.detached.Store(true)
}

// Detached reports whether the observer has gone.
func (b *Bridge) Detached() bool {
	return b.detached.Load()
}

// Dropped returns how many events were discarded to make room.
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// Forward drains b into fn on a new goroutine until b is closed or ctx is
// done, in which case b is detached. The returned channel closes on exit.
func Forward(ctx context.Context, b *Bridge, fn func(Event)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				b.Detach()
				return
			case ev, ok := <-b.Events():
				if !ok {
					return
				}
				fn(ev)
			}
		}
	}()
	return done
}
