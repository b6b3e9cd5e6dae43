package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tablearena/tablearena/internal/pkg/errors"
	"github.com/tablearena/tablearena/internal/pkg/logger"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 256

// MemoryBus is an in-memory event bus using Go channels. Every subscription
// has its own queue and goroutine, so one subscriber sees events in publish
// order and a slow subscriber only drops its own events.
type MemoryBus struct {
	mu      sync.RWMutex
	subs    map[string]map[uint64]*subscription
	nextID  uint64
	closed  bool
	buffer  int
	dropped atomic.Int64
	log     *logger.Logger

	inflightWg sync.WaitGroup // Tracks subscriber goroutines for graceful shutdown
}

type subscription struct {
	queue   chan Event
	handler Handler
	ctx     context.Context
	stop    chan struct{}
	once    sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.stop) })
}

// NewMemoryBus creates a new in-memory event bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{
		subs:   make(map[string]map[uint64]*subscription),
		buffer: DefaultSubscriberBuffer,
		log:    log,
	}
}

// Publish enqueues event for every subscriber of topic. It never blocks; a
// full subscriber queue drops the event for that subscriber.
func (b *MemoryBus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	for _, sub := range b.subs[topic] {
		select {
		case sub.queue <- event:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a handler for events on a topic. The subscription ends
// when ctx is done or the bus closes.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	sub := &subscription{
		queue:   make(chan Event, b.buffer),
		handler: handler,
		ctx:     ctx,
		stop:    make(chan struct{}),
	}
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*subscription)
	}
	b.subs[topic][id] = sub

	b.inflightWg.Add(1)
	go b.run(topic, id, sub)
	return nil
}

func (b *MemoryBus) run(topic string, id uint64, sub *subscription) {
	defer b.inflightWg.Done()
	defer b.unsubscribe(topic, id)

	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.stop:
			// deliver what was queued before Close
			for {
				select {
				case ev := <-sub.queue:
					b.deliver(topic, sub, ev)
				default:
					return
				}
			}
		case ev := <-sub.queue:
			b.deliver(topic, sub, ev)
		}
	}
}

func (b *MemoryBus) deliver(topic string, sub *subscription, ev Event) {
	if err := sub.handler(sub.ctx, ev); err != nil {
		b.log.Warn("Bus handler failed", "topic", topic, "event_id", ev.ID, "error", err)
	}
}

func (b *MemoryBus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[topic]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subs, topic)
		}
	}
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *MemoryBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (b *MemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes the bus, waiting for queued events to be handled.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	b.mu.Unlock()

	if !b.DrainTimeout(10 * time.Second) {
		b.log.Warn("Bus drain timeout reached, some handlers may not have completed")
	}
	return nil
}

// DrainTimeout waits for subscriber goroutines to finish with custom timeout.
func (b *MemoryBus) DrainTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		b.inflightWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
