// Package worker bounds how many evaluations run at once.
//
// Submissions wait for a free slot in arrival order (first submitted, first
// served). A submission that cannot get a slot within the configured wait is
// rejected with ErrQueueTimeout so clients can retry later.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueTimeout is returned when no slot frees up within the max wait.
	ErrQueueTimeout = errors.New("evaluation queue is full, please try again later")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("worker pool is shut down")
)

// DefaultMaxWait is how long Submit waits for a slot when none is configured.
const DefaultMaxWait = 10 * time.Minute

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Size   int `json:"size"`
	Active int `json:"active"`
	Queued int `json:"queued"`
}

// Pool runs submitted functions on their own goroutines, at most size at a time.
type Pool struct {
	sem     *semaphore.Weighted
	size    int
	maxWait time.Duration

	// mu orders wg.Add against Close so Wait never races an Add.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	active atomic.Int64
	queued atomic.Int64
}

// NewPool creates a pool with size slots.
func NewPool(size int, maxWait time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    size,
		maxWait: maxWait,
	}
}

// Submit waits for a slot, then starts fn and returns. ctx only bounds the
// wait; once fn has started it runs to completion regardless of ctx.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	if p.isClosed() {
		return ErrClosed
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.maxWait)
	defer cancel()

	p.queued.Add(1)
	err := p.sem.Acquire(waitCtx, 1)
	p.queued.Add(-1)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrQueueTimeout
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.active.Add(1)
	go func() {
		defer func() {
			p.active.Add(-1)
			p.sem.Release(1)
			p.wg.Done()
		}()
		fn()
	}()
	return nil
}

// Close stops accepting new work. Running work is not interrupted.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Wait blocks until all started work finishes or timeout elapses. It reports
// whether the pool drained. Call it after Close.
func (p *Pool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stats returns the current occupancy.
func (p *Pool) Stats() Stats {
	return Stats{
		Size:   p.size,
		Active: int(p.active.Load()),
		Queued: int(p.queued.Load()),
	}
}
