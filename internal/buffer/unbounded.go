// Package buffer provides the unbounded queue backing channel-based event
// subscriptions. Publishers must never block on a slow consumer, so each
// subscriber gets its own queue drained by a dedicated goroutine.
package buffer

import (
	"sync"
)

// Unbounded provides non-blocking sends with unlimited buffering while
// preserving send order on the receive side.
//
// Usage:
//
//	buf := buffer.NewUnbounded[*tether.ToolEvent]()
//	go func() {
//	    for ev := range buf.Receive() {
//	        // deliver ev
//	    }
//	}()
//	buf.Send(ev) // never blocks
//	buf.Close()  // closes the receive channel after draining
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	cond   *sync.Cond
	closed bool
	out    chan T
}

// NewUnbounded creates a new unbounded buffer ready to accept Send calls.
func NewUnbounded[T any]() *Unbounded[T] {
	b := &Unbounded[T]{
		items: make([]T, 0, 16),
		out:   make(chan T, 1),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.drainLoop()
	return b
}

// drainLoop moves items from the internal queue to the output channel until
// the buffer is closed and fully drained.
func (b *Unbounded[T]) drainLoop() {
	for {
		item, ok := b.dequeue()
		if !ok {
			close(b.out)
			return
		}
		b.out <- item
	}
}

// dequeue blocks until an item is available or the buffer is closed and
// empty. Returns (zero, false) once drained after close.
func (b *Unbounded[T]) dequeue() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.items) == 0 && !b.closed {
		b.cond.Wait()
	}

	if len(b.items) == 0 {
		var zero T
		return zero, false
	}

	item := b.items[0]
	b.items = b.items[1:]
	return item, true
}

// Send enqueues an item. Never blocks; items sent after Close are silently
// dropped.
func (b *Unbounded[T]) Send(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.items = append(b.items, item)
	b.cond.Signal()
}

// Receive returns the ordered output channel. It is closed after Close once
// all pending items have been drained.
func (b *Unbounded[T]) Receive() <-chan T {
	return b.out
}

// Close marks the buffer closed. Safe to call multiple times.
func (b *Unbounded[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.cond.Signal()
}

// Len returns the number of queued (not yet drained) items.
func (b *Unbounded[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// IsClosed reports whether Close has been called.
func (b *Unbounded[T]) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
