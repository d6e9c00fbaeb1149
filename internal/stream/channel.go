// Package stream overlaps chunked I/O with transform compute through a
// bounded single-producer/single-consumer channel. The memory ceiling of a
// stage is the channel capacity times the chunk size.
package stream

import "sync"

// Channel is a fixed-capacity FIFO handoff between exactly one producer and
// one consumer. Send blocks while the channel is full, Receive while it is
// empty. The producer finishes with Close (normal completion) or Fail
// (abort); the consumer can abort the producer with Cancel, which unblocks a
// pending Send. Items are never lost or duplicated and arrive in order.
type Channel[T any] struct {
	ch     chan T
	cancel chan struct{}
	once   sync.Once

	// err is written by the producer before close(ch) and read by the
	// consumer only after Receive reports the channel drained; the channel
	// close provides the necessary ordering.
	err error
}

// NewChannel creates a channel with the given capacity (at least 1).
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		ch:     make(chan T, capacity),
		cancel: make(chan struct{}),
	}
}

// Send enqueues one item, blocking while the channel is full. It returns
// false if the consumer cancelled, in which case the producer must stop.
func (c *Channel[T]) Send(v T) bool {
	select {
	case c.ch <- v:
		return true
	case <-c.cancel:
		return false
	}
}

// Close signals normal completion. The consumer drains remaining items and
// then sees ok == false from Receive with a nil Err.
func (c *Channel[T]) Close() {
	close(c.ch)
}

// Fail signals an abort. Buffered items remain receivable; after draining,
// the consumer sees ok == false and Err returns the given error.
func (c *Channel[T]) Fail(err error) {
	c.err = err
	close(c.ch)
}

// Cancel aborts the producer side: any blocked or future Send returns false.
// Safe to call more than once.
func (c *Channel[T]) Cancel() {
	c.once.Do(func() { close(c.cancel) })
}

// Receive dequeues one item, blocking while the channel is empty. ok is
// false once the channel has been closed and drained.
func (c *Channel[T]) Receive() (v T, ok bool) {
	v, ok = <-c.ch
	return v, ok
}

// Err returns the abort error, if any. Valid only after Receive has
// returned ok == false.
func (c *Channel[T]) Err() error {
	return c.err
}
