// Package notify implements a small bounded wakeup channel: many
// producers call Notify to say "something changed", one consumer at a
// time calls Recv or Poll to find out. It is not a data channel — payloads
// are significant but Notify never blocks a producer, and backpressure is
// handled by simply dropping a notification when the buffer is full,
// since a consumer that is about to poll again doesn't need to be told
// twice.
package notify

import (
	"context"
	"sync"

	"github.com/geocoder89/jobqueue/queueerr"
)

const bufferSize = 10

// Notifier is a multi-producer, single-consumer wakeup signal carrying
// values of T. The zero value is not usable; use New.
type Notifier[T any] struct {
	ch       chan T
	closed   chan struct{}
	closeMu  sync.Mutex
	didClose bool

	consumerMu sync.Mutex
}

// New returns a ready Notifier.
func New[T any]() *Notifier[T] {
	return &Notifier[T]{
		ch:     make(chan T, bufferSize),
		closed: make(chan struct{}),
	}
}

// Notify delivers v to a future Recv/Poll call. If the buffer is full the
// notification is dropped; this is intentional, not an error, since a
// pending notification already tells the consumer to re-check.
func (n *Notifier[T]) Notify(v T) {
	select {
	case n.ch <- v:
	default:
	}
}

// Close marks the Notifier as done: any blocked or future Recv returns a
// StreamError with BrokenPipe. Close is idempotent.
func (n *Notifier[T]) Close() {
	n.closeMu.Lock()
	defer n.closeMu.Unlock()
	if n.didClose {
		return
	}
	n.didClose = true
	close(n.closed)
}

// Recv blocks until a value is notified, the context is cancelled, or the
// Notifier is closed. Only one goroutine may call Recv (or Poll) at a
// time; concurrent callers serialize on an internal lock, mirroring a
// single shared consumer cursor.
func (n *Notifier[T]) Recv(ctx context.Context) (T, error) {
	n.consumerMu.Lock()
	defer n.consumerMu.Unlock()

	var zero T
	select {
	case v := <-n.ch:
		return v, nil
	case <-n.closed:
		return zero, &queueerr.StreamError{Kind: queueerr.BrokenPipe}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Poll is the non-blocking counterpart to Recv: it returns immediately
// with ok=false if no notification is currently pending. Like Recv, it
// competes for the single-consumer lock; if another goroutine is mid-Recv,
// Poll treats the resource as momentarily busy and reports ok=false
// rather than waiting.
func (n *Notifier[T]) Poll() (v T, ok bool) {
	if !n.consumerMu.TryLock() {
		return v, false
	}
	defer n.consumerMu.Unlock()

	select {
	case v = <-n.ch:
		return v, true
	default:
		return v, false
	}
}
