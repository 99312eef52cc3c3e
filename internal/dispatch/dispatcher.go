// Package dispatch submits closures onto the single goroutine that owns
// link-touching state, and turns a failure to schedule into the
// SchedulingFailure error kind rather than a panic or a silently dropped
// request.
package dispatch

import (
	"context"
	"errors"
)

// ErrClosed is returned by Submit once the dispatcher has been stopped.
var ErrClosed = errors.New("dispatch: reactor has been closed")

// Dispatcher serializes closures onto a single worker goroutine. It is the
// Go-idiomatic analogue of "post a closure to the reactor thread": instead
// of an I/O reactor callback loop, a single goroutine drains work from a
// channel in FIFO order.
type Dispatcher struct {
	work chan func()
	done chan struct{}
}

// New constructs a Dispatcher and starts its worker goroutine. queueDepth
// bounds how many pending closures may be buffered before Submit blocks.
func New(queueDepth int) *Dispatcher {
	d := &Dispatcher{
		work: make(chan func(), queueDepth),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	for {
		select {
		case fn := <-d.work:
			fn()
		case <-d.done:
			return
		}
	}
}

// Submit schedules fn to run on the reactor goroutine. It returns
// ErrClosed if the dispatcher has already been stopped, or ctx.Err() if
// ctx completes before the closure could be enqueued (the queue is full
// and the reactor is busy).
func (d *Dispatcher) Submit(ctx context.Context, fn func()) error {
	select {
	case <-d.done:
		return ErrClosed
	default:
	}
	select {
	case d.work <- fn:
		return nil
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts the worker goroutine. Closures already enqueued but not yet
// run are discarded; callers are expected to have drained/cancelled
// outstanding work themselves (the receiver core does this via
// receivequeue.DrainAll/disposition.DrainAll before calling Stop).
func (d *Dispatcher) Stop() {
	close(d.done)
}
