// Package receivequeue implements the queue of pending caller receive
// requests, each with a per-request deadline and max count, served
// strictly FIFO.
package receivequeue

import (
	"container/list"
	"time"

	"github.com/Azure/go-sb-receiver/internal/amqplink"
)

// Result is what a receive request resolves to: a (possibly empty,
// possibly partial) batch of messages.
type Result struct {
	Items []amqplink.Delivery
	Err   error
}

// Item is a pending receive request: created when a receive cannot be
// served synchronously, removed on completion or cancellation.
type Item struct {
	MaxCount int
	Deadline time.Time
	done     chan Result
	timer    *time.Timer
	elem     *list.Element // back-pointer into the owning Queue's list, set on Push
}

// Done returns the channel the caller's promise is fulfilled through.
func (i *Item) Done() <-chan Result { return i.done }

func (i *Item) complete(r Result) {
	select {
	case i.done <- r:
	default:
		// the buffer is empty on a first completion, so the send never
		// blocks; an item must be completed at most once, since a second
		// call would close an already closed channel.
	}
	close(i.done)
}

// Queue is a strict FIFO of pending Items.
type Queue struct {
	l *list.List
}

// New constructs an empty Queue.
func New() *Queue { return &Queue{l: list.New()} }

// Push enqueues a new receive request with the given max count and
// deadline. afterTimeout is invoked if the deadline fires before the item
// is otherwise completed; it's used by the caller to nudge credit flow.
// On timeout the queue itself completes the item with an empty Result,
// not an error, before invoking afterTimeout.
func (q *Queue) Push(maxCount int, timeout time.Duration, afterTimeout func()) *Item {
	item := &Item{
		MaxCount: maxCount,
		Deadline: time.Now().Add(timeout),
		done:     make(chan Result, 1),
	}
	item.elem = q.l.PushBack(item)
	item.timer = time.AfterFunc(timeout, func() {
		if q.remove(item) {
			item.complete(Result{})
			if afterTimeout != nil {
				afterTimeout()
			}
		}
	})
	return item
}

// remove removes item from the list if still present, returning whether it
// was (i.e. whether this caller "won" the race to complete it).
func (q *Queue) remove(item *Item) bool {
	if item.elem == nil {
		return false
	}
	q.l.Remove(item.elem)
	item.elem = nil
	return true
}

// Pop removes and returns the earliest enqueued item.
func (q *Queue) Pop() (*Item, bool) {
	front := q.l.Front()
	if front == nil {
		return nil, false
	}
	item := front.Value.(*Item)
	q.l.Remove(front)
	item.elem = nil
	item.timer.Stop()
	return item, true
}

// Len returns the number of pending requests.
func (q *Queue) Len() int { return q.l.Len() }

// Fulfill completes item with a successful result. It does no guarding
// of its own: item must already have been taken off the queue with Pop,
// which stops its timeout timer.
func (q *Queue) Fulfill(item *Item, items []amqplink.Delivery) {
	item.complete(Result{Items: items})
}

// DrainAll removes every pending item and completes each with result,
// used for receiver Close and for non-transient link errors.
func (q *Queue) DrainAll(result Result) {
	for {
		item, ok := q.Pop()
		if !ok {
			return
		}
		item.complete(result)
	}
}
