// Package disposition implements the tracker of pending update-state
// operations keyed by delivery-tag, with retry-on-transient-rejection
// and timeout reaping.
//
// Unlike the prefetch queue/delivery registry, this structure is shared
// between the reactor goroutine (which matches inbound terminal outcomes)
// and the reaper goroutine (which sweeps expired entries). It is
// therefore protected by a mutex rather than assumed single-owner.
package disposition

import (
	"errors"
	"sync"
	"time"

	"github.com/Azure/go-sb-receiver/internal/amqplink"
)

// Item is one update-state operation in flight, keyed by delivery-tag,
// completed when a matching terminal remote outcome arrives, retried on
// a retryable rejection, failed on timeout.
type Item struct {
	Tag             string
	IntendedOutcome amqplink.SettleOutcome
	Disposition     amqplink.Disposition
	Delivery        amqplink.Delivery
	Deadline        time.Time
	LastError       error
	Attempt         int

	done chan error
}

// Done returns the channel the caller's promise is fulfilled through.
func (it *Item) Done() <-chan error { return it.done }

func (it *Item) complete(err error) {
	select {
	case it.done <- err:
	default:
	}
	close(it.done)
}

// Tracker tracks pending disposition updates. Exactly one Item may be
// in-flight per tag at a time.
type Tracker struct {
	mu    sync.Mutex
	items map[string]*Item
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{items: make(map[string]*Item)}
}

// ErrAlreadyPending is returned by Track when a disposition is already
// in-flight for the given tag.
type ErrAlreadyPending struct{ Tag string }

func (e *ErrAlreadyPending) Error() string {
	return "disposition: update already pending for delivery tag " + e.Tag
}

// Track registers a new in-flight update for tag. Callers must hold off
// calling this again for the same tag until the previous Item completes.
func (t *Tracker) Track(tag string, outcome amqplink.SettleOutcome, disp amqplink.Disposition, d amqplink.Delivery, deadline time.Time) (*Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.items[tag]; exists {
		return nil, &ErrAlreadyPending{Tag: tag}
	}
	item := &Item{
		Tag:             tag,
		IntendedOutcome: outcome,
		Disposition:     disp,
		Delivery:        d,
		Deadline:        deadline,
		done:            make(chan error, 1),
	}
	t.items[tag] = item
	return item, nil
}

// Get returns the in-flight item for tag, if any, without removing it.
func (t *Tracker) Get(tag string) (*Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[tag]
	return item, ok
}

// Remove deletes the in-flight item for tag.
func (t *Tracker) Remove(tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, tag)
}

// Resolve completes and removes the item for tag with err (nil on
// success). The caller (the receiver core) decides success/failure by
// comparing SettleOutcome kinds; this method just performs the
// bookkeeping once that decision is made.
func (t *Tracker) Resolve(tag string, err error) {
	t.mu.Lock()
	item, ok := t.items[tag]
	if ok {
		delete(t.items, tag)
	}
	t.mu.Unlock()
	if ok {
		item.complete(err)
	}
}

// RecordError updates LastError on the tracked item for tag without
// resolving it, so a later timeout can report the last seen broker error.
func (t *Tracker) RecordError(tag string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if item, ok := t.items[tag]; ok {
		item.LastError = err
	}
}

// IncrementAttempt bumps the retry counter on the tracked item for tag and
// returns the new attempt count, or -1 if tag isn't tracked.
func (t *Tracker) IncrementAttempt(tag string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[tag]
	if !ok {
		return -1
	}
	item.Attempt++
	return item.Attempt
}

// ErrTimeout is used to fail a swept item that never recorded a broker
// error.
var ErrTimeout = errors.New("disposition: operation timed out")

// Sweep removes every item whose deadline is at or before now, completes
// each with its LastError (or ErrTimeout if none was ever recorded), and
// returns them for the reaper to log/account for. Safe to call
// concurrently with Track/Resolve from the reactor goroutine.
func (t *Tracker) Sweep(now time.Time) []*Item {
	t.mu.Lock()
	var expired []*Item
	for tag, item := range t.items {
		if !item.Deadline.After(now) {
			expired = append(expired, item)
			delete(t.items, tag)
		}
	}
	t.mu.Unlock()
	for _, item := range expired {
		err := item.LastError
		if err == nil {
			err = ErrTimeout
		}
		item.complete(err)
	}
	return expired
}

// DrainAll removes every in-flight item and fails each with err, used
// for receiver Close.
func (t *Tracker) DrainAll(err error) {
	t.mu.Lock()
	items := make([]*Item, 0, len(t.items))
	for tag, item := range t.items {
		items = append(items, item)
		delete(t.items, tag)
	}
	t.mu.Unlock()
	for _, item := range items {
		item.complete(err)
	}
}

// Len reports the number of in-flight items.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
