// Package reaper implements a periodic sweep (once per second) of a
// Sweepable target that fails any item whose deadline has passed with
// its last seen error, or a generic timeout error if none was ever
// recorded.
package reaper

import (
	"sync"
	"time"

	"github.com/Azure/go-sb-receiver/internal/clock"
)

// Sweepable is the subset of disposition.Tracker the reaper needs; kept as
// an interface here so the reaper package doesn't import disposition
// directly and can be unit tested with a fake.
type Sweepable[T any] interface {
	Sweep(now time.Time) []T
}

// Interval is the fixed sweep period.
const Interval = time.Second

// Reaper runs Sweepable.Sweep on a fixed interval and invokes onExpired for
// each item the sweep returns.
type Reaper[T any] struct {
	target    Sweepable[T]
	clock     clock.Clock
	onExpired func(T)

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Reaper. Start must be called to begin sweeping.
func New[T any](target Sweepable[T], c clock.Clock, onExpired func(T)) *Reaper[T] {
	return &Reaper[T]{target: target, clock: c, onExpired: onExpired, stop: make(chan struct{})}
}

// Start begins the periodic sweep in a background goroutine.
func (r *Reaper[T]) Start() {
	ticker := r.clock.Ticker(Interval)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case now := <-ticker.C():
				for _, item := range r.target.Sweep(now) {
					r.onExpired(item)
				}
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit.
func (r *Reaper[T]) Stop() {
	close(r.stop)
	r.wg.Wait()
}
