// Package credit implements a credit controller: it batches flow grants
// to avoid sending a flow frame per message, flushing once the
// accumulator reaches the prefetch window or a fixed chattiness cap.
package credit

import "sync"

// flushAtLeast bounds how chatty credit flow can get regardless of
// prefetch size.
const flushAtLeast = 100

// Issuer is the narrow transport surface the controller needs: issuing a
// flow frame for n additional credits. Implementations must clamp negative
// totals to zero.
type Issuer interface {
	IssueCredit(n int32) error
}

// Controller batches credit grants to avoid a flow frame per message.
type Controller struct {
	mu             sync.Mutex
	issuer         Issuer
	prefetchCount  int32
	accumulator    int32
	browsable      bool
}

// New constructs a Controller bound to issuer with the given initial
// prefetch window. A browsable controller never issues credit (I4).
func New(issuer Issuer, prefetchCount int32, browsable bool) *Controller {
	return &Controller{issuer: issuer, prefetchCount: prefetchCount, browsable: browsable}
}

// Enqueue accumulates credits credits and flushes once the threshold is
// reached.
func (c *Controller) Enqueue(credits int32) error {
	if c.browsable || credits == 0 {
		return nil
	}
	c.mu.Lock()
	c.accumulator += credits
	prefetch := c.prefetchCount
	shouldFlush := c.accumulator >= prefetch || c.accumulator >= flushAtLeast
	var toFlush int32
	if shouldFlush {
		toFlush = c.accumulator
		c.accumulator = 0
	}
	c.mu.Unlock()

	if !shouldFlush {
		return nil
	}
	return c.issuer.IssueCredit(toFlush)
}

// Flush forces any accumulated credit out immediately, used for the
// credit nudge on receive-timeout.
func (c *Controller) Flush() error {
	if c.browsable {
		return nil
	}
	c.mu.Lock()
	toFlush := c.accumulator
	c.accumulator = 0
	c.mu.Unlock()
	return c.issuer.IssueCredit(toFlush)
}

// SetPrefetchCount changes the prefetch window: it computes the delta
// against the old value and schedules it as a (possibly negative) credit
// adjustment through the same accumulator.
func (c *Controller) SetPrefetchCount(newCount int32) error {
	c.mu.Lock()
	delta := c.prefetchCount - newCount
	c.prefetchCount = newCount
	c.accumulator -= delta
	prefetch := c.prefetchCount
	shouldFlush := c.accumulator >= prefetch || c.accumulator >= flushAtLeast
	var toFlush int32
	if shouldFlush {
		toFlush = c.accumulator
		c.accumulator = 0
	}
	c.mu.Unlock()
	if !shouldFlush {
		return nil
	}
	return c.issuer.IssueCredit(toFlush)
}

// PrefetchCount returns the current prefetch window.
func (c *Controller) PrefetchCount() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefetchCount
}

// Reset zeroes the accumulator without issuing credit. The receiver does
// not call it when the link opens or reattaches, so any accumulated credit
// carries over across a reattach.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.accumulator = 0
	c.mu.Unlock()
}
