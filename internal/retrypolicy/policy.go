// Package retrypolicy provides the backoff policies used both for link
// reattach (amqplink.Manager) and disposition resend (the retry loop
// driven by the receiver core).
package retrypolicy

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the interface both the link lifecycle manager and the
// disposition retry loop depend on.
type Policy interface {
	// NextInterval returns the delay before the next attempt and true, or
	// false once the retry budget is exhausted.
	NextInterval(attempt int) (time.Duration, bool)
}

// Exponential wraps github.com/cenkalti/backoff/v4's exponential backoff,
// capping the number of attempts so retries don't run forever against a
// permanently wedged broker.
type Exponential struct {
	MaxAttempts int
	Base        *backoff.ExponentialBackOff
}

// NewExponential builds a default policy: up to maxAttempts retries with
// jittered exponential backoff between initialInterval and maxInterval.
func NewExponential(maxAttempts int, initialInterval, maxInterval time.Duration) *Exponential {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0 // bounded by MaxAttempts instead
	b.Reset()
	return &Exponential{MaxAttempts: maxAttempts, Base: b}
}

func (p *Exponential) NextInterval(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	d := p.Base.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

// Fixed is a simple fixed-interval policy, useful in tests where
// deterministic timing matters more than jitter.
type Fixed struct {
	Interval    time.Duration
	MaxAttempts int
}

func (p Fixed) NextInterval(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	return p.Interval, true
}

// None never retries; useful for disposition operations callers want to
// fail fast on the first rejection.
type None struct{}

func (None) NextInterval(int) (time.Duration, bool) { return 0, false }
