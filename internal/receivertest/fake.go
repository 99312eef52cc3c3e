// Package receivertest provides a fake amqplink.Factory/Link pair for
// deterministic tests of the receiver core without a real broker.
package receivertest

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/go-sb-receiver/internal/amqplink"
)

// Factory hands out FakeLinks and records every LinkConfig it was asked
// to create one with, so tests can assert on session filters, prefetch,
// and settle mode without a transport.
type Factory struct {
	mu    sync.Mutex
	links []*FakeLink

	// NewLinkErr, if set, is returned by the next NewReceiveLink call
	// instead of creating a link.
	NewLinkErr error

	// SessionFilterEcho controls what RemoteSessionFilter reports on
	// links created for a session receiver; defaults to echoing the
	// requested session id.
	SessionFilterEcho func(requested string) (string, bool)

	// RemoteLockedUntil is returned by every created link's
	// RemoteLockedUntil.
	RemoteLockedUntil time.Time
}

func (f *Factory) NewReceiveLink(ctx context.Context, cfg amqplink.LinkConfig) (amqplink.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewLinkErr != nil {
		err := f.NewLinkErr
		f.NewLinkErr = nil
		return nil, err
	}
	l := &FakeLink{
		cfg:       cfg,
		events:    make(chan amqplink.LinkEvent, 64),
		credit:    make(chan int32, 64),
		settled:   make(chan settleCall, 64),
		lockedUntil: f.RemoteLockedUntil,
	}
	if cfg.IsSessionReceiver {
		echo := f.SessionFilterEcho
		if echo == nil {
			echo = func(requested string) (string, bool) { return requested, true }
		}
		l.sessionID, l.haveFilter = echo(cfg.SessionID)
	}
	f.links = append(f.links, l)
	return l, nil
}

// Links returns every link created so far, in creation order.
func (f *Factory) Links() []*FakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeLink, len(f.links))
	copy(out, f.links)
	return out
}

// Latest returns the most recently created link, or nil.
func (f *Factory) Latest() *FakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return nil
	}
	return f.links[len(f.links)-1]
}

type settleCall struct {
	delivery amqplink.Delivery
	disp     amqplink.Disposition
}

// FakeLink is an in-memory stand-in for a production AMQP receive link.
// Tests drive it by calling Deliver/SettleOutcome and by reading
// IssuedCredit/SettleCalls.
type FakeLink struct {
	cfg amqplink.LinkConfig

	mu          sync.Mutex
	sessionID   string
	haveFilter  bool
	lockedUntil time.Time
	closed      bool
	totalCredit int32

	events  chan amqplink.LinkEvent
	credit  chan int32
	settled chan settleCall
}

func (l *FakeLink) Events() <-chan amqplink.LinkEvent { return l.events }

func (l *FakeLink) IssueCredit(n int32) error {
	if n <= 0 {
		return nil
	}
	l.mu.Lock()
	l.totalCredit += n
	l.mu.Unlock()
	select {
	case l.credit <- n:
	default:
	}
	return nil
}

func (l *FakeLink) Settle(ctx context.Context, d amqplink.Delivery, disp amqplink.Disposition) error {
	select {
	case l.settled <- settleCall{delivery: d, disp: disp}:
	default:
	}
	return nil
}

func (l *FakeLink) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	close(l.events)
	return nil
}

func (l *FakeLink) Name() string { return l.cfg.Name }

func (l *FakeLink) RemoteSessionFilter() (string, bool) { return l.sessionID, l.haveFilter }

func (l *FakeLink) RemoteLockedUntil() time.Time { return l.lockedUntil }

// TotalCredit reports the cumulative credit issued via IssueCredit.
func (l *FakeLink) TotalCredit() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalCredit
}

// Deliver pushes a synthetic delivery into the link's event stream.
func (l *FakeLink) Deliver(tag string, payload []byte) {
	l.events <- amqplink.LinkEvent{
		Kind:     amqplink.EventDelivery,
		Delivery: amqplink.NewDelivery(tag, payload, tag),
	}
}

// DeliverSenderSettled pushes a synthetic sender-settled delivery.
func (l *FakeLink) DeliverSenderSettled(tag string, payload []byte) {
	l.events <- amqplink.LinkEvent{
		Kind:     amqplink.EventDelivery,
		Delivery: amqplink.NewDelivery(tag, payload, tag).WithSenderSettled(),
	}
}

// SettleOutcome emits an EventSettled for tag with the given outcome,
// simulating the broker's terminal response to a prior Settle call.
func (l *FakeLink) SettleOutcome(tag string, outcome amqplink.SettleOutcome, reject *amqplink.RejectInfo, err error) {
	l.events <- amqplink.LinkEvent{Kind: amqplink.EventSettled, Tag: tag, Outcome: outcome, Reject: reject, Err: err}
}

// Error emits a link-level error, transient or not.
func (l *FakeLink) Error(err error, transient bool) {
	l.events <- amqplink.LinkEvent{Kind: amqplink.EventError, Err: err, Transient: transient}
}

// AwaitSettle blocks until a Settle call has been recorded or the timeout
// elapses, returning ok=false on timeout.
func (l *FakeLink) AwaitSettle(timeout time.Duration) (amqplink.Delivery, amqplink.Disposition, bool) {
	select {
	case c := <-l.settled:
		return c.delivery, c.disp, true
	case <-time.After(timeout):
		return amqplink.Delivery{}, amqplink.Disposition{}, false
	}
}

// AwaitCredit blocks until a credit grant has been issued or the timeout
// elapses.
func (l *FakeLink) AwaitCredit(timeout time.Duration) (int32, bool) {
	select {
	case n := <-l.credit:
		return n, true
	case <-time.After(timeout):
		return 0, false
	}
}
