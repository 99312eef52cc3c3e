package gosbreceiver

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/go-sb-receiver/internal/amqplink"
	"github.com/Azure/go-sb-receiver/internal/clock"
	"github.com/Azure/go-sb-receiver/internal/credit"
	"github.com/Azure/go-sb-receiver/internal/disposition"
	"github.com/Azure/go-sb-receiver/internal/dispatch"
	"github.com/Azure/go-sb-receiver/internal/log"
	"github.com/Azure/go-sb-receiver/internal/mgmtlink"
	"github.com/Azure/go-sb-receiver/internal/prefetch"
	"github.com/Azure/go-sb-receiver/internal/reaper"
	"github.com/Azure/go-sb-receiver/internal/receivequeue"
	"github.com/Azure/go-sb-receiver/internal/retrypolicy"
)

// Receiver is the core asynchronous message receiver: callers pull up to
// N messages at a time via Receive, settle them via the
// Complete/Abandon/Defer/DeadLetter family, and (for session receivers)
// drive session-scoped management operations.
//
// All exported methods are safe for concurrent use from any goroutine;
// internally, mutation of link-touching state is confined to the single
// goroutine owned by the dispatcher.
type Receiver struct {
	path string
	opts *ReceiverOptions

	linkCfg amqplink.LinkConfig
	manager *amqplink.Manager
	credit  *credit.Controller
	store   *prefetch.Store
	recvQ   *receivequeue.Queue
	tracker *disposition.Tracker
	reaper  *reaper.Reaper[*disposition.Item]
	disp    *dispatch.Dispatcher
	mgmt    *mgmtlink.Client
	dispRetry retrypolicy.Policy
	clk     clock.Clock

	closeOnce sync.Once
	closed    chan struct{}
}

// newReceiver wires every component together. It is the one place that
// owns construction order: link manager before credit controller (the
// controller needs an Issuer), prefetch/recvQ/tracker before the event
// pump starts, reaper last.
func newReceiver(ctx context.Context, factory amqplink.Factory, mgmtOpener mgmtlink.Opener, path string, opts ReceiverOptions, sessionCfg *SessionReceiverOptions) (*Receiver, error) {
	o := opts.withDefaults()

	cfg := amqplink.LinkConfig{
		Name:             o.LinkName,
		Path:             path,
		Prefetch:         o.PrefetchCount,
		OperationTimeout: o.OperationTimeout,
		Properties:       o.LinkProperties,
	}
	if o.SettleMode == SettleModeSecond {
		cfg.ReceiverSettleMode = 1
	}
	if sessionCfg != nil {
		cfg.IsSessionReceiver = true
		cfg.SessionID = sessionCfg.SessionID
		cfg.Browsable = sessionCfg.Browsable
	}

	linkRetry := retrypolicy.NewExponential(10, 200*time.Millisecond, 30*time.Second)
	manager := amqplink.NewManager(factory, cfg, linkRetry)

	r := &Receiver{
		path:      path,
		opts:      o,
		linkCfg:   cfg,
		manager:   manager,
		store:     prefetch.New(),
		recvQ:     receivequeue.New(),
		tracker:   disposition.New(),
		disp:      dispatch.New(256),
		mgmt:      mgmtlink.New(mgmtOpener),
		dispRetry: retrypolicy.NewExponential(5, 500*time.Millisecond, 10*time.Second),
		clk:       clock.Real{},
		closed:    make(chan struct{}),
	}
	r.credit = credit.New(creditIssuer{r}, o.PrefetchCount, sessionCfg != nil && sessionCfg.Browsable)
	r.reaper = reaper.New[*disposition.Item](r.tracker, r.clk, r.onDispositionExpired)

	if err := manager.Open(ctx, o.OperationTimeout); err != nil {
		return nil, err
	}

	go r.pumpEvents()
	r.reaper.Start()
	return r, nil
}

// creditIssuer adapts Receiver to credit.Issuer, routed through the
// currently active link so reattach is transparent to the controller.
type creditIssuer struct{ r *Receiver }

func (c creditIssuer) IssueCredit(n int32) error {
	link := c.r.manager.Link()
	if link == nil {
		return nil // link mid-reattach; credit will be reissued on OPEN
	}
	return link.IssueCredit(n)
}

// pumpEvents is the bridge between the link manager's merged event
// stream and the single reactor goroutine: every event is replayed
// through the dispatcher so it's serialized against caller-submitted
// work (Receive/Complete/...). It returns once the receiver is closed.
func (r *Receiver) pumpEvents() {
	for {
		select {
		case ev, ok := <-r.manager.Events():
			if !ok {
				return
			}
			_ = r.disp.Submit(context.Background(), func() { r.handleEvent(ev) })
		case <-r.closed:
			return
		}
	}
}

func (r *Receiver) handleEvent(ev amqplink.LinkEvent) {
	switch ev.Kind {
	case amqplink.EventDelivery:
		r.handleDelivery(ev.Delivery)
	case amqplink.EventSettled:
		r.handleSettled(ev)
	case amqplink.EventClosed:
		r.clearAllPending(ev.Err, true)
	case amqplink.EventError:
		// transient errors are swallowed into REOPENING by the manager
		// before reaching here; nothing further to do on the reactor.
	}
}

// handleDelivery reacts to a freshly arrived, not-yet-registered delivery.
func (r *Receiver) handleDelivery(d amqplink.Delivery) {
	autoSettle := d.SenderSettled || r.opts.SettleMode == SettleModeFirst
	if autoSettle {
		if link := r.manager.Link(); link != nil {
			_ = link.Settle(context.Background(), d, amqplink.Disposition{Outcome: amqplink.OutcomeAccepted})
		}
		r.store.Push(d, false)
	} else {
		r.store.Push(d, true)
	}

	if item, ok := r.recvQ.Pop(); ok {
		batch := r.pollPrefetch(item.MaxCount)
		r.recvQ.Fulfill(item, batch)
	}
}

// pollPrefetch drains up to n buffered messages and schedules one
// credit per message drained, one-for-one.
func (r *Receiver) pollPrefetch(n int) []amqplink.Delivery {
	items := r.store.Poll(n)
	if len(items) == 0 {
		return nil
	}
	out := make([]amqplink.Delivery, len(items))
	for i, it := range items {
		out[i] = it.Message
	}
	if err := r.credit.Enqueue(int32(len(out))); err != nil {
		log.Debug(1, "credit enqueue failed: %v", err)
	}
	return out
}

// handleSettled correlates an async settlement result with its tracked
// disposition entry.
func (r *Receiver) handleSettled(ev amqplink.LinkEvent) {
	item, ok := r.tracker.Get(ev.Tag)
	if !ok {
		return // no pending update for this tag; nothing to correlate it with
	}
	if ev.Outcome == item.IntendedOutcome {
		r.finalizeDisposition(ev.Tag, nil)
		return
	}
	switch ev.Outcome {
	case amqplink.OutcomeRejected:
		r.retryOrFailRejected(ev, item)
	case amqplink.OutcomeReleased:
		r.finalizeDisposition(ev.Tag, cancelledError(ev.Err))
	default:
		r.finalizeDisposition(ev.Tag, fatalErrorf(ev.Err, "unexpected remote outcome %v", ev.Outcome))
	}
}

func (r *Receiver) retryOrFailRejected(ev amqplink.LinkEvent, item *disposition.Item) {
	rejectErr := rejectToError(ev.Reject, ev.Err)
	interval, retryable := r.dispRetry.NextInterval(item.Attempt)
	if !retryable || !r.clk.Now().Before(item.Deadline) {
		r.finalizeDisposition(ev.Tag, rejectErr)
		return
	}
	r.tracker.RecordError(ev.Tag, rejectErr)
	r.tracker.IncrementAttempt(ev.Tag)

	tag, delivery, disp := ev.Tag, item.Delivery, item.Disposition
	log.Debug(1, "disposition for %q rejected, retrying in %s (attempt %d)", tag, interval, item.Attempt)
	time.AfterFunc(interval, func() {
		_ = r.disp.Submit(context.Background(), func() {
			if _, stillPending := r.tracker.Get(tag); !stillPending {
				return // settled or timed out while the retry was waiting
			}
			if link := r.manager.Link(); link != nil {
				if err := link.Settle(context.Background(), delivery, disp); err != nil {
					r.finalizeDisposition(tag, err)
				}
			}
		})
	})
}

func (r *Receiver) finalizeDisposition(tag string, err error) {
	r.tracker.Resolve(tag, err)
	r.store.Forget(tag)
}

func rejectToError(info *amqplink.RejectInfo, cause error) error {
	if info == nil {
		return fatalErrorf(cause, "disposition rejected")
	}
	return fatalErrorf(cause, "disposition rejected: %s: %s", info.Condition, info.Description)
}

func (r *Receiver) onDispositionExpired(item *disposition.Item) {
	log.Debug(1, "disposition for %q timed out after %d attempts", item.Tag, item.Attempt)
	tag := item.Tag
	_ = r.disp.Submit(context.Background(), func() { r.store.Forget(tag) })
}

// clearAllPending implements the failure-propagation policy: receives
// complete empty on transient conditions and with error otherwise;
// dispositions always fail.
func (r *Receiver) clearAllPending(cause error, nonTransient bool) {
	if nonTransient {
		r.recvQ.DrainAll(receivequeue.Result{Err: fatalErrorf(cause, "link closed")})
	} else {
		r.recvQ.DrainAll(receivequeue.Result{})
	}
	r.tracker.DrainAll(fatalErrorf(cause, "link closed"))
	r.store.Clear()
}

// Receive asks for up to maxMessages, waiting at most timeout for at
// least one to become available. It never returns an error for "nothing
// arrived in time": that case yields a nil/empty slice instead.
func (r *Receiver) Receive(ctx context.Context, maxMessages int, timeout time.Duration) ([]*ReceivedMessage, error) {
	if maxMessages <= 0 || int32(maxMessages) > r.credit.PrefetchCount() {
		return nil, invalidArgumentf("max must be in (0, %d], got %d", r.credit.PrefetchCount(), maxMessages)
	}

	immediate := make(chan receivequeue.Result, 1)
	queued := make(chan *receivequeue.Item, 1)

	err := r.disp.Submit(ctx, func() {
		if !r.manager.IsOpen() {
			go r.triggerReattachIfNeeded()
		}
		batch := r.pollPrefetch(maxMessages)
		if len(batch) > 0 {
			immediate <- receivequeue.Result{Items: batch}
			return
		}
		queued <- r.recvQ.Push(maxMessages, timeout, func() {
			_ = r.disp.Submit(context.Background(), func() { _ = r.credit.Flush() })
		})
	})
	if err != nil {
		return nil, schedulingFailureError(err)
	}

	select {
	case res := <-immediate:
		return wrapDeliveries(res.Items), res.Err
	case item := <-queued:
		select {
		case res := <-item.Done():
			if res.Err != nil {
				return nil, res.Err
			}
			return wrapDeliveries(res.Items), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Receiver) triggerReattachIfNeeded() {
	if r.manager.State() != amqplink.StateClosed {
		return // already OPENING/REOPENING
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.OperationTimeout)
	defer cancel()
	if err := r.manager.Open(ctx, r.opts.OperationTimeout); err != nil {
		log.Debug(1, "reopen attempt failed: %v", err)
	}
}

func wrapDeliveries(ds []amqplink.Delivery) []*ReceivedMessage {
	if len(ds) == 0 {
		return nil
	}
	out := make([]*ReceivedMessage, len(ds))
	for i, d := range ds {
		out[i] = newReceivedMessage(d)
	}
	return out
}

// Close closes the receive link and, if one was ever created, the
// management request/response link. Calling Close twice is a no-op.
func (r *Receiver) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.clearAllPending(nil, false)
		r.reaper.Stop()
		err = r.manager.Close(ctx)
		_ = r.mgmt.Close(ctx)
		r.disp.Stop()
		close(r.closed)
	})
	return err
}
