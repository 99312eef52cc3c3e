package amqplink

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/Azure/go-amqp"

	"github.com/Azure/go-sb-receiver/internal/log"
	"github.com/Azure/go-sb-receiver/internal/ticks"
)

const (
	propertyTimeout    = "com.microsoft:timeout"
	propertyPeekMode   = "com.microsoft:peek-mode"
	propertySessionID  = "com.microsoft:session-filter"
	propertyLockedUtil = "com.microsoft:locked-until-utc"
)

// GoAMQPFactory binds Factory to a real *amqp.Session from
// github.com/Azure/go-amqp.
type GoAMQPFactory struct {
	Session *amqp.Session
}

func (f *GoAMQPFactory) NewReceiveLink(ctx context.Context, cfg LinkConfig) (Link, error) {
	opts := &amqp.ReceiverOptions{
		Name:           cfg.Name,
		Credit:         0, // the Credit Controller drives flow explicitly
		ManualCredits:  true,
		Properties:     map[string]any{propertyTimeout: uint32(cfg.OperationTimeout / time.Millisecond)},
		SettlementMode: receiverSettleMode(cfg.ReceiverSettleMode).amqpPtr(),
	}
	if cfg.IsSessionReceiver {
		opts.Filters = append(opts.Filters, amqp.NewLinkFilter(propertySessionID, 0, cfg.SessionID))
		if cfg.Browsable {
			opts.Properties[propertyPeekMode] = true
		}
	}
	for k, v := range cfg.Properties {
		opts.Properties[k] = v
	}

	r, err := f.Session.NewReceiver(ctx, cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("amqplink: creating receive link: %w", err)
	}

	gl := &goAMQPLink{
		r:      r,
		events: make(chan LinkEvent, 64),
		done:   make(chan struct{}),
	}
	gl.remoteSessionID, gl.haveSessionFilter = remoteFilterEcho(r, cfg.IsSessionReceiver, cfg.SessionID)
	gl.remoteLockedUntil = remoteLockedUntil(r)

	go gl.pump()
	return gl, nil
}

type receiverSettleMode int

func (m receiverSettleMode) amqpPtr() *amqp.ReceiverSettleMode {
	v := amqp.ReceiverSettleMode(m)
	return &v
}

// remoteFilterEcho and remoteLockedUntil isolate the exact accessor names
// go-amqp exposes for remote source filters/properties behind attach, which
// this transport-adapter layer is the only place allowed to know about.
func remoteFilterEcho(r *amqp.Receiver, isSession bool, requested string) (string, bool) {
	if !isSession {
		return "", true
	}
	v, ok := r.LinkSourceFilterValue(propertySessionID).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func remoteLockedUntil(r *amqp.Receiver) time.Time {
	v, ok := r.LinkProperties()[propertyLockedUtil]
	if !ok {
		return time.Time{}
	}
	t, ok := v.(int64)
	if !ok {
		return time.Time{}
	}
	return ticks.ToTime(t)
}

type goAMQPLink struct {
	r      *amqp.Receiver
	events chan LinkEvent
	done   chan struct{}

	remoteSessionID   string
	haveSessionFilter bool
	remoteLockedUntil time.Time
}

func (l *goAMQPLink) Events() <-chan LinkEvent { return l.events }

func (l *goAMQPLink) Name() string { return l.r.LinkName() }

func (l *goAMQPLink) RemoteSessionFilter() (string, bool) {
	return l.remoteSessionID, l.haveSessionFilter
}

func (l *goAMQPLink) RemoteLockedUntil() time.Time { return l.remoteLockedUntil }

func (l *goAMQPLink) IssueCredit(n int32) error {
	if n <= 0 {
		return nil
	}
	return l.r.IssueCredit(uint32(n))
}

// Settle initiates the disposition and returns immediately; go-amqp's
// Accept/Reject/Release/Modify calls are themselves blocking round trips
// to the broker; running them on a separate goroutine and reporting the
// result as an EventSettled keeps the single reactor goroutine from
// stalling on broker I/O.
func (l *goAMQPLink) Settle(ctx context.Context, d Delivery, disp Disposition) error {
	msg, ok := d.handle.(*amqp.Message)
	if !ok {
		return fmt.Errorf("amqplink: delivery handle is not an *amqp.Message")
	}
	go func() {
		err := l.doSettle(ctx, msg, disp)
		ev := LinkEvent{Kind: EventSettled, Tag: d.Tag, Outcome: disp.Outcome}
		if err != nil {
			ev.Outcome, ev.Reject, ev.Err = classifySettleError(err)
		}
		select {
		case l.events <- ev:
		case <-l.done:
		}
	}()
	return nil
}

func (l *goAMQPLink) doSettle(ctx context.Context, msg *amqp.Message, disp Disposition) error {
	switch disp.Outcome {
	case OutcomeAccepted:
		return l.r.AcceptMessage(ctx, msg)
	case OutcomeReleased:
		return l.r.ReleaseMessage(ctx, msg)
	case OutcomeModified:
		opts := &amqp.ModifyMessageOptions{}
		if disp.Modify != nil {
			opts.DeliveryFailed = disp.Modify.DeliveryFailed
			opts.UndeliverableHere = disp.Modify.UndeliverableHere
			opts.MessageAnnotations = disp.Modify.Annotations
		}
		return l.r.ModifyMessage(ctx, msg, opts)
	case OutcomeRejected:
		amqpErr := &amqp.Error{}
		if disp.Reject != nil {
			amqpErr.Condition = amqp.ErrorCondition(disp.Reject.Condition)
			amqpErr.Description = disp.Reject.Description
			amqpErr.Info = disp.Reject.Info
		}
		return l.r.RejectMessage(ctx, msg, amqpErr)
	default:
		return fmt.Errorf("amqplink: unknown outcome %v", disp.Outcome)
	}
}

// classifySettleError turns a go-amqp settlement error into the remote
// outcome it represents.
func classifySettleError(err error) (SettleOutcome, *RejectInfo, error) {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return OutcomeRejected, &RejectInfo{
			Condition:   string(amqpErr.Condition),
			Description: amqpErr.Description,
			Info:        amqpErr.Info,
		}, nil
	}
	return OutcomeRejected, nil, err
}

func (l *goAMQPLink) Close(ctx context.Context) error {
	close(l.done)
	return l.r.Close(ctx)
}

// pump is the single goroutine that turns go-amqp's blocking Receive(ctx)
// loop into events on a channel.
func (l *goAMQPLink) pump() {
	defer close(l.events)
	ctx := context.Background()
	for {
		msg, err := l.r.Receive(ctx, nil)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			kind := EventError
			transient := isTransient(err)
			log.Debug(1, "receive link error: %v (transient=%v)", err, transient)
			select {
			case l.events <- LinkEvent{Kind: kind, Err: err, Transient: transient}:
			case <-l.done:
			}
			if !transient {
				return
			}
			continue
		}
		d := NewDelivery(string(msg.DeliveryTag), msgPayload(msg), msg)
		select {
		case l.events <- LinkEvent{Kind: EventDelivery, Delivery: d}:
		case <-l.done:
			return
		}
	}
}

func msgPayload(m *amqp.Message) []byte {
	if len(m.Data) > 0 {
		return m.Data[0]
	}
	return nil
}

// isTransient classifies a go-amqp error by its type: a connection error
// is transient; a link error or any other error is not.
func isTransient(err error) bool {
	var linkErr *amqp.LinkError
	if errors.As(err, &linkErr) {
		return false // link detach is never auto-retried at this layer; the manager decides
	}
	var connErr *amqp.ConnError
	if errors.As(err, &connErr) {
		return true
	}
	return false
}
