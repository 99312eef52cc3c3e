package gosbreceiver

import (
	"context"
	"time"

	"github.com/Azure/go-sb-receiver/internal/amqplink"
)

// CompleteMessage accepts msg, telling the broker the message was
// processed successfully and can be removed from the entity.
func (r *Receiver) CompleteMessage(ctx context.Context, msg *ReceivedMessage) error {
	return r.updateDisposition(ctx, msg, amqplink.OutcomeAccepted, amqplink.Disposition{Outcome: amqplink.OutcomeAccepted})
}

// AbandonMessage releases the lock on msg without removing it, making it
// immediately available for redelivery.
func (r *Receiver) AbandonMessage(ctx context.Context, msg *ReceivedMessage, propertiesToModify map[string]any) error {
	disp := amqplink.Disposition{
		Outcome: amqplink.OutcomeModified,
		Modify:  &amqplink.ModifyInfo{Annotations: propertiesToModify},
	}
	return r.updateDisposition(ctx, msg, amqplink.OutcomeModified, disp)
}

// DeferMessage moves msg into the deferred sub-queue: it stays on the
// entity but is no longer delivered by ordinary receive, only by sequence
// number via ReceiveDeferredMessages.
func (r *Receiver) DeferMessage(ctx context.Context, msg *ReceivedMessage, propertiesToModify map[string]any) error {
	disp := amqplink.Disposition{
		Outcome: amqplink.OutcomeModified,
		Modify: &amqplink.ModifyInfo{
			UndeliverableHere: true,
			Annotations:       propertiesToModify,
		},
	}
	return r.updateDisposition(ctx, msg, amqplink.OutcomeModified, disp)
}

// DeadLetterMessage moves msg to the dead-letter sub-queue with the given
// reason and description.
func (r *Receiver) DeadLetterMessage(ctx context.Context, msg *ReceivedMessage, reason, description string, propertiesToModify map[string]any) error {
	disp := amqplink.Disposition{
		Outcome: amqplink.OutcomeRejected,
		Reject: &amqplink.RejectInfo{
			Condition:   "com.microsoft:dead-letter",
			Description: description,
			Info: mergeDeadLetterInfo(reason, description, propertiesToModify),
		},
	}
	return r.updateDisposition(ctx, msg, amqplink.OutcomeRejected, disp)
}

func mergeDeadLetterInfo(reason, description string, props map[string]any) map[string]any {
	info := make(map[string]any, len(props)+2)
	for k, v := range props {
		info[k] = v
	}
	info["DeadLetterReason"] = reason
	info["DeadLetterErrorDescription"] = description
	return info
}

// updateDisposition implements the single update-state flow shared by
// every settlement method: register the intent with the disposition
// tracker, ask the link to send it, then wait for either the matching
// terminal outcome or ctx to expire. A message may only be settled once:
// a call on a message that was already settled successfully fails with
// an InvalidArgument error, and a call while an earlier one for the same
// tag is still in flight fails with ErrAlreadyPending, surfaced as-is.
func (r *Receiver) updateDisposition(ctx context.Context, msg *ReceivedMessage, outcome amqplink.SettleOutcome, disp amqplink.Disposition) error {
	if msg.settled {
		return invalidArgumentf("message already settled")
	}
	deadline, _ := ctx.Deadline()
	if deadline.IsZero() {
		deadline = time.Now().Add(r.opts.OperationTimeout)
	}

	resultCh := make(chan error, 1)
	err := r.disp.Submit(ctx, func() {
		d, ok := r.store.Lookup(msg.tag())
		if !ok {
			resultCh <- deliveryNotFoundError(msg.tag())
			return
		}
		item, trackErr := r.tracker.Track(msg.tag(), outcome, disp, d, deadline)
		if trackErr != nil {
			resultCh <- trackErr
			return
		}
		link := r.manager.Link()
		if link == nil {
			r.tracker.Resolve(msg.tag(), fatalErrorf(nil, "link not open"))
			resultCh <- fatalErrorf(nil, "link not open")
			return
		}
		if settleErr := link.Settle(ctx, d, disp); settleErr != nil {
			r.tracker.Resolve(msg.tag(), settleErr)
			resultCh <- settleErr
			return
		}
		go func() {
			select {
			case err := <-item.Done():
				resultCh <- err
			case <-ctx.Done():
				resultCh <- ctx.Err()
			}
		}()
	})
	if err != nil {
		return schedulingFailureError(err)
	}

	select {
	case err := <-resultCh:
		if err == nil {
			msg.settled = true
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
