package gosbreceiver

import (
	"context"
	"time"

	"github.com/Azure/go-sb-receiver/internal/mgmtlink"
)

// RenewMessageLock extends the peek-lock on msg by a further lock
// duration and reports the new expiry. It uses the management link rather
// than the receive link itself, matching the out-of-band renewal path
// real brokers expose. A message with an empty LockToken fails with an
// InvalidArgument error; messages returned by Receive have an empty
// LockToken.
func (r *Receiver) RenewMessageLock(ctx context.Context, msg *ReceivedMessage) (time.Time, error) {
	if msg.LockToken == "" {
		return time.Time{}, invalidArgumentf("message has no lock token to renew")
	}
	exps, err := r.mgmt.RenewLocks(ctx, r.sessionIDOrEmpty(), []string{msg.LockToken})
	if err != nil {
		return time.Time{}, err
	}
	if len(exps) == 0 {
		return time.Time{}, fatalErrorf(nil, "renew-lock returned no expirations")
	}
	return exps[0], nil
}

// RenewSessionLock extends the exclusive lock held on sessionID and
// reports its new expiry. Only meaningful for session receivers.
func (r *Receiver) RenewSessionLock(ctx context.Context, sessionID string) (time.Time, error) {
	t, err := r.mgmt.RenewSessionLock(ctx, sessionID)
	if err != nil {
		return time.Time{}, err
	}
	if s := r.manager.Session(); s != nil && s.SessionID() == sessionID {
		s.SetLockedUntil(t)
	}
	return t, nil
}

// GetSessionState fetches the application-defined state blob attached to
// sessionID, which may be nil if none was ever set.
func (r *Receiver) GetSessionState(ctx context.Context, sessionID string) ([]byte, error) {
	return r.mgmt.GetSessionState(ctx, sessionID)
}

// SetSessionState stores the application-defined state blob for
// sessionID. A nil state clears it.
func (r *Receiver) SetSessionState(ctx context.Context, sessionID string, state []byte) error {
	return r.mgmt.SetSessionState(ctx, sessionID, state)
}

// PeekMessages browses up to count messages starting at
// fromSequenceNumber without locking or removing them.
func (r *Receiver) PeekMessages(ctx context.Context, fromSequenceNumber int64, count int32) ([]mgmtlink.PeekedMessage, error) {
	return r.mgmt.Peek(ctx, r.sessionIDOrEmpty(), fromSequenceNumber, count)
}

// ReceiveDeferredMessages fetches previously deferred messages by
// sequence number. The returned messages carry lock tokens rather than
// delivery-tags and must be settled via the lock-token disposition path
// (CompleteDeferred/AbandonDeferred), since they never arrived over the
// ordinary receive link.
func (r *Receiver) ReceiveDeferredMessages(ctx context.Context, sequenceNumbers []int64) ([]mgmtlink.ReceivedBySequence, error) {
	settleMode := 0
	if r.opts.SettleMode == SettleModeFirst {
		settleMode = 1
	}
	return r.mgmt.ReceiveBySequence(ctx, r.sessionIDOrEmpty(), sequenceNumbers, settleMode)
}

// CompleteDeferred accepts messages previously obtained via
// ReceiveDeferredMessages, identified by lock token rather than
// delivery-tag.
func (r *Receiver) CompleteDeferred(ctx context.Context, lockTokens []string) error {
	return r.mgmt.UpdateDispositionByLockTokens(ctx, lockTokens, mgmtlink.DispositionComplete, mgmtlink.UpdateDispositionParams{SessionID: r.sessionIDOrEmpty()})
}

// AbandonDeferred releases the lock on messages identified by lock token.
func (r *Receiver) AbandonDeferred(ctx context.Context, lockTokens []string, propertiesToModify map[string]any) error {
	params := mgmtlink.UpdateDispositionParams{SessionID: r.sessionIDOrEmpty(), PropertiesToModify: propertiesToModify}
	return r.mgmt.UpdateDispositionByLockTokens(ctx, lockTokens, mgmtlink.DispositionAbandon, params)
}

// DeadLetterDeferred moves messages identified by lock token to the
// dead-letter sub-queue.
func (r *Receiver) DeadLetterDeferred(ctx context.Context, lockTokens []string, reason, description string) error {
	params := mgmtlink.UpdateDispositionParams{
		SessionID:             r.sessionIDOrEmpty(),
		DeadLetterReason:      reason,
		DeadLetterDescription: description,
	}
	return r.mgmt.UpdateDispositionByLockTokens(ctx, lockTokens, mgmtlink.DispositionDeadLetter, params)
}

func (r *Receiver) sessionIDOrEmpty() string {
	if s := r.manager.Session(); s != nil {
		return s.SessionID()
	}
	return ""
}
