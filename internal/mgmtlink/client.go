// Package mgmtlink implements lock renewal, receive-by-sequence,
// disposition-by-lock-token, session state get/set, and peek, all via a
// lazily-initialized request/response link.
//
// The request/response link itself is grounded on
// github.com/Azure/azure-amqp-common-go/v3/rpc, the library the
// historical Azure Service Bus/Event Hubs Go SDKs used for exactly this
// purpose.
package mgmtlink

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/Azure/go-amqp"
	"github.com/Azure/azure-amqp-common-go/v3/rpc"
	"github.com/pkg/errors"

	"github.com/Azure/go-sb-receiver/internal/ticks"
)

// Opener lazily creates the underlying request/response link; split out as
// an interface so tests can avoid a real AMQP session.
type Opener interface {
	Open(ctx context.Context) (RPCLink, error)
}

// RPCLink is the narrow surface this package needs from *rpc.Link.
type RPCLink interface {
	RPC(ctx context.Context, msg *amqp.Message) (*rpc.Response, error)
	Close(ctx context.Context) error
}

// SessionOpener binds Opener to a real *amqp.Session and a management
// address (conventionally "<entity path>/$management").
type SessionOpener struct {
	Session *amqp.Session
	Address string
}

func (o *SessionOpener) Open(ctx context.Context) (RPCLink, error) {
	link, err := rpc.NewLink(o.Session, o.Address)
	if err != nil {
		return nil, errors.Wrap(err, "mgmtlink: opening request/response link")
	}
	return link, nil
}

// Client implements the management-link operations. Creation of the
// underlying link is deferred until the first operation and guarded by a
// mutex; the Client itself is safe for concurrent use after that.
type Client struct {
	opener Opener

	mu   sync.Mutex
	link RPCLink
}

// New constructs a Client bound to opener. No network activity happens
// until the first operation is invoked.
func New(opener Opener) *Client {
	return &Client{opener: opener}
}

func (c *Client) ensureLink(ctx context.Context) (RPCLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link != nil {
		return c.link, nil
	}
	link, err := c.opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	c.link = link
	return link, nil
}

// Close tears down the request/response link, if one was ever created.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	link := c.link
	c.link = nil
	c.mu.Unlock()
	if link == nil {
		return nil
	}
	return link.Close(ctx)
}

func (c *Client) do(ctx context.Context, operation string, body map[string]any) (*rpc.Response, error) {
	link, err := c.ensureLink(ctx)
	if err != nil {
		return nil, err
	}
	msg := &amqp.Message{
		ApplicationProperties: map[string]any{"operation": operation},
		Value:                 body,
	}
	resp, err := link.RPC(ctx, msg)
	if err != nil {
		return nil, errors.Wrapf(err, "mgmtlink: %s request failed", operation)
	}
	if resp.Code != statusOK {
		return nil, newStatusError(operation, resp)
	}
	return resp, nil
}

// StatusError is returned when the broker responds with a non-OK status
// code, reconstructed from the condition + description.
type StatusError struct {
	Operation   string
	Code        int
	Description string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mgmtlink: %s failed: status %d: %s", e.Operation, e.Code, e.Description)
}

func newStatusError(operation string, resp *rpc.Response) *StatusError {
	return &StatusError{Operation: operation, Code: resp.Code, Description: resp.Description}
}

// RenewLocks renews the peek-lock for each lock token and returns the new
// expiration instants in the same order.
func (c *Client) RenewLocks(ctx context.Context, sessionID string, tokens []string) ([]time.Time, error) {
	body := map[string]any{keyLockTokens: tokens}
	if sessionID != "" {
		body[keySessionID] = sessionID
	}
	resp, err := c.do(ctx, opRenewLock, body)
	if err != nil {
		return nil, err
	}
	values, ok := messageValue(resp).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("mgmtlink: unexpected renew-lock response shape")
	}
	raw, _ := values["expirations"].([]int64)
	out := make([]time.Time, len(raw))
	for i, v := range raw {
		out[i] = ticks.ToTime(v)
	}
	return out, nil
}

// ReceivedBySequence is one element of ReceiveBySequence's result.
type ReceivedBySequence struct {
	Message   []byte
	LockToken string
}

// ReceiveBySequence fetches specific messages by sequence number,
// optionally settling them immediately depending on settleMode (0 = peek-
// lock, 1 = receive-and-delete).
func (c *Client) ReceiveBySequence(ctx context.Context, sessionID string, sequenceNumbers []int64, settleMode int) ([]ReceivedBySequence, error) {
	body := map[string]any{
		keySequenceNumbers:    sequenceNumbers,
		keyReceiverSettleMode: int32(settleMode),
	}
	if sessionID != "" {
		body[keySessionID] = sessionID
	}
	resp, err := c.do(ctx, opReceiveBySeq, body)
	if err != nil {
		return nil, err
	}
	values, ok := messageValue(resp).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("mgmtlink: unexpected receive-by-sequence-number response shape")
	}
	entries, _ := values["messages"].([]map[string]any)
	out := make([]ReceivedBySequence, 0, len(entries))
	for _, e := range entries {
		msgBytes, _ := e["message"].([]byte)
		token, _ := e["lock-token"].(string)
		out = append(out, ReceivedBySequence{Message: msgBytes, LockToken: token})
	}
	return out, nil
}

// UpdateDispositionParams bundles the optional dead-letter fields for
// UpdateDispositionByLockTokens.
type UpdateDispositionParams struct {
	SessionID             string
	DeadLetterReason      string
	DeadLetterDescription string
	PropertiesToModify    map[string]any
}

// DispositionKind selects the broker-side disposition-status value.
type DispositionKind int

const (
	DispositionComplete DispositionKind = iota
	DispositionAbandon
	DispositionDefer
	DispositionDeadLetter
)

func (k DispositionKind) status() string {
	switch k {
	case DispositionComplete:
		return dispositionCompleted
	case DispositionAbandon:
		return dispositionAbandoned
	case DispositionDefer:
		return dispositionDeferred
	case DispositionDeadLetter:
		return dispositionSuspended
	default:
		return dispositionAbandoned
	}
}

// UpdateDispositionByLockTokens settles one or more messages identified by
// lock token (rather than delivery-tag), used by the sync/batch facades
// layered on top of this core and by session receivers in browsable mode.
func (c *Client) UpdateDispositionByLockTokens(ctx context.Context, tokens []string, kind DispositionKind, params UpdateDispositionParams) error {
	body := map[string]any{
		keyLockTokens:        tokens,
		keyDispositionStatus: kind.status(),
	}
	if params.SessionID != "" {
		body[keySessionID] = params.SessionID
	}
	if kind == DispositionDeadLetter {
		if params.DeadLetterReason != "" {
			body[keyDeadLetterReason] = params.DeadLetterReason
		}
		if params.DeadLetterDescription != "" {
			body[keyDeadLetterDescription] = params.DeadLetterDescription
		}
	}
	if len(params.PropertiesToModify) > 0 {
		body[keyPropertiesToModify] = params.PropertiesToModify
	}
	_, err := c.do(ctx, opUpdateDisp, body)
	return err
}

// RenewSessionLock renews the exclusive session lock and returns its new
// expiration.
func (c *Client) RenewSessionLock(ctx context.Context, sessionID string) (time.Time, error) {
	resp, err := c.do(ctx, opRenewSessionLock, map[string]any{keySessionID: sessionID})
	if err != nil {
		return time.Time{}, err
	}
	values, ok := messageValue(resp).(map[string]any)
	if !ok {
		return time.Time{}, fmt.Errorf("mgmtlink: unexpected renew-session-lock response shape")
	}
	t, _ := values["expiration"].(int64)
	return ticks.ToTime(t), nil
}

// GetSessionState fetches the application-defined session state blob,
// which may be nil.
func (c *Client) GetSessionState(ctx context.Context, sessionID string) ([]byte, error) {
	resp, err := c.do(ctx, opGetSessionState, map[string]any{keySessionID: sessionID})
	if err != nil {
		return nil, err
	}
	values, ok := messageValue(resp).(map[string]any)
	if !ok {
		return nil, nil
	}
	state, _ := values[keySessionState].([]byte)
	return state, nil
}

// SetSessionState stores the application-defined session state blob. A nil
// state clears it.
func (c *Client) SetSessionState(ctx context.Context, sessionID string, state []byte) error {
	body := map[string]any{keySessionID: sessionID}
	if state != nil {
		body[keySessionState] = state
	} else {
		body[keySessionState] = nil
	}
	_, err := c.do(ctx, opSetSessionState, body)
	return err
}

// PeekedMessage is one raw message returned by Peek.
type PeekedMessage struct {
	SequenceNumber int64
	Raw            []byte
}

// Peek browses up to count messages starting at fromSequenceNumber without
// locking them.
func (c *Client) Peek(ctx context.Context, sessionID string, fromSequenceNumber int64, count int32) ([]PeekedMessage, error) {
	body := map[string]any{
		keyFromSequenceNumber: fromSequenceNumber,
		keyMessageCount:       count,
	}
	if sessionID != "" {
		body[keySessionID] = sessionID
	}
	resp, err := c.do(ctx, opPeekMessage, body)
	if err != nil {
		return nil, err
	}
	values, ok := messageValue(resp).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("mgmtlink: unexpected peek-message response shape")
	}
	entries, _ := values["messages"].([]map[string]any)
	out := make([]PeekedMessage, 0, len(entries))
	for _, e := range entries {
		seq, _ := e["sequence-number"].(int64)
		raw, _ := e["message"].([]byte)
		out = append(out, PeekedMessage{SequenceNumber: seq, Raw: raw})
	}
	return out, nil
}

// messageValue extracts the AMQP value section carried in an rpc.Response,
// isolated here since azure-amqp-common-go/v3/rpc exposes the raw
// *amqp.Message rather than a pre-decoded body.
func messageValue(resp *rpc.Response) any {
	if resp.Message == nil {
		return nil
	}
	return resp.Message.Value
}
