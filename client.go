package gosbreceiver

import (
	"context"
	"fmt"

	amqp "github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/Azure/go-sb-receiver/internal/amqplink"
	"github.com/Azure/go-sb-receiver/internal/mgmtlink"
)

// NewReceiver opens a non-session receive link against path over session
// and returns a ready-to-use Receiver. Establishing session itself
// (dialing, TLS, SASL negotiation) is the caller's responsibility; this
// constructor only ever attaches links on top of an already-connected
// AMQP session, leaving connection/session setup to the caller.
func NewReceiver(ctx context.Context, session *amqp.Session, path string, opts ReceiverOptions) (*Receiver, error) {
	opts = withGeneratedLinkName(opts)
	factory := &amqplink.GoAMQPFactory{Session: session}
	mgmtOpener := &mgmtlink.SessionOpener{Session: session, Address: managementAddress(path)}
	return newReceiver(ctx, factory, mgmtOpener, path, opts, nil)
}

// NewSessionReceiver opens a session-aware receive link: if opts.SessionID
// is empty, the broker assigns the next available session; the confirmed
// id is recorded internally and used by the receiver's session-scoped
// management calls (Receiver has no exported accessor for it).
func NewSessionReceiver(ctx context.Context, session *amqp.Session, path string, opts SessionReceiverOptions) (*Receiver, error) {
	opts.ReceiverOptions = withGeneratedLinkName(opts.ReceiverOptions)
	factory := &amqplink.GoAMQPFactory{Session: session}
	mgmtOpener := &mgmtlink.SessionOpener{Session: session, Address: managementAddress(path)}
	return newReceiver(ctx, factory, mgmtOpener, path, opts.ReceiverOptions, &opts)
}

func withGeneratedLinkName(o ReceiverOptions) ReceiverOptions {
	if o.LinkName == "" {
		o.LinkName = fmt.Sprintf("go-sb-receiver-%s", uuid.New().String())
	}
	return o
}

func managementAddress(path string) string {
	return path + "/$management"
}
