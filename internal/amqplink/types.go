// Package amqplink implements the link lifecycle manager and session
// facet: it owns the state machine that opens, re-creates and tears down
// the receive link, and it is the only place in this repo that talks to
// the receive link of the underlying AMQP transport
// (github.com/Azure/go-amqp), treating the frame codec and connection
// reactor as an external collaborator.
//
// The receiver core depends only on the Link/Delivery interfaces defined
// here. The management client (internal/mgmtlink) and the root package's
// constructors in client.go use github.com/Azure/go-amqp types directly.
package amqplink

import (
	"context"
	"time"
)

// Delivery is an unsettled message as handed to the receiver core: an
// opaque payload plus the broker-assigned delivery-tag that identifies it
// for later settlement.
type Delivery struct {
	Tag     string // delivery-tag, treated as an opaque byte string (stringified for map keys)
	Payload []byte // raw encoded message body, decoded lazily by the caller
	handle  any    // opaque underlying transport handle, passed back on settlement

	// SenderSettled mirrors a sender-settle-mode=SETTLED delivery: the
	// sender already considers it settled, so the receiver must
	// auto-accept and must not register the tag.
	SenderSettled bool
}

// Handle returns the opaque transport-specific handle backing this
// delivery. Only the Link implementation that produced the Delivery should
// interpret it.
func (d Delivery) Handle() any { return d.handle }

// NewDelivery constructs a Delivery; exported for transport adapters and
// for tests to synthesize fixtures.
func NewDelivery(tag string, payload []byte, handle any) Delivery {
	return Delivery{Tag: tag, Payload: payload, handle: handle}
}

// WithSenderSettled returns a copy of d marked sender-settled.
func (d Delivery) WithSenderSettled() Delivery {
	d.SenderSettled = true
	return d
}

// SettleOutcome identifies the kind of terminal (or requested) outcome a
// disposition carries, used in place of a class-name equality check.
type SettleOutcome int

const (
	OutcomeAccepted SettleOutcome = iota
	OutcomeRejected
	OutcomeReleased
	OutcomeModified
)

func (o SettleOutcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeReleased:
		return "released"
	case OutcomeModified:
		return "modified"
	default:
		return "unknown"
	}
}

// RejectInfo carries the error condition attached to a rejected
// disposition, including the dead-letter reason/description/custom
// properties mapping.
type RejectInfo struct {
	Condition   string
	Description string
	Info        map[string]any
}

// ModifyInfo carries the parameters of a `modified` disposition: abandon
// uses the zero value, defer sets UndeliverableHere.
type ModifyInfo struct {
	DeliveryFailed    bool
	UndeliverableHere bool
	Annotations       map[string]any
}

// Disposition is what the core asks the transport to send for one delivery.
type Disposition struct {
	Outcome SettleOutcome
	Reject  *RejectInfo
	Modify  *ModifyInfo
}

// LinkEvent is pushed from the transport into the receiver's reactor
// goroutine. Which fields are meaningful is selected by Kind, as noted on
// each field.
type LinkEventKind int

const (
	EventDelivery LinkEventKind = iota
	EventSettled                // a previously sent disposition reached a terminal remote outcome
	EventError
	EventClosed
)

type LinkEvent struct {
	Kind     LinkEventKind
	Delivery Delivery
	Tag      string        // for EventSettled
	Outcome  SettleOutcome // for EventSettled: the remote's terminal outcome
	Reject   *RejectInfo   // for EventSettled with Outcome == OutcomeRejected
	Err      error         // for EventError/EventClosed, and a settlement error for EventSettled
	Transient bool         // for EventError: whether retry policy should reattach
}

// Link is the narrow transport surface the receiver core depends on. A
// production Link is backed by *amqp.Receiver (see goamqp.go); tests back
// it with a fake.
type Link interface {
	// Events returns the channel the core selects on for inbound deliveries,
	// settlement notifications, errors and closure.
	Events() <-chan LinkEvent
	// IssueCredit grants n additional messages of credit to the broker. A
	// negative delta (shrinking prefetch) is passed as supported by the
	// Credit Controller's accumulator; implementations must clamp at 0.
	IssueCredit(n int32) error
	// Settle starts sending the given disposition for the delivery. It does
	// not wait for the broker's terminal outcome, which arrives later as an
	// EventSettled.
	Settle(ctx context.Context, d Delivery, disp Disposition) error
	// Close tears down the link.
	Close(ctx context.Context) error
	// Name is the link's assigned name.
	Name() string
	// RemoteSessionFilter returns the session-filter value the remote
	// source echoed on attach, and whether one was present at all.
	RemoteSessionFilter() (string, bool)
	// RemoteLockedUntil returns the decoded com.microsoft:locked-until-utc
	// remote property, or the zero time if absent.
	RemoteLockedUntil() time.Time
}

// Factory creates receive links. Production code binds it to
// github.com/Azure/go-amqp (see goamqp.go), tests bind it to a fake.
type Factory interface {
	NewReceiveLink(ctx context.Context, cfg LinkConfig) (Link, error)
}

// LinkConfig parametrizes link creation for both plain and
// session-scoped receive links.
type LinkConfig struct {
	Name               string
	Path               string
	Prefetch           int32
	SenderSettleMode   int // 0 = unsettled, 1 = settled, 2 = mixed
	ReceiverSettleMode int // 0 = first (auto-settle), 1 = second (explicit)
	OperationTimeout   time.Duration

	// Session mode, zero value means "not a session receiver".
	IsSessionReceiver bool
	SessionID         string // may be empty: "accept the next available session"
	Browsable         bool

	// Properties are caller-supplied attach properties merged into the
	// link's property map alongside the ones this package sets itself
	// (com.microsoft:timeout, the session filter/peek-mode properties).
	Properties map[string]any
}
