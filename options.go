package gosbreceiver

import "time"

// SettleMode is the receiver half of the (sender, receiver) settle-mode
// pair. The sender half is not configurable; a delivery the sender has
// already settled is accepted on arrival whatever SettleMode is.
type SettleMode int

const (
	// SettleModeSecond is the zero value and the default: the receiver
	// must explicitly settle each delivery and the broker waits for that
	// confirmation (peek-lock semantics).
	SettleModeSecond SettleMode = iota
	// SettleModeFirst: the receiver considers messages settled the moment
	// they're read; no explicit disposition round trip is required.
	SettleModeFirst
)

// ReceiverOptions configures NewReceiver, mirroring the functional-options
// surface many AMQP client libraries expose for link construction
// (LinkName, LinkReceiverSettle, ...), collected here into a struct since
// this package's constructors are few and options rarely optional-optional.
type ReceiverOptions struct {
	// LinkName overrides the generated link name.
	LinkName string
	// PrefetchCount bounds both outstanding link credit and how many
	// messages may be buffered locally.
	PrefetchCount int32
	// SettleMode selects peek-lock (Second, default) or receive-and-delete
	// (First) semantics.
	SettleMode SettleMode
	// OperationTimeout is the deadline for opening the link, the default
	// deadline for dispositions whose ctx has none, and the value
	// advertised via the com.microsoft:timeout link property. Management
	// operations run under the caller's ctx only; OperationTimeout is not
	// applied to them.
	OperationTimeout time.Duration
	// LinkProperties are merged into the attach frame's properties map.
	LinkProperties map[string]any
}

func (o *ReceiverOptions) withDefaults() *ReceiverOptions {
	out := *o
	if out.PrefetchCount <= 0 {
		out.PrefetchCount = 100
	}
	if out.OperationTimeout <= 0 {
		out.OperationTimeout = 60 * time.Second
	}
	return &out
}

// SessionReceiverOptions configures NewSessionReceiver. SessionID may be
// left empty to accept the next available session.
type SessionReceiverOptions struct {
	ReceiverOptions
	SessionID string
	// Browsable puts the receiver into peek-only mode: no credit is ever
	// issued and messages only arrive via management Peek.
	Browsable bool
}
