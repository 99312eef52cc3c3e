package gosbreceiver

import "github.com/Azure/go-sb-receiver/internal/amqplink"

// ReceivedMessage pairs an opaque decoded payload with the
// broker-assigned delivery-tag needed to settle it later. It is created
// when a delivery finishes receiving and is no longer usable for
// settlement once it has already been settled once.
type ReceivedMessage struct {
	// Body is the raw encoded message payload; decoding it into an
	// application type is left to the caller.
	Body []byte

	// LockToken identifies this message for the management-channel
	// operations, independent of the AMQP delivery-tag. Messages returned
	// by Receive leave it empty and are settled by delivery-tag; lock-token
	// renewal (RenewMessageLock) is not available for them.
	LockToken string

	delivery amqplink.Delivery
	settled  bool
}

func newReceivedMessage(d amqplink.Delivery) *ReceivedMessage {
	return &ReceivedMessage{Body: d.Payload, delivery: d}
}

// tag returns the delivery-tag backing this message, used internally to
// key the Disposition Tracker and Delivery Registry.
func (m *ReceivedMessage) tag() string { return m.delivery.Tag }
