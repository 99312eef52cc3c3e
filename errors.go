package gosbreceiver

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind discriminates the error taxonomy this package returns. It's a
// closed set; callers should use errors.As against the concrete *Error
// type and switch on Kind rather than matching error strings.
type Kind int

const (
	// KindInvalidArgument is a programmer error on the API surface, e.g. an
	// out-of-range max message count.
	KindInvalidArgument Kind = iota
	// KindTimeout means an operation did not complete within its deadline.
	KindTimeout
	// KindOperationCancelled means the broker returned a `released` outcome.
	KindOperationCancelled
	// KindDeliveryNotFound means a disposition was attempted against a
	// delivery-tag the registry doesn't know about.
	KindDeliveryNotFound
	// KindTransient is a retryable broker or transport condition.
	KindTransient
	// KindFatal is a non-retryable protocol or broker error.
	KindFatal
	// KindSchedulingFailure means the dispatcher could not post the closure
	// to the reactor goroutine (it had already shut down, or ctx ended
	// while its queue was full).
	KindSchedulingFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindTimeout:
		return "TimeoutError"
	case KindOperationCancelled:
		return "OperationCancelled"
	case KindDeliveryNotFound:
		return "DeliveryNotFound"
	case KindTransient:
		return "TransientError"
	case KindFatal:
		return "FatalError"
	case KindSchedulingFailure:
		return "SchedulingFailure"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type returned on receiver-facing promises.
// It carries the taxonomy Kind plus the underlying cause so callers can
// still errors.As/errors.Is through to transport-level errors if needed.
type Error struct {
	Kind Kind
	// Msg is a short human description; Cause, if non-nil, is chained.
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func invalidArgumentf(format string, args ...any) *Error {
	return newError(KindInvalidArgument, fmt.Sprintf(format, args...), nil)
}

func timeoutError(cause error) *Error {
	return newError(KindTimeout, "operation timed out", cause)
}

func deliveryNotFoundError(tag string) *Error {
	return newError(KindDeliveryNotFound, fmt.Sprintf("unknown delivery tag %q", tag), nil)
}

func schedulingFailureError(cause error) *Error {
	return newError(KindSchedulingFailure, "failed to schedule work on reactor", cause)
}

func cancelledError(cause error) *Error {
	return newError(KindOperationCancelled, "broker released the delivery", cause)
}

func fatalErrorf(cause error, format string, args ...any) *Error {
	return newError(KindFatal, fmt.Sprintf(format, args...), cause)
}

// Wrap adds context to err using github.com/pkg/errors, without
// discarding an existing *Error's Kind.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return newError(e.Kind, msg+": "+e.Msg, e.Cause)
	}
	return errors.Wrap(err, msg)
}
