// Package gosbreceiver implements the core message receiver for a
// Service-Bus-style broker client: an asynchronous, promise-returning pull
// API layered on top of a credit-flow AMQP link.
//
// Callers ask for up to N messages; the receiver prefetches them in the
// background using link credit, settles dispositions (complete / abandon /
// defer / dead-letter), renews locks, and supports session-scoped
// consumption. All link-touching work is serialized onto a single internal
// goroutine (see internal/dispatch) so callers on arbitrary goroutines never
// touch the underlying AMQP link directly.
package gosbreceiver
