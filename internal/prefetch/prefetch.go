// Package prefetch implements a FIFO of ready messages plus the map from
// delivery-tag to the live delivery handle used for later settlement.
//
// Both structures are owned by the single reactor goroutine that calls
// these methods; they are not safe for concurrent use from multiple
// goroutines.
package prefetch

import "github.com/Azure/go-sb-receiver/internal/amqplink"

// Item is a message paired with its delivery-tag, ready for delivery to
// a caller.
type Item struct {
	Message amqplink.Delivery
}

// Store holds the prefetch queue and delivery registry together, since
// every mutation touches both in lockstep.
type Store struct {
	queue    []Item
	registry map[string]amqplink.Delivery
}

// New constructs an empty Store.
func New() *Store {
	return &Store{registry: make(map[string]amqplink.Delivery)}
}

// Push records a newly-arrived delivery: registers its tag when
// registerTag is true (callers pass false for deliveries settled on
// arrival) and appends it to the prefetch queue.
func (s *Store) Push(d amqplink.Delivery, registerTag bool) {
	if registerTag {
		s.registry[d.Tag] = d
	}
	s.queue = append(s.queue, Item{Message: d})
}

// Len returns the number of messages currently buffered.
func (s *Store) Len() int { return len(s.queue) }

// Poll drains up to n messages from the head of the queue. It does not
// touch the registry: messages stay registered until settled.
func (s *Store) Poll(n int) []Item {
	if n > len(s.queue) {
		n = len(s.queue)
	}
	out := s.queue[:n]
	s.queue = s.queue[n:]
	return out
}

// Lookup returns the registered delivery for tag, if any.
func (s *Store) Lookup(tag string) (amqplink.Delivery, bool) {
	d, ok := s.registry[tag]
	return d, ok
}

// Forget removes tag from the registry once its disposition has been
// resolved or has timed out. Deliveries settled on arrival were never
// registered.
func (s *Store) Forget(tag string) {
	delete(s.registry, tag)
}

// Clear empties both structures, used on receiver Close.
func (s *Store) Clear() {
	s.queue = nil
	s.registry = make(map[string]amqplink.Delivery)
}

// RegisteredCount reports how many tags are currently tracked.
func (s *Store) RegisteredCount() int { return len(s.registry) }
