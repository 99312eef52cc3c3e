package amqplink

import (
	"sync"
	"time"
)

// Facet holds session-scoped state for a session receiver. The session
// id may be unset until the link opens and the remote confirms it via
// filter echo.
type Facet struct {
	mu           sync.RWMutex
	sessionID    string
	lockedUntil  time.Time
	browsable    bool
}

// NewFacet constructs a session facet. sessionID may be empty when the
// caller asked to receive from "the next available session".
func NewFacet(sessionID string, browsable bool) *Facet {
	return &Facet{sessionID: sessionID, browsable: browsable}
}

// SessionID returns the confirmed session id. Until the link opens it is
// the requested id, which is empty when none was requested.
func (f *Facet) SessionID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sessionID
}

// SetSessionID records the session id confirmed by the remote source
// filter echo.
func (f *Facet) SetSessionID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID = id
}

// LockedUntil returns the instant the session lock expires. The zero
// instant (epoch 0) means unknown.
func (f *Facet) LockedUntil() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lockedUntil
}

// SetLockedUntil updates the session lock expiration, e.g. after a
// successful RenewSessionLock management call.
func (f *Facet) SetLockedUntil(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockedUntil = t
}

// Browsable reports whether this is a peek-only session receiver: no
// credit is ever issued and the prefetch queue stays empty except for
// messages fetched out-of-band via management peek.
func (f *Facet) Browsable() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.browsable
}
