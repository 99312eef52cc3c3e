package amqplink

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/go-sb-receiver/internal/log"
)

// State is the link state machine:
//
//	INIT → OPENING → OPEN ⇄ REOPENING → CLOSED (terminal)
//	                  │                    ↑
//	                  └───────error───────┘
type State int

const (
	StateInit State = iota
	StateOpening
	StateOpen
	StateReopening
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateReopening:
		return "REOPENING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// RetryPolicy decides whether and when a transient error should trigger a
// link reattach; treated as an injected collaborator rather than a
// hardcoded constant so callers can swap in fixed-interval or no-retry
// policies for tests.
type RetryPolicy interface {
	// NextInterval returns the delay before the next attempt and true, or
	// false if the retry budget (attempt count) is exhausted.
	NextInterval(attempt int) (time.Duration, bool)
}

// Manager owns the link's state machine and the single session facet
// associated with a session receiver. Callers observe state via
// Events/State and drive transitions only through Open/Close; everything
// else (REOPENING on transient error) happens internally.
type Manager struct {
	factory Factory
	cfg     LinkConfig
	retry   RetryPolicy

	mu          sync.Mutex
	state       State
	link        Link
	lastErr     error
	retryCount  int
	session     *Facet // non-nil only when cfg.IsSessionReceiver

	events chan LinkEvent // re-multiplexed events surviving reattach
	closed chan struct{}
}

// NewManager constructs a Manager in state INIT.
func NewManager(factory Factory, cfg LinkConfig, retry RetryPolicy) *Manager {
	m := &Manager{
		factory: factory,
		cfg:     cfg,
		retry:   retry,
		state:   StateInit,
		events:  make(chan LinkEvent, 64),
		closed:  make(chan struct{}),
	}
	if cfg.IsSessionReceiver {
		m.session = NewFacet(cfg.SessionID, cfg.Browsable)
	}
	return m
}

// Session returns the session facet, or nil if this isn't a session
// receiver.
func (m *Manager) Session() *Facet { return m.session }

// Events is the merged event stream across the link's lifetime, including
// across reattaches; consumers never need to re-subscribe.
func (m *Manager) Events() <-chan LinkEvent { return m.events }

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the last known link error, remembered so it can be
// surfaced as the cause of the next operation that fails.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Open creates the link, arming openTimeout as the deadline. On success the
// manager transitions OPENING → OPEN (validating the session filter echo
// for session receivers) and starts forwarding the link's events.
func (m *Manager) Open(ctx context.Context, openTimeout time.Duration) error {
	m.mu.Lock()
	m.state = StateOpening
	m.mu.Unlock()

	octx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	link, err := m.factory.NewReceiveLink(octx, m.cfg)
	if err != nil {
		m.mu.Lock()
		m.state = StateClosed
		m.lastErr = err
		m.mu.Unlock()
		return timeoutOrCause(octx, err)
	}

	if m.session != nil {
		sid, ok := link.RemoteSessionFilter()
		if !ok {
			_ = link.Close(context.Background())
			err := &SessionFilterMissingError{}
			m.mu.Lock()
			m.state = StateClosed
			m.lastErr = err
			m.mu.Unlock()
			return err
		}
		m.session.SetSessionID(sid)
		m.session.SetLockedUntil(link.RemoteLockedUntil())
	}

	m.mu.Lock()
	m.state = StateOpen
	m.link = link
	m.retryCount = 0
	m.mu.Unlock()

	go m.pump(link)

	// issue initial credit for the full prefetch window, unless browsable.
	if !m.cfg.Browsable && m.cfg.Prefetch > 0 {
		_ = link.IssueCredit(m.cfg.Prefetch)
	}
	return nil
}

// Link returns the currently active transport Link, or nil while
// REOPENING/CLOSED.
func (m *Manager) Link() Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link
}

// IsOpen reports whether the link is currently usable.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateOpen
}

// pump forwards one link generation's events into the manager's merged
// stream, intercepting EventError to drive REOPENING/CLOSED transitions.
func (m *Manager) pump(link Link) {
	for ev := range link.Events() {
		if ev.Kind == EventError {
			if m.handleError(ev) {
				// transient, reattach scheduled; swallow the raw error event
				continue
			}
		}
		select {
		case m.events <- ev:
		case <-m.closed:
			return
		}
	}
}

// handleError applies the OPEN → REOPENING transition. Returns true if the
// error was transient and a reattach was scheduled (caller should not
// forward the raw event further).
func (m *Manager) handleError(ev LinkEvent) bool {
	m.mu.Lock()
	m.lastErr = ev.Err
	if m.state == StateClosed {
		m.mu.Unlock()
		return false
	}
	if !ev.Transient {
		m.state = StateClosed
		m.mu.Unlock()
		m.events <- LinkEvent{Kind: EventClosed, Err: ev.Err}
		return false
	}
	interval, ok := m.retry.NextInterval(m.retryCount)
	if !ok {
		m.state = StateClosed
		m.mu.Unlock()
		m.events <- LinkEvent{Kind: EventClosed, Err: ev.Err}
		return false
	}
	m.retryCount++
	m.state = StateReopening
	m.mu.Unlock()

	log.Debug(1, "link reattach scheduled in %s (attempt %d)", interval, m.retryCount)
	time.AfterFunc(interval, func() { m.reattach() })
	return true
}

func (m *Manager) reattach() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OperationTimeout)
	defer cancel()
	if err := m.Open(ctx, m.cfg.OperationTimeout); err != nil {
		log.Debug(1, "link reattach failed: %v", err)
	}
}

// Close tears down the active link and stops the manager permanently.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	link := m.link
	m.state = StateClosed
	m.mu.Unlock()

	close(m.closed)
	if link == nil {
		return nil
	}
	return link.Close(ctx)
}

func timeoutOrCause(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		return &TimeoutError{Cause: cause}
	}
	return cause
}

// SessionFilterMissingError is returned when a session receiver's link
// opens without the session filter echoed in the remote source.
type SessionFilterMissingError struct{}

func (*SessionFilterMissingError) Error() string {
	return "amqplink: remote source did not echo the session filter"
}

// TimeoutError wraps the last known link error as the cause of an
// open/close timeout.
type TimeoutError struct{ Cause error }

func (e *TimeoutError) Error() string {
	if e.Cause != nil {
		return "amqplink: timed out: " + e.Cause.Error()
	}
	return "amqplink: timed out"
}

func (e *TimeoutError) Unwrap() error { return e.Cause }
