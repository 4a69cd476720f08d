// Package session implements the per-handler SessionManager (spec
// §4.3): the live/suspended session sets, the WORK_LOCK/ATTACH_LOCK
// candidate-selection algorithm, suspend (hup)/wake, and recycle/
// expire. This is the core of the engine (spec §2, C5).
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/melobridge/engine/internal/event"
)

// Rule decides whether two events belong to the same conversation.
// Handlers without a Rule get a fresh one-shot session per event.
type Rule interface {
	Compare(e1, e2 event.Event) bool
}

// RuleFunc adapts a plain function to the Rule interface.
type RuleFunc func(e1, e2 event.Event) bool

// Compare implements Rule.
func (f RuleFunc) Compare(e1, e2 event.Event) bool { return f(e1, e2) }

// Errors raised to user callbacks for programming mistakes (spec §7
// "Session-state errors").
var (
	ErrSuspendExpired = errors.New("session: cannot suspend an expired session")
	ErrSuspendNoSpace = errors.New("session: cannot suspend a session with no rule/space")
)

// SuspendTimeoutError is raised when a suspended session's wait for a
// matching event exceeds its timeout (spec's SessionSuspendTimeout).
type SuspendTimeoutError struct {
	Waited time.Duration
}

func (e *SuspendTimeoutError) Error() string {
	return fmt.Sprintf("session: suspend timed out after %s", e.Waited)
}

// Session is the per-conversation state shared across events that
// satisfy a handler's Rule (spec §3). The zero value is not usable;
// sessions are created through a Manager.
type Session struct {
	mgr        *Manager
	handlerKey any // nil for a one-shot session with no space-tag

	mu       sync.Mutex
	events   []event.Event // chronological order, oldest first
	store    map[string]any
	hupTimes []time.Time
	expired  bool

	free *freeGate
	susp *suspendPair
}

// Event returns the most recently appended event.
func (s *Session) Event() event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

// Events returns all events attached to this session, most recent
// first.
func (s *Session) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events))
	for i, e := range s.events {
		out[len(s.events)-1-i] = e
	}
	return out
}

// Store returns the value stored under key, if any.
func (s *Session) Store(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.store[key]
	return v, ok
}

// SetStore sets key to val in the session's store.
func (s *Session) SetStore(key string, val any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		s.store = make(map[string]any)
	}
	s.store[key] = val
}

// HupTimes returns the timestamps of every suspension this session has
// undergone.
func (s *Session) HupTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.hupTimes))
	copy(out, s.hupTimes)
	return out
}

// IsExpired reports whether the session has been recycled away.
func (s *Session) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// IsSuspended reports whether the session currently sits in the
// suspended set.
func (s *Session) IsSuspended() bool {
	return s.susp.isSuspended()
}

// Hup suspends the current session, waiting for a matching event to
// attach (via Manager.TryAttach) or for timeout to elapse. It is the
// user-callback-facing half of spec §4.3.3; callers reach it through
// the action-helpers package operating on the current session, not
// directly.
func (s *Session) Hup(ctx context.Context, timeout time.Duration) error {
	if s.handlerKey == nil {
		return ErrSuspendNoSpace
	}
	if s.IsExpired() {
		return ErrSuspendExpired
	}
	return s.mgr.hup(ctx, s, timeout)
}

func (s *Session) appendEvent(e event.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *Session) markExpired() {
	s.mu.Lock()
	s.events = nil
	s.store = nil
	s.hupTimes = nil
	s.expired = true
	s.mu.Unlock()
}
