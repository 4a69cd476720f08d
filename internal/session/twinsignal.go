package session

import "sync"

// twinPair implements the "twin signal" primitive of spec §4.3.6: two
// signals where setting one atomically clears the other, so a waiter
// can distinguish "free now" from "suspended now" without polling.
// Each side is a channel that is closed when set and replaced with a
// fresh channel when cleared (Go channels are single-shot, so "set" is
// modeled as "closed").
type twinPair struct {
	mu   sync.Mutex
	a    chan struct{} // closed iff "a" is the active signal
	b    chan struct{} // closed iff "b" is the active signal
}

// newTwinPair returns a pair with side a initially set (closed) and
// side b clear (open) — matching freeGate's initial state ("free",
// not busy) and suspendPair's initial state ("awake", not hup).
func newTwinPair() *twinPair {
	a := make(chan struct{})
	close(a)
	return &twinPair{a: a, b: make(chan struct{})}
}

// setA sets side a and clears side b.
func (t *twinPair) setA() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.a:
	default:
		close(t.a)
	}
	select {
	case <-t.b:
		t.b = make(chan struct{})
	default:
	}
}

// setB sets side b and clears side a.
func (t *twinPair) setB() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.b:
	default:
		close(t.b)
	}
	select {
	case <-t.a:
		t.a = make(chan struct{})
	default:
	}
}

// chanA returns the current channel for side a. It must be re-read
// after every wait, since clearing replaces the channel.
func (t *twinPair) chanA() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.a
}

func (t *twinPair) chanB() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.b
}

// isA reports whether side a is currently the active (set) signal.
func (t *twinPair) isA() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.a:
		return true
	default:
		return false
	}
}
