package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/telemetry"
)

// handlerState is the per-handler arena: STORAGE/HUP_STORAGE plus the
// locks and deadlock flag that guard them (spec §3 "SessionManager
// tables", §9 design note on arena-like maps keyed by handler
// identity). Go's garbage collector handles cycles natively, so unlike
// the source language this needs no weak references: sessions simply
// hold their handler's identity as an opaque `any` key rather than a
// back-pointer into this struct.
type handlerState struct {
	workMu   sync.Mutex // WORK_LOCK[h]
	attachMu sync.Mutex // ATTACH_LOCK[h]

	mu         sync.Mutex // guards storage/hupStorage below
	storage    []*Session // STORAGE[h]
	hupStorage []*Session // HUP_STORAGE[h]

	flagMu sync.Mutex
	flagCh chan struct{} // DEADLOCK_FLAG[h]: open = not raised, closed = raised
}

func newHandlerState() *handlerState {
	return &handlerState{flagCh: make(chan struct{})}
}

// namedKey is implemented by *dispatch.Handler (structurally, to avoid
// an import cycle: dispatch already imports session). It lets hup/
// rouse attach a human-readable handler name to telemetry without the
// session package knowing about dispatch.Handler's concrete type.
type namedKey interface {
	HandlerName() string
}

func handlerNameFor(key any) string {
	if n, ok := key.(namedKey); ok {
		return n.HandlerName()
	}
	return ""
}

func (st *handlerState) raiseFlag() {
	st.flagMu.Lock()
	defer st.flagMu.Unlock()
	select {
	case <-st.flagCh:
	default:
		close(st.flagCh)
	}
}

func (st *handlerState) currentFlagChan() chan struct{} {
	st.flagMu.Lock()
	defer st.flagMu.Unlock()
	return st.flagCh
}

func (st *handlerState) resetFlag() {
	st.flagMu.Lock()
	defer st.flagMu.Unlock()
	select {
	case <-st.flagCh:
		st.flagCh = make(chan struct{})
	default:
	}
}

func removeSession(list *[]*Session, s *Session) {
	for i, c := range *list {
		if c == s {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// Manager implements the SessionManager (spec §4.3) for every handler
// that registers with it. One Manager instance serves the whole
// engine; handlers are distinguished by an opaque comparable key
// (typically the *dispatch.Handler pointer).
type Manager struct {
	logger *slog.Logger
	tel    *telemetry.Bus

	mu     sync.Mutex
	states map[any]*handlerState
}

// NewManager creates a ready-to-use Manager. tel may be nil.
func NewManager(logger *slog.Logger, tel *telemetry.Bus) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, tel: tel, states: make(map[any]*handlerState)}
}

func (m *Manager) stateFor(key any) *handlerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	if !ok {
		st = newHandlerState()
		m.states[key] = st
	}
	return st
}

// make builds a fresh session tagged with key, already marked busy
// (about to run a callback). It does not register the session; Get
// appends it to STORAGE[key] when key is non-nil.
func (m *Manager) make(ev event.Event, key any) *Session {
	s := &Session{
		mgr:        m,
		handlerKey: key,
		events:     []event.Event{ev},
		store:      make(map[string]any),
		free:       newFreeGate(),
		susp:       newSuspendPair(),
	}
	s.free.setBusy()
	return s
}

// Get implements spec §4.3.2. rule may be nil, in which case every
// call returns a fresh one-shot session. sessionWait controls what
// happens on conflict: true waits for the matching session to free up,
// false returns (nil, nil) immediately so the caller can run a
// conflict callback in a temporary session instead.
func (m *Manager) Get(ctx context.Context, key any, ev event.Event, rule Rule, sessionWait bool) (*Session, error) {
	if rule == nil {
		return m.make(ev, nil), nil
	}

	st := m.stateFor(key)
	st.workMu.Lock()
	defer st.workMu.Unlock()

	for {
		st.mu.Lock()
		var found *Session
		for _, s := range st.storage {
			if !s.IsExpired() && rule.Compare(s.Event(), ev) {
				found = s
				break
			}
		}
		if found == nil {
			s := m.make(ev, key)
			st.storage = append(st.storage, s)
			st.mu.Unlock()
			return s, nil
		}
		st.mu.Unlock()

		if found.free.isFree() {
			found.appendEvent(ev)
			found.free.setBusy()
			return found, nil
		}

		if !sessionWait {
			return nil, nil
		}

		select {
		case <-found.free.chanFree():
		case <-found.susp.chanHup():
			st.raiseFlag()
			select {
			case <-found.free.chanFree():
			case <-ctx.Done():
				st.resetFlag()
				return nil, ctx.Err()
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		st.resetFlag()

		if found.IsExpired() {
			s := m.make(ev, key)
			st.mu.Lock()
			st.storage = append(st.storage, s)
			st.mu.Unlock()
			return s, nil
		}
		found.appendEvent(ev)
		found.free.setBusy()
		return found, nil
	}
}

// attachStep is the critical section shared by TryAttach's two racing
// branches (spec §4.3.1): scan HUP_STORAGE for the first session whose
// rule matches ev, append ev and rouse it.
func (st *handlerState) attachStep(ev event.Event, rule Rule) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.hupStorage {
		if rule.Compare(s.Event(), ev) {
			s.appendEvent(ev)
			removeSession(&st.hupStorage, s)
			st.storage = append(st.storage, s)
			s.susp.setAwake()
			return true
		}
	}
	return false
}

// TryAttach implements spec §4.3.1. It races a wait on the handler's
// DEADLOCK_FLAG against acquiring WORK_LOCK so that a concurrent Get
// call that is blocked waiting on a suspended session's free_signal
// cannot starve attachment forever. Go mutexes cannot be cancelled, so
// the losing race leg is left to finish in the background and release
// its lock normally rather than being aborted in place.
func (m *Manager) TryAttach(key any, ev event.Event, rule Rule) bool {
	if rule == nil {
		return false
	}
	st := m.stateFor(key)
	st.attachMu.Lock()
	defer st.attachMu.Unlock()

	flagCh := st.currentFlagChan()
	acquired := make(chan struct{})
	go func() {
		st.workMu.Lock()
		close(acquired)
	}()

	select {
	case <-flagCh:
		ok := st.attachStep(ev, rule)
		st.resetFlag()
		go func() {
			<-acquired
			st.workMu.Unlock()
		}()
		return ok
	case <-acquired:
		ok := st.attachStep(ev, rule)
		st.workMu.Unlock()
		return ok
	}
}

// hup implements spec §4.3.3 for an already-validated, space-tagged,
// non-expired session.
func (m *Manager) hup(ctx context.Context, s *Session, timeout time.Duration) error {
	st := m.stateFor(s.handlerKey)

	s.mu.Lock()
	s.hupTimes = append(s.hupTimes, time.Now())
	s.mu.Unlock()

	st.mu.Lock()
	removeSession(&st.storage, s)
	st.hupStorage = append(st.hupStorage, s)
	st.mu.Unlock()

	s.susp.setHup()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}

	handlerName := handlerNameFor(s.handlerKey)
	m.tel.Publish(telemetry.SourceSession, telemetry.KindSessionSuspended, map[string]any{
		"handler": handlerName, "timeout_ms": timeout.Milliseconds(),
	})

	select {
	case <-s.susp.chanAwake():
		m.tel.Publish(telemetry.SourceSession, telemetry.KindSessionWoken, map[string]any{"handler": handlerName, "timed_out": false})
		return nil
	case <-timeoutCh:
		m.rouse(s)
		m.tel.Publish(telemetry.SourceSession, telemetry.KindSessionWoken, map[string]any{"handler": handlerName, "timed_out": true})
		return &SuspendTimeoutError{Waited: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rouse implements spec §4.3.4.
func (m *Manager) rouse(s *Session) {
	st := m.stateFor(s.handlerKey)
	st.mu.Lock()
	removeSession(&st.hupStorage, s)
	st.storage = append(st.storage, s)
	st.mu.Unlock()
	s.susp.setAwake()
}

// Recycle implements spec §4.3.5: mark the session free and, unless
// alive is true, expire it. Suspended sessions are never recycled — by
// the time a callback returns and recycle runs, the session has
// already been resumed (awake), matching the spec's stated invariant.
func (m *Manager) Recycle(s *Session, alive bool) {
	s.free.setFree()
	if alive {
		return
	}
	m.expire(s)
}

func (m *Manager) expire(s *Session) {
	s.markExpired()
	if s.handlerKey == nil {
		return
	}
	st := m.stateFor(s.handlerKey)
	st.mu.Lock()
	removeSession(&st.storage, s)
	st.mu.Unlock()
}

// ForceWakeAll forcibly rouses every suspended session across every
// handler so blocked user callbacks can unwind during shutdown (spec
// §5 "Cancellation").
func (m *Manager) ForceWakeAll() {
	m.mu.Lock()
	states := make([]*handlerState, 0, len(m.states))
	for _, st := range m.states {
		states = append(states, st)
	}
	m.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		suspended := append([]*Session(nil), st.hupStorage...)
		st.mu.Unlock()
		for _, s := range suspended {
			m.rouse(s)
		}
	}
}
