// Package dispatch implements the Dispatcher (C3) and the
// HandlerRegistry (C4): the priority-sorted handler lists per event
// kind, the priority-blocking walk, and each Handler's evoke/_run
// algorithm (spec §4.1, §4.2).
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/melobridge/engine/internal/elog"
	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/hookbus"
	"github.com/melobridge/engine/internal/session"
	"github.com/melobridge/engine/internal/sessionctx"
)

// Checker decides whether a handler is even a candidate for an event,
// independent of matching/parsing (e.g. permission checks).
type Checker func(ev event.Event) bool

// Matcher decides whether a message event's text should be accepted.
// Only consulted for message events.
type Matcher func(ev *event.MessageEvent) bool

// Parser extracts a handler-specific argument group from an event. A
// non-nil, true return stores the group into the event's args map
// under this handler's ParserID.
type Parser struct {
	ID     event.ParserID
	Invoke func(ev event.Event) (group any, ok bool)
}

// Callback is a user-registered handler body. ctx carries the current
// session (sessionctx) and is bounded by the handler's Timeout.
type Callback func(ctx context.Context, ev event.Event) error

// Config is the immutable registration record a user supplies per
// spec §3 "Handler (configuration, immutable)".
type Config struct {
	Name     string
	Priority int
	Block    bool
	Temp     bool

	SessionRule session.Rule
	SessionWait bool
	SessionKeep bool
	ConflictCB  Callback
	OvertimeCB  Callback
	Timeout     time.Duration

	// DirectRouse makes evoke try TryAttach first (spec §4.2 step 3) —
	// used by handlers whose whole purpose is to wake a suspended peer
	// rather than start new work.
	DirectRouse bool

	Checker Checker
	Matcher Matcher // only consulted for message events
	Parser  *Parser

	Callback Callback
}

// Handler is one registered user callback plus its policy (spec §3).
// Handlers are identified by pointer identity, which doubles as the
// opaque "space tag" SessionManager keys sessions under.
type Handler struct {
	Config
	Kind event.Kind

	mgr    *session.Manager
	bus    *hookbus.Bus
	logger *slog.Logger

	mu    sync.Mutex
	valid bool

	runLock sync.Mutex // only meaningful when Temp
}

// NewHandler constructs a Handler bound to kind, ready to be scheduled
// by a Dispatcher.
func NewHandler(kind event.Kind, cfg Config, mgr *session.Manager, bus *hookbus.Bus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Config: cfg, Kind: kind, mgr: mgr, bus: bus, logger: logger, valid: true}
}

// HandlerName satisfies session's namedKey interface so suspend/wake
// telemetry can report which handler owns a session without the
// session package importing dispatch.
func (h *Handler) HandlerName() string {
	return h.Name
}

// Valid reports whether the handler may still evoke (always true
// except for a Temp handler after its one successful run).
func (h *Handler) Valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.valid
}

func (h *Handler) invalidate() {
	h.mu.Lock()
	h.valid = false
	h.mu.Unlock()
}

// Evoke implements spec §4.2. It returns true iff this handler
// accepted ev — used by the Dispatcher to apply priority blocking.
func (h *Handler) Evoke(ctx context.Context, ev event.Event) bool {
	if !h.Valid() {
		return false
	}

	if h.Checker != nil && !h.Checker(ev) {
		return false
	}

	if msg, ok := ev.(*event.MessageEvent); ok && h.Matcher != nil {
		if !h.Matcher(msg) {
			return false
		}
	}
	if h.Parser != nil {
		group, ok := h.Parser.Invoke(ev)
		if !ok {
			return false
		}
		ev.SetArgs(h.Parser.ID, group)
	}

	if h.DirectRouse {
		if h.mgr.TryAttach(h, ev, h.SessionRule) {
			return true
		}
	}

	if !h.Temp {
		go h.run(ctx, ev)
		return true
	}

	h.runLock.Lock()
	defer h.runLock.Unlock()
	if !h.Valid() {
		return false
	}
	go h.run(ctx, ev)
	h.invalidate()
	return true
}

// run implements the `_run` half of spec §4.2.
func (h *Handler) run(ctx context.Context, ev event.Event) {
	if !h.DirectRouse {
		if h.mgr.TryAttach(h, ev, h.SessionRule) {
			return
		}
	}

	sess, err := h.mgr.Get(ctx, h, ev, h.SessionRule, h.SessionWait)
	if err != nil {
		h.logger.Error("session manager error", append(elog.EventAttrs(ev.ID(), string(ev.Kind())), elog.HandlerAttrs(h.Name, h.Priority)...)...)
		return
	}
	if sess == nil {
		// Conflict-no-wait (spec §7): expected outcome.
		if h.ConflictCB != nil {
			h.runCallbackTemp(ctx, ev, h.ConflictCB)
		}
		return
	}

	h.runCallback(ctx, ev, sess, h.Callback)
	h.mgr.Recycle(sess, h.SessionKeep)
}

// runCallbackTemp runs cb under a brand-new one-shot session, used for
// conflict_cb (spec §4.2 step 2).
func (h *Handler) runCallbackTemp(ctx context.Context, ev event.Event, cb Callback) {
	tmp, err := h.mgr.Get(ctx, h, ev, nil, false)
	if err != nil || tmp == nil {
		return
	}
	h.runCallback(ctx, ev, tmp, cb)
	h.mgr.Recycle(tmp, false)
}

// runCallback installs sess as the current session, runs cb bounded by
// Timeout, runs overtime_cb on timeout, and swallows/logs every other
// error so it never propagates (spec §4.2 step 3, §7).
func (h *Handler) runCallback(ctx context.Context, ev event.Event, sess *session.Session, cb Callback) {
	callCtx := ctx
	var cancel context.CancelFunc
	if h.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	callCtx = sessionctx.With(callCtx, sess)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.New("handler callback panicked")
			}
		}()
		done <- cb(callCtx, ev)
	}()

	select {
	case err := <-done:
		if err != nil {
			h.logger.Error("handler callback error", append(elog.EventAttrs(ev.ID(), string(ev.Kind())), append(elog.HandlerAttrs(h.Name, h.Priority), "error", err)...)...)
		}
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && h.OvertimeCB != nil {
			overtimeCtx := sessionctx.With(ctx, sess)
			if err := h.OvertimeCB(overtimeCtx, ev); err != nil {
				h.logger.Error("overtime callback error", append(elog.EventAttrs(ev.ID(), string(ev.Kind())), elog.HandlerAttrs(h.Name, h.Priority)...)...)
			}
		}
	}
}
