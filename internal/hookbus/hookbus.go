// Package hookbus implements the engine's typed lifecycle bus (spec
// §4.6). Unlike a plain broadcast bus, hooks can be emitted in
// "wait" mode so pre-mutation hooks (EVENT_BUILT, ACTION_PRESEND) run
// to completion, in registration order, before the caller proceeds —
// the fan-out/non-blocking style is grounded on the teacher's
// internal/events/bus.go, adapted here from "broadcast to passive
// channel subscribers" into "run an ordered list of callbacks,
// optionally awaiting them".
package hookbus

import (
	"context"
	"log/slog"
)

// Kind enumerates the engine's lifecycle points.
type Kind int

const (
	// Loaded fires once plugins/handlers have been registered.
	Loaded Kind = iota
	// Connected fires each time the Connector completes a successful open.
	Connected
	// BeforeClose fires before the Connector tears down its transport.
	BeforeClose
	// BeforeStop fires before the engine shuts down.
	BeforeStop
	// EventBuilt fires after EventBuilder produces an Event, before
	// dispatch. Handlers registered here may mutate it; they cannot
	// stop it from being dispatched.
	EventBuilt
	// ActionPresend fires immediately before an Action is serialized
	// and sent by the Responder.
	ActionPresend
)

func (k Kind) String() string {
	switch k {
	case Loaded:
		return "loaded"
	case Connected:
		return "connected"
	case BeforeClose:
		return "before_close"
	case BeforeStop:
		return "before_stop"
	case EventBuilt:
		return "event_built"
	case ActionPresend:
		return "action_presend"
	default:
		return "unknown"
	}
}

// Handler is a lifecycle callback. It receives the background context
// the bus was emitted with and the hook's positional arguments.
type Handler func(ctx context.Context, args ...any)

// Bus is a typed lifecycle event bus. The zero value is not usable;
// construct with New. A nil *Bus is safe to call Emit/On on (both are
// no-ops), mirroring the teacher's nil-receiver-safe Publish.
type Bus struct {
	logger   *slog.Logger
	handlers map[Kind][]Handler
}

// New creates a ready-to-use Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, handlers: make(map[Kind][]Handler)}
}

// On registers a handler for kind. Registration may happen at plugin
// build time (before the engine starts) or dynamically at runtime;
// both call this same method.
func (b *Bus) On(kind Kind, h Handler) {
	if b == nil || h == nil {
		return
	}
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Emit runs every handler registered for kind. When wait is true,
// handlers run sequentially in registration order and Emit blocks
// until the last one returns — required for EVENT_BUILT and
// ACTION_PRESEND, which may mutate state the caller reads next. When
// wait is false, each handler is scheduled as its own goroutine and
// Emit returns immediately.
//
// A handler that panics is recovered and logged with the hook kind;
// other handlers are unaffected (spec §4.6 / §7 "Hook errors").
func (b *Bus) Emit(ctx context.Context, kind Kind, wait bool, args ...any) {
	if b == nil {
		return
	}
	handlers := b.handlers[kind]
	if len(handlers) == 0 {
		return
	}
	if wait {
		for _, h := range handlers {
			b.runOne(ctx, kind, h, args)
		}
		return
	}
	for _, h := range handlers {
		go b.runOne(ctx, kind, h, args)
	}
}

func (b *Bus) runOne(ctx context.Context, kind Kind, h Handler, args []any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("hook handler panicked", "hook", kind.String(), "panic", r)
		}
	}()
	h(ctx, args...)
}
