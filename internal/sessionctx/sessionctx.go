// Package sessionctx implements the engine's "current session"
// task-local slot (spec §4.7, §9). It must be goroutine-scoped rather
// than thread-scoped — many callback invocations run concurrently on
// whatever OS thread the Go scheduler hands them — so it is built on
// context.Context, the idiomatic Go analogue of async-local storage,
// the way internal/agent/loop.go threads one *Request/context.Context
// pair through deeply nested calls instead of a global.
package sessionctx

import (
	"context"

	"github.com/melobridge/engine/internal/session"
)

type key struct{}

// With returns a derived context carrying s as the current session.
// The engine calls this exactly once per callback invocation, right
// before running user code, and discards the derived context when the
// callback returns.
func With(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, key{}, s)
}

// From returns the session installed by the nearest enclosing With
// call, if any. Action helpers (Send, SendReply, Pause) use this to
// find which event they belong to without the caller threading a
// session parameter through every call.
func From(ctx context.Context) (*session.Session, bool) {
	v, ok := ctx.Value(key{}).(*session.Session)
	if !ok {
		return nil, false
	}
	return v, true
}
