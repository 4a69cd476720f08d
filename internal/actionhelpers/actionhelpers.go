// Package actionhelpers offers the small set of convenience calls a
// handler callback makes without threading a Session or Responder
// through every function signature: Send, SendReply, and Pause. Each
// pulls the current session out of sessionctx the way
// internal/agent/loop.go pulls the current *Request out of its
// context instead of passing it explicitly.
package actionhelpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/melobridge/engine/internal/dispatch"
	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/idgen"
	"github.com/melobridge/engine/internal/responder"
	"github.com/melobridge/engine/internal/restartwrap"
	"github.com/melobridge/engine/internal/sessionctx"
)

// ErrNoSession is returned when a helper is called from outside a
// running handler callback (no session installed in ctx).
var ErrNoSession = errors.New("actionhelpers: no current session in context")

// Send submits action via r without awaiting an echo. It requires no
// current session and is safe to call from hook handlers too.
func Send(ctx context.Context, r *responder.Responder, kind string, params map[string]any) error {
	return r.TakeAction(ctx, dispatch.NewAction(kind, params, triggerFromCtx(ctx)))
}

// SendReply submits action and blocks until the matching echo arrives,
// ctx is cancelled, or timeout elapses. A timeout of 0 falls back to
// r's configured DefaultReplyWait (spec §6 kernel_timeout); if that is
// also 0, the wait is bounded only by ctx. It returns the matching
// echo event.
func SendReply(ctx context.Context, r *responder.Responder, kind string, params map[string]any, timeout time.Duration) (*event.EchoEvent, error) {
	respID := idgen.New()
	action := dispatch.NewActionAwaitingEcho(kind, params, respID, triggerFromCtx(ctx))

	if timeout == 0 {
		timeout = r.DefaultReplyWait()
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch, err := r.TakeActionWait(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("actionhelpers: send reply: %w", err)
	}

	select {
	case echo, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("actionhelpers: wait for echo %s abandoned", respID)
		}
		return echo, nil
	case <-waitCtx.Done():
		r.CancelWait(respID)
		return nil, waitCtx.Err()
	}
}

// Pause suspends the current session, waiting up to timeout for a
// matching follow-up event to attach (spec §4.3.3). It is how a
// handler implements multi-turn conversation within one callback.
func Pause(ctx context.Context, timeout time.Duration) error {
	sess, ok := sessionctx.From(ctx)
	if !ok {
		return ErrNoSession
	}
	return sess.Hup(ctx, timeout)
}

// CurrentEvent returns the event most recently attached to the current
// session, or nil if there is no current session or it has no events
// yet.
func CurrentEvent(ctx context.Context) event.Event {
	sess, ok := sessionctx.From(ctx)
	if !ok {
		return nil
	}
	return sess.Event()
}

// Restart implements the module-wrapper contract (spec §6): it ends
// the process with the sentinel exit code a restartwrap supervisor
// re-execs on. It returns restartwrap.ErrNotWrapped without exiting if
// the process was started unwrapped, since exiting in that case would
// just close the bot instead of restarting it.
func Restart(ctx context.Context) error {
	return restartwrap.RequestRestart(nil)
}

func triggerFromCtx(ctx context.Context) event.Event {
	sess, ok := sessionctx.From(ctx)
	if !ok {
		return nil
	}
	return sess.Event()
}
