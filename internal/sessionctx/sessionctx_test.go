package sessionctx

import (
	"context"
	"testing"

	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/session"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	mgr := session.NewManager(nil, nil)
	ev := event.NewMetaEvent("m1", "heartbeat", nil)
	s, err := mgr.Get(context.Background(), nil, ev, nil, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return s
}

func TestWithThenFromRoundTrips(t *testing.T) {
	sess := newTestSession(t)
	ctx := With(context.Background(), sess)

	got, ok := From(ctx)
	if !ok {
		t.Fatal("expected a session to be found")
	}
	if got != sess {
		t.Fatal("expected the same session pointer back")
	}
}

func TestFromWithoutWithReturnsFalse(t *testing.T) {
	_, ok := From(context.Background())
	if ok {
		t.Fatal("expected no session in a bare context")
	}
}

func TestWithOverwritesOuterSession(t *testing.T) {
	outer := newTestSession(t)
	inner := newTestSession(t)

	ctx := With(context.Background(), outer)
	ctx = With(ctx, inner)

	got, ok := From(ctx)
	if !ok || got != inner {
		t.Fatal("expected the innermost With to win")
	}
}
