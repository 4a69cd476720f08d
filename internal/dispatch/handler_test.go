package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/hookbus"
	"github.com/melobridge/engine/internal/session"
	"github.com/melobridge/engine/internal/sessionctx"
)

func sameSender(e1, e2 event.Event) bool {
	m1, ok1 := e1.(*event.MessageEvent)
	m2, ok2 := e2.(*event.MessageEvent)
	if !ok1 || !ok2 {
		return false
	}
	return m1.SenderID == m2.SenderID
}

// TestConflictCBRunsOnBusySessionNoWait exercises spec §4.2 step 2:
// when SessionWait is false and a matching session is already busy,
// Get returns (nil, nil) and the handler must run ConflictCB in a
// temporary session rather than the main Callback.
func TestConflictCBRunsOnBusySessionNoWait(t *testing.T) {
	mgr := session.NewManager(nil, nil)
	release := make(chan struct{})
	mainRan := make(chan struct{}, 1)
	conflictRan := make(chan event.Event, 1)

	h := NewHandler(event.KindMessage, Config{
		Name:        "busy",
		SessionRule: session.RuleFunc(sameSender),
		SessionWait: false,
		Callback: func(ctx context.Context, ev event.Event) error {
			mainRan <- struct{}{}
			<-release
			return nil
		},
		ConflictCB: func(ctx context.Context, ev event.Event) error {
			conflictRan <- ev
			return nil
		},
	}, mgr, hookbus.New(nil), nil)

	ev1 := event.NewMessageEvent("m1", "u1", "", "first", nil)
	if !h.Evoke(context.Background(), ev1) {
		t.Fatal("expected first event to be accepted")
	}

	select {
	case <-mainRan:
	case <-time.After(time.Second):
		t.Fatal("main callback never started")
	}
	defer close(release)

	ev2 := event.NewMessageEvent("m2", "u1", "", "second", nil)
	if !h.Evoke(context.Background(), ev2) {
		t.Fatal("expected second event to be accepted (into conflict_cb)")
	}

	select {
	case got := <-conflictRan:
		if got != ev2 {
			t.Fatalf("conflict_cb ran with %v, want ev2", got)
		}
	case <-time.After(time.Second):
		t.Fatal("conflict_cb never ran")
	}
}

// TestOvertimeCBFiresOnTimeout exercises spec §4.2 step 3: a Callback
// that outlives Timeout is abandoned and OvertimeCB runs instead.
func TestOvertimeCBFiresOnTimeout(t *testing.T) {
	mgr := session.NewManager(nil, nil)
	block := make(chan struct{})
	overtimeRan := make(chan struct{}, 1)

	h := NewHandler(event.KindMessage, Config{
		Name:    "slow",
		Timeout: 30 * time.Millisecond,
		Callback: func(ctx context.Context, ev event.Event) error {
			<-block
			return nil
		},
		OvertimeCB: func(ctx context.Context, ev event.Event) error {
			overtimeRan <- struct{}{}
			return nil
		},
	}, mgr, hookbus.New(nil), nil)
	defer close(block)

	ev := event.NewMessageEvent("m1", "u1", "", "hi", nil)
	if !h.Evoke(context.Background(), ev) {
		t.Fatal("expected the event to be accepted")
	}

	select {
	case <-overtimeRan:
	case <-time.After(time.Second):
		t.Fatal("overtime_cb never ran")
	}
}

// TestDirectRouseWakesSuspendedSession exercises spec §4.2 step 3 /
// §9's DirectRouse handlers: one whose whole purpose is to attach to
// and wake an existing suspended session rather than start new work.
func TestDirectRouseWakesSuspendedSession(t *testing.T) {
	mgr := session.NewManager(nil, nil)
	resumed := make(chan string, 1)
	started := make(chan *session.Session, 1)

	h := NewHandler(event.KindMessage, Config{
		Name:        "conv",
		SessionRule: session.RuleFunc(sameSender),
		SessionWait: false,
		Callback: func(ctx context.Context, ev event.Event) error {
			sess, ok := sessionctx.From(ctx)
			if !ok {
				return errors.New("no session in context")
			}
			msg, ok := ev.(*event.MessageEvent)
			if !ok || msg.Text != "start" {
				return nil
			}
			started <- sess
			if err := sess.Hup(ctx, 2*time.Second); err != nil {
				return err
			}
			if latest := sess.Event(); latest != nil {
				if m, ok := latest.(*event.MessageEvent); ok {
					resumed <- m.Text
				}
			}
			return nil
		},
	}, mgr, hookbus.New(nil), nil)

	ev1 := event.NewMessageEvent("m1", "u1", "", "start", nil)
	go h.run(context.Background(), ev1)

	// Take the session from the running callback, then poll it until it
	// is suspended the same way session.TestSuspendAndAttachWakes does,
	// rather than sleeping a fixed guess. (Manager.Get only scans live
	// sessions, so it can never hand back a suspended one.)
	var sess *session.Session
	select {
	case sess = <-started:
	case <-time.After(time.Second):
		t.Fatal("callback never started")
	}
	deadline := time.After(time.Second)
	for !sess.IsSuspended() {
		select {
		case <-deadline:
			t.Fatal("session never became suspended")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	h.DirectRouse = true
	ev2 := event.NewMessageEvent("m2", "u1", "", "resume", nil)
	if !h.Evoke(context.Background(), ev2) {
		t.Fatal("expected DirectRouse evoke to be accepted")
	}

	select {
	case text := <-resumed:
		if text != "resume" {
			t.Fatalf("resumed with %q, want %q", text, "resume")
		}
	case <-time.After(time.Second):
		t.Fatal("suspended session never resumed")
	}
}
