package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/hookbus"
	"github.com/melobridge/engine/internal/session"
)

func textMatcher(want string) Matcher {
	return func(ev *event.MessageEvent) bool { return ev.Text == want }
}

func newTestHandler(kind event.Kind, cfg Config, mgr *session.Manager) *Handler {
	return NewHandler(kind, cfg, mgr, hookbus.New(nil), nil)
}

func TestDispatchSimpleMatch(t *testing.T) {
	mgr := session.NewManager(nil, nil)
	var gotID string
	var mu sync.Mutex
	done := make(chan struct{})

	h := newTestHandler(event.KindMessage, Config{
		Name:     "H1",
		Priority: 10,
		Matcher:  textMatcher("ping"),
		Callback: func(ctx context.Context, ev event.Event) error {
			mu.Lock()
			gotID = ev.ID()
			mu.Unlock()
			close(done)
			return nil
		},
	}, mgr)

	d := NewDispatcher(hookbus.New(nil), nil, nil)
	d.Register(h)

	ev := event.NewMessageEvent("m1", "u1", "", "ping", nil)
	d.Dispatch(context.Background(), ev)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	if gotID != "m1" {
		t.Fatalf("trigger id = %q, want m1", gotID)
	}
}

func TestDispatchPriorityBlock(t *testing.T) {
	mgr := session.NewManager(nil, nil)
	var h2Ran bool
	var mu sync.Mutex
	doneH1 := make(chan struct{})

	h1 := newTestHandler(event.KindMessage, Config{
		Name:     "H1",
		Priority: 20,
		Block:    true,
		Matcher:  textMatcher("x"),
		Callback: func(ctx context.Context, ev event.Event) error {
			close(doneH1)
			return nil
		},
	}, mgr)
	h2 := newTestHandler(event.KindMessage, Config{
		Name:     "H2",
		Priority: 10,
		Matcher:  textMatcher("x"),
		Callback: func(ctx context.Context, ev event.Event) error {
			mu.Lock()
			h2Ran = true
			mu.Unlock()
			return nil
		},
	}, mgr)

	d := NewDispatcher(hookbus.New(nil), nil, nil)
	d.Register(h1)
	d.Register(h2)

	ev := event.NewMessageEvent("m1", "u1", "", "x", nil)
	d.Dispatch(context.Background(), ev)

	select {
	case <-doneH1:
	case <-time.After(time.Second):
		t.Fatal("H1 never ran")
	}
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if h2Ran {
		t.Fatal("H2 should have been blocked by H1's priority block")
	}
}

func TestTempHandlerFiresOnce(t *testing.T) {
	mgr := session.NewManager(nil, nil)
	var runs int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)

	h := newTestHandler(event.KindMessage, Config{
		Name:     "T1",
		Priority: 5,
		Temp:     true,
		Matcher:  textMatcher("once"),
		Callback: func(ctx context.Context, ev event.Event) error {
			mu.Lock()
			runs++
			mu.Unlock()
			wg.Done()
			return nil
		},
	}, mgr)

	d := NewDispatcher(hookbus.New(nil), nil, nil)
	d.Register(h)

	for i := 0; i < 5; i++ {
		ev := event.NewMessageEvent("m"+string(rune('0'+i)), "u1", "", "once", nil)
		d.Dispatch(context.Background(), ev)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("temp handler callback never ran")
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Fatalf("temp handler ran %d times, want 1", runs)
	}
}

func TestCheckerRejectsBeforeMatcher(t *testing.T) {
	mgr := session.NewManager(nil, nil)
	ran := false

	h := newTestHandler(event.KindMessage, Config{
		Name:     "H",
		Priority: 1,
		Checker:  func(ev event.Event) bool { return strings.Contains(ev.ID(), "allow") },
		Matcher:  textMatcher("x"),
		Callback: func(ctx context.Context, ev event.Event) error { ran = true; return nil },
	}, mgr)

	ok := h.Evoke(context.Background(), event.NewMessageEvent("deny", "u", "", "x", nil))
	if ok {
		t.Fatal("expected checker to reject")
	}
	time.Sleep(10 * time.Millisecond)
	if ran {
		t.Fatal("callback must not run when checker rejects")
	}
}
