package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/melobridge/engine/internal/event"
)

func sameSender(e1, e2 event.Event) bool {
	m1, ok1 := e1.(*event.MessageEvent)
	m2, ok2 := e2.(*event.MessageEvent)
	if !ok1 || !ok2 {
		return false
	}
	return m1.SenderID == m2.SenderID
}

func TestGetCreatesThenReusesSession(t *testing.T) {
	m := NewManager(nil, nil)
	key := "handlerA"
	e1 := event.NewMessageEvent("m1", "u1", "", "hi", nil)

	s1, err := m.Get(context.Background(), key, e1, RuleFunc(sameSender), true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m.Recycle(s1, true) // keep alive, simulate callback finished but session survives

	e2 := event.NewMessageEvent("m2", "u1", "", "again", nil)
	s2, err := m.Get(context.Background(), key, e2, RuleFunc(sameSender), true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected session reuse for matching sender")
	}
	if got := s2.Event(); got != e2 {
		t.Fatalf("Event() = %v, want e2", got)
	}
}

func TestGetNoRuleAlwaysFresh(t *testing.T) {
	m := NewManager(nil, nil)
	e1 := event.NewMessageEvent("m1", "u1", "", "hi", nil)
	e2 := event.NewMessageEvent("m2", "u1", "", "hi", nil)

	s1, _ := m.Get(context.Background(), "k", e1, nil, true)
	s2, _ := m.Get(context.Background(), "k", e2, nil, true)
	if s1 == s2 {
		t.Fatal("ruleless handler must not reuse sessions")
	}
}

func TestSuspendAndAttachWakes(t *testing.T) {
	m := NewManager(nil, nil)
	key := "handlerS"
	e1 := event.NewMessageEvent("m1", "u1", "", "hi", nil)

	s, err := m.Get(context.Background(), key, e1, RuleFunc(sameSender), true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Hup(context.Background(), 2*time.Second)
	}()

	// Give the hup goroutine time to register the session as suspended.
	deadline := time.After(time.Second)
	for !s.IsSuspended() {
		select {
		case <-deadline:
			t.Fatal("session never became suspended")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	e2 := event.NewMessageEvent("m2", "u1", "", "again", nil)
	if !m.TryAttach(key, e2, RuleFunc(sameSender)) {
		t.Fatal("TryAttach should have matched the suspended session")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Hup returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Hup did not wake up after attach")
	}

	events := s.Events()
	if len(events) != 2 || events[0] != e2 || events[1] != e1 {
		t.Fatalf("unexpected events order: %#v", events)
	}
}

func TestSuspendTimeoutExpiresWaiter(t *testing.T) {
	m := NewManager(nil, nil)
	key := "handlerT"
	e1 := event.NewMessageEvent("m1", "u1", "", "hi", nil)
	s, _ := m.Get(context.Background(), key, e1, RuleFunc(sameSender), true)

	err := s.Hup(context.Background(), 20*time.Millisecond)
	var timeoutErr *SuspendTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected SuspendTimeoutError, got %v", err)
	}
	if s.IsSuspended() {
		t.Fatal("session should have been forcibly roused after timeout")
	}
}

func TestRecycleExpiresWhenNotAlive(t *testing.T) {
	m := NewManager(nil, nil)
	key := "handlerR"
	e1 := event.NewMessageEvent("m1", "u1", "", "hi", nil)
	s, _ := m.Get(context.Background(), key, e1, RuleFunc(sameSender), true)

	m.Recycle(s, false)
	if !s.IsExpired() {
		t.Fatal("expected session to be expired")
	}

	e2 := event.NewMessageEvent("m2", "u1", "", "again", nil)
	s2, _ := m.Get(context.Background(), key, e2, RuleFunc(sameSender), true)
	if s2 == s {
		t.Fatal("expired session must not be reused")
	}
}

func TestConflictNoWaitReturnsNil(t *testing.T) {
	m := NewManager(nil, nil)
	key := "handlerC"
	e1 := event.NewMessageEvent("m1", "u1", "", "hi", nil)
	s, _ := m.Get(context.Background(), key, e1, RuleFunc(sameSender), true)
	_ = s // s.free is busy (not recycled yet): simulates "callback still running"

	e2 := event.NewMessageEvent("m2", "u1", "", "again", nil)
	got, err := m.Get(context.Background(), key, e2, RuleFunc(sameSender), false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil session on conflict with sessionWait=false")
	}
}

func TestHupRejectsRulelessSession(t *testing.T) {
	m := NewManager(nil, nil)
	e1 := event.NewMessageEvent("m1", "u1", "", "hi", nil)
	s, _ := m.Get(context.Background(), "k", e1, nil, true)

	if err := s.Hup(context.Background(), 0); !errors.Is(err, ErrSuspendNoSpace) {
		t.Fatalf("expected ErrSuspendNoSpace, got %v", err)
	}
}
