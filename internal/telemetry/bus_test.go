package telemetry

import "testing"

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(4)
	defer b.Unsubscribe(ch)

	b.Publish(SourceDispatch, KindEventDispatched, map[string]any{"event_id": "e1"})

	select {
	case e := <-ch:
		if e.Kind != KindEventDispatched {
			t.Fatalf("Kind = %q, want %q", e.Kind, KindEventDispatched)
		}
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestPublishOnNilBusIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(SourceSession, KindSessionSuspended, nil)
	if b.SubscriberCount() != 0 {
		t.Fatal("nil bus should report zero subscribers")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", b.SubscriberCount())
	}
}

func TestSlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(SourceResponder, KindActionSent, nil)
	b.Publish(SourceResponder, KindActionSent, nil) // buffer full, dropped
	if len(ch) != 1 {
		t.Fatalf("expected exactly 1 buffered event, got %d", len(ch))
	}
}
