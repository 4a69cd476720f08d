// Package telemetry provides a publish/subscribe event bus for
// operational observability: dispatch, session, and responder
// activity flow out to subscribers (an admin WebSocket, a metrics
// collector) without any component needing a direct reference to
// them. Grounded on internal/events/bus.go's non-blocking broadcast
// bus, adapted from agent-loop/LLM-call telemetry kinds to the
// dispatch/session/responder domain. The bus is nil-safe: Publish on a
// nil *Bus is a no-op, so dispatch/session/responder can hold an
// optional *Bus field with no guard checks at call sites.
package telemetry

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	SourceDispatch  = "dispatch"
	SourceSession   = "session"
	SourceResponder = "responder"
	SourceConnector = "connector"
)

// Kind constants describe the type of event within a source.
const (
	// KindEventDispatched signals an inbound event finished its
	// handler sweep. Data: event_id, event_kind, handlers_evoked.
	KindEventDispatched = "event_dispatched"
	// KindHandlerRun signals one handler callback ran to completion.
	// Data: event_id, handler, duration_ms, error.
	KindHandlerRun = "handler_run"
	// KindSessionSuspended signals a session entered the suspended set.
	// Data: handler, timeout_ms.
	KindSessionSuspended = "session_suspended"
	// KindSessionWoken signals a suspended session was woken, either by
	// an attached event or by its suspend timeout. Data: handler,
	// timed_out.
	KindSessionWoken = "session_woken"
	// KindActionSent signals an outbound action was handed to the
	// connector. Data: kind, resp_id, error.
	KindActionSent = "action_sent"
	// KindConnectorState signals a connector lifecycle transition.
	// Data: state (connected, closed).
	KindConnectorState = "connector_state"
)

// Event represents a single operational event published by a
// component.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive
// events on buffered channels; slow subscribers miss events rather
// than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept the caller's <-chan Event view.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op), so components
// holding an optional *Bus never need a guard check.
func (b *Bus) Publish(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	e := Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers. Safe to
// call on a nil receiver.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
