// Package connector defines the Connector contract (C1, spec §4.5):
// one duplex transport to the upstream chat platform, reconnect
// policy included. Concrete transports live in subpackages (wsconn,
// mqttconn); callers depend only on this interface so the dispatch,
// session, and responder packages never know which transport is in
// play.
package connector

import (
	"context"

	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/hookbus"
)

// FrameHandler receives parsed inbound events. A Connector calls
// OnEvent for non-echo frames and OnEcho for echo frames, matching
// spec §4.5's "hand it to either the Responder (if echo) or the
// Dispatcher".
type FrameHandler interface {
	OnEvent(ctx context.Context, ev event.Event)
	OnEcho(ctx context.Context, echo *event.EchoEvent)
}

// Connector is the engine's contract with an upstream transport.
type Connector interface {
	// Open establishes the transport, retrying per the configured
	// reconnect policy. It returns once a connection is live or
	// retries are exhausted.
	Open(ctx context.Context) error
	// Listen reads frames until ctx is cancelled or the transport
	// closes permanently, building events and routing them to h.
	Listen(ctx context.Context, h FrameHandler) error
	// Send transmits one outbound packet.
	Send(ctx context.Context, p event.OutPacket) error
	// Hooks returns the lifecycle bus this Connector emits
	// CONNECTED/BEFORE_CLOSE on.
	Hooks() *hookbus.Bus
}
