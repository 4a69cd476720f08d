package dispatch

import "github.com/melobridge/engine/internal/event"

// Action is an outbound command destined for the Connector (spec §3).
// It is immutable except for the late-bound Trigger field, which
// action helpers set to the event that caused it before handing the
// action to the Responder.
type Action struct {
	Kind    string
	Params  map[string]any
	RespID  string // empty means no echo is awaited
	Trigger event.Event
}

// NewAction builds an Action with no echo awaited.
func NewAction(kind string, params map[string]any, trigger event.Event) *Action {
	return &Action{Kind: kind, Params: params, Trigger: trigger}
}

// NewActionAwaitingEcho builds an Action with respID set, so the
// Responder registers a pending echo future for it before sending.
func NewActionAwaitingEcho(kind string, params map[string]any, respID string, trigger event.Event) *Action {
	return &Action{Kind: kind, Params: params, RespID: respID, Trigger: trigger}
}
