package event

import (
	"fmt"

	"github.com/melobridge/engine/internal/idgen"
)

// Build parses a RawPacket into one of the five event variants. It
// mirrors the upstream protocol's type tagging (spec §6): a frame
// carrying an Echo id (regardless of its Type) is always an EchoEvent,
// "message"/"message_sent" become MessageEvent, "request" becomes
// RequestEvent, "notice" becomes NoticeEvent, and "meta_event" becomes
// MetaEvent. Unknown types are a protocol error: logged by the caller
// and skipped, not fatal to the engine.
func Build(p RawPacket) (Event, error) {
	if p.Echo != "" {
		data, _ := p.Raw["data"].(map[string]any)
		return NewEchoEvent(p.Echo, p.Status, data, p.Raw), nil
	}

	id := stringField(p.Raw, "id")
	if id == "" {
		id = idgen.New()
	}

	switch p.Type {
	case "message", "message_sent":
		return NewMessageEvent(id, stringField(p.Raw, "sender_id"), stringField(p.Raw, "group_id"), stringField(p.Raw, "text"), p.Raw), nil
	case "notice":
		return NewNoticeEvent(id, stringField(p.Raw, "sub_type"), p.Raw), nil
	case "request":
		return NewRequestEvent(id, stringField(p.Raw, "sub_type"), p.Raw), nil
	case "meta_event":
		return NewMetaEvent(id, stringField(p.Raw, "sub_type"), p.Raw), nil
	default:
		return nil, fmt.Errorf("event: unrecognized packet type %q", p.Type)
	}
}

func stringField(raw map[string]any, key string) string {
	if raw == nil {
		return ""
	}
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}
