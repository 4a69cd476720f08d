// Package elog provides the structured logging conventions shared by
// every engine component: a custom trace level below Debug for
// raw-frame wire tracing, and a couple of small slog.Attr helpers used
// when logging events, actions, and handlers.
package elog

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits below slog.LevelDebug and is reserved for raw inbound
// and outbound frame dumps (RawPacket / OutPacket bodies). It is noisy
// enough that it should never be the default level.
const LevelTrace = slog.Level(-8)

// ParseLevel converts a string to a slog.Level. Supported values:
// trace, debug, info, warn, error (case-insensitive). Empty defaults
// to info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ReplaceLevelNames renders LevelTrace as "TRACE" in log output instead
// of slog's default "DEBUG-8".
func ReplaceLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// EventAttrs returns the standard logging fields for an event: id and
// kind. Handlers and the dispatcher attach these to every log line
// that concerns a specific event so log correlation across components
// is trivial.
func EventAttrs(eventID, kind string) []any {
	return []any{"event_id", eventID, "event_kind", kind}
}

// HandlerAttrs returns the standard logging fields identifying a
// handler: its name and priority.
func HandlerAttrs(name string, priority int) []any {
	return []any{"handler", name, "priority", priority}
}
