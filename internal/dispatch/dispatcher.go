package dispatch

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/melobridge/engine/internal/elog"
	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/hookbus"
	"github.com/melobridge/engine/internal/telemetry"
)

// MinPriority is the permit floor dispatch starts each event at (spec
// §4.1's MIN_PRIORITY). It must sit below every valid handler
// priority — spec.md §3 places no lower bound on handler priority, so
// a sentinel like 0 would silently skip any handler registered below
// it on every event, which is not priority blocking, just a wrong
// floor.
const MinPriority = math.MinInt

// Dispatcher holds the priority-sorted handler list per event kind and
// drives priority-blocking (spec §4.1, C3). Echo events never reach
// the Dispatcher; the Connector routes them straight to the Responder.
type Dispatcher struct {
	bus    *hookbus.Bus
	logger *slog.Logger
	tel    *telemetry.Bus

	mu       sync.RWMutex
	handlers map[event.Kind][]*Handler
}

// NewDispatcher creates an empty Dispatcher. tel may be nil, in which
// case no telemetry events are published.
func NewDispatcher(bus *hookbus.Bus, logger *slog.Logger, tel *telemetry.Bus) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{bus: bus, logger: logger, tel: tel, handlers: make(map[event.Kind][]*Handler)}
}

// Register adds h to its kind's handler list and re-sorts by priority
// descending. Registration is expected at startup (spec §9 "no need
// for runtime monkey-patching; replace with explicit registration
// calls") but is safe to call at any time.
func (d *Dispatcher) Register(h *Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := append(d.handlers[h.Kind], h)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority > list[j].Priority })
	d.handlers[h.Kind] = list
}

// Dispatch implements spec §4.1. It never returns an error: handler
// failures are logged and do not abort other handlers or the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) {
	d.bus.Emit(ctx, hookbus.EventBuilt, true, ev)

	d.mu.RLock()
	handlers := append([]*Handler(nil), d.handlers[ev.Kind()]...)
	d.mu.RUnlock()

	permit := MinPriority
	evoked := 0
	for _, h := range handlers {
		if h.Priority < permit {
			continue
		}
		accepted := d.evokeSafely(ctx, h, ev)
		if accepted {
			evoked++
		}
		if accepted && h.Block && h.Priority > permit {
			permit = h.Priority
		}
	}

	d.tel.Publish(telemetry.SourceDispatch, telemetry.KindEventDispatched, map[string]any{
		"event_id": ev.ID(), "event_kind": string(ev.Kind()), "handlers_evoked": evoked,
	})
}

func (d *Dispatcher) evokeSafely(ctx context.Context, h *Handler, ev event.Event) (accepted bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler evoke panicked", append(elog.EventAttrs(ev.ID(), string(ev.Kind())), append(elog.HandlerAttrs(h.Name, h.Priority), "panic", r)...)...)
			accepted = false
		}
	}()
	return h.Evoke(ctx, ev)
}
