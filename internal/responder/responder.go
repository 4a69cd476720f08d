// Package responder implements the Responder (C7, spec §4.4): the
// single outbound action queue, cooldown spacing, and the echo
// correlation table. Its pending-future/id-keyed-map shape is
// grounded on internal/signal/client.go's JSON-RPC request/response
// correlation (a pending map keyed by request id, completed by a
// reader goroutine) — the same pattern applied to actions/echoes
// instead of RPC calls.
package responder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/melobridge/engine/internal/dispatch"
	"github.com/melobridge/engine/internal/elog"
	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/hookbus"
	"github.com/melobridge/engine/internal/telemetry"
)

// Sender is the narrow interface Responder needs from a Connector:
// serialize and transmit one outbound packet.
type Sender interface {
	Send(ctx context.Context, p event.OutPacket) error
}

// Responder owns the outbound pipeline described in spec §4.4.
type Responder struct {
	sender           Sender
	bus              *hookbus.Bus
	logger           *slog.Logger
	tel              *telemetry.Bus
	minInterval      time.Duration
	defaultReplyWait time.Duration

	queue chan *dispatch.Action

	mu    sync.Mutex
	table map[string]chan *event.EchoEvent

	silent atomic.Bool

	lastSendMu sync.Mutex
	lastSend   time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Config configures a Responder.
type Config struct {
	Sender      Sender
	Bus         *hookbus.Bus
	Logger      *slog.Logger
	Telemetry   *telemetry.Bus
	MinInterval time.Duration // cooldown_time (spec §6)
	QueueSize   int

	// DefaultReplyWait is the fallback internal/actionhelpers.SendReply
	// waits for an echo when its caller passes no explicit timeout
	// (spec §6 kernel_timeout, "default task timeout used internally
	// for action-placement"). Zero means no fallback timeout.
	DefaultReplyWait time.Duration
}

// New creates a Responder. Call Start to launch its sender goroutine.
func New(cfg Config) *Responder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Responder{
		sender:           cfg.Sender,
		bus:              cfg.Bus,
		logger:           logger,
		tel:              cfg.Telemetry,
		minInterval:      cfg.MinInterval,
		defaultReplyWait: cfg.DefaultReplyWait,
		queue:            make(chan *dispatch.Action, size),
		table:            make(map[string]chan *event.EchoEvent),
	}
}

// DefaultReplyWait returns the configured action-placement timeout
// fallback (spec §6 kernel_timeout).
func (r *Responder) DefaultReplyWait() time.Duration {
	return r.defaultReplyWait
}

// SetSilent toggles the global silence flag (spec §9 supplemented
// feature, grounded on melobot/core/responder.py's responder/sender
// gating). While silent, actions are dequeued and dropped rather than
// sent.
func (r *Responder) SetSilent(silent bool) {
	r.silent.Store(silent)
}

// Start launches the single sender goroutine. Call Stop to drain and
// shut it down.
func (r *Responder) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.sendLoop(ctx)
}

// Stop cancels the sender goroutine, which drains the queue
// best-effort before exiting (spec §4.4 "Cancellation").
func (r *Responder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// TakeAction enqueues action without waiting for an echo.
func (r *Responder) TakeAction(ctx context.Context, action *dispatch.Action) error {
	select {
	case r.queue <- action:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TakeActionWait enqueues action (which must carry a non-empty RespID)
// and returns a channel that receives the matching echo once it
// arrives, or is closed without a value if the wait is abandoned.
func (r *Responder) TakeActionWait(ctx context.Context, action *dispatch.Action) (<-chan *event.EchoEvent, error) {
	ch := make(chan *event.EchoEvent, 1)
	r.mu.Lock()
	r.table[action.RespID] = ch
	r.mu.Unlock()

	if err := r.TakeAction(ctx, action); err != nil {
		r.mu.Lock()
		delete(r.table, action.RespID)
		r.mu.Unlock()
		close(ch)
		return nil, err
	}
	return ch, nil
}

// CancelWait abandons a pending echo wait for respID, e.g. because the
// caller's own context was cancelled.
func (r *Responder) CancelWait(respID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.table[respID]; ok {
		delete(r.table, respID)
		close(ch)
	}
}

// DispatchEcho implements the inbound half of spec §4.4: complete the
// pending future for resp.EchoID, if any. Unknown ids are logged and
// ignored; a cancelled/closed waiter is popped and logged.
func (r *Responder) DispatchEcho(resp *event.EchoEvent) {
	r.mu.Lock()
	ch, ok := r.table[resp.EchoID]
	if ok {
		delete(r.table, resp.EchoID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("echo with unknown id received", "echo_id", resp.EchoID)
		return
	}

	select {
	case ch <- resp:
	default:
		r.logger.Warn("echo waiter was not listening, dropping", "echo_id", resp.EchoID)
	}
}

func (r *Responder) sendLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case action := <-r.queue:
			r.sendOne(ctx, action)
		}
	}
}

func (r *Responder) drain() {
	for {
		select {
		case action := <-r.queue:
			r.logger.Warn("dropping queued action during shutdown", "kind", action.Kind)
		default:
			return
		}
	}
}

func (r *Responder) sendOne(ctx context.Context, action *dispatch.Action) {
	r.bus.Emit(ctx, hookbus.ActionPresend, true, action)

	if r.silent.Load() {
		return
	}

	r.lastSendMu.Lock()
	wait := r.minInterval - time.Since(r.lastSend)
	r.lastSendMu.Unlock()
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}

	p := event.OutPacket{Action: action.Kind, Params: action.Params, Echo: action.RespID}
	sendErr := r.sender.Send(ctx, p)
	if sendErr != nil {
		r.logger.Error("send action failed", append(elog.EventAttrs(triggerID(action), "action"), "kind", action.Kind, "error", sendErr)...)
		if action.RespID != "" {
			r.CancelWait(action.RespID)
		}
	}

	telData := map[string]any{"kind": action.Kind, "resp_id": action.RespID}
	if sendErr != nil {
		telData["error"] = sendErr.Error()
	}
	r.tel.Publish(telemetry.SourceResponder, telemetry.KindActionSent, telData)

	r.lastSendMu.Lock()
	r.lastSend = time.Now()
	r.lastSendMu.Unlock()
}

func triggerID(a *dispatch.Action) string {
	if a.Trigger == nil {
		return ""
	}
	return a.Trigger.ID()
}
