// Package engine wires the Connector, Dispatcher, SessionManager,
// Responder, and HookBus into the running process described by spec
// §5: N event-handler goroutines (and N/4 priority-event-handler
// goroutines) draining the Connector's inbound stream, a Responder
// goroutine draining outbound actions, and graceful shutdown that
// force-wakes every suspended session. Grounded on
// internal/checkpoint/checkpointer.go's background-goroutine-plus-
// graceful-shutdown shape and cmd/thane/main.go's top-level
// construction order.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/melobridge/engine/internal/auditlog"
	"github.com/melobridge/engine/internal/config"
	"github.com/melobridge/engine/internal/connector"
	"github.com/melobridge/engine/internal/connector/mqttconn"
	"github.com/melobridge/engine/internal/connector/wsconn"
	"github.com/melobridge/engine/internal/dispatch"
	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/hookbus"
	"github.com/melobridge/engine/internal/responder"
	"github.com/melobridge/engine/internal/session"
	"github.com/melobridge/engine/internal/telemetry"
)

// Engine is the assembled runtime: one Connector, one Dispatcher, one
// session.Manager, one Responder, and the hook/telemetry buses they
// share.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	Conn       connector.Connector
	Dispatcher *dispatch.Dispatcher
	Sessions   *session.Manager
	Responder  *responder.Responder
	Hooks      *hookbus.Bus
	Telemetry  *telemetry.Bus
	Audit      *auditlog.Log

	eventCh    chan event.Event
	priorityCh chan event.Event
}

// New assembles an Engine from cfg. It does not open the connector or
// start goroutines; call Run for that.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bus := hookbus.New(logger)
	tel := telemetry.New()
	sessions := session.NewManager(logger, tel)
	dispatcher := dispatch.NewDispatcher(bus, logger, tel)

	var conn connector.Connector
	switch cfg.Connector.Transport {
	case "mqtt":
		conn = mqttconn.New(mqttconn.Config{
			BrokerURL:     cfg.Connector.MQTT.BrokerURL,
			ClientID:      cfg.Connector.MQTT.ClientID,
			Username:      cfg.Connector.MQTT.Username,
			Password:      cfg.Connector.MQTT.Password,
			InboundTopic:  cfg.Connector.MQTT.InboundTopic,
			OutboundTopic: cfg.Connector.MQTT.OutboundTopic,
			Logger:        logger,
			Bus:           bus,
		})
	default:
		conn = wsconn.New(wsconn.Config{
			URL:        cfg.Connector.WebsocketURL(),
			MaxRetries: cfg.Connector.MaxConnTry,
			RetryDelay: cfg.Connector.ConnTryInterval,
			Logger:     logger,
			Bus:        bus,
		})
	}

	resp := responder.New(responder.Config{
		Sender:           conn,
		Bus:              bus,
		Logger:           logger,
		Telemetry:        tel,
		MinInterval:      cfg.CooldownTime,
		DefaultReplyWait: cfg.KernelTimeout,
	})

	var audit *auditlog.Log
	if cfg.AuditLog.Enabled {
		a, err := auditlog.Open(cfg.AuditLog.Path)
		if err != nil {
			return nil, err
		}
		audit = a
		bus.On(hookbus.ActionPresend, func(ctx context.Context, args ...any) {
			if len(args) == 0 {
				return
			}
			action, ok := args[0].(*dispatch.Action)
			if !ok {
				return
			}
			if err := a.RecordAction(action); err != nil {
				logger.Warn("audit log record action failed", "error", err)
			}
		})
	}

	queueSize := cfg.EventHandlerNum * 64
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		Conn:       conn,
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Responder:  resp,
		Hooks:      bus,
		Telemetry:  tel,
		Audit:      audit,
		eventCh:    make(chan event.Event, queueSize),
		priorityCh: make(chan event.Event, queueSize),
	}, nil
}

// Register adds a handler to the Dispatcher.
func (e *Engine) Register(h *dispatch.Handler) {
	e.Dispatcher.Register(h)
}

// recordSuspensions subscribes to the telemetry bus and persists every
// session_suspended event to the audit log, so audit_log.enabled
// actually captures the hup_times bookkeeping SPEC_FULL.md describes
// rather than leaving RecordSuspension dead code.
func (e *Engine) recordSuspensions(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ch := e.Telemetry.Subscribe(32)
	defer e.Telemetry.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Source != telemetry.SourceSession || ev.Kind != telemetry.KindSessionSuspended {
				continue
			}
			handlerName, _ := ev.Data["handler"].(string)
			if err := e.Audit.RecordSuspension(handlerName, ev.Timestamp); err != nil {
				e.logger.Warn("audit log record suspension failed", "error", err)
			}
		}
	}
}

// frameRouter implements connector.FrameHandler, splitting inbound
// events into the plain and priority queues and routing echoes
// straight to the Responder (spec §4.5's "hand it to either the
// Responder or the Dispatcher").
type frameRouter struct {
	e *Engine
}

func (r *frameRouter) OnEvent(ctx context.Context, ev event.Event) {
	select {
	case r.e.priorityCh <- ev:
	default:
		select {
		case r.e.eventCh <- ev:
		case <-ctx.Done():
		}
	}
}

func (r *frameRouter) OnEcho(ctx context.Context, echo *event.EchoEvent) {
	r.e.Responder.DispatchEcho(echo)
	if r.e.Audit != nil {
		if err := r.e.Audit.RecordEcho(echo); err != nil {
			r.e.logger.Warn("audit log record echo failed", "error", err)
		}
	}
}

// Run opens the connector, launches the worker pool, and blocks until
// ctx is cancelled or the connector's Listen loop returns. On return
// it force-wakes every suspended session (spec §5 "Cancellation") and
// stops the Responder.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := e.Conn.Open(ctx); err != nil {
		return err
	}
	e.Responder.Start(ctx)
	defer e.Responder.Stop()

	var wg sync.WaitGroup

	if e.Audit != nil {
		wg.Add(1)
		go e.recordSuspensions(ctx, &wg)
	}

	n := e.cfg.EventHandlerNum
	priorityN := n / 4
	if priorityN < 1 {
		priorityN = 1
	}

	worker := func(ch chan event.Event) {
		defer wg.Done()
		for {
			select {
			case ev := <-ch:
				e.Dispatcher.Dispatch(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}

	wg.Add(n)
	for i := 0; i < n; i++ {
		go worker(e.eventCh)
	}
	wg.Add(priorityN)
	for i := 0; i < priorityN; i++ {
		go worker(e.priorityCh)
	}

	listenErr := make(chan error, 1)
	go func() { listenErr <- e.Conn.Listen(ctx, &frameRouter{e: e}) }()

	var err error
	select {
	case <-ctx.Done():
		e.Hooks.Emit(context.Background(), hookbus.BeforeStop, true)
		err = ctx.Err()
	case err = <-listenErr:
	}

	cancel() // stop the workers even when Listen returned on its own
	e.Sessions.ForceWakeAll()
	wg.Wait()
	if e.Audit != nil {
		e.Audit.Close()
	}
	return err
}
