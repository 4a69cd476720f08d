// Package wsconn implements the Connector interface over
// github.com/gorilla/websocket — the engine's primary transport to a
// chat-platform gateway. Its dial/retry/read-loop shape is grounded on
// internal/signal/client.go's subprocess lifecycle (Start/readLoop/
// Close with a waiter goroutine), adapted from a stdio JSON-RPC pipe
// to a websocket frame stream.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/melobridge/engine/internal/connector"
	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/hookbus"
)

// Config configures a Conn.
type Config struct {
	URL string

	// MaxRetries bounds reconnect attempts on open failure; -1 means
	// infinite (spec §6 max_conn_try).
	MaxRetries int
	// RetryDelay is the fixed pause between reconnect attempts (spec
	// §6 conn_try_interval).
	RetryDelay time.Duration

	Logger *slog.Logger
	Bus    *hookbus.Bus
}

// Conn is a gorilla/websocket-backed Connector.
type Conn struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	ws   *websocket.Conn
}

var _ connector.Connector = (*Conn)(nil)

// New creates a Conn ready to Open.
func New(cfg Config) *Conn {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = hookbus.New(logger)
	}
	return &Conn{cfg: cfg, logger: logger}
}

// Hooks implements connector.Connector.
func (c *Conn) Hooks() *hookbus.Bus { return c.cfg.Bus }

// Open implements spec §4.5's reconnect policy: retry up to
// MaxRetries times with a fixed RetryDelay between attempts;
// MaxRetries < 0 means infinite. On success it emits CONNECTED.
func (c *Conn) Open(ctx context.Context) error {
	attempt := 0
	for {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err == nil {
			c.mu.Lock()
			c.ws = ws
			c.mu.Unlock()
			c.cfg.Bus.Emit(ctx, hookbus.Connected, false)
			return nil
		}

		attempt++
		c.logger.Warn("websocket dial failed", "attempt", attempt, "url", c.cfg.URL, "error", err)

		if c.cfg.MaxRetries >= 0 && attempt > c.cfg.MaxRetries {
			return fmt.Errorf("wsconn: exhausted %d retries dialing %s: %w", c.cfg.MaxRetries, c.cfg.URL, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}
}

// Listen implements spec §4.5's listen loop: pull one frame, skip
// empty frames, otherwise build an event and route it to h.
func (c *Conn) Listen(ctx context.Context, h connector.FrameHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return errors.New("wsconn: not open")
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.cfg.Bus.Emit(ctx, hookbus.BeforeClose, false)
				return nil
			}
			return fmt.Errorf("wsconn: read failed: %w", err)
		}
		if len(data) == 0 {
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			c.logger.Warn("dropping unparseable frame", "error", err)
			continue
		}

		p := packetFromRaw(raw)
		ev, err := event.Build(p)
		if err != nil {
			c.logger.Warn("dropping frame of unrecognized type", "error", err, "raw", raw)
			continue
		}

		if echo, ok := ev.(*event.EchoEvent); ok {
			h.OnEcho(ctx, echo)
		} else {
			h.OnEvent(ctx, ev)
		}
	}
}

// Send implements spec §4.5's send: write a raw frame. A transient
// write failure while the socket is mid-reconnect is treated as fatal
// to this call rather than silently retried forever — see DESIGN.md's
// resolution of the "recursive retry on cancelled send" open question.
func (c *Conn) Send(ctx context.Context, p event.OutPacket) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errors.New("wsconn: not open")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("wsconn: marshal packet: %w", err)
	}

	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		if websocket.IsUnexpectedCloseError(err) {
			return fmt.Errorf("wsconn: connection closed: %w", err)
		}
		return fmt.Errorf("wsconn: write failed: %w", err)
	}
	return nil
}

func packetFromRaw(raw map[string]any) event.RawPacket {
	p := event.RawPacket{Raw: raw}
	if t, ok := raw["post_type"].(string); ok {
		p.Type = t
	} else if t, ok := raw["type"].(string); ok {
		p.Type = t
	}
	if echo, ok := raw["echo"].(string); ok {
		p.Echo = echo
	}
	if status, ok := raw["status"].(float64); ok {
		p.Status = int(status)
	}
	return p
}
