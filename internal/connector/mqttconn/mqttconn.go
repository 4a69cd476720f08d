// Package mqttconn implements the Connector interface over
// github.com/eclipse/paho.golang's autopaho client. It demonstrates
// that the engine's Connector contract is transport-agnostic: inbound
// frames arrive as JSON payloads on a subscribed topic, outbound
// frames publish to a command topic, and echoes arrive on the same
// inbound topic, recognised by the "echo" field of the JSON shape
// wsconn uses. Grounded on internal/mqtt/publisher.go's autopaho wiring
// (OnConnectionUp subscribe, TLS-by-scheme) adapted from
// Home-Assistant discovery publishing to generic chat-event framing.
package mqttconn

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/melobridge/engine/internal/connector"
	"github.com/melobridge/engine/internal/event"
	"github.com/melobridge/engine/internal/hookbus"
)

// Config configures a Conn.
type Config struct {
	BrokerURL string // e.g. "mqtt://host:1883" or "mqtts://host:8883"
	ClientID  string
	Username  string
	Password  string

	// InboundTopic carries upstream event frames as JSON.
	InboundTopic string
	// OutboundTopic receives outbound action frames as JSON.
	OutboundTopic string

	ConnectTimeout time.Duration

	Logger *slog.Logger
	Bus    *hookbus.Bus
}

// Conn is a paho.golang/autopaho-backed Connector.
type Conn struct {
	cfg    Config
	logger *slog.Logger
	cm     *autopaho.ConnectionManager

	events chan []byte
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
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Conn{cfg: cfg, logger: logger, events: make(chan []byte, 64)}
}

// Hooks implements connector.Connector.
func (c *Conn) Hooks() *hookbus.Bus { return c.cfg.Bus }

// Open implements connector.Connector. autopaho owns its own
// reconnect loop internally, with its built-in backoff (the same
// delegation the teacher makes in internal/mqtt/publisher.go); this
// transport has no retry count or fixed retry delay setting. Open
// returns once the first connection is up or ConnectTimeout elapses.
func (c *Conn) Open(ctx context.Context) error {
	broker, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqttconn: parse broker url: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{broker},
		KeepAlive:       30,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt connected to broker", "broker", c.cfg.BrokerURL)
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := cm.Subscribe(subCtx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: c.cfg.InboundTopic, QoS: 1}},
			}); err != nil {
				c.logger.Error("mqtt subscribe failed", "topic", c.cfg.InboundTopic, "error", err)
			}
			c.cfg.Bus.Emit(context.Background(), hookbus.Connected, false)
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					select {
					case c.events <- pr.Packet.Payload:
					default:
						c.logger.Warn("mqttconn inbound buffer full, dropping frame")
					}
					return true, nil
				},
			},
		},
	}

	if broker.Scheme == "mqtts" || broker.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqttconn: connect: %w", err)
	}
	c.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	return c.cm.AwaitConnection(connCtx)
}

// Listen implements connector.Connector by draining the inbound event
// channel autopaho's OnPublishReceived callback feeds.
func (c *Conn) Listen(ctx context.Context, h connector.FrameHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-c.events:
			if len(payload) == 0 {
				continue
			}
			var raw map[string]any
			if err := json.Unmarshal(payload, &raw); err != nil {
				c.logger.Warn("dropping unparseable mqtt frame", "error", err)
				continue
			}
			p := event.RawPacket{Raw: raw}
			if t, ok := raw["type"].(string); ok {
				p.Type = t
			}
			if echo, ok := raw["echo"].(string); ok {
				p.Echo = echo
			}
			if status, ok := raw["status"].(float64); ok {
				p.Status = int(status)
			}

			ev, err := event.Build(p)
			if err != nil {
				c.logger.Warn("dropping mqtt frame of unrecognized type", "error", err)
				continue
			}
			if echo, ok := ev.(*event.EchoEvent); ok {
				h.OnEcho(ctx, echo)
			} else {
				h.OnEvent(ctx, ev)
			}
		}
	}
}

// Send implements connector.Connector by publishing the outbound
// packet as JSON to OutboundTopic.
func (c *Conn) Send(ctx context.Context, p event.OutPacket) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("mqttconn: marshal packet: %w", err)
	}
	_, err = c.cm.Publish(ctx, &paho.Publish{
		Topic:   c.cfg.OutboundTopic,
		QoS:     1,
		Payload: data,
	})
	if err != nil {
		return fmt.Errorf("mqttconn: publish failed: %w", err)
	}
	return nil
}
