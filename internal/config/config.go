// Package config handles engine configuration loading (spec §6): the
// enumerated options, their defaults, and the transport selection that
// picks which Connector implementation internal/engine wires up.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/melobridge/engine/internal/elog"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config flag) is checked first. Then: ./config.yaml,
// ~/.config/melobridge/config.yaml, /config/config.yaml,
// /etc/melobridge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "melobridge", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/melobridge/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// that exists. Returns the path found, or an error if nothing was
// found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds the engine's configuration (spec §6 enumerated options
// plus the transport/audit expansions).
type Config struct {
	Connector ConnectorConfig `yaml:"connector"`

	// EventHandlerNum sets N, the number of plain event-handler
	// goroutines (spec §5). Priority-event-handler goroutines run at
	// N/4.
	EventHandlerNum int `yaml:"event_handler_num"`
	// CooldownTime spaces consecutive outbound sends (spec §6
	// cooldown_time).
	CooldownTime time.Duration `yaml:"cooldown_time"`
	// KernelTimeout is the default task timeout used internally for
	// action-placement (spec §6 kernel_timeout): it's the fallback
	// internal/actionhelpers.SendReply waits for a matching echo when
	// the caller passes no explicit timeout of its own.
	KernelTimeout time.Duration `yaml:"kernel_timeout"`

	AuditLog AuditLogConfig `yaml:"audit_log"`

	LogLevel string `yaml:"log_level"`
}

// ConnectorConfig selects and configures the transport (spec §6
// connect_host/connect_port/max_conn_try/conn_try_interval, expanded
// to cover both wsconn and mqttconn per SPEC_FULL.md's domain-stack
// wiring).
type ConnectorConfig struct {
	// Transport is "websocket" or "mqtt".
	Transport string `yaml:"transport"`

	// ConnectHost/ConnectPort build the websocket URL when Transport is
	// "websocket" and URL is empty.
	ConnectHost string `yaml:"connect_host"`
	ConnectPort int    `yaml:"connect_port"`
	URL         string `yaml:"url"`

	MaxConnTry      int           `yaml:"max_conn_try"`
	ConnTryInterval time.Duration `yaml:"conn_try_interval"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the mqttconn transport.
type MQTTConfig struct {
	BrokerURL     string `yaml:"broker_url"`
	ClientID      string `yaml:"client_id"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	InboundTopic  string `yaml:"inbound_topic"`
	OutboundTopic string `yaml:"outbound_topic"`
}

// AuditLogConfig configures the optional SQLite audit trail (spec §9
// supplemented feature).
type AuditLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WebsocketURL returns the dial URL for the websocket transport,
// preferring an explicit URL over host/port composition.
func (c ConnectorConfig) WebsocketURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("ws://%s:%d", c.ConnectHost, c.ConnectPort)
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${MELOBRIDGE_TOKEN}). This is
	// a convenience for container deployments; the recommended approach
	// is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Connector.Transport == "" {
		c.Connector.Transport = "websocket"
	}
	if c.Connector.ConnectPort == 0 {
		c.Connector.ConnectPort = 8080
	}
	if c.Connector.MaxConnTry == 0 {
		c.Connector.MaxConnTry = 3
	}
	if c.Connector.ConnTryInterval == 0 {
		c.Connector.ConnTryInterval = 4 * time.Second
	}
	if c.EventHandlerNum == 0 {
		c.EventHandlerNum = 4
	}
	if c.CooldownTime == 0 {
		c.CooldownTime = 500 * time.Millisecond
	}
	if c.KernelTimeout == 0 {
		c.KernelTimeout = 5 * time.Second
	}
	if c.AuditLog.Enabled && c.AuditLog.Path == "" {
		c.AuditLog.Path = "./melobridge-audit.db"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	switch c.Connector.Transport {
	case "websocket", "mqtt":
	default:
		return fmt.Errorf("connector.transport %q must be \"websocket\" or \"mqtt\"", c.Connector.Transport)
	}
	if c.Connector.Transport == "mqtt" && c.Connector.MQTT.BrokerURL == "" {
		return fmt.Errorf("connector.mqtt.broker_url is required when transport is mqtt")
	}
	if c.EventHandlerNum < 1 {
		return fmt.Errorf("event_handler_num %d must be at least 1", c.EventHandlerNum)
	}
	if c.LogLevel != "" {
		if _, err := elog.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration for local development
// against a websocket gateway on localhost. All defaults are already
// applied.
func Default() *Config {
	cfg := &Config{
		Connector: ConnectorConfig{
			Transport:   "websocket",
			ConnectHost: "127.0.0.1",
			ConnectPort: 8080,
		},
	}
	cfg.applyDefaults()
	return cfg
}
