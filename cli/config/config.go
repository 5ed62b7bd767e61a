// Package config loads chatrelay.yaml and the relay environment variables.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pithecene-io/chatrelay/relay"
)

// EnvListenPort overrides the relay listen port.
const EnvListenPort = "PORT"

// DefaultListenPort matches the original relay.
const DefaultListenPort = "8080"

// Config represents a chatrelay.yaml file. CLI flags override config values;
// the relay environment variables override both.
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Chat    ChatConfig    `yaml:"chat"`
	Storage StorageConfig `yaml:"storage"`
	Adapter AdapterConfig `yaml:"adapter"`
	Log     LogConfig     `yaml:"log"`
}

// RelayConfig configures `chatrelay serve`.
type RelayConfig struct {
	Listen          string        `yaml:"listen"`
	Backend         BackendConfig `yaml:"backend"`
	ClientOrigin    string        `yaml:"client_origin"`
	Timeout         Duration      `yaml:"timeout"`
	ShutdownTimeout Duration      `yaml:"shutdown_timeout"`
}

// BackendConfig locates the chat backend.
type BackendConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Protocol string `yaml:"protocol"`
	Origin   string `yaml:"origin"`
}

// ChatConfig configures `chatrelay chat`.
type ChatConfig struct {
	RelayURL      string  `yaml:"relay_url"`
	ChatSessionID string  `yaml:"chat_session_id"`
	PersonaID     int     `yaml:"persona_id"`
	PromptID      int     `yaml:"prompt_id"`
	Temperature   float64 `yaml:"temperature"`
	AuthCookie    string  `yaml:"auth_cookie"`
	ModelProvider string  `yaml:"model_provider"`
	ModelVersion  string  `yaml:"model_version"`
	Snapshot      string  `yaml:"snapshot"`
}

// StorageConfig configures transcript storage. An empty Path disables it.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig configures turn notifications. An empty Type disables them.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Listen:  ":" + DefaultListenPort,
			Timeout: Duration{relay.DefaultTimeout},
		},
		Chat: ChatConfig{
			RelayURL: "http://localhost:" + DefaultListenPort,
		},
		Storage: StorageConfig{
			Backend: "fs",
		},
		Log: LogConfig{Level: "info"},
	}
}

// ApplyEnv overlays the relay environment variables found by lookup.
// Set-but-empty variables are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, name string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Relay.Backend.Host, relay.EnvBackendHost)
	set(&c.Relay.Backend.Port, relay.EnvBackendPort)
	set(&c.Relay.Backend.Protocol, relay.EnvBackendProtocol)
	set(&c.Relay.Backend.Origin, relay.EnvBackendOrigin)
	set(&c.Relay.ClientOrigin, relay.EnvClientOrigin)

	var port string
	set(&port, EnvListenPort)
	if port != "" {
		host, _, err := net.SplitHostPort(c.Relay.Listen)
		if err != nil {
			host = ""
		}
		c.Relay.Listen = net.JoinHostPort(host, port)
	}
}

// RelayConfig returns the relay forwarder configuration. Missing fields are
// left empty and reported per request.
func (c *Config) RelayConfig() relay.Config {
	return relay.Config{
		BackendHost:     c.Relay.Backend.Host,
		BackendPort:     c.Relay.Backend.Port,
		BackendProtocol: c.Relay.Backend.Protocol,
		BackendOrigin:   c.Relay.Backend.Origin,
		ClientOrigin:    c.Relay.ClientOrigin,
		Timeout:         c.Relay.Timeout.Duration,
	}
}

// Validate checks values that can be rejected at startup.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "fs", "s3", "memory":
	default:
		return fmt.Errorf("invalid storage backend: %q (must be fs, s3, or memory)", c.Storage.Backend)
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("invalid adapter type: %q (must be webhook or redis)", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter %s requires url", c.Adapter.Type)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	if c.Chat.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0, got %v", c.Chat.Temperature)
	}
	return nil
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
