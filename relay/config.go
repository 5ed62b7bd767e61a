// Package relay forwards chat turns to the backend with service credentials
// and streams the chunked response back to the client unchanged.
package relay

import (
	"net"
	"strings"
	"time"
)

// DefaultTimeout bounds connecting to the backend and waiting for its
// response headers.
const DefaultTimeout = 30 * time.Second

// DefaultProtocol is the backend scheme when none is configured.
const DefaultProtocol = "http"

// Configuration variable names, reported by ConfigurationMissingError.
const (
	EnvBackendHost     = "DANSWER_HOST"
	EnvBackendPort     = "DANSWER_PORT"
	EnvBackendOrigin   = "DANSWER_URL"
	EnvBackendProtocol = "DANSWER_PROTOCOL"
	EnvClientOrigin    = "CLIENT_URL"
)

// Config is the relay configuration, assembled once at startup.
// Missing required fields are reported per request, not at startup.
type Config struct {
	// BackendHost is the backend hostname.
	BackendHost string
	// BackendPort is the backend port.
	BackendPort string
	// BackendProtocol is http or https. Defaults to DefaultProtocol.
	BackendProtocol string
	// BackendOrigin is the backend's public URL, sent as Origin and Referer.
	BackendOrigin string
	// ClientOrigin is the browser origin written to Access-Control-Allow-Origin.
	ClientOrigin string
	// Timeout bounds connect and response headers. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Validate reports every missing variable the send-message path needs.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.BackendHost) == "" {
		missing = append(missing, EnvBackendHost)
	}
	if strings.TrimSpace(c.BackendPort) == "" {
		missing = append(missing, EnvBackendPort)
	}
	if strings.TrimSpace(c.BackendOrigin) == "" {
		missing = append(missing, EnvBackendOrigin)
	}
	if strings.TrimSpace(c.ClientOrigin) == "" {
		missing = append(missing, EnvClientOrigin)
	}
	if len(missing) > 0 {
		return &ConfigurationMissingError{Missing: missing}
	}
	return nil
}

// ValidateOrigin reports a missing backend origin, the only variable the
// create-chat-session path needs.
func (c Config) ValidateOrigin() error {
	if strings.TrimSpace(c.BackendOrigin) == "" {
		return &ConfigurationMissingError{Missing: []string{EnvBackendOrigin}}
	}
	return nil
}

// BackendURL returns the URL of path on the configured backend address.
func (c Config) BackendURL(path string) string {
	return c.protocol() + "://" + net.JoinHostPort(c.BackendHost, c.BackendPort) + path
}

// OriginURL returns the URL of path on the backend origin.
func (c Config) OriginURL(path string) string {
	return strings.TrimRight(c.BackendOrigin, "/") + path
}

func (c Config) protocol() string {
	if p := strings.TrimSpace(c.BackendProtocol); p != "" {
		return strings.TrimSuffix(p, "://")
	}
	return DefaultProtocol
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}
