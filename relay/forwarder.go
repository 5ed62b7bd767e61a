package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/pithecene-io/chatrelay/iox"
	"github.com/pithecene-io/chatrelay/log"
	"github.com/pithecene-io/chatrelay/metrics"
)

// Backend paths.
const (
	SendMessagePath       = "/api/chat/send-message"
	CreateChatSessionPath = "/api/chat/create-chat-session"
)

// AuthCookieName is the backend session cookie.
const AuthCookieName = "fastapiusersauth"

// streamBufferSize is the size of each backend read while relaying.
const streamBufferSize = 32 * 1024

// hopHeaders are managed by the Go server and never mirrored to the client.
var hopHeaders = []string{
	"Connection",
	"Content-Length",
	"Keep-Alive",
	"Transfer-Encoding",
}

// Outbound describes one request to the backend.
type Outbound struct {
	// Path is the backend path.
	Path string
	// Payload is the serialized JSON request body.
	Payload []byte
	// AuthCookie is the fastapiusersauth value; nil means unauthenticated.
	AuthCookie *string
}

// TransportFactory builds the transport for one outbound request.
type TransportFactory func(cfg Config) *http.Transport

// Forwarder relays turns to the backend. It holds no per-request state.
type Forwarder struct {
	cfg          Config
	logger       *log.Logger
	collector    *metrics.Collector
	newTransport TransportFactory
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithTransportFactory overrides how per-request transports are built.
func WithTransportFactory(fn TransportFactory) ForwarderOption {
	return func(f *Forwarder) {
		if fn != nil {
			f.newTransport = fn
		}
	}
}

// NewForwarder creates a forwarder. logger and collector may be nil.
func NewForwarder(cfg Config, logger *log.Logger, collector *metrics.Collector, opts ...ForwarderOption) *Forwarder {
	if logger == nil {
		logger = log.NewNop()
	}
	f := &Forwarder{
		cfg:          cfg,
		logger:       logger,
		collector:    collector,
		newTransport: DefaultTransport,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Config returns the forwarder configuration.
func (f *Forwarder) Config() Config {
	return f.cfg
}

// DefaultTransport returns a fresh, unshared transport bounded by cfg's
// timeout for connect and response headers.
func DefaultTransport(cfg Config) *http.Transport {
	timeout := cfg.timeout()
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   1,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
	}
}

// SetOutboundHeaders sets the fixed backend request headers.
func SetOutboundHeaders(h http.Header, cfg Config, authCookie *string) {
	origin := strings.TrimRight(cfg.BackendOrigin, "/")
	cookie := "documentSidebarWidth=-143"
	if authCookie != nil {
		cookie = AuthCookieName + "=" + *authCookie + "; " + cookie
	}
	h.Set("Accept", "*/*")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Content-Type", "application/json")
	h.Set("Cookie", cookie)
	h.Set("Origin", origin)
	h.Set("Pragma", "no-cache")
	h.Set("Referer", origin+"/chat")
}

// Forward sends out to the backend and streams the response to w.
//
// Behavior:
//   - Status and headers are mirrored, except hop-by-hop headers;
//     Access-Control-Allow-Origin is rewritten to the client origin
//   - Headers are flushed immediately, then every backend read is written
//     and flushed
//
// Returns nil when the backend closed the stream cleanly, otherwise a
// *ForwardError wrapping ErrConnectionReset, ErrBackendUnreachable, or the
// client's context error. Nothing is written to w before headers on error.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, out Outbound) error {
	transport := f.newTransport(f.cfg)
	defer transport.CloseIdleConnections()

	target := f.cfg.BackendURL(out.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(out.Payload))
	if err != nil {
		return &ForwardError{Err: classify(err)}
	}
	SetOutboundHeaders(req.Header, f.cfg, out.AuthCookie)

	resp, err := transport.RoundTrip(req)
	if err != nil {
		return &ForwardError{Err: classify(err)}
	}
	defer iox.DiscardClose(resp.Body)

	header := w.Header()
	for k, vv := range resp.Header {
		header[k] = append([]string(nil), vv...)
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Set("Access-Control-Allow-Origin", f.cfg.ClientOrigin)

	flusher, _ := w.(http.Flusher)
	w.WriteHeader(resp.StatusCode)
	if flusher != nil {
		flusher.Flush()
	}

	fw := iox.NewFlushWriter(w, flusher)
	err = relay(fw, resp.Body)
	f.collector.AddBytesRelayed(fw.Written())
	if err != nil {
		return &ForwardError{HeadersSent: true, Err: err}
	}

	f.logger.Debug("backend stream closed", map[string]any{
		"status": resp.StatusCode,
		"bytes":  fw.Written(),
	})
	return nil
}

// relay copies body to w one read at a time.
func relay(w io.Writer, body io.Reader) error {
	buf := make([]byte, streamBufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return classify(rerr)
		}
	}
}
