// Package client drives multi-turn conversations through a relay.
//
// A Client speaks the relay's HTTP surface. A Session runs each turn through
// the framer, the turn reducer, and the thread tracker, then persists and
// announces committed turns.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pithecene-io/chatrelay/iox"
	"github.com/pithecene-io/chatrelay/log"
)

// Relay paths.
const (
	SendMessagePath       = "/turn/send-message"
	CreateChatSessionPath = "/turn/create-chat-session"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// ErrNoSessionID is returned when the relay answers without a session id.
var ErrNoSessionID = errors.New("chat session ID not received")

// StatusError is returned when the relay answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("relay returned status %d", e.Code)
	}
	return fmt.Sprintf("relay returned status %d: %s", e.Code, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. It must not set a total Timeout,
// which would cut long streams.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithAuthCookie sets the backend session cookie value forwarded per turn.
func WithAuthCookie(cookie string) Option {
	return func(c *Client) {
		c.authCookie = &cookie
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client calls the relay.
type Client struct {
	baseURL    string
	http       *http.Client
	authCookie *string
	logger     *log.Logger
}

// New creates a client for the relay at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  log.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sessionRequest struct {
	PersonaID   int     `json:"persona_id"`
	Description *string `json:"description"`
	AuthCookie  *string `json:"authCookie,omitempty"`
}

type turnRequest struct {
	BackendPayload Payload `json:"backendPayload"`
	AuthCookie     *string `json:"authCookie,omitempty"`
}

// CreateChatSession asks the relay for a new backend chat session.
func (c *Client) CreateChatSession(ctx context.Context, personaID int, description *string) (string, error) {
	resp, err := c.post(ctx, CreateChatSessionPath, sessionRequest{
		PersonaID:   personaID,
		Description: description,
		AuthCookie:  c.authCookie,
	})
	if err != nil {
		return "", err
	}
	defer iox.DiscardClose(resp.Body)

	var out struct {
		ChatSessionID string `json:"chat_session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode session response: %w", err)
	}
	if out.ChatSessionID == "" {
		return "", ErrNoSessionID
	}
	return out.ChatSessionID, nil
}

// SendMessage posts one turn and returns the streaming response body.
// The caller must close it.
func (c *Client) SendMessage(ctx context.Context, payload Payload) (io.ReadCloser, error) {
	resp, err := c.post(ctx, SendMessagePath, turnRequest{BackendPayload: payload, AuthCookie: c.authCookie})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer iox.DiscardClose(resp.Body)
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("relay error response", map[string]any{"path": path, "status": resp.StatusCode})
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}
