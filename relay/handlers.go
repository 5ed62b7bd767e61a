package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pithecene-io/chatrelay/iox"
	"github.com/pithecene-io/chatrelay/types"
)

// maxBodyBytes bounds inbound request bodies (50 MiB).
const maxBodyBytes = 50 << 20

// TurnRequest is the inbound send-message body.
// postData and fastapiusersauth are accepted as legacy aliases.
type TurnRequest struct {
	BackendPayload json.RawMessage `json:"backendPayload"`
	AuthCookie     *string         `json:"authCookie"`

	PostData         json.RawMessage `json:"postData"`
	FastAPIUsersAuth *string         `json:"fastapiusersauth"`
}

// Payload returns the backend payload, preferring backendPayload.
func (r *TurnRequest) Payload() json.RawMessage {
	if len(r.BackendPayload) > 0 {
		return r.BackendPayload
	}
	return r.PostData
}

// Cookie returns the auth cookie value, preferring authCookie.
func (r *TurnRequest) Cookie() *string {
	if r.AuthCookie != nil {
		return r.AuthCookie
	}
	return r.FastAPIUsersAuth
}

// SessionRequest is the inbound create-chat-session body.
type SessionRequest struct {
	PersonaID   json.RawMessage `json:"persona_id"`
	Description *string         `json:"description"`
	AuthCookie  *string         `json:"authCookie"`

	FastAPIUsersAuth *string `json:"fastapiusersauth"`
}

// Cookie returns the auth cookie value, preferring authCookie.
func (r *SessionRequest) Cookie() *string {
	if r.AuthCookie != nil {
		return r.AuthCookie
	}
	return r.FastAPIUsersAuth
}

// SendMessage handles POST /turn/send-message.
func (f *Forwarder) SendMessage(c *gin.Context) {
	logger := requestLogger(c, f.logger)
	f.collector.IncRequestReceived()

	if err := f.cfg.Validate(); err != nil {
		f.collector.IncConfigMissing()
		logger.Error("relay configuration missing", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req TurnRequest
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(&req); err != nil {
		f.collector.IncBadRequest()
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	payload := bytes.TrimSpace(req.Payload())
	if len(payload) == 0 || payload[0] != '{' {
		f.collector.IncBadRequest()
		c.JSON(http.StatusBadRequest, gin.H{"error": "backendPayload must be a JSON object"})
		return
	}

	err := f.Forward(c.Request.Context(), c.Writer, Outbound{
		Path:       SendMessagePath,
		Payload:    payload,
		AuthCookie: req.Cookie(),
	})
	if err == nil {
		f.collector.IncRequestCompleted()
		return
	}

	f.recordFailure(err)
	var fwdErr *ForwardError
	if errors.As(err, &fwdErr) && fwdErr.HeadersSent {
		fields := map[string]any{"error": err.Error()}
		if errors.Is(err, context.Canceled) {
			logger.Info("client went away mid-stream", fields)
		} else {
			logger.Error("backend stream failed after headers", fields)
		}
		f.collector.IncRequestAborted()
		// Terminate the chunked response without its final chunk.
		panic(http.ErrAbortHandler)
	}

	logger.Error("failed to reach backend", map[string]any{"error": err.Error()})
	c.JSON(http.StatusInternalServerError, gin.H{"error": clientMessage(err)})
}

// CreateChatSession handles POST /turn/create-chat-session.
func (f *Forwarder) CreateChatSession(c *gin.Context) {
	logger := requestLogger(c, f.logger)
	f.collector.IncRequestReceived()

	if err := f.cfg.ValidateOrigin(); err != nil {
		f.collector.IncConfigMissing()
		logger.Error("relay configuration missing", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req SessionRequest
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(&req); err != nil {
		f.collector.IncBadRequest()
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	id, err := f.createSession(c.Request.Context(), &req)
	if err != nil {
		f.recordFailure(err)
		logger.Error("failed to create chat session", map[string]any{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	f.collector.IncSessionCreated()
	f.collector.IncRequestCompleted()
	logger.Info("chat session created", map[string]any{"chat_session_id": id})
	c.JSON(http.StatusOK, gin.H{"chat_session_id": id})
}

// sessionBody is the body sent to the backend create-chat-session endpoint.
type sessionBody struct {
	PersonaID   json.RawMessage `json:"persona_id,omitempty"`
	Description *string         `json:"description,omitempty"`
}

func (f *Forwarder) createSession(ctx context.Context, req *SessionRequest) (string, error) {
	body, err := json.Marshal(sessionBody{PersonaID: req.PersonaID, Description: req.Description})
	if err != nil {
		return "", fmt.Errorf("failed to encode session request: %w", err)
	}

	transport := f.newTransport(f.cfg)
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: f.cfg.timeout()}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.OriginURL(CreateChatSessionPath), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cookie := req.Cookie(); cookie != nil {
		httpReq.Header.Set("Cookie", AuthCookieName+"="+*cookie)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", classify(err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to create chat session: backend returned status %d", resp.StatusCode)
	}

	var out struct {
		ChatSessionID *types.ID `json:"chat_session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode session response: %w", err)
	}
	if out.ChatSessionID == nil || *out.ChatSessionID == "" {
		return "", errors.New("chat session ID not received")
	}
	return string(*out.ChatSessionID), nil
}

func (f *Forwarder) recordFailure(err error) {
	switch {
	case errors.Is(err, ErrConnectionReset):
		f.collector.IncConnectionReset()
	case errors.Is(err, ErrBackendUnreachable):
		f.collector.IncBackendUnreachable()
	}
}

// Health handles GET /healthz.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": types.Version})
}
