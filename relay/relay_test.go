package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pithecene-io/chatrelay/metrics"
)

const testClientOrigin = "http://client.test"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// configFor points a relay config at a test backend.
func configFor(t *testing.T, backend *httptest.Server) Config {
	t.Helper()
	u, err := url.Parse(backend.URL)
	if err != nil {
		t.Fatalf("parse backend URL: %v", err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split backend host: %v", err)
	}
	return Config{
		BackendHost:   host,
		BackendPort:   port,
		BackendOrigin: backend.URL,
		ClientOrigin:  testClientOrigin,
		Timeout:       2 * time.Second,
	}
}

func newRelay(t *testing.T, cfg Config) (*httptest.Server, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector("relay", "", "")
	router := NewRouter(RouterConfig{Forwarder: NewForwarder(cfg, nil, collector)})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, collector
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSendMessage_ConfigurationMissing(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer backend.Close()

	relaySrv, collector := newRelay(t, Config{BackendHost: "localhost"})
	resp := postJSON(t, relaySrv.URL+"/turn/send-message", map[string]any{
		"backendPayload": map[string]any{"message": "hi"},
	})

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	for _, name := range []string{EnvBackendPort, EnvBackendOrigin, EnvClientOrigin} {
		if !strings.Contains(body["error"], name) {
			t.Errorf("error %q does not name %s", body["error"], name)
		}
	}
	if strings.Contains(body["error"], EnvBackendHost) {
		t.Errorf("error %q names %s, which is set", body["error"], EnvBackendHost)
	}
	if hits.Load() != 0 {
		t.Errorf("backend hit %d times, want 0", hits.Load())
	}
	if collector.Snapshot().ConfigMissing != 1 {
		t.Errorf("ConfigMissing = %d, want 1", collector.Snapshot().ConfigMissing)
	}
}

func TestSendMessage_StreamsAndRewritesHeaders(t *testing.T) {
	records := []string{`{"user_message_id":1}`, `{"answer_piece":"Hel"}`, `{"answer_piece":"lo"}`}
	payload := map[string]any{"chat_session_id": "s1", "message": "hi", "parent_message_id": nil}

	var gotHeader http.Header
	var gotBody []byte
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("X-Backend", "danswer")
		w.WriteHeader(http.StatusOK)
		for _, rec := range records {
			_, _ = io.WriteString(w, rec+"\n")
			w.(http.Flusher).Flush()
		}
	}))
	defer backend.Close()

	cfg := configFor(t, backend)
	relaySrv, collector := newRelay(t, cfg)
	resp := postJSON(t, relaySrv.URL+"/turn/send-message", map[string]any{
		"backendPayload": payload,
		"authCookie":     "secret-token",
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if want := strings.Join(records, "\n") + "\n"; string(body) != want {
		t.Errorf("body = %q, want %q", body, want)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != testClientOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, testClientOrigin)
	}
	if got := resp.Header.Get("X-Backend"); got != "danswer" {
		t.Errorf("X-Backend = %q, want danswer", got)
	}
	if resp.Header.Get(headerRequestID) == "" {
		t.Error("missing request id header")
	}

	if gotPath != SendMessagePath {
		t.Errorf("backend path = %q, want %q", gotPath, SendMessagePath)
	}
	wantHeaders := map[string]string{
		"Accept":        "*/*",
		"Cache-Control": "no-cache",
		"Connection":    "keep-alive",
		"Content-Type":  "application/json",
		"Cookie":        "fastapiusersauth=secret-token; documentSidebarWidth=-143",
		"Origin":        cfg.BackendOrigin,
		"Pragma":        "no-cache",
		"Referer":       cfg.BackendOrigin + "/chat",
	}
	for k, want := range wantHeaders {
		if got := gotHeader.Get(k); got != want {
			t.Errorf("backend header %s = %q, want %q", k, got, want)
		}
	}

	var gotPayload map[string]any
	if err := json.Unmarshal(gotBody, &gotPayload); err != nil {
		t.Fatalf("backend body is not JSON: %v", err)
	}
	if gotPayload["message"] != "hi" || gotPayload["chat_session_id"] != "s1" {
		t.Errorf("backend payload = %v", gotPayload)
	}

	s := collector.Snapshot()
	if s.RequestsCompleted != 1 {
		t.Errorf("RequestsCompleted = %d, want 1", s.RequestsCompleted)
	}
	if s.BytesRelayed != int64(len(body)) {
		t.Errorf("BytesRelayed = %d, want %d", s.BytesRelayed, len(body))
	}
}

func TestSendMessage_MirrorsBackendStatus(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"detail":"Forbidden"}`)
	}))
	defer backend.Close()

	relaySrv, _ := newRelay(t, configFor(t, backend))
	resp := postJSON(t, relaySrv.URL+"/turn/send-message", map[string]any{"backendPayload": map[string]any{}})

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"detail":"Forbidden"}` {
		t.Errorf("body = %q", body)
	}
}

func TestSendMessage_LegacyFieldsAndUnauthenticated(t *testing.T) {
	cookies := make(chan string, 2)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies <- r.Header.Get("Cookie")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	relaySrv, _ := newRelay(t, configFor(t, backend))

	postJSON(t, relaySrv.URL+"/api/chat/send-message", map[string]any{
		"postData":         map[string]any{"message": "hi"},
		"fastapiusersauth": "legacy",
	})
	if got := <-cookies; got != "fastapiusersauth=legacy; documentSidebarWidth=-143" {
		t.Errorf("legacy Cookie = %q", got)
	}

	postJSON(t, relaySrv.URL+"/turn/send-message", map[string]any{
		"backendPayload": map[string]any{"message": "hi"},
	})
	if got := <-cookies; got != "documentSidebarWidth=-143" {
		t.Errorf("unauthenticated Cookie = %q", got)
	}
}

func TestSendMessage_RejectsNonObjectPayload(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	defer backend.Close()

	relaySrv, collector := newRelay(t, configFor(t, backend))

	tests := []struct {
		name string
		body any
	}{
		{"array payload", map[string]any{"backendPayload": []int{1}}},
		{"missing payload", map[string]any{"authCookie": "x"}},
		{"string payload", map[string]any{"backendPayload": "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, relaySrv.URL+"/turn/send-message", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
	if collector.Snapshot().BadRequests != int64(len(tests)) {
		t.Errorf("BadRequests = %d, want %d", collector.Snapshot().BadRequests, len(tests))
	}
}

func TestSendMessage_BackendUnreachable(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	cfg := configFor(t, backend)
	backend.Close()

	relaySrv, collector := newRelay(t, cfg)
	resp := postJSON(t, relaySrv.URL+"/turn/send-message", map[string]any{"backendPayload": map[string]any{}})

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != "Error sending request to target API" {
		t.Errorf("error = %q", body["error"])
	}
	if collector.Snapshot().BackendUnreachable != 1 {
		t.Errorf("BackendUnreachable = %d, want 1", collector.Snapshot().BackendUnreachable)
	}
}

func TestSendMessage_ResponseHeaderTimeoutIsReset(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer backend.Close()

	cfg := configFor(t, backend)
	cfg.Timeout = 100 * time.Millisecond
	relaySrv, collector := newRelay(t, cfg)

	resp := postJSON(t, relaySrv.URL+"/turn/send-message", map[string]any{"backendPayload": map[string]any{}})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Connection reset by target API" {
		t.Errorf("body = %q", body)
	}
	if collector.Snapshot().ConnectionResets != 1 {
		t.Errorf("ConnectionResets = %d, want 1", collector.Snapshot().ConnectionResets)
	}
}

func TestSendMessage_ResetAfterHeadersTerminatesClientStream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetLinger(0)
		}
		_ = conn.Close()
	}))
	defer backend.Close()

	relaySrv, collector := newRelay(t, configFor(t, backend))

	done := make(chan error, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, relaySrv.URL+"/turn/send-message",
			strings.NewReader(`{"backendPayload":{"message":"hi"}}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- err
			return
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			done <- fmt.Errorf("status = %d, want 200", resp.StatusCode)
			return
		}
		_, err = io.ReadAll(resp.Body)
		if err == nil {
			done <- errors.New("expected truncated stream, got clean end")
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("client stream hung after backend reset")
	}

	s := collector.Snapshot()
	if s.ConnectionResets != 1 {
		t.Errorf("ConnectionResets = %d, want 1", s.ConnectionResets)
	}
	if s.RequestsAborted != 1 {
		t.Errorf("RequestsAborted = %d, want 1", s.RequestsAborted)
	}
}

func TestCreateChatSession(t *testing.T) {
	var gotCookie string
	var gotBody map[string]any
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != CreateChatSessionPath {
			http.NotFound(w, r)
			return
		}
		gotCookie = r.Header.Get("Cookie")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"chat_session_id":"3f2a"}`)
	}))
	defer backend.Close()

	relaySrv, collector := newRelay(t, Config{BackendOrigin: backend.URL})
	resp := postJSON(t, relaySrv.URL+"/turn/create-chat-session", map[string]any{
		"persona_id":  1,
		"description": "support",
		"authCookie":  "tok",
	})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["chat_session_id"] != "3f2a" {
		t.Errorf("chat_session_id = %q, want 3f2a", out["chat_session_id"])
	}
	if gotCookie != "fastapiusersauth=tok" {
		t.Errorf("Cookie = %q", gotCookie)
	}
	if gotBody["persona_id"] != float64(1) || gotBody["description"] != "support" {
		t.Errorf("backend body = %v", gotBody)
	}
	if _, ok := gotBody["authCookie"]; ok {
		t.Error("auth cookie must not be forwarded in the body")
	}
	if collector.Snapshot().SessionsCreated != 1 {
		t.Errorf("SessionsCreated = %d, want 1", collector.Snapshot().SessionsCreated)
	}
}

func TestCreateChatSession_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name: "backend error status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErr: "status 500",
		},
		{
			name: "missing session id",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{}`)
			},
			wantErr: "chat session ID not received",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := httptest.NewServer(tt.handler)
			defer backend.Close()

			relaySrv, _ := newRelay(t, Config{BackendOrigin: backend.URL})
			resp := postJSON(t, relaySrv.URL+"/api/chat/create-chat-session", map[string]any{"persona_id": 1})
			if resp.StatusCode != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", resp.StatusCode)
			}
			var out map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&out)
			if !strings.Contains(out["error"], tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", out["error"], tt.wantErr)
			}
		})
	}
}

func TestCreateChatSession_ConfigurationMissing(t *testing.T) {
	relaySrv, _ := newRelay(t, Config{})
	resp := postJSON(t, relaySrv.URL+"/turn/create-chat-session", map[string]any{"persona_id": 1})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["error"] != "DANSWER_URL not set" {
		t.Errorf("error = %q, want %q", out["error"], "DANSWER_URL not set")
	}
}

func TestHealth(t *testing.T) {
	router := NewRouter(RouterConfig{Forwarder: NewForwarder(Config{}, nil, nil)})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCORS_PreflightAllowsClientOrigin(t *testing.T) {
	router := NewRouter(RouterConfig{Forwarder: NewForwarder(Config{ClientOrigin: testClientOrigin}, nil, nil)})

	req := httptest.NewRequest(http.MethodOptions, "/turn/send-message", nil)
	req.Header.Set("Origin", testClientOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != testClientOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, testClientOrigin)
	}
}

func TestCORS_OriginPolicy(t *testing.T) {
	tests := []struct {
		name         string
		clientOrigin string
		origin       string
		wantStatus   int
		wantAllow    string
	}{
		{"configured origin", testClientOrigin, testClientOrigin, http.StatusNoContent, testClientOrigin},
		{"foreign origin rejected", testClientOrigin, "http://other.test", http.StatusForbidden, ""},
		{"unconfigured allows any", "", "http://other.test", http.StatusNoContent, "*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(RouterConfig{Forwarder: NewForwarder(Config{ClientOrigin: tt.clientOrigin}, nil, nil)})

			req := httptest.NewRequest(http.MethodOptions, "/turn/send-message", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestForward_FlushesEachRead(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"answer_piece":"x"}`+"\n")
	}))
	defer backend.Close()

	f := NewForwarder(configFor(t, backend), nil, nil)
	rec := httptest.NewRecorder()
	if err := f.Forward(t.Context(), rec, Outbound{Path: SendMessagePath, Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !rec.Flushed {
		t.Error("expected response to be flushed")
	}
	if rec.Header().Get("Content-Length") != "" {
		t.Error("Content-Length must not be mirrored")
	}
	if rec.Body.String() != `{"answer_piece":"x"}`+"\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantReset bool
	}{
		{"econnreset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"epipe", fmt.Errorf("write: %w", syscall.EPIPE), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"deadline", os.ErrDeadlineExceeded, true},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, false},
		{"dns", &net.DNSError{Err: "no such host", Name: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			if got := IsConnectionReset(err); got != tt.wantReset {
				t.Errorf("IsConnectionReset = %v, want %v", got, tt.wantReset)
			}
			if !tt.wantReset && !errors.Is(err, ErrBackendUnreachable) {
				t.Errorf("expected ErrBackendUnreachable, got %v", err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	err := Config{}.Validate()
	if !IsConfigurationMissing(err) {
		t.Fatalf("expected ConfigurationMissingError, got %v", err)
	}
	want := "DANSWER_HOST, DANSWER_PORT, DANSWER_URL, CLIENT_URL not set"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	cfg := Config{BackendHost: "h", BackendPort: "1", BackendOrigin: "http://o/", ClientOrigin: "http://c"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got := cfg.BackendURL(SendMessagePath); got != "http://h:1/api/chat/send-message" {
		t.Errorf("BackendURL = %q", got)
	}
	if got := cfg.OriginURL(CreateChatSessionPath); got != "http://o/api/chat/create-chat-session" {
		t.Errorf("OriginURL = %q", got)
	}
	cfg.BackendProtocol = "https"
	if got := cfg.BackendURL("/x"); got != "https://h:1/x" {
		t.Errorf("BackendURL = %q", got)
	}
}
