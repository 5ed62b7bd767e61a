package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("relay", &buf).WithRequest("req-1")

	logger.Info("forwarded", map[string]any{"status": 200})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["message"] != "forwarded" {
		t.Errorf("message = %v, want forwarded", e["message"])
	}
	if e["level"] != "info" {
		t.Errorf("level = %v, want info", e["level"])
	}
	if e["component"] != "relay" {
		t.Errorf("component = %v, want relay", e["component"])
	}
	if e["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", e["request_id"])
	}
	if _, ok := e["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
	fields, ok := e["fields"].(map[string]any)
	if !ok {
		t.Fatalf("fields = %T, want object", e["fields"])
	}
	if fields["status"] != float64(200) {
		t.Errorf("fields.status = %v, want 200", fields["status"])
	}
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("relay", &buf)
	child := logger.WithRequest("req-2")

	if err := logger.SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}

	child.Info("dropped", nil)
	child.Warn("kept", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["message"] != "kept" {
		t.Errorf("message = %v, want kept", entries[0]["message"])
	}
}

func TestParseLevel_Unknown(t *testing.T) {
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogger_Sugar(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter("cli", &buf).Sugar().With("turn", 3).Infof("sent %d bytes", 42)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["message"] != "sent 42 bytes" {
		t.Errorf("message = %v", entries[0]["message"])
	}
	if entries[0]["turn"] != float64(3) {
		t.Errorf("turn = %v, want 3", entries[0]["turn"])
	}
}
