package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/chatrelay/cli/reader"
)

func TestIsTUISupported(t *testing.T) {
	tests := []struct {
		viewType string
		want     bool
	}{
		{"replay_session", true},
		{"replay_metrics", true},

		// List output is table-only.
		{"replay_sessions", false},
		{"version", false},
		{"serve", false},
		{"chat", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.viewType, func(t *testing.T) {
			if got := IsTUISupported(tt.viewType); got != tt.want {
				t.Errorf("IsTUISupported(%q) = %v, want %v", tt.viewType, got, tt.want)
			}
		})
	}
}

func TestSupportedTUIViews(t *testing.T) {
	views := SupportedTUIViews()
	if len(views) != 2 {
		t.Errorf("SupportedTUIViews() returned %d views, expected 2", len(views))
	}
	for _, v := range views {
		if !IsTUISupported(v) {
			t.Errorf("SupportedTUIViews() returned %q but IsTUISupported returns false", v)
		}
	}
}

func TestRun_UnsupportedViewType(t *testing.T) {
	if err := Run("replay_sessions", nil); err == nil {
		t.Error("Expected error for unsupported view type")
	}
}

func sampleReplay() *reader.ReplayResponse {
	citation := 2
	stop := "CANCELLED"
	return &reader.ReplayResponse{
		SessionID: "sess-42",
		Messages: []reader.MessageView{
			{Seq: 0, Sender: "user", MessageID: strPtr("1"), Content: "where are the docs?"},
			{
				Seq:             1,
				Sender:          "bot",
				MessageID:       strPtr("2"),
				ParentMessageID: strPtr("1"),
				Content:         "See the handbook.",
				StopReason:      &stop,
				Documents: []reader.DocumentView{
					{Citation: &citation, Title: "Handbook", Link: "https://example.com/h", Score: 0.5, Preview: "setup...deploy"},
				},
			},
		},
	}
}

func strPtr(s string) *string { return &s }

func TestTranscriptModel_View(t *testing.T) {
	m := NewTranscriptModel(sampleReplay())
	view := m.View()

	for _, want := range []string{"sess-42", "where are the docs?", "See the handbook.", "#2", "[2]", "Handbook", "setup...deploy", "stopped: CANCELLED"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestTranscriptModel_Quit(t *testing.T) {
	m := NewTranscriptModel(sampleReplay())
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if got := next.View(); got != "" {
		t.Errorf("view after quit = %q, want empty", got)
	}
}

func TestTranscriptModel_Resize(t *testing.T) {
	m := NewTranscriptModel(sampleReplay())
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	tm := next.(TranscriptModel)
	if tm.viewport.Width != 120 || tm.viewport.Height != 40-chromeHeight {
		t.Errorf("viewport = %dx%d", tm.viewport.Width, tm.viewport.Height)
	}
}

func TestTranscriptModel_InvalidData(t *testing.T) {
	m := NewTranscriptModel("not a replay")
	if !strings.Contains(m.View(), "Invalid data type") {
		t.Errorf("view = %q", m.View())
	}
}

func TestRenderTranscriptStatic(t *testing.T) {
	out := RenderTranscriptStatic(&reader.ReplayResponse{SessionID: "empty"})
	if !strings.Contains(out, "(no messages)") {
		t.Errorf("static render = %q", out)
	}
}

func TestMetricsModel_View(t *testing.T) {
	m := NewMetricsModel(&reader.MetricsSnapshot{
		SessionID:         "sess-42",
		Ts:                "2026-02-07T12:00:00Z",
		TurnsStarted:      4,
		TurnsCompleted:    3,
		TurnsRemoteFault:  1,
		PacketsDecoded:    17,
		PacketsByKind:     map[string]int64{"answer_piece": 12, "stop": 1},
		StorageBackend:    "fs",
		PublishSuccess:    3,
		TurnsFramingFault: 0,
	})
	view := m.View()
	for _, want := range []string{"sess-42", "Completed", "17", "answer_piece", "fs", "3 ok / 0 failed"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}
