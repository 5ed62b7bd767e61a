package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/chatrelay/cli/reader"
)

const (
	defaultWidth  = 80
	defaultHeight = 24
	// chromeHeight is the title and help lines around the viewport.
	chromeHeight = 4
)

// TranscriptModel is a scrollable, read-only view of a replayed session.
type TranscriptModel struct {
	data     *reader.ReplayResponse
	viewport viewport.Model
	width    int
	quitting bool
}

// NewTranscriptModel creates a transcript model for a *reader.ReplayResponse.
func NewTranscriptModel(data any) TranscriptModel {
	resp, _ := data.(*reader.ReplayResponse)
	m := TranscriptModel{
		data:     resp,
		viewport: viewport.New(defaultWidth, defaultHeight-chromeHeight),
		width:    defaultWidth,
	}
	m.viewport.SetContent(m.renderMessages())
	return m
}

// Init implements tea.Model.
func (m TranscriptModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m TranscriptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(1, msg.Height-chromeHeight)
		m.viewport.SetContent(m.renderMessages())
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m TranscriptModel) View() string {
	if m.quitting {
		return ""
	}
	if m.data == nil {
		return "Invalid data type for " + ViewReplaySession
	}

	title := TitleStyle.Render(fmt.Sprintf("Session %s", m.data.SessionID))
	help := HelpStyle.Render(fmt.Sprintf("%3.f%%  ↑/↓ scroll • q quit", m.viewport.ScrollPercent()*100))
	return title + "\n" + m.viewport.View() + "\n" + help
}

func (m TranscriptModel) renderMessages() string {
	if m.data == nil {
		return ""
	}
	if len(m.data.Messages) == 0 {
		return LabelStyle.Render("(no messages)")
	}

	body := lipgloss.NewStyle().Width(max(20, m.width-4)).PaddingLeft(2)
	var b strings.Builder
	for i, msg := range m.data.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(SenderStyle(msg.Sender).Render(msg.Sender))
		if msg.MessageID != nil {
			b.WriteString(MutedStyle.Render(" #" + *msg.MessageID))
		}
		if msg.ParentMessageID != nil {
			b.WriteString(MutedStyle.Render(" ← #" + *msg.ParentMessageID))
		}
		b.WriteString("\n")
		b.WriteString(body.Render(msg.Content))
		b.WriteString("\n")
		if msg.StopReason != nil {
			b.WriteString(body.Render(WarningStyle.Render("stopped: " + *msg.StopReason)))
			b.WriteString("\n")
		}
		for _, doc := range msg.Documents {
			b.WriteString(body.Render(renderDocument(doc)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderDocument(doc reader.DocumentView) string {
	marker := "•"
	if doc.Citation != nil {
		marker = fmt.Sprintf("[%d]", *doc.Citation)
	}
	line := fmt.Sprintf("%s %s %s", marker, ValueStyle.Render(doc.Title), MutedStyle.Render(fmt.Sprintf("(%.2f) %s", doc.Score, doc.Link)))
	if doc.Preview != "" {
		line += "\n  " + MutedStyle.Render(doc.Preview)
	}
	return line
}

// RenderTranscriptStatic renders a replay without the full TUI.
func RenderTranscriptStatic(data any) string {
	return lipgloss.NewStyle().Padding(1, 2).Render(NewTranscriptModel(data).renderMessages())
}
