package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/chatrelay/cli/reader"
)

// MetricsModel is a Bubble Tea model for a session metrics snapshot.
type MetricsModel struct {
	data     *reader.MetricsSnapshot
	width    int
	height   int
	quitting bool
}

// NewMetricsModel creates a metrics model for a *reader.MetricsSnapshot.
func NewMetricsModel(data any) MetricsModel {
	snap, _ := data.(*reader.MetricsSnapshot)
	return MetricsModel{data: snap}
}

// Init implements tea.Model.
func (m MetricsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m MetricsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m MetricsModel) View() string {
	if m.quitting {
		return ""
	}
	if m.data == nil {
		return "Invalid data type for " + ViewReplayMetrics
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Turn Metrics %s", m.data.SessionID)))
	b.WriteString("\n\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Started", m.data.TurnsStarted, highlightColor),
		renderStatBox("Completed", m.data.TurnsCompleted, successColor),
		renderStatBox("Stopped", m.data.TurnsStopped, warningColor),
		renderStatBox("Faults", m.data.TurnsRemoteFault+m.data.TurnsFramingFault, errorColor),
		renderStatBox("Canceled", m.data.TurnsCanceled, mutedColor),
	))
	b.WriteString("\n")

	rows := [][2]string{
		{"Packets", fmt.Sprintf("%d", m.data.PacketsDecoded)},
		{"Transcript", fmt.Sprintf("%d ok / %d failed", m.data.TranscriptWriteSuccess, m.data.TranscriptWriteFailure)},
		{"Publish", fmt.Sprintf("%d ok / %d failed", m.data.PublishSuccess, m.data.PublishFailure)},
		{"Storage", m.data.StorageBackend},
		{"Adapter", m.data.Adapter},
		{"Recorded", m.data.Ts},
	}
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1])))
	}

	if len(m.data.PacketsByKind) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Packets by kind"))
		b.WriteString("\n")
		kinds := make([]string, 0, len(m.data.PacketsByKind))
		for k := range m.data.PacketsByKind {
			kinds = append(kinds, k)
		}
		slices.Sort(kinds)
		for _, k := range kinds {
			b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("  "+k+":"), ValueStyle.Render(fmt.Sprintf("%d", m.data.PacketsByKind[k]))))
		}
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return BoxStyle.Render(b.String()) + "\n" + help
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}
