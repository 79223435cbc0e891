package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/convoy-sh/convoy/internal/events"
)

const alertHistory = 200

// AlertPaneModel is a rolling feed of alerts, suspensions, and rollbacks.
type AlertPaneModel struct {
	lines   []string
	width   int
	height  int
	focused bool
}

// NewAlertPaneModel creates a new alert pane model.
func NewAlertPaneModel() AlertPaneModel {
	return AlertPaneModel{}
}

func (m *AlertPaneModel) push(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > alertHistory {
		m.lines = m.lines[len(m.lines)-alertHistory:]
	}
}

// Update handles messages for the alert pane.
func (m AlertPaneModel) Update(msg tea.Msg) (AlertPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.AlertRaisedEvent:
		style := StyleStatusActive
		if msg.Severity != "warning" {
			style = StyleStatusAlert
		}
		m.push(fmt.Sprintf("%s  %s  %s %s: %s",
			msg.Timestamp.Format("15:04:05"), msg.AgentName,
			style.Render(msg.Severity), msg.Kind, msg.Detail))

	case events.AgentSuspendedEvent:
		m.push(fmt.Sprintf("%s  %s  %s: %s",
			msg.Timestamp.Format("15:04:05"), msg.AgentName,
			StyleStatusAlert.Render("suspended"), msg.Reason))

	case events.RollbackAppliedEvent:
		outcome := StyleStatusComplete.Render("succeeded")
		if !msg.Succeeded {
			outcome = StyleStatusAlert.Render("failed")
		}
		m.push(fmt.Sprintf("%s  rollback %s (%s) %s",
			msg.Timestamp.Format("15:04:05"), msg.Level, msg.Target, outcome))

	case events.PhaseCompletedEvent:
		m.push(fmt.Sprintf("%s  phase %s %s",
			msg.Timestamp.Format("15:04:05"), msg.Phase,
			StyleStatusComplete.Render("complete")))
	}

	return m, nil
}

// View renders the alert pane.
func (m AlertPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Alerts")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	visible := m.height - 6
	if visible < 1 {
		visible = 1
	}
	if len(m.lines) == 0 {
		b.WriteString(StyleStatusIdle.Render("No alerts."))
	} else {
		start := len(m.lines) - visible
		if start < 0 {
			start = 0
		}
		for _, line := range m.lines[start:] {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *AlertPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *AlertPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
