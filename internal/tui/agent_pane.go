package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/convoy-sh/convoy/internal/events"
)

// AgentRow tracks one agent's visible history.
type AgentRow struct {
	Name      string
	Phase     string
	Status    string // "active", "complete", "suspended", "idle"
	Passing   int
	Total     int
	Lines     []string
	FirstSeen time.Time
}

// AgentPaneModel is the agent list plus the selected agent's activity log.
type AgentPaneModel struct {
	agents      map[string]*AgentRow
	agentOrder  []string // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewAgentPaneModel creates a new agent pane model.
func NewAgentPaneModel() AgentPaneModel {
	return AgentPaneModel{
		agents:   make(map[string]*AgentRow),
		viewport: viewport.New(0, 0),
	}
}

// row returns the state for an agent, creating it on first sight.
func (m *AgentPaneModel) row(name string) *AgentRow {
	if r, ok := m.agents[name]; ok {
		return r
	}
	r := &AgentRow{Name: name, Status: "active", FirstSeen: time.Now()}
	m.agents[name] = r
	m.agentOrder = append(m.agentOrder, name)
	if len(m.agentOrder) == 1 {
		m.selectedIdx = 0
	}
	return r
}

func (m *AgentPaneModel) appendLine(name, line string) {
	r := m.row(name)
	r.Lines = append(r.Lines, line)
	if m.selectedName() == name {
		m.updateViewportContent()
	}
}

// Update handles messages for the agent pane.
func (m AgentPaneModel) Update(msg tea.Msg) (AgentPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.agentOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.StatusUpdatedEvent:
		r := m.row(msg.AgentName)
		r.Phase = msg.Phase
		r.Passing = msg.TestsPassing
		r.Total = msg.TestsTotal
		if r.Status != "complete" && r.Status != "suspended" && r.Status != "idle" {
			r.Status = "active"
		}
		m.appendLine(msg.AgentName, fmt.Sprintf("%s  %d/%d tests passing",
			msg.Timestamp.Format("15:04:05"), msg.TestsPassing, msg.TestsTotal))

	case events.HandoffCreatedEvent:
		r := m.row(msg.AgentName)
		r.Status = "complete"
		m.appendLine(msg.AgentName, fmt.Sprintf("%s  handoff: %s",
			msg.Timestamp.Format("15:04:05"), msg.Summary))

	case events.AlertRaisedEvent:
		m.appendLine(msg.AgentName, fmt.Sprintf("%s  [%s] %s: %s",
			msg.Timestamp.Format("15:04:05"), msg.Severity, msg.Kind, msg.Detail))

	case events.AgentSuspendedEvent:
		r := m.row(msg.AgentName)
		r.Status = "suspended"
		m.appendLine(msg.AgentName, fmt.Sprintf("%s  suspended: %s",
			msg.Timestamp.Format("15:04:05"), msg.Reason))

	case events.AgentExhaustedEvent:
		r := m.row(msg.AgentName)
		r.Status = "idle"
		m.appendLine(msg.AgentName, fmt.Sprintf("%s  restart budget exhausted after %d attempts",
			msg.Timestamp.Format("15:04:05"), msg.Attempts))

	case events.BlockerRaisedEvent:
		m.appendLine(msg.AgentName, fmt.Sprintf("%s  blocker: %s",
			msg.Timestamp.Format("15:04:05"), msg.Reason))
	}

	return m, cmd
}

// View renders the agent pane.
func (m AgentPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 25
	viewportWidth := m.width - listWidth - 4 // account for borders and padding

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderAgentList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m AgentPaneModel) renderAgentList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Agents")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.agentOrder) == 0 {
		b.WriteString(StyleStatusIdle.Render("Waiting..."))
	} else {
		for i, name := range m.agentOrder {
			r := m.agents[name]
			icon := m.StatusIcon(r.Status)
			label := r.Name
			if len(label) > width-6 {
				label = label[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", icon, label)
			if i == m.selectedIdx {
				line = lipgloss.NewStyle().
					Background(lipgloss.Color("62")).
					Foreground(lipgloss.Color("0")).
					Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func (m AgentPaneModel) StatusIcon(status string) string {
	switch status {
	case "active":
		return StyleStatusActive.Render("●")
	case "complete":
		return StyleStatusComplete.Render("✓")
	case "suspended":
		return StyleStatusAlert.Render("■")
	case "idle":
		return StyleStatusAlert.Render("✗")
	default:
		return StyleStatusIdle.Render("○")
	}
}

func (m AgentPaneModel) selectedName() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.agentOrder) {
		return m.agentOrder[m.selectedIdx]
	}
	return ""
}

func (m *AgentPaneModel) updateViewportContent() {
	name := m.selectedName()
	r, exists := m.agents[name]
	if name == "" || !exists {
		m.viewport.SetContent("Waiting for agents...")
		return
	}

	header := fmt.Sprintf("%s  phase=%s  %d/%d tests\n\n", r.Name, r.Phase, r.Passing, r.Total)
	m.viewport.SetContent(header + strings.Join(r.Lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *AgentPaneModel) resizeViewport() {
	listWidth := 25
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4 // account for borders

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *AgentPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *AgentPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
