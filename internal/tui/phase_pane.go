package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/convoy-sh/convoy/internal/scheduler"
)

// dashboardMsg carries a fresh scheduler view into the TUI.
type dashboardMsg struct {
	dash *scheduler.Dashboard
}

// PhasePaneModel shows per-phase progress in pipeline order.
type PhasePaneModel struct {
	dash    *scheduler.Dashboard
	width   int
	height  int
	focused bool
}

// NewPhasePaneModel creates a new phase pane model.
func NewPhasePaneModel() PhasePaneModel {
	return PhasePaneModel{}
}

// Update handles messages for the phase pane.
func (m PhasePaneModel) Update(msg tea.Msg) (PhasePaneModel, tea.Cmd) {
	if msg, ok := msg.(dashboardMsg); ok && msg.dash != nil {
		m.dash = msg.dash
	}
	return m, nil
}

// View renders the phase pane.
func (m PhasePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Phases")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if m.dash == nil {
		b.WriteString(StyleStatusIdle.Render("Loading..."))
	} else {
		for _, view := range m.dash.Phases {
			b.WriteString(m.renderPhase(view))
		}
		if len(m.dash.Blockers) > 0 {
			b.WriteString("\n")
			b.WriteString(StyleStatusAlert.Render(fmt.Sprintf("%d open blocker(s)", len(m.dash.Blockers))))
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

func (m PhasePaneModel) renderPhase(view scheduler.PhaseView) string {
	var b strings.Builder

	marker := StyleStatusIdle.Render("○")
	if view.Complete {
		marker = StyleStatusComplete.Render("✓")
	} else if view.Active > 0 {
		marker = StyleStatusActive.Render("●")
	}
	total := view.NotStarted + view.Active + view.Stale + view.Done
	b.WriteString(fmt.Sprintf("%s %-16s %d/%d done", marker, view.Phase, view.Done, total))
	if view.Stale > 0 {
		b.WriteString("  " + StyleStatusAlert.Render(fmt.Sprintf("%d stale", view.Stale)))
	}
	b.WriteString("\n")

	if total > 0 {
		barWidth := min(m.width-6, 40)
		doneWidth := (view.Done * barWidth) / total
		activeWidth := (view.Active * barWidth) / total
		staleWidth := (view.Stale * barWidth) / total
		restWidth := barWidth - doneWidth - activeWidth - staleWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, doneWidth)))
		bar += StyleStatusActive.Render(strings.Repeat("-", max(0, activeWidth)))
		bar += StyleStatusAlert.Render(strings.Repeat("!", max(0, staleWidth)))
		bar += StyleStatusIdle.Render(strings.Repeat(".", max(0, restWidth)))
		b.WriteString(fmt.Sprintf("  [%s]\n", bar))
	}
	return b.String()
}

// SetSize updates the pane dimensions.
func (m *PhasePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *PhasePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
