package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/convoy-sh/convoy/internal/events"
	"github.com/convoy-sh/convoy/internal/scheduler"
)

// dashboardInterval is how often the phase pane re-reads the scheduler.
const dashboardInterval = 2 * time.Second

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneAgents PaneID = iota
	PanePhases
	PaneAlerts
)

// DashboardFn produces a fresh scheduler view. It is called from the TUI's
// refresh loop, so it must be safe for concurrent use with the pipeline.
type DashboardFn func() (*scheduler.Dashboard, error)

// Model is the root Bubble Tea model for the dashboard.
type Model struct {
	agentPane   AgentPaneModel
	phasePane   PhasePaneModel
	alertPane   AlertPaneModel
	focusedPane PaneID
	eventSub    <-chan events.Event
	fetch       DashboardFn
	width       int
	height      int
	quitting    bool
}

// New creates the dashboard model. It subscribes to every topic on the bus.
func New(bus *events.Bus, fetch DashboardFn) Model {
	return Model{
		agentPane:   NewAgentPaneModel(),
		phasePane:   NewPhasePaneModel(),
		alertPane:   NewAlertPaneModel(),
		focusedPane: PaneAgents,
		eventSub:    bus.SubscribeAll(256),
		fetch:       fetch,
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), fetchDashboard(m.fetch))
}

// waitForEvent returns a command that waits for the next bus event.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// fetchDashboard reads the scheduler view once. Errors leave the previous
// view on screen.
func fetchDashboard(fetch DashboardFn) tea.Cmd {
	return func() tea.Msg {
		dash, err := fetch()
		if err != nil {
			return dashboardMsg{}
		}
		return dashboardMsg{dash: dash}
	}
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(dashboardInterval, func(time.Time) tea.Msg {
		return refreshMsg{}
	})
}

type refreshMsg struct{}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 3
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + 2) % 3 // +2 is equivalent to -1 mod 3
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneAgents
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PanePhases
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneAlerts
			m.updateFocusStates()

		default:
			// Delegate to focused pane
			switch m.focusedPane {
			case PaneAgents:
				var cmd tea.Cmd
				m.agentPane, cmd = m.agentPane.Update(msg)
				cmds = append(cmds, cmd)
			case PanePhases:
				var cmd tea.Cmd
				m.phasePane, cmd = m.phasePane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneAlerts:
				var cmd tea.Cmd
				m.alertPane, cmd = m.alertPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case events.StatusUpdatedEvent, events.HandoffCreatedEvent,
		events.BlockerRaisedEvent, events.AgentExhaustedEvent:
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.AlertRaisedEvent, events.AgentSuspendedEvent:
		// Alerts show in both the feed and the agent's activity log.
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd)
		m.alertPane, cmd = m.alertPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.PhaseCompletedEvent, events.RollbackAppliedEvent:
		var cmd tea.Cmd
		m.alertPane, cmd = m.alertPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case dashboardMsg:
		var cmd tea.Cmd
		m.phasePane, cmd = m.phasePane.Update(msg)
		cmds = append(cmds, cmd, scheduleRefresh())

	case refreshMsg:
		cmds = append(cmds, fetchDashboard(m.fetch))
	}

	return m, tea.Batch(cmds...)
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	leftPane := m.agentPane.View()
	rightPane := lipgloss.JoinVertical(lipgloss.Left, m.phasePane.View(), m.alertPane.View())
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, HelpView())
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 55) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // reserve 1 line for help bar
	rightTopHeight := (availableHeight * 45) / 100
	rightBottomHeight := availableHeight - rightTopHeight

	m.agentPane.SetSize(leftWidth, availableHeight)
	m.phasePane.SetSize(rightWidth, rightTopHeight)
	m.alertPane.SetSize(rightWidth, rightBottomHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.agentPane.SetFocused(m.focusedPane == PaneAgents)
	m.phasePane.SetFocused(m.focusedPane == PanePhases)
	m.alertPane.SetFocused(m.focusedPane == PaneAlerts)
}
