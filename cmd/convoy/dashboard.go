package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/convoy-sh/convoy/internal/coord"
	"github.com/convoy-sh/convoy/internal/scheduler"
	"github.com/convoy-sh/convoy/internal/tui"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live TUI fed by the event bus",
	Long: `Full-screen dashboard: agent activity on the left, phase progress
and the alert feed on the right. Phase progress re-reads the scheduler on
an interval, so the view stays current even with no events flowing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		roster, err := loadRoster()
		if err != nil {
			return err
		}
		c := coord.New(a.store, a.cfg.Monitor.FreshnessWindow, a.bus)
		sched := scheduler.New(roster, c, a.bus)

		model := tui.New(a.bus, func() (*scheduler.Dashboard, error) {
			return sched.Dashboard(time.Now())
		})
		p := tea.NewProgram(model, tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
