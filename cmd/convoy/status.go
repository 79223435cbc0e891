package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/convoy-sh/convoy/internal/coord"
	"github.com/convoy-sh/convoy/internal/scheduler"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the scheduler dashboard",
	Long: `Classify every roster agent from its status and handoff records:
not-started, active, stale, or complete, grouped by phase, plus any open
blockers. Use -o json for machine-readable output.`,
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

		dash, err := sched.Dashboard(time.Now())
		if err != nil {
			return err
		}
		if output == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(dash)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PHASE\tCOMPLETE\tDONE\tACTIVE\tSTALE\tNOT STARTED")
		for _, view := range dash.Phases {
			fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%d\t%d\n",
				view.Phase, view.Complete, view.Done, view.Active,
				view.Stale, view.NotStarted)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if len(dash.Blockers) > 0 {
			fmt.Println("\nBlockers:")
			for _, b := range dash.Blockers {
				marker := ""
				if b.Critical {
					marker = " [CRITICAL]"
				}
				fmt.Printf("  %s%s: %s\n", b.AgentName, marker, b.Reason)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
