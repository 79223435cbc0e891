package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/convoy-sh/convoy/internal/alert"
	"github.com/convoy-sh/convoy/internal/boundary"
	"github.com/convoy-sh/convoy/internal/config"
)

var (
	boundaryOnce  bool
	boundaryAgent string
)

var boundaryCmd = &cobra.Command{
	Use:   "boundary-monitor",
	Short: "Watch for out-of-scope edits and deletions",
	Long: `Compare the workspace against the baseline snapshot on a cycle.
Without --agent it watches the whole workspace; with --agent it watches one
roster agent and exempts edits inside that agent's declared scope.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, closeApp, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp()

		var spec *config.AgentSpec
		if boundaryAgent != "" {
			roster, err := loadRoster()
			if err != nil {
				return err
			}
			found, ok := roster.Agent(boundaryAgent)
			if !ok {
				return fmt.Errorf("agent %s not in roster", boundaryAgent)
			}
			spec = found
		}

		alerts := alert.NewWriter(a.store)
		pauser := boundary.NewProcessPauser(a.bus, a.log)
		mon := boundary.NewMonitor(a.repo, a.snaps, baselineName, spec,
			a.cfg.Monitor, alerts, a.bus, pauser, a.log, nil)
		if _, err := mon.EnsureBaseline(); err != nil {
			return fmt.Errorf("capturing baseline: %w", err)
		}

		if boundaryOnce {
			report, err := mon.RunCycle(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("cycle %d: %d/%d tracked files against baseline %s\n",
				report.Cycle, report.Observed, report.Expected, report.Baseline)
			if len(report.Findings) == 0 {
				fmt.Println("no findings")
				return nil
			}
			for _, f := range report.Findings {
				fmt.Printf("  [%s] %s: %s\n", f.Severity, f.Kind, f.Detail)
			}
			return fmt.Errorf("%d boundary finding(s)", len(report.Findings))
		}
		return mon.Run(ctx)
	},
}

func init() {
	boundaryCmd.Flags().BoolVar(&boundaryOnce, "once", false, "Run a single cycle and exit")
	boundaryCmd.Flags().StringVar(&boundaryAgent, "agent", "", "Watch one roster agent instead of the whole workspace")
	rootCmd.AddCommand(boundaryCmd)
}
