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
	"github.com/convoy-sh/convoy/internal/compliance"
)

var complianceOnce bool

var complianceCmd = &cobra.Command{
	Use:   "compliance-monitor <agent>",
	Short: "Audit one agent's footprint on a cycle",
	Long: `Run the compliance audit loop for a roster agent: each cycle
collects the agent's change footprint, evaluates the rule set, computes the
0-100 score, persists the cycle, and raises alerts for every breach.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, closeApp, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp()

		roster, err := loadRoster()
		if err != nil {
			return err
		}
		spec, ok := roster.Agent(args[0])
		if !ok {
			return fmt.Errorf("agent %s not in roster", args[0])
		}

		alerts := alert.NewWriter(a.store)
		pauser := boundary.NewProcessPauser(a.bus, a.log)
		collect := compliance.NewCollector(a.repo, a.snaps, baselineName, spec)
		mon := compliance.NewMonitor(spec, a.cfg.Monitor,
			compliance.DefaultRules(a.cfg.Monitor), collect,
			a.audit, alerts, a.bus, pauser, a.log, nil)

		if complianceOnce {
			cycle, err := mon.RunCycle(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("cycle %d for %s: score %d (%d violations, %d warnings)\n",
				cycle.Cycle, cycle.Agent, cycle.Score, cycle.Violations, cycle.Warnings)
			return nil
		}
		return mon.Run(ctx)
	},
}

func init() {
	complianceCmd.Flags().BoolVar(&complianceOnce, "once", false, "Run a single audit cycle and exit")
	rootCmd.AddCommand(complianceCmd)
}
