package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/convoy-sh/convoy/internal/experiment"
)

var experimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Manage isolated experiment sandboxes",
	Long: `A sandbox is an isolated branch plus a mirrored shared-state tree.
setup creates it at a target commit, start watches it and snapshots every
change, analyze judges it against the tolerance rules, and cleanup discards
branch, state, and registration without touching production.`,
}

func newExperimentManager(a *app) *experiment.Manager {
	return experiment.NewManager(a.repo, a.store, experimentsRoot(a.cfg),
		a.cfg.Experiment, a.bus, a.log, nil)
}

var experimentSetupCmd = &cobra.Command{
	Use:   "setup <name> [target]",
	Short: "Create a sandbox branch and mirrored state",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		target := ""
		if len(args) == 2 {
			target = args[1]
		}
		exp, err := newExperimentManager(a).Setup(args[0], target)
		if err != nil {
			return err
		}
		fmt.Printf("experiment %s ready\n", exp.Name)
		fmt.Printf("  branch:   %s\n", exp.Branch)
		fmt.Printf("  state:    %s\n", exp.StateDir)
		fmt.Printf("  baseline: %s\n", exp.Baseline)
		return nil
	},
}

var experimentStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Check out the sandbox and watch it until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, closeApp, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer closeApp()

		return newExperimentManager(a).Start(ctx, args[0])
	},
}

var experimentStopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Mark the sandbox stopped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		exp, err := newExperimentManager(a).Stop(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("experiment %s stopped\n", exp.Name)
		return nil
	},
}

var experimentAnalyzeCmd = &cobra.Command{
	Use:   "analyze <name>",
	Short: "Judge the sandbox against the tolerance rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		exp, err := newExperimentManager(a).Analyze(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("experiment %s: %s\n", exp.Name, exp.Verdict)
		if exp.Verdict != experiment.VerdictSucceeded {
			return fmt.Errorf("experiment %s failed analysis", exp.Name)
		}
		return nil
	},
}

var experimentCleanupCmd = &cobra.Command{
	Use:   "cleanup <name>",
	Short: "Discard the sandbox branch, state, and registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		if err := newExperimentManager(a).Cleanup(args[0]); err != nil {
			return err
		}
		fmt.Printf("experiment %s cleaned up\n", args[0])
		return nil
	},
}

var experimentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered experiments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		exps, err := newExperimentManager(a).List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tBRANCH\tSTATUS\tVERDICT\tCREATED")
		for _, exp := range exps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				exp.Name, exp.Branch, exp.Status, exp.Verdict,
				exp.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	experimentCmd.AddCommand(experimentSetupCmd, experimentStartCmd,
		experimentStopCmd, experimentAnalyzeCmd, experimentCleanupCmd,
		experimentListCmd)
	rootCmd.AddCommand(experimentCmd)
}
