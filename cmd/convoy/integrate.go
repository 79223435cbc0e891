package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/convoy-sh/convoy/internal/integrate"
)

var integrateReason string

var integrateCmd = &cobra.Command{
	Use:   "safe-integrate",
	Short: "Merge validated work back into the mainline",
	Long: `Fold a branch or commit into the current branch without losing
anything: safe snapshots first and refuses conflicting merges, experiment
rehearses the merge inside a sandbox, emergency-rollback recovers from a
bad integration, and status prints the workspace's integration state.`,
}

func newIntegrator(a *app) *integrate.Integrator {
	return integrate.New(a.repo, a.snaps, newRollbackEngine(a), newExperimentManager(a), a.log)
}

func printIntegrationResult(res *integrate.Result) {
	fmt.Printf("%s integration of %s\n", res.Mode, res.Target)
	fmt.Printf("  merged:   %v\n", res.Merged)
	if res.Snapshot != "" {
		fmt.Printf("  backup:   %s\n", res.Snapshot)
	}
	if len(res.ConflictFiles) > 0 {
		fmt.Printf("  conflicts: %s\n", strings.Join(res.ConflictFiles, ", "))
	}
	if res.Verified != nil {
		fmt.Printf("  verified: %v\n", res.Verified.Passed)
	}
	if res.Detail != "" {
		fmt.Printf("  detail:   %s\n", res.Detail)
	}
}

var integrateSafeCmd = &cobra.Command{
	Use:   "safe <target>",
	Short: "Snapshot, check for conflicts, merge, verify",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		res, err := newIntegrator(a).Safe(cmd.Context(), args[0])
		if res != nil {
			printIntegrationResult(res)
		}
		if errors.Is(err, integrate.ErrConflicts) {
			return fmt.Errorf("merge blocked by conflicts; resolve on a branch and retry")
		}
		return err
	},
}

var integrateExperimentCmd = &cobra.Command{
	Use:   "experiment <target>",
	Short: "Rehearse the merge inside a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		res, err := newIntegrator(a).Experiment(cmd.Context(), args[0])
		if res != nil {
			printIntegrationResult(res)
		}
		return err
	},
}

var integrateEmergencyCmd = &cobra.Command{
	Use:   "emergency-rollback",
	Short: "Recover from a bad integration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		rec, err := newIntegrator(a).EmergencyRollback(cmd.Context(), integrateReason)
		if err != nil {
			return err
		}
		printRollbackRecord(rec)
		return nil
	},
}

var integrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the workspace's integration state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		st, err := newIntegrator(a).Status(cmd.Context())
		if err != nil {
			return err
		}
		if output == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		fmt.Printf("branch:    %s\n", st.Branch)
		fmt.Printf("head:      %s\n", st.Head)
		fmt.Printf("modified:  %d\n", st.Modified)
		fmt.Printf("untracked: %d\n", st.Untracked)
		if st.LastRollback != nil {
			fmt.Printf("last rollback: %s (%s) at %s\n",
				st.LastRollback.Level, st.LastRollback.Outcome,
				st.LastRollback.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	integrateEmergencyCmd.Flags().StringVar(&integrateReason, "reason", "bad integration", "Reason recorded in the audit trail")
	integrateCmd.AddCommand(integrateSafeCmd, integrateExperimentCmd,
		integrateEmergencyCmd, integrateStatusCmd)
	rootCmd.AddCommand(integrateCmd)
}
