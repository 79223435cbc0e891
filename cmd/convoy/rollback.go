package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/convoy-sh/convoy/internal/audit"
	"github.com/convoy-sh/convoy/internal/config"
	"github.com/convoy-sh/convoy/internal/rollback"
)

var (
	rollbackReason    string
	rollbackVerifyCmd string
	rollbackAgent     string
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Recover the workspace from bad agent output",
	Long: `Four recovery strategies, smallest footprint first:

  git        reset to a named prior commit
  snapshot   restore a named snapshot's manifests and commit
  files      restore specific files from the previous commit
  emergency  reset to the last known-good commit and clean the tree

smart assesses damage and picks a strategy; verify runs the configured
validation command; list prints the audit trail. Every destructive action
creates a recovery point first and lands in the audit store.`,
}

func newRollbackEngine(a *app) *rollback.Engine {
	var verify []string
	if rollbackVerifyCmd != "" {
		verify = []string{"sh", "-c", rollbackVerifyCmd}
	}
	return rollback.NewEngine(a.repo, a.snaps, a.audit, a.bus, a.log, verify)
}

func printRollbackRecord(rec *audit.RollbackRecord) {
	fmt.Printf("rollback %s applied\n", rec.Level)
	fmt.Printf("  id:      %s\n", rec.ID)
	fmt.Printf("  target:  %s\n", rec.Target)
	fmt.Printf("  backup:  %s\n", rec.BackupRef)
	fmt.Printf("  outcome: %s\n", rec.Outcome)
}

var rollbackGitCmd = &cobra.Command{
	Use:   "git <commit>",
	Short: "Reset the workspace to a prior commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		rec, err := newRollbackEngine(a).CommitRollback(cmd.Context(), args[0], rollbackReason)
		if err != nil {
			return err
		}
		printRollbackRecord(rec)
		return nil
	},
}

var rollbackSnapshotCmd = &cobra.Command{
	Use:   "snapshot <name>",
	Short: "Restore a named snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		rec, err := newRollbackEngine(a).SnapshotRollback(cmd.Context(), args[0], rollbackReason)
		if err != nil {
			return err
		}
		printRollbackRecord(rec)
		return nil
	},
}

var rollbackFilesCmd = &cobra.Command{
	Use:   "files <file>...",
	Short: "Restore specific files from the previous commit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		rec, err := newRollbackEngine(a).FileRollback(cmd.Context(), args, rollbackReason)
		if err != nil {
			return err
		}
		printRollbackRecord(rec)
		return nil
	},
}

var rollbackEmergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Reset to the last known-good commit and clean the tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		rec, err := newRollbackEngine(a).EmergencyRollback(cmd.Context(), rollbackReason)
		if err != nil {
			return err
		}
		printRollbackRecord(rec)
		return nil
	},
}

var rollbackSmartCmd = &cobra.Command{
	Use:   "smart",
	Short: "Assess the damage and pick a rollback strategy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		var spec *config.AgentSpec
		if rollbackAgent != "" {
			roster, err := loadRoster()
			if err != nil {
				return err
			}
			found, ok := roster.Agent(rollbackAgent)
			if !ok {
				return fmt.Errorf("agent %s not in roster", rollbackAgent)
			}
			spec = found
		}

		dec, err := newRollbackEngine(a).Smart(cmd.Context(), spec, baselineName, rollbackReason)
		if err != nil {
			return err
		}
		fmt.Printf("smart rollback chose %s: %s\n", dec.Level, dec.Why)
		return nil
	},
}

var rollbackVerifyCmdC = &cobra.Command{
	Use:   "verify",
	Short: "Run the validation command against the workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		res, err := newRollbackEngine(a).Verify(cmd.Context())
		if err != nil {
			return err
		}
		if !res.Passed {
			fmt.Println("verification FAILED")
			fmt.Print(res.Output)
			return fmt.Errorf("workspace validation failed")
		}
		fmt.Println("verification passed")
		return nil
	},
}

var rollbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the rollback audit trail, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()

		recs, err := newRollbackEngine(a).List(cmd.Context())
		if err != nil {
			return err
		}
		if output == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tLEVEL\tTARGET\tOUTCOME\tREASON")
		for _, rec := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.CreatedAt.Format("2006-01-02 15:04:05"),
				rec.Level, rec.Target, rec.Outcome, rec.Reason)
		}
		return w.Flush()
	},
}

func init() {
	rollbackCmd.PersistentFlags().StringVar(&rollbackReason, "reason", "operator requested", "Reason recorded in the audit trail")
	rollbackCmd.PersistentFlags().StringVar(&rollbackVerifyCmd, "verify-cmd", "", "Validation command run through sh -c")
	rollbackSmartCmd.Flags().StringVar(&rollbackAgent, "agent", "", "Scope the assessment to one roster agent")

	rollbackCmd.AddCommand(rollbackGitCmd, rollbackSnapshotCmd, rollbackFilesCmd,
		rollbackEmergencyCmd, rollbackSmartCmd, rollbackVerifyCmdC, rollbackListCmd)
	rootCmd.AddCommand(rollbackCmd)
}
