package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/convoy-sh/convoy/internal/audit"
	"github.com/convoy-sh/convoy/internal/config"
	"github.com/convoy-sh/convoy/internal/events"
	"github.com/convoy-sh/convoy/internal/gitx"
	"github.com/convoy-sh/convoy/internal/logging"
	"github.com/convoy-sh/convoy/internal/snapshot"
	"github.com/convoy-sh/convoy/internal/state"
)

// baselineName is the workspace baseline snapshot every monitor compares
// against. Captured once, before any agent runs.
const baselineName = "baseline"

var (
	// Global flags
	cfgFile    string
	rosterFile string
	output     string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "convoy",
	Short: "Coordinate a pool of autonomous coding agents",
	Long: `convoy runs a pool of coding agents against one repository: a
phase-ordered scheduler, filesystem status/handoff coordination, compliance
and boundary monitors, a four-level rollback engine, experiment sandboxes,
and a safe-integrate flow.

Core Commands:
  run                Start agent runners and monitor loops
  status             Show scheduler dashboard (text or JSON)
  dashboard          Live TUI fed by the event bus
  rollback           Recover the workspace (git/snapshot/files/emergency/smart)
  compliance-monitor Audit one agent's footprint on a cycle
  boundary-monitor   Watch for out-of-scope edits and deletions
  experiment         Manage isolated experiment sandboxes
  safe-integrate     Merge validated work back into the mainline`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .convoy/config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&rosterFile, "roster", "roster.yaml", "Agent roster file")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "Output format (text, json)")
}

// app bundles the shared pipeline dependencies commands wire together.
type app struct {
	cfg   *config.Settings
	log   *zap.Logger
	repo  *gitx.Repo
	store *state.DirStore
	snaps *snapshot.Store
	audit audit.Store
	bus   *events.Bus
}

func loadSettings() (*config.Settings, error) {
	path := cfgFile
	if path == "" {
		// Optional project config; absence falls back to defaults.
		candidate := filepath.Join(".convoy", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	return config.Load(path)
}

// newApp builds the shared dependency set. Call close when done; it flushes
// the logger and closes the audit store and bus.
func newApp(ctx context.Context) (*app, func(), error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, nil, err
	}

	repo, err := gitx.Open(cfg.Workspace.RepoPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening workspace repository: %w", err)
	}
	store, err := state.NewDirStore(cfg.Workspace.StateDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening shared-state tree: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Workspace.AuditDB), 0o755); err != nil {
		return nil, nil, err
	}
	auditStore, err := audit.NewSQLiteStore(ctx, cfg.Workspace.AuditDB)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit store: %w", err)
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		repo:  repo,
		store: store,
		snaps: snapshot.NewStore(repo, store, nil),
		audit: auditStore,
		bus:   events.NewBus(),
	}
	closeFn := func() {
		a.bus.Close()
		if err := a.audit.Close(); err != nil {
			a.log.Warn("closing audit store", zap.Error(err))
		}
		_ = a.log.Sync()
	}
	return a, closeFn, nil
}

func loadRoster() (*config.Roster, error) {
	roster, err := config.LoadRoster(rosterFile)
	if err != nil {
		return nil, fmt.Errorf("loading roster %s: %w", rosterFile, err)
	}
	if err := roster.Validate(); err != nil {
		return nil, fmt.Errorf("invalid roster %s: %w", rosterFile, err)
	}
	return roster, nil
}

// experimentsRoot is where sandbox state directories live, next to the
// shared-state tree rather than inside it so mirrors never mirror mirrors.
func experimentsRoot(cfg *config.Settings) string {
	return filepath.Join(filepath.Dir(cfg.Workspace.StateDir), "experiments")
}
