package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/convoy-sh/convoy/internal/agent"
	"github.com/convoy-sh/convoy/internal/alert"
	"github.com/convoy-sh/convoy/internal/boundary"
	"github.com/convoy-sh/convoy/internal/compliance"
	"github.com/convoy-sh/convoy/internal/coord"
	"github.com/convoy-sh/convoy/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start agent runners and monitor loops",
	Long: `Load the roster, validate its dependency graph, capture the
boundary baseline, and run every agent runner plus its compliance and
boundary monitors until a shutdown signal arrives.`,
	Args: cobra.NoArgs,
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

		c := coord.New(a.store, a.cfg.Monitor.FreshnessWindow, a.bus)
		sched := scheduler.New(roster, c, a.bus)
		alerts := alert.NewWriter(a.store)
		pauser := boundary.NewProcessPauser(a.bus, a.log)
		pm := agent.NewProcessManager()
		breakers := agent.NewBreakerRegistry(a.log)
		invoker := agent.NewExecInvoker(a.cfg.Workspace.RepoPath, a.cfg.Agent.InvokeCommand, pm, pauser)

		// The baseline must exist before the first agent writes anything.
		workspaceMon := boundary.NewMonitor(a.repo, a.snaps, baselineName,
			nil, a.cfg.Monitor, alerts, a.bus, nil, a.log, nil)
		if _, err := workspaceMon.EnsureBaseline(); err != nil {
			return fmt.Errorf("capturing baseline: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)

		for i := range roster.Agents {
			spec := &roster.Agents[i]

			runner := agent.NewRunner(spec, a.cfg.Agent, c, sched, invoker,
				breakers, agent.DefaultRetryConfig(), a.bus, a.log, nil)
			g.Go(func() error { return runner.Run(gctx) })

			collect := compliance.NewCollector(a.repo, a.snaps, baselineName, spec)
			cm := compliance.NewMonitor(spec, a.cfg.Monitor,
				compliance.DefaultRules(a.cfg.Monitor), collect,
				a.audit, alerts, a.bus, pauser, a.log, nil)
			g.Go(func() error { return cm.Run(gctx) })

			bm := boundary.NewMonitor(a.repo, a.snaps, baselineName, spec,
				a.cfg.Monitor, alerts, a.bus, pauser, a.log, nil)
			g.Go(func() error { return bm.Run(gctx) })
		}

		// Phase markers are synthesized on a poll, same cadence as the
		// monitors.
		g.Go(func() error {
			ticker := time.NewTicker(a.cfg.Monitor.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					if err := sched.SyncPhases(); err != nil {
						a.log.Warn("syncing phase markers", zap.Error(err))
					}
				}
			}
		})

		a.log.Info("pipeline started",
			zap.Int("agents", len(roster.Agents)),
			zap.Strings("phases", roster.Phases))

		err = g.Wait()
		if killErr := pm.KillAll(); killErr != nil {
			a.log.Warn("killing subprocesses", zap.Error(killErr))
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		a.log.Info("pipeline stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
