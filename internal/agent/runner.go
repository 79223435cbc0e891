package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/convoy-sh/convoy/internal/clock"
	"github.com/convoy-sh/convoy/internal/config"
	"github.com/convoy-sh/convoy/internal/coord"
	"github.com/convoy-sh/convoy/internal/events"
	"github.com/convoy-sh/convoy/internal/scheduler"
	"github.com/convoy-sh/convoy/internal/state"
)

// Runner states. Pending and running are transient; success and exhausted
// are terminal. Retry loops back into running until the budget is spent.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateRetry     = "retry"
	StateSuccess   = "success"
	StateExhausted = "exhausted"
)

// Runner drives one agent's build-test-fix loop.
type Runner struct {
	spec     *config.AgentSpec
	cfg      config.AgentSettings
	coord    *coord.Coordinator
	sched    *scheduler.Scheduler
	invoker  Invoker
	breakers *BreakerRegistry
	retryCfg RetryConfig
	bus      *events.Bus // optional
	log      *zap.Logger
	clk      clock.Clock

	mu       sync.Mutex
	state    string
	restarts int
}

// NewRunner creates a runner. bus may be nil.
func NewRunner(spec *config.AgentSpec, cfg config.AgentSettings, c *coord.Coordinator,
	sched *scheduler.Scheduler, invoker Invoker, breakers *BreakerRegistry,
	retryCfg RetryConfig, bus *events.Bus, log *zap.Logger, clk clock.Clock) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Runner{
		spec:     spec,
		cfg:      cfg,
		coord:    c,
		sched:    sched,
		invoker:  invoker,
		breakers: breakers,
		retryCfg: retryCfg,
		bus:      bus,
		log:      log,
		clk:      clk,
		state:    StatePending,
	}
}

// State returns the runner's current state.
func (r *Runner) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s string) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run executes the state machine until the agent succeeds, the context is
// cancelled, or the restart budget is spent. An exhausted runner stays
// alive for observability but issues no further external calls.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.loadRestarts(); err != nil {
		return err
	}

	ticker := r.clk.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}

		if r.State() == StateExhausted {
			continue
		}

		ready, err := r.sched.Ready(r.spec.Name)
		if err != nil {
			r.log.Warn("readiness check failed",
				zap.String("agent", r.spec.Name), zap.Error(err))
			continue
		}
		if !ready {
			continue
		}

		if r.restarts >= r.budget() {
			r.enterIdle()
			continue
		}

		done, err := r.attempt(ctx)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if done {
			return nil
		}
	}
}

// attempt runs one invoke-then-test cycle. It reports done=true on
// success; a failed attempt consumes one restart.
func (r *Runner) attempt(ctx context.Context) (bool, error) {
	r.setState(StateRunning)
	if err := r.writeStatus(fmt.Sprintf("attempt %d", r.restarts+1), 0, 0); err != nil {
		return false, err
	}

	if r.cfg.InvokeCommand != "" {
		invokeCtx, cancel := context.WithTimeout(ctx, r.cfg.InvokeTimeout)
		_, err := invokeWithRetry(invokeCtx, r.invoker, r.spec, r.spec.Prompt,
			r.breakers.Get(r.spec.Name), r.retryCfg)
		cancel()
		if err != nil {
			return false, r.recordFailure(fmt.Errorf("coding-agent invocation: %w", err))
		}
	}

	testCtx, cancel := context.WithTimeout(ctx, r.cfg.TestTimeout)
	result, err := r.invoker.RunTests(testCtx, r.spec)
	cancel()
	if err != nil {
		return false, r.recordFailure(fmt.Errorf("test command: %w", err))
	}

	if err := r.writeStatus("tests finished", result.Passing, result.Total); err != nil {
		return false, err
	}
	if !result.Passed {
		return false, r.recordFailure(fmt.Errorf("tests failing: %d of %d passing",
			result.Passing, result.Total))
	}

	summary := fmt.Sprintf("%d of %d tests passing after %d restarts",
		result.Passing, result.Total, r.restarts)
	if err := r.coord.MarkHandoff(r.spec.Name, summary); err != nil {
		return false, err
	}
	r.setState(StateSuccess)
	r.log.Info("agent completed",
		zap.String("agent", r.spec.Name),
		zap.Int("restarts", r.restarts))
	return true, nil
}

// recordFailure consumes one restart and persists the new counter. The
// returned error describes the failed attempt.
func (r *Runner) recordFailure(cause error) error {
	r.restarts++
	r.setState(StateRetry)
	r.log.Warn("attempt failed",
		zap.String("agent", r.spec.Name),
		zap.Int("restarts", r.restarts),
		zap.Int("budget", r.budget()),
		zap.Error(cause))
	if err := r.writeStatus("attempt failed: "+cause.Error(), 0, 0); err != nil {
		return err
	}
	return cause
}

// enterIdle transitions to the terminal idle/maintenance state. The runner
// keeps polling for shutdown but makes no further external calls.
func (r *Runner) enterIdle() {
	r.setState(StateExhausted)
	r.log.Warn("restart budget exhausted, entering maintenance state",
		zap.String("agent", r.spec.Name),
		zap.Int("restarts", r.restarts))
	if err := r.writeStatus("idle/maintenance: restart budget exhausted", 0, 0); err != nil {
		r.log.Error("writing exhausted status failed",
			zap.String("agent", r.spec.Name), zap.Error(err))
	}
	// An exhausted agent blocks everything downstream of it; escalate.
	if err := r.coord.FileBlocker(coord.Blocker{
		AgentName: r.spec.Name,
		Reason:    fmt.Sprintf("restart budget exhausted after %d attempts", r.restarts),
		Critical:  true,
	}); err != nil {
		r.log.Error("filing exhaustion blocker failed",
			zap.String("agent", r.spec.Name), zap.Error(err))
	}
	if r.bus != nil {
		r.bus.Publish(events.TopicAlert, events.AgentExhaustedEvent{
			AgentName: r.spec.Name,
			Attempts:  r.restarts,
			Timestamp: time.Now().UTC(),
		})
	}
}

// budget returns the restart budget, with the roster's per-agent override
// taking precedence over the global setting.
func (r *Runner) budget() int {
	if r.spec.MaxRestarts > 0 {
		return r.spec.MaxRestarts
	}
	return r.cfg.MaxRestarts
}

func (r *Runner) writeStatus(task string, passing, total int) error {
	return r.coord.WriteStatus(r.spec.Name, coord.StatusRecord{
		Phase:        r.spec.Phase,
		TestsPassing: passing,
		TestsTotal:   total,
		CurrentTask:  task,
		Restarts:     r.restarts,
	})
}

// loadRestarts resumes the attempt counter from the persisted status so a
// restarted process cannot reset the budget.
func (r *Runner) loadRestarts() error {
	rec, err := r.coord.ReadStatus(r.spec.Name)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r.restarts = rec.Restarts
	return nil
}
