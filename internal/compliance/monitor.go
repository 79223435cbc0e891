// Package compliance audits untrusted agent change-sets against behavioral
// policy heuristics. The monitor reads shared state and the working tree,
// scores each cycle, and reports; it never mutates an agent's workspace.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/convoy-sh/convoy/internal/alert"
	"github.com/convoy-sh/convoy/internal/audit"
	"github.com/convoy-sh/convoy/internal/clock"
	"github.com/convoy-sh/convoy/internal/config"
	"github.com/convoy-sh/convoy/internal/events"
)

// Suspender pauses an agent process. Implemented by the boundary monitor;
// compliance only invokes it, it never pauses anything itself.
type Suspender interface {
	Suspend(agent, reason string) error
}

// CollectFunc gathers the agent's most recent change-set.
type CollectFunc func(ctx context.Context) (Change, error)

// Monitor drives the compliance audit loop for one agent.
type Monitor struct {
	agent   *config.AgentSpec
	cfg     config.MonitorSettings
	rules   []Rule
	collect CollectFunc
	store   audit.Store
	alerts  *alert.Writer
	bus     *events.Bus // optional
	susp    Suspender   // optional
	log     *zap.Logger
	clk     clock.Clock

	cycle               int
	cycleLoaded         bool
	consecutiveCritical int
}

// NewMonitor creates a compliance monitor. bus and susp may be nil.
func NewMonitor(agent *config.AgentSpec, cfg config.MonitorSettings, rules []Rule,
	collect CollectFunc, store audit.Store, alerts *alert.Writer,
	bus *events.Bus, susp Suspender, log *zap.Logger, clk clock.Clock) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Monitor{
		agent:   agent,
		cfg:     cfg,
		rules:   rules,
		collect: collect,
		store:   store,
		alerts:  alerts,
		bus:     bus,
		susp:    susp,
		log:     log,
		clk:     clk,
	}
}

// Run executes audit cycles on the poll interval until ctx is cancelled.
// A failed cycle is logged and counted, never fatal to the loop.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clk.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, err := m.RunCycle(ctx); err != nil {
				m.log.Warn("compliance cycle failed",
					zap.String("agent", m.agent.Name), zap.Error(err))
			}
		}
	}
}

// RunCycle performs one audit: collect the change-set, evaluate every rule,
// persist the cycle result, emit alerts, and escalate repeated criticals.
func (m *Monitor) RunCycle(ctx context.Context) (*audit.ComplianceCycle, error) {
	if err := m.loadCycleNumber(ctx); err != nil {
		return nil, err
	}

	change, err := m.collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting change-set for %s: %w", m.agent.Name, err)
	}

	m.cycle++
	var violations, warnings int
	critical := false

	for _, rule := range m.rules {
		verdict := rule.Evaluate(change)
		violations += verdict.Violations
		warnings += verdict.Warnings
		if verdict.Critical {
			critical = true
		}
		if verdict.Violations == 0 && verdict.Warnings == 0 {
			continue
		}

		severity := alert.SeverityWarning
		if verdict.Violations > 0 {
			severity = alert.SeverityViolation
		}
		if verdict.Critical {
			severity = alert.SeverityCritical
		}
		a := alert.Alert{
			Agent:    m.agent.Name,
			Kind:     rule.Name(),
			Severity: severity,
			Cycle:    m.cycle,
			Detail:   strings.Join(verdict.Notes, "; "),
		}
		if err := m.alerts.Write(a); err != nil {
			return nil, err
		}
		if m.bus != nil {
			m.bus.Publish(events.TopicAlert, events.AlertRaisedEvent{
				AgentName: a.Agent,
				Kind:      a.Kind,
				Severity:  a.Severity,
				Cycle:     a.Cycle,
				Detail:    a.Detail,
				Timestamp: time.Now().UTC(),
			})
		}
	}

	// Fold into the running score before persisting so the stored score
	// reflects totals through this cycle.
	prevV, prevW, err := m.store.SumCompliance(ctx, m.agent.Name)
	if err != nil {
		return nil, err
	}
	score := Score(prevV+violations, prevW+warnings)

	result := &audit.ComplianceCycle{
		Agent:      m.agent.Name,
		Cycle:      m.cycle,
		Violations: violations,
		Warnings:   warnings,
		Score:      score,
	}
	if err := m.store.RecordComplianceCycle(ctx, result); err != nil {
		return nil, err
	}

	m.log.Info("compliance cycle",
		zap.String("agent", m.agent.Name),
		zap.Int("cycle", m.cycle),
		zap.Int("violations", violations),
		zap.Int("warnings", warnings),
		zap.Int("score", score),
		zap.String("band", Band(score)))

	if critical {
		m.consecutiveCritical++
	} else {
		m.consecutiveCritical = 0
	}
	if m.consecutiveCritical >= m.cfg.CriticalRepeat && m.susp != nil && m.cfg.AutoPause {
		reason := fmt.Sprintf("critical compliance violations in %d consecutive cycles",
			m.consecutiveCritical)
		if err := m.susp.Suspend(m.agent.Name, reason); err != nil {
			m.log.Error("suspension failed",
				zap.String("agent", m.agent.Name), zap.Error(err))
		}
	}

	return result, nil
}

// Score returns the agent's current running score.
func (m *Monitor) Score(ctx context.Context) (int, error) {
	v, w, err := m.store.SumCompliance(ctx, m.agent.Name)
	if err != nil {
		return 0, err
	}
	return Score(v, w), nil
}

// loadCycleNumber resumes cycle numbering from persisted history so a
// restarted monitor does not collide with earlier cycles.
func (m *Monitor) loadCycleNumber(ctx context.Context) error {
	if m.cycleLoaded {
		return nil
	}
	cycles, err := m.store.ListComplianceCycles(ctx, m.agent.Name)
	if err != nil {
		return err
	}
	for _, c := range cycles {
		if c.Cycle > m.cycle {
			m.cycle = c.Cycle
		}
	}
	m.cycleLoaded = true
	return nil
}
