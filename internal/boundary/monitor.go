// Package boundary watches the workspace for changes an agent was never
// meant to make: edits to files that existed before the run, net deletions
// beyond a tolerance, and wholesale disappearance of the tree. Every
// comparison is against a baseline snapshot captured strictly before agent
// activity; capture the baseline late and every later diff is meaningless.
package boundary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/convoy-sh/convoy/internal/alert"
	"github.com/convoy-sh/convoy/internal/clock"
	"github.com/convoy-sh/convoy/internal/config"
	"github.com/convoy-sh/convoy/internal/events"
	"github.com/convoy-sh/convoy/internal/gitx"
	"github.com/convoy-sh/convoy/internal/snapshot"
)

// Finding kinds.
const (
	KindOutOfScopeEdit = "out-of-scope-edit"
	KindExcessDeletion = "excess-deletion"
	KindIncomplete     = "incomplete-workspace"
)

// Pauser suspends an agent process. Satisfied by ProcessPauser.
type Pauser interface {
	Suspend(agent, reason string) error
}

// Finding is one detected boundary violation.
type Finding struct {
	Kind     string
	Severity string
	Detail   string
}

// Report is the outcome of one monitoring cycle.
type Report struct {
	Cycle    int
	Baseline string
	Expected int // tracked files at baseline
	Observed int // tracked files now
	Findings []Finding
}

// Monitor drives the boundary check loop. With a non-nil agent it watches
// that agent's behavior and exempts edits inside the agent's declared
// scope; with a nil agent it watches the whole workspace and exempts
// nothing.
type Monitor struct {
	repo     *gitx.Repo
	snaps    *snapshot.Store
	baseline string
	agent    *config.AgentSpec // optional
	cfg      config.MonitorSettings
	alerts   *alert.Writer
	bus      *events.Bus // optional
	pauser   Pauser      // optional
	log      *zap.Logger
	clk      clock.Clock

	cycle int
}

// NewMonitor creates a boundary monitor. agent, bus, and pauser may be nil.
func NewMonitor(repo *gitx.Repo, snaps *snapshot.Store, baseline string,
	agent *config.AgentSpec, cfg config.MonitorSettings, alerts *alert.Writer,
	bus *events.Bus, pauser Pauser, log *zap.Logger, clk clock.Clock) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Monitor{
		repo:     repo,
		snaps:    snaps,
		baseline: baseline,
		agent:    agent,
		cfg:      cfg,
		alerts:   alerts,
		bus:      bus,
		pauser:   pauser,
		log:      log,
		clk:      clk,
	}
}

// EnsureBaseline captures the baseline snapshot if it does not already
// exist. Call this before starting any agent; a baseline captured after the
// first agent write invalidates every later comparison.
func (m *Monitor) EnsureBaseline() (*snapshot.Snapshot, error) {
	snap, err := m.snaps.Capture(m.baseline)
	if errors.Is(err, snapshot.ErrExists) {
		return m.snaps.Get(m.baseline)
	}
	if err != nil {
		return nil, fmt.Errorf("capturing baseline: %w", err)
	}
	return snap, nil
}

// Run executes check cycles on the poll interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clk.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, err := m.RunCycle(ctx); err != nil {
				m.log.Warn("boundary cycle failed",
					zap.String("subject", m.subject()), zap.Error(err))
			}
		}
	}
}

// RunCycle diffs the current tracked-file state against the baseline,
// records an alert per finding, and pauses the agent when policy requires.
func (m *Monitor) RunCycle(ctx context.Context) (*Report, error) {
	baselineFiles, err := m.snaps.Files(m.baseline)
	if err != nil {
		return nil, fmt.Errorf("reading baseline %s: %w", m.baseline, err)
	}
	current, err := m.repo.TrackedFiles()
	if err != nil {
		return nil, fmt.Errorf("listing tracked files: %w", err)
	}
	modified, err := m.repo.ModifiedFiles()
	if err != nil {
		return nil, fmt.Errorf("listing modified files: %w", err)
	}

	m.cycle++
	report := &Report{
		Cycle:    m.cycle,
		Baseline: m.baseline,
		Expected: len(baselineFiles),
		Observed: len(current),
	}

	inBaseline := make(map[string]bool, len(baselineFiles))
	for _, f := range baselineFiles {
		inBaseline[f] = true
	}
	present := make(map[string]bool, len(current))
	for _, f := range current {
		present[f] = true
	}

	for _, f := range modified {
		if !inBaseline[f] {
			continue
		}
		if m.agent != nil && m.agent.InScope(f) {
			continue
		}
		report.Findings = append(report.Findings, Finding{
			Kind:     KindOutOfScopeEdit,
			Severity: alert.SeverityViolation,
			Detail:   fmt.Sprintf("pre-existing file %s modified", f),
		})
	}

	deleted := 0
	for _, f := range baselineFiles {
		if !present[f] {
			deleted++
		}
	}
	if deleted > m.cfg.DeletionTolerance {
		report.Findings = append(report.Findings, Finding{
			Kind:     KindExcessDeletion,
			Severity: alert.SeverityViolation,
			Detail: fmt.Sprintf("%d baseline files deleted, tolerance %d",
				deleted, m.cfg.DeletionTolerance),
		})
	}

	if float64(len(current)) < m.cfg.CompletenessRatio*float64(len(baselineFiles)) {
		report.Findings = append(report.Findings, Finding{
			Kind:     KindIncomplete,
			Severity: alert.SeverityCritical,
			Detail: fmt.Sprintf("%d tracked files observed, expected at least %.0f%% of %d",
				len(current), m.cfg.CompletenessRatio*100, len(baselineFiles)),
		})
	}

	for _, f := range report.Findings {
		a := alert.Alert{
			Agent:    m.subject(),
			Kind:     f.Kind,
			Severity: f.Severity,
			Cycle:    m.cycle,
			Detail:   f.Detail,
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
		m.log.Warn("boundary violation",
			zap.String("subject", m.subject()),
			zap.Int("cycle", m.cycle),
			zap.String("kind", f.Kind),
			zap.String("detail", f.Detail))
	}

	if len(report.Findings) > 0 && m.cfg.AutoPause && m.pauser != nil && m.agent != nil {
		reason := report.Findings[0].Detail
		if err := m.pauser.Suspend(m.agent.Name, reason); err != nil {
			m.log.Error("suspension failed",
				zap.String("agent", m.agent.Name), zap.Error(err))
		}
	}

	return report, nil
}

func (m *Monitor) subject() string {
	if m.agent != nil {
		return m.agent.Name
	}
	return "workspace"
}
