package rollback

import (
	"context"
	"errors"
	"fmt"

	"github.com/convoy-sh/convoy/internal/config"
	"github.com/convoy-sh/convoy/internal/snapshot"
)

// Selector thresholds for the "small footprint" branch.
const (
	smallFootprintCommits = 3
	smallFootprintFiles   = 5
)

// Decision is the smart selector's choice. It names exactly one strategy;
// if that strategy fails the engine reports the failure and stops, it never
// falls through to a heavier one on its own.
type Decision struct {
	Level  string
	Target string // commit hash, snapshot name, or comma-joined file list
	Files  []string
	Why    string
}

// Metrics are the situational measurements the selector weighs.
type Metrics struct {
	CommitsAhead  int
	ModifiedFiles []string
	ScopedFiles   int
	HasBaseline   bool
}

// Assess measures the workspace against the named baseline snapshot and
// picks a rollback strategy.
func (e *Engine) Assess(agent *config.AgentSpec, baseline string) (*Decision, *Metrics, error) {
	var base *snapshot.Snapshot
	snap, err := e.snaps.Get(baseline)
	switch {
	case err == nil:
		base = snap
	case errors.Is(err, snapshot.ErrNotFound):
	default:
		return nil, nil, err
	}

	m := &Metrics{HasBaseline: base != nil}
	if base != nil {
		ahead, err := e.repo.CommitsAhead(base.Commit)
		if err != nil {
			return nil, nil, err
		}
		m.CommitsAhead = ahead
	}

	modified, err := e.repo.ModifiedFiles()
	if err != nil {
		return nil, nil, err
	}
	m.ModifiedFiles = modified
	if agent != nil {
		for _, f := range modified {
			if agent.InScope(f) {
				m.ScopedFiles++
			}
		}
	}

	d := e.choose(agent, base, m)
	return d, m, nil
}

func (e *Engine) choose(agent *config.AgentSpec, base *snapshot.Snapshot, m *Metrics) *Decision {
	if base != nil && m.CommitsAhead <= smallFootprintCommits && len(m.ModifiedFiles) <= smallFootprintFiles {
		return &Decision{
			Level:  LevelCommit,
			Target: base.Commit,
			Why: fmt.Sprintf("small footprint: %d commits ahead, %d modified files",
				m.CommitsAhead, len(m.ModifiedFiles)),
		}
	}
	if base != nil {
		return &Decision{
			Level:  LevelSnapshot,
			Target: base.Name,
			Why:    fmt.Sprintf("baseline snapshot %s available", base.Name),
		}
	}
	if agent != nil && len(m.ModifiedFiles) > 0 && m.ScopedFiles == len(m.ModifiedFiles) {
		return &Decision{
			Level:  LevelFiles,
			Files:  m.ModifiedFiles,
			Target: fmt.Sprintf("%d agent-scoped files", len(m.ModifiedFiles)),
			Why:    fmt.Sprintf("all %d modified files inside %s scope", m.ScopedFiles, agent.Name),
		}
	}
	return &Decision{
		Level: LevelEmergency,
		Why:   "no baseline and footprint exceeds agent scope",
	}
}

// Smart assesses the workspace and executes the chosen strategy.
func (e *Engine) Smart(ctx context.Context, agent *config.AgentSpec, baseline, reason string) (*Decision, error) {
	d, _, err := e.Assess(agent, baseline)
	if err != nil {
		return nil, err
	}
	reason = fmt.Sprintf("%s (smart: %s)", reason, d.Why)

	switch d.Level {
	case LevelCommit:
		_, err = e.CommitRollback(ctx, d.Target, reason)
	case LevelSnapshot:
		_, err = e.SnapshotRollback(ctx, d.Target, reason)
	case LevelFiles:
		_, err = e.FileRollback(ctx, d.Files, reason)
	case LevelEmergency:
		_, err = e.EmergencyRollback(ctx, reason)
	}
	if err != nil {
		return d, fmt.Errorf("smart rollback (%s): %w", d.Level, err)
	}
	return d, nil
}
