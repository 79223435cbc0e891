// Package rollback undoes agent work through four escalating strategies,
// from a plain commit reset up to an emergency restore of the last
// known-good state. Every destructive action is preceded by a backup
// reference and an audit record, so any rollback is itself reversible.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/convoy-sh/convoy/internal/audit"
	"github.com/convoy-sh/convoy/internal/events"
	"github.com/convoy-sh/convoy/internal/gitx"
	"github.com/convoy-sh/convoy/internal/snapshot"
)

// Rollback levels, least destructive first.
const (
	LevelCommit    = "commit"
	LevelSnapshot  = "snapshot"
	LevelFiles     = "files"
	LevelEmergency = "emergency"
)

// ErrNoCandidate is returned by the emergency strategy when no commit in
// recent history avoids the integration vocabulary. The caller must pick a
// target explicitly; guessing an arbitrary old commit is worse than
// failing.
var ErrNoCandidate = errors.New("rollback: no last-known-good commit in recent history")

// ErrNoVerifyCommand is returned by Verify when no validation command is
// configured.
var ErrNoVerifyCommand = errors.New("rollback: no verification command configured")

// emergencyScanDepth bounds how far back the last-known-good search looks.
const emergencyScanDepth = 50

// emergencyExcludeTerms marks commits produced by the integration machinery
// itself; those are never a safe reset target.
var emergencyExcludeTerms = []string{"integration", "integrate", "cycle", "merge"}

// Engine executes rollback strategies against one repository.
type Engine struct {
	repo      *gitx.Repo
	snaps     *snapshot.Store
	store     audit.Store
	bus       *events.Bus // optional
	log       *zap.Logger
	verifyCmd []string
}

// NewEngine creates a rollback engine. verifyCmd is the build/test command
// Verify runs; bus may be nil.
func NewEngine(repo *gitx.Repo, snaps *snapshot.Store, store audit.Store,
	bus *events.Bus, log *zap.Logger, verifyCmd []string) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		repo:      repo,
		snaps:     snaps,
		store:     store,
		bus:       bus,
		log:       log,
		verifyCmd: verifyCmd,
	}
}

// CommitRollback resets the workspace to a named prior commit. The current
// HEAD is tagged first so the discarded state stays reachable.
func (e *Engine) CommitRollback(ctx context.Context, target, reason string) (*audit.RollbackRecord, error) {
	if !e.repo.CommitExists(target) {
		return nil, fmt.Errorf("rollback: target commit %s does not exist", target)
	}

	tag, err := e.tagRecoveryPoint()
	if err != nil {
		return nil, err
	}
	rec, err := e.begin(ctx, LevelCommit, target, reason, tag)
	if err != nil {
		return nil, err
	}

	_, err = e.repo.Run("reset", "--hard", target)
	return rec, e.finish(ctx, rec, err)
}

// SnapshotRollback restores manifest files from a named snapshot and resets
// history to the commit recorded in it. Current state is backed up to a new
// snapshot first.
func (e *Engine) SnapshotRollback(ctx context.Context, name, reason string) (*audit.RollbackRecord, error) {
	snap, err := e.snaps.Get(name)
	if err != nil {
		return nil, err
	}
	if !e.repo.CommitExists(snap.Commit) {
		return nil, fmt.Errorf("rollback: snapshot %s records unknown commit %s", name, snap.Commit)
	}

	backup, err := e.backupSnapshot()
	if err != nil {
		return nil, err
	}
	if _, err := e.tagRecoveryPoint(); err != nil {
		return nil, err
	}
	rec, err := e.begin(ctx, LevelSnapshot, name, reason, backup)
	if err != nil {
		return nil, err
	}

	err = e.restoreSnapshot(snap)
	return rec, e.finish(ctx, rec, err)
}

func (e *Engine) restoreSnapshot(snap *snapshot.Snapshot) error {
	if _, err := e.repo.Run("reset", "--hard", snap.Commit); err != nil {
		return err
	}
	// Manifests restored after the reset so the captured copies win over
	// whatever the target commit carried.
	for _, m := range snap.Manifests {
		data, err := e.snaps.Manifest(snap.Name, m)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(e.repo.Path(), m), data, 0644); err != nil {
			return fmt.Errorf("restoring manifest %s: %w", m, err)
		}
	}
	return nil
}

// FileRollback restores an explicit file list to its state one revision
// prior, leaving history and every other file untouched.
func (e *Engine) FileRollback(ctx context.Context, files []string, reason string) (*audit.RollbackRecord, error) {
	if len(files) == 0 {
		return nil, errors.New("rollback: no files named")
	}

	backup, err := e.backupSnapshot()
	if err != nil {
		return nil, err
	}
	rec, err := e.begin(ctx, LevelFiles, strings.Join(files, ","), reason, backup)
	if err != nil {
		return nil, err
	}

	args := append([]string{"checkout", "HEAD~1", "--"}, files...)
	_, err = e.repo.Run(args...)
	return rec, e.finish(ctx, rec, err)
}

// EmergencyRollback hard-resets to the most recent commit whose message
// avoids the integration vocabulary, then removes untracked artifacts. The
// whole workspace is backed up first. Fails with ErrNoCandidate when recent
// history offers no such commit.
func (e *Engine) EmergencyRollback(ctx context.Context, reason string) (*audit.RollbackRecord, error) {
	candidate, err := e.lastKnownGood()
	if err != nil {
		return nil, err
	}

	backup, err := e.backupSnapshot()
	if err != nil {
		return nil, err
	}
	if _, err := e.tagRecoveryPoint(); err != nil {
		return nil, err
	}
	rec, err := e.begin(ctx, LevelEmergency, candidate.Hash, reason, backup)
	if err != nil {
		return nil, err
	}

	if _, err := e.repo.Run("reset", "--hard", candidate.Hash); err != nil {
		return rec, e.finish(ctx, rec, err)
	}
	_, err = e.repo.Run("clean", "-fd")
	return rec, e.finish(ctx, rec, err)
}

// lastKnownGood scans recent history for the newest commit whose message
// does not look machine-generated.
func (e *Engine) lastKnownGood() (*gitx.Commit, error) {
	commits, err := e.repo.Log(emergencyScanDepth)
	if err != nil {
		return nil, err
	}
	for i := range commits {
		if !matchesExcludeTerms(commits[i].Message) {
			return &commits[i], nil
		}
	}
	return nil, fmt.Errorf("%w (scanned %d commits)", ErrNoCandidate, len(commits))
}

func matchesExcludeTerms(message string) bool {
	lower := strings.ToLower(message)
	for _, term := range emergencyExcludeTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// VerifyResult is the outcome of a post-rollback validation run.
type VerifyResult struct {
	Passed bool
	Output string
}

// Verify re-runs the build/test validation command and reports the result
// as observed. A rollback is not "verified" until this passes; the engine
// never infers success from the rollback itself.
func (e *Engine) Verify(ctx context.Context) (*VerifyResult, error) {
	if len(e.verifyCmd) == 0 {
		return nil, ErrNoVerifyCommand
	}
	cmd := exec.CommandContext(ctx, e.verifyCmd[0], e.verifyCmd[1:]...)
	cmd.Dir = e.repo.Path()
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &VerifyResult{Passed: false, Output: string(output)}, nil
		}
		return nil, fmt.Errorf("running verification command: %w", err)
	}
	return &VerifyResult{Passed: true, Output: string(output)}, nil
}

// List returns the audit trail, newest first.
func (e *Engine) List(ctx context.Context) ([]*audit.RollbackRecord, error) {
	return e.store.ListRollbacks(ctx)
}

func (e *Engine) tagRecoveryPoint() (string, error) {
	tag := fmt.Sprintf("convoy-recovery-%d", time.Now().UnixNano())
	if _, err := e.repo.Run("tag", tag); err != nil {
		return "", fmt.Errorf("tagging recovery point: %w", err)
	}
	return tag, nil
}

func (e *Engine) backupSnapshot() (string, error) {
	name := fmt.Sprintf("backup-%d", time.Now().UnixNano())
	if _, err := e.snaps.Capture(name); err != nil {
		return "", fmt.Errorf("capturing backup snapshot: %w", err)
	}
	return name, nil
}

func (e *Engine) begin(ctx context.Context, level, target, reason, backupRef string) (*audit.RollbackRecord, error) {
	rec := &audit.RollbackRecord{
		Level:     level,
		Target:    target,
		Reason:    reason,
		BackupRef: backupRef,
	}
	if err := e.store.RecordRollback(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording rollback: %w", err)
	}
	return rec, nil
}

func (e *Engine) finish(ctx context.Context, rec *audit.RollbackRecord, opErr error) error {
	outcome := "succeeded"
	if opErr != nil {
		outcome = "failed: " + opErr.Error()
	}
	if err := e.store.UpdateRollbackOutcome(ctx, rec.ID, outcome); err != nil {
		e.log.Error("updating rollback outcome failed",
			zap.String("id", rec.ID), zap.Error(err))
	}
	rec.Outcome = outcome

	e.log.Info("rollback",
		zap.String("level", rec.Level),
		zap.String("target", rec.Target),
		zap.String("backup", rec.BackupRef),
		zap.String("outcome", outcome))
	if e.bus != nil {
		e.bus.Publish(events.TopicRollback, events.RollbackAppliedEvent{
			Level:     rec.Level,
			Target:    rec.Target,
			Succeeded: opErr == nil,
			Timestamp: time.Now().UTC(),
		})
	}
	return opErr
}
