// Package integrate folds validated work back into the mainline. The safe
// path snapshots first, detects conflicts with a dry-run merge before
// touching the tree, merges, and then re-runs validation; the experiment
// path rehearses the same merge inside a disposable sandbox first.
package integrate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/convoy-sh/convoy/internal/audit"
	"github.com/convoy-sh/convoy/internal/experiment"
	"github.com/convoy-sh/convoy/internal/gitx"
	"github.com/convoy-sh/convoy/internal/rollback"
	"github.com/convoy-sh/convoy/internal/snapshot"
)

// ErrConflicts is returned when the dry-run merge detects conflicts. The
// working tree is untouched when this is returned.
var ErrConflicts = errors.New("integrate: merge conflicts detected")

// Result describes one integration attempt.
type Result struct {
	Mode          string
	Target        string
	Merged        bool
	ConflictFiles []string
	Snapshot      string // pre-merge backup snapshot
	Verified      *rollback.VerifyResult
	Detail        string
}

// Status is the current integration state of the workspace.
type Status struct {
	Branch       string
	Head         string
	Modified     int
	Untracked    int
	LastRollback *audit.RollbackRecord
}

// Integrator executes the safe-integrate flows. Merges are serialized; two
// concurrent merges into one repository fight over the index.
type Integrator struct {
	repo  *gitx.Repo
	snaps *snapshot.Store
	eng   *rollback.Engine
	exps  *experiment.Manager
	log   *zap.Logger

	mergeMu sync.Mutex
}

// New creates an integrator.
func New(repo *gitx.Repo, snaps *snapshot.Store, eng *rollback.Engine,
	exps *experiment.Manager, log *zap.Logger) *Integrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Integrator{repo: repo, snaps: snaps, eng: eng, exps: exps, log: log}
}

// Safe merges target into the current branch: snapshot, dry-run conflict
// detection, merge, verify. A conflicting merge fails before any mutation.
func (i *Integrator) Safe(ctx context.Context, target string) (*Result, error) {
	i.mergeMu.Lock()
	defer i.mergeMu.Unlock()

	res := &Result{Mode: "safe", Target: target}
	if !i.repo.CommitExists(target) {
		return res, fmt.Errorf("integrate: target %s does not resolve to a commit", target)
	}

	name := fmt.Sprintf("pre-integrate-%d", time.Now().UnixNano())
	if _, err := i.snaps.Capture(name); err != nil {
		return res, fmt.Errorf("capturing pre-integrate snapshot: %w", err)
	}
	res.Snapshot = name

	conflicts, clean := i.detectConflicts(target)
	if !clean {
		res.ConflictFiles = conflicts
		return res, fmt.Errorf("%w: %s", ErrConflicts, strings.Join(conflicts, ", "))
	}

	message := fmt.Sprintf("integrate %s", target)
	if _, err := i.repo.Run("merge", "--no-ff", "-m", message, target); err != nil {
		return res, fmt.Errorf("merging %s: %w", target, err)
	}
	res.Merged = true
	i.log.Info("merged", zap.String("target", target), zap.String("backup", name))

	verified, err := i.eng.Verify(ctx)
	switch {
	case errors.Is(err, rollback.ErrNoVerifyCommand):
		res.Detail = "verification skipped: no command configured"
	case err != nil:
		return res, fmt.Errorf("post-merge verification: %w", err)
	default:
		res.Verified = verified
		if !verified.Passed {
			return res, fmt.Errorf("integrate: post-merge validation failed (backup snapshot %s)", name)
		}
	}
	return res, nil
}

// detectConflicts runs a dry-run merge with merge-tree. The real merge only
// happens on a clean result. A non-zero exit or CONFLICT in the output both
// mean the merge would conflict.
func (i *Integrator) detectConflicts(target string) (files []string, clean bool) {
	output, err := i.repo.Run("merge-tree", "--write-tree", "HEAD", target)
	if err != nil || strings.Contains(output, "CONFLICT") {
		return dedupe(parseConflictFiles(output)), false
	}
	return nil, true
}

// Experiment rehearses the integration inside a sandbox: merge target on
// the experiment branch, run one watch cycle, and analyze. The sandbox is
// kept for inspection; cleanup is the operator's call.
func (i *Integrator) Experiment(ctx context.Context, target string) (*Result, error) {
	i.mergeMu.Lock()
	defer i.mergeMu.Unlock()

	res := &Result{Mode: "experiment", Target: target}
	name := fmt.Sprintf("integrate-%d", time.Now().Unix())

	exp, err := i.exps.Setup(name, "")
	if err != nil {
		return res, err
	}
	if _, err := i.repo.Run("checkout", exp.Branch); err != nil {
		return res, err
	}
	// Return to the origin branch no matter how the rehearsal goes.
	defer func() {
		if _, err := i.repo.Run("checkout", exp.Origin); err != nil {
			i.log.Error("returning to origin branch failed",
				zap.String("branch", exp.Origin), zap.Error(err))
		}
	}()

	message := fmt.Sprintf("integrate %s (experiment %s)", target, name)
	if _, err := i.repo.Run("merge", "--no-ff", "-m", message, target); err != nil {
		return res, fmt.Errorf("sandbox merge of %s: %w", target, err)
	}
	res.Merged = true

	w, err := i.exps.NewWatcher(name)
	if err != nil {
		return res, err
	}
	if _, err := w.RunCycle(); err != nil {
		return res, err
	}
	judged, err := i.exps.Analyze(name)
	if err != nil {
		return res, err
	}
	res.Detail = fmt.Sprintf("experiment %s: %s", name, judged.Verdict)
	if judged.Verdict != experiment.VerdictSucceeded {
		return res, fmt.Errorf("integrate: sandbox rehearsal failed, inspect experiment %s", name)
	}
	return res, nil
}

// EmergencyRollback delegates to the rollback engine's emergency strategy.
func (i *Integrator) EmergencyRollback(ctx context.Context, reason string) (*audit.RollbackRecord, error) {
	return i.eng.EmergencyRollback(ctx, reason)
}

// Status reports the workspace's integration state.
func (i *Integrator) Status(ctx context.Context) (*Status, error) {
	branch, err := i.repo.CurrentBranch()
	if err != nil {
		return nil, err
	}
	head, err := i.repo.Head()
	if err != nil {
		return nil, err
	}
	modified, err := i.repo.ModifiedFiles()
	if err != nil {
		return nil, err
	}
	untracked, err := i.repo.UntrackedFiles()
	if err != nil {
		return nil, err
	}
	st := &Status{
		Branch:    branch,
		Head:      head,
		Modified:  len(modified),
		Untracked: len(untracked),
	}
	recs, err := i.eng.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		st.LastRollback = recs[0]
	}
	return st, nil
}

func parseConflictFiles(output string) []string {
	var conflicts []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "CONFLICT") && strings.Contains(line, "in ") {
			parts := strings.Split(line, "in ")
			conflicts = append(conflicts, strings.TrimSpace(parts[len(parts)-1]))
		}
	}
	return conflicts
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
