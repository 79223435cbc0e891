// Package experiment runs disposable copies of the coordination pipeline:
// an isolated git branch plus a mirrored shared-state tree, watched on a
// fixed interval and judged before anything is promoted back. Nothing in a
// sandbox is ever required for correctness of the main pipeline; cleanup
// discards it all unconditionally.
package experiment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convoy-sh/convoy/internal/alert"
	"github.com/convoy-sh/convoy/internal/clock"
	"github.com/convoy-sh/convoy/internal/config"
	"github.com/convoy-sh/convoy/internal/events"
	"github.com/convoy-sh/convoy/internal/gitx"
	"github.com/convoy-sh/convoy/internal/snapshot"
	"github.com/convoy-sh/convoy/internal/state"
)

const (
	branchPrefix = "convoy-exp-"
	baselineName = "exp-baseline"
)

// Experiment statuses.
const (
	StatusReady   = "ready"
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Verdicts. Any recorded violation fails the experiment; promotion of a
// failed strategy is on the operator, never on this package.
const (
	VerdictFailed    = "failed, do not promote"
	VerdictSucceeded = "succeeded, safe to apply outside the sandbox"
)

// ErrExists is returned when setting up over an existing experiment name.
var ErrExists = errors.New("experiment: name already exists")

// ErrNotFound is returned when a named experiment does not exist.
var ErrNotFound = errors.New("experiment: not found")

// Experiment is one sandbox's identity and lifecycle state.
type Experiment struct {
	Name      string    `json:"name"`
	ID        string    `json:"id"`
	Branch    string    `json:"branch"`
	Origin    string    `json:"origin"` // branch to return to on cleanup
	Target    string    `json:"target"` // ref the sandbox branched from
	StateDir  string    `json:"stateDir"`
	Baseline  string    `json:"baseline"`
	Status    string    `json:"status"`
	Verdict   string    `json:"verdict,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manager creates, watches, judges, and discards experiments.
type Manager struct {
	repo *gitx.Repo
	prod state.Store // production shared-state tree
	root string      // directory holding sandbox state trees
	cfg  config.ExperimentSettings
	bus  *events.Bus // optional
	log  *zap.Logger
	clk  clock.Clock
}

// NewManager creates an experiment manager. bus may be nil.
func NewManager(repo *gitx.Repo, prod state.Store, root string,
	cfg config.ExperimentSettings, bus *events.Bus, log *zap.Logger, clk clock.Clock) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Manager{repo: repo, prod: prod, root: root, cfg: cfg, bus: bus, log: log, clk: clk}
}

func registryKey(name string) string { return "experiments/" + name + ".json" }

// Setup creates the sandbox: an isolated branch at target (HEAD when
// empty), a mirror of the shared-state tree, and a baseline snapshot taken
// before anything runs in it.
func (m *Manager) Setup(name, target string) (*Experiment, error) {
	if name == "" || strings.ContainsAny(name, "/\\ ") {
		return nil, fmt.Errorf("experiment: invalid name %q", name)
	}
	exists, err := m.prod.Exists(registryKey(name))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}

	origin, err := m.repo.CurrentBranch()
	if err != nil {
		return nil, err
	}
	if origin == "" {
		// Detached HEAD still needs a ref to return to on cleanup.
		origin, err = m.repo.Head()
		if err != nil {
			return nil, err
		}
	}
	if target == "" {
		target = "HEAD"
	}

	branch := branchPrefix + name
	if _, err := m.repo.Run("branch", branch, target); err != nil {
		return nil, fmt.Errorf("creating experiment branch: %w", err)
	}

	id := uuid.NewString()
	stateDir := filepath.Join(m.root, name+"-"+id[:8])
	sandbox, err := state.NewDirStore(stateDir)
	if err != nil {
		return nil, err
	}
	if err := m.mirrorState(sandbox); err != nil {
		return nil, fmt.Errorf("mirroring shared state: %w", err)
	}

	// Baseline must reflect the branch point, so capture it with the
	// sandbox branch checked out, then return.
	if _, err := m.repo.Run("checkout", branch); err != nil {
		return nil, err
	}
	snaps := snapshot.NewStore(m.repo, sandbox, nil)
	_, snapErr := snaps.Capture(baselineName)
	if _, err := m.repo.Run("checkout", origin); err != nil {
		return nil, err
	}
	if snapErr != nil {
		return nil, fmt.Errorf("capturing experiment baseline: %w", snapErr)
	}

	exp := &Experiment{
		Name:      name,
		ID:        id,
		Branch:    branch,
		Origin:    origin,
		Target:    target,
		StateDir:  stateDir,
		Baseline:  baselineName,
		Status:    StatusReady,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.save(exp); err != nil {
		return nil, err
	}
	m.log.Info("experiment created",
		zap.String("name", name),
		zap.String("branch", branch),
		zap.String("stateDir", stateDir))
	return exp, nil
}

// Get returns a named experiment.
func (m *Manager) Get(name string) (*Experiment, error) {
	data, err := m.prod.Read(registryKey(name))
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	var exp Experiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("parsing experiment %s: %w", name, err)
	}
	return &exp, nil
}

// List returns all experiments, ordered by name.
func (m *Manager) List() ([]*Experiment, error) {
	keys, err := m.prod.List("experiments")
	if err != nil {
		return nil, err
	}
	var out []*Experiment
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, "experiments/"), ".json")
		exp, err := m.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

// Start checks out the sandbox branch and runs the watch loop until ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context, name string) error {
	w, err := m.NewWatcher(name)
	if err != nil {
		return err
	}
	if _, err := m.repo.Run("checkout", w.exp.Branch); err != nil {
		return err
	}
	w.exp.Status = StatusRunning
	if err := m.save(w.exp); err != nil {
		return err
	}

	ticker := m.clk.NewTicker(m.cfg.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if _, err := w.RunCycle(); err != nil {
				m.log.Warn("experiment watch cycle failed",
					zap.String("name", name), zap.Error(err))
			}
		}
	}
}

// Stop marks the experiment stopped. The watch loop itself stops with its
// context; this only records the lifecycle transition.
func (m *Manager) Stop(name string) (*Experiment, error) {
	exp, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	exp.Status = StatusStopped
	if err := m.save(exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Analyze inspects the violation log and stamps the verdict: any recorded
// violation fails the experiment.
func (m *Manager) Analyze(name string) (*Experiment, error) {
	exp, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	sandbox, err := state.NewDirStore(exp.StateDir)
	if err != nil {
		return nil, err
	}
	raised, err := alert.NewWriter(sandbox).List(exp.Name)
	if err != nil {
		return nil, err
	}

	exp.Verdict = VerdictSucceeded
	if len(raised) > 0 {
		exp.Verdict = VerdictFailed
	}
	if err := m.save(exp); err != nil {
		return nil, err
	}
	m.log.Info("experiment analyzed",
		zap.String("name", name),
		zap.Int("violations", len(raised)),
		zap.String("verdict", exp.Verdict))
	return exp, nil
}

// Cleanup discards the branch, the sandbox state tree, and the registry
// entry. Every step is attempted even when an earlier one fails; a sandbox
// is never load-bearing.
func (m *Manager) Cleanup(name string) error {
	exp, err := m.Get(name)
	if err != nil {
		return err
	}

	var errs []error
	current, err := m.repo.CurrentBranch()
	if err != nil {
		errs = append(errs, err)
	}
	if current == exp.Branch {
		if _, err := m.repo.Run("checkout", exp.Origin); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := m.repo.Run("branch", "-D", exp.Branch); err != nil {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(exp.StateDir); err != nil {
		errs = append(errs, err)
	}
	if err := m.prod.Delete(registryKey(name)); err != nil {
		errs = append(errs, err)
	}
	m.log.Info("experiment cleaned up", zap.String("name", name))
	return errors.Join(errs...)
}

func (m *Manager) save(exp *Experiment) error {
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling experiment %s: %w", exp.Name, err)
	}
	return m.prod.Write(registryKey(exp.Name), data)
}

// mirrorState copies the production shared-state tree into the sandbox,
// minus the experiment registry itself.
func (m *Manager) mirrorState(sandbox state.Store) error {
	keys, err := m.prod.List("")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if strings.HasPrefix(key, "experiments/") {
			continue
		}
		data, err := m.prod.Read(key)
		if err != nil {
			return err
		}
		if err := sandbox.Write(key, data); err != nil {
			return err
		}
	}
	return nil
}

// Watcher drives watch cycles for one experiment against its sandbox state.
type Watcher struct {
	mgr     *Manager
	exp     *Experiment
	sandbox state.Store
	snaps   *snapshot.Store
	alerts  *alert.Writer
	cycle   int
}

// CycleReport is the outcome of one watch cycle.
type CycleReport struct {
	Cycle      int
	Changed    bool
	Snapshot   string // name of the capture taken this cycle, if any
	Deleted    int
	Modified   int
	Violations []string
}

// NewWatcher creates a watcher for a named experiment.
func (m *Manager) NewWatcher(name string) (*Watcher, error) {
	exp, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	sandbox, err := state.NewDirStore(exp.StateDir)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		mgr:     m,
		exp:     exp,
		sandbox: sandbox,
		snaps:   snapshot.NewStore(m.repo, sandbox, nil),
		alerts:  alert.NewWriter(sandbox),
	}, nil
}

// RunCycle checks the sandbox once: snapshots when the tree changed and
// records a violation for every tolerance breach.
func (w *Watcher) RunCycle() (*CycleReport, error) {
	if err := w.loadCycleNumber(); err != nil {
		return nil, err
	}

	current, err := w.mgr.repo.TrackedFiles()
	if err != nil {
		return nil, err
	}
	modified, err := w.mgr.repo.ModifiedFiles()
	if err != nil {
		return nil, err
	}
	baseline, err := w.snaps.Files(w.exp.Baseline)
	if err != nil {
		return nil, err
	}
	headHash, err := w.mgr.repo.Head()
	if err != nil {
		return nil, err
	}

	w.cycle++
	report := &CycleReport{Cycle: w.cycle, Modified: len(modified)}

	present := make(map[string]bool, len(current))
	for _, f := range current {
		present[f] = true
	}
	for _, f := range baseline {
		if !present[f] {
			report.Deleted++
		}
	}

	fp := fingerprint(headHash, current, modified)
	last, err := w.sandbox.Read("watch/fingerprint")
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}
	if string(last) != fp {
		report.Changed = true
		report.Snapshot = fmt.Sprintf("exp-cycle-%04d", w.cycle)
		if _, err := w.snaps.Capture(report.Snapshot); err != nil && !errors.Is(err, snapshot.ErrExists) {
			return nil, err
		}
		if err := w.sandbox.Write("watch/fingerprint", []byte(fp)); err != nil {
			return nil, err
		}
	}

	if report.Deleted > w.mgr.cfg.DeletionTolerance {
		report.Violations = append(report.Violations, fmt.Sprintf(
			"%d baseline files deleted, tolerance %d", report.Deleted, w.mgr.cfg.DeletionTolerance))
	}
	if report.Modified > w.mgr.cfg.ModificationTolerance {
		report.Violations = append(report.Violations, fmt.Sprintf(
			"%d files modified, tolerance %d", report.Modified, w.mgr.cfg.ModificationTolerance))
	}

	for _, detail := range report.Violations {
		a := alert.Alert{
			Agent:    w.exp.Name,
			Kind:     "experiment-tolerance",
			Severity: alert.SeverityViolation,
			Cycle:    w.cycle,
			Detail:   detail,
		}
		if err := w.alerts.Write(a); err != nil {
			return nil, err
		}
		if w.mgr.bus != nil {
			w.mgr.bus.Publish(events.TopicAlert, events.AlertRaisedEvent{
				AgentName: a.Agent,
				Kind:      a.Kind,
				Severity:  a.Severity,
				Cycle:     a.Cycle,
				Detail:    a.Detail,
				Timestamp: time.Now().UTC(),
			})
		}
	}
	if err := w.sandbox.Write("watch/cycle", []byte(strconv.Itoa(w.cycle))); err != nil {
		return nil, err
	}
	return report, nil
}

// loadCycleNumber resumes numbering from the sandbox so a restarted watcher
// does not collide with earlier cycles.
func (w *Watcher) loadCycleNumber() error {
	if w.cycle > 0 {
		return nil
	}
	data, err := w.sandbox.Read("watch/cycle")
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parsing watch cycle counter: %w", err)
	}
	w.cycle = n
	return nil
}

func fingerprint(head string, current, modified []string) string {
	h := sha256.New()
	h.Write([]byte(head))
	for _, f := range current {
		h.Write([]byte("\x00" + f))
	}
	h.Write([]byte("\x01"))
	for _, f := range modified {
		h.Write([]byte("\x00" + f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
