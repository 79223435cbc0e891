package experiment

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/convoy-sh/convoy/internal/config"
	"github.com/convoy-sh/convoy/internal/gitx"
	"github.com/convoy-sh/convoy/internal/state"
)

// setupTestRepo creates a temporary git repository with one initial commit.
func setupTestRepo(t *testing.T) *gitx.Repo {
	t.Helper()

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if output, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v (output: %s)", args, err, string(output))
		}
	}

	run("init")
	run("config", "user.name", "Test User")
	run("config", "user.email", "test@example.com")
	run("checkout", "-b", "main")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0644); err != nil {
		t.Fatalf("writing initial file: %v", err)
	}
	run("add", ".")
	run("commit", "-m", "initial commit")

	repo, err := gitx.Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return repo
}

func commitFile(t *testing.T, r *gitx.Repo, name, content, message string) {
	t.Helper()
	path := filepath.Join(r.Path(), name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	if _, err := r.Run("add", "."); err != nil {
		t.Fatalf("git add failed: %v", err)
	}
	if _, err := r.Run("commit", "-m", message); err != nil {
		t.Fatalf("git commit failed: %v", err)
	}
}

func newTestManager(t *testing.T, repo *gitx.Repo) (*Manager, *state.DirStore) {
	t.Helper()
	prod, err := state.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}
	cfg := config.DefaultSettings().Experiment
	return NewManager(repo, prod, t.TempDir(), cfg, nil, nil, nil), prod
}

func TestSetupCreatesSandbox(t *testing.T) {
	repo := setupTestRepo(t)
	m, prod := newTestManager(t, repo)

	if err := prod.Write("status/schema.json", []byte(`{"phase":"impl"}`)); err != nil {
		t.Fatalf("seeding prod state: %v", err)
	}

	exp, err := m.Setup("trial", "")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if exp.Branch != "convoy-exp-trial" || !repo.CommitExists(exp.Branch) {
		t.Errorf("experiment branch %q not created", exp.Branch)
	}
	if branch, _ := repo.CurrentBranch(); branch != "main" {
		t.Errorf("setup left repository on %q", branch)
	}

	sandbox, err := state.NewDirStore(exp.StateDir)
	if err != nil {
		t.Fatalf("opening sandbox store: %v", err)
	}
	mirrored, err := sandbox.Read("status/schema.json")
	if err != nil {
		t.Fatalf("reading mirrored state: %v", err)
	}
	if string(mirrored) != `{"phase":"impl"}` {
		t.Errorf("mirrored state = %q", mirrored)
	}
	if ok, _ := sandbox.Exists("snapshots/" + exp.Baseline + "/meta.json"); !ok {
		t.Error("baseline snapshot missing from sandbox")
	}

	got, err := m.Get("trial")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusReady || got.ID != exp.ID {
		t.Errorf("registry entry = %+v", got)
	}
}

func TestSetupRejectsDuplicate(t *testing.T) {
	repo := setupTestRepo(t)
	m, _ := newTestManager(t, repo)

	if _, err := m.Setup("trial", ""); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if _, err := m.Setup("trial", ""); !errors.Is(err, ErrExists) {
		t.Errorf("err = %v, want ErrExists", err)
	}
}

func TestWatcherSnapshotsOnChange(t *testing.T) {
	repo := setupTestRepo(t)
	m, _ := newTestManager(t, repo)

	exp, err := m.Setup("trial", "")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if _, err := repo.Run("checkout", exp.Branch); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	w, err := m.NewWatcher("trial")
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	// First cycle observes the initial tree as a change from no
	// fingerprint at all.
	report, err := w.RunCycle()
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if !report.Changed || report.Snapshot == "" {
		t.Errorf("first cycle report = %+v, want a capture", report)
	}

	report, err = w.RunCycle()
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if report.Changed {
		t.Error("unchanged tree reported as changed")
	}

	commitFile(t, repo, "feature.go", "package feature\n", "sandbox work")
	report, err = w.RunCycle()
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if !report.Changed {
		t.Error("new commit not detected as a change")
	}
	if len(report.Violations) != 0 {
		t.Errorf("clean sandbox raised violations: %v", report.Violations)
	}
}

func TestDeletionToleranceFailsAnalyze(t *testing.T) {
	repo := setupTestRepo(t)
	for i := 0; i < 15; i++ {
		commitFile(t, repo, fmt.Sprintf("doc%d.txt", i), "content\n", fmt.Sprintf("add doc%d", i))
	}

	m, _ := newTestManager(t, repo)
	exp, err := m.Setup("risky", "")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if _, err := repo.Run("checkout", exp.Branch); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	for i := 0; i < 15; i++ {
		if _, err := repo.Run("rm", fmt.Sprintf("doc%d.txt", i)); err != nil {
			t.Fatalf("git rm failed: %v", err)
		}
	}
	if _, err := repo.Run("commit", "-m", "remove docs"); err != nil {
		t.Fatalf("git commit failed: %v", err)
	}

	w, err := m.NewWatcher("risky")
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	report, err := w.RunCycle()
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if report.Deleted != 15 || len(report.Violations) == 0 {
		t.Fatalf("report = %+v, want a deletion violation", report)
	}

	got, err := m.Analyze("risky")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if got.Verdict != VerdictFailed {
		t.Errorf("verdict = %q, want %q", got.Verdict, VerdictFailed)
	}
}

func TestAnalyzeCleanSandboxSucceeds(t *testing.T) {
	repo := setupTestRepo(t)
	m, _ := newTestManager(t, repo)

	if _, err := m.Setup("calm", ""); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	w, err := m.NewWatcher("calm")
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if _, err := w.RunCycle(); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	got, err := m.Analyze("calm")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if got.Verdict != VerdictSucceeded {
		t.Errorf("verdict = %q, want %q", got.Verdict, VerdictSucceeded)
	}
}

func TestCleanupDiscardsEverything(t *testing.T) {
	repo := setupTestRepo(t)
	m, _ := newTestManager(t, repo)

	exp, err := m.Setup("doomed", "")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	// Cleanup must work even from inside the sandbox branch.
	if _, err := repo.Run("checkout", exp.Branch); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if err := m.Cleanup("doomed"); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	if repo.CommitExists(exp.Branch) {
		t.Error("experiment branch survived cleanup")
	}
	if branch, _ := repo.CurrentBranch(); branch != "main" {
		t.Errorf("cleanup left repository on %q", branch)
	}
	if _, err := os.Stat(exp.StateDir); !os.IsNotExist(err) {
		t.Error("sandbox state dir survived cleanup")
	}
	if _, err := m.Get("doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after cleanup = %v, want ErrNotFound", err)
	}
}

func TestStopRecordsLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	m, _ := newTestManager(t, repo)

	if _, err := m.Setup("paused", ""); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	exp, err := m.Stop("paused")
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if exp.Status != StatusStopped {
		t.Errorf("status = %q, want %q", exp.Status, StatusStopped)
	}
}
