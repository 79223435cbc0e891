package boundary

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/convoy-sh/convoy/internal/alert"
	"github.com/convoy-sh/convoy/internal/config"
	"github.com/convoy-sh/convoy/internal/gitx"
	"github.com/convoy-sh/convoy/internal/snapshot"
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

type fakePauser struct {
	calls  []string
	reason string
}

func (f *fakePauser) Suspend(agent, reason string) error {
	f.calls = append(f.calls, agent)
	f.reason = reason
	return nil
}

func newTestMonitor(t *testing.T, repo *gitx.Repo, agent *config.AgentSpec,
	cfg config.MonitorSettings, pauser Pauser) (*Monitor, *alert.Writer) {
	t.Helper()

	st, err := state.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}
	snaps := snapshot.NewStore(repo, st, nil)
	alerts := alert.NewWriter(st)

	m := NewMonitor(repo, snaps, "baseline", agent, cfg, alerts, nil, pauser, nil, nil)
	if _, err := m.EnsureBaseline(); err != nil {
		t.Fatalf("EnsureBaseline failed: %v", err)
	}
	return m, alerts
}

func findingKinds(r *Report) []string {
	var kinds []string
	for _, f := range r.Findings {
		kinds = append(kinds, f.Kind)
	}
	return kinds
}

func TestEnsureBaselineIsIdempotent(t *testing.T) {
	repo := setupTestRepo(t)
	m, _ := newTestMonitor(t, repo, nil, config.DefaultSettings().Monitor, nil)

	snap, err := m.EnsureBaseline()
	if err != nil {
		t.Fatalf("second EnsureBaseline failed: %v", err)
	}
	if snap.Name != "baseline" {
		t.Errorf("baseline name = %q", snap.Name)
	}
}

func TestCleanAdditionsInScope(t *testing.T) {
	repo := setupTestRepo(t)
	agent := &config.AgentSpec{Name: "widgets", Scope: []string{"widgets/"}}
	m, alerts := newTestMonitor(t, repo, agent, config.DefaultSettings().Monitor, nil)

	commitFile(t, repo, "widgets/button.go", "package widgets\n", "add button")

	report, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(report.Findings) != 0 {
		t.Errorf("clean additions produced findings: %v", findingKinds(report))
	}

	raised, err := alerts.List("")
	if err != nil {
		t.Fatalf("listing alerts: %v", err)
	}
	if len(raised) != 0 {
		t.Errorf("clean additions raised %d alerts", len(raised))
	}
}

func TestPreexistingFileModified(t *testing.T) {
	repo := setupTestRepo(t)
	agent := &config.AgentSpec{Name: "widgets", Scope: []string{"widgets/"}}
	m, alerts := newTestMonitor(t, repo, agent, config.DefaultSettings().Monitor, nil)

	if err := os.WriteFile(filepath.Join(repo.Path(), "README.md"), []byte("tampered\n"), 0644); err != nil {
		t.Fatalf("modifying file: %v", err)
	}

	report, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(report.Findings) != 1 || report.Findings[0].Kind != KindOutOfScopeEdit {
		t.Fatalf("findings = %v, want one %s", findingKinds(report), KindOutOfScopeEdit)
	}

	raised, err := alerts.List("widgets")
	if err != nil {
		t.Fatalf("listing alerts: %v", err)
	}
	if len(raised) != 1 {
		t.Fatalf("raised %d alerts, want 1", len(raised))
	}
	if raised[0].Kind != KindOutOfScopeEdit || raised[0].Cycle != 1 {
		t.Errorf("alert = %+v", raised[0])
	}
}

func TestInScopeEditExempt(t *testing.T) {
	repo := setupTestRepo(t)
	commitFile(t, repo, "widgets/button.go", "package widgets\n", "add button")

	agent := &config.AgentSpec{Name: "widgets", Scope: []string{"widgets/"}}
	m, _ := newTestMonitor(t, repo, agent, config.DefaultSettings().Monitor, nil)

	if err := os.WriteFile(filepath.Join(repo.Path(), "widgets", "button.go"),
		[]byte("package widgets // v2\n"), 0644); err != nil {
		t.Fatalf("modifying file: %v", err)
	}

	report, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(report.Findings) != 0 {
		t.Errorf("in-scope edit produced findings: %v", findingKinds(report))
	}
}

func TestWorkspaceMonitorFlagsAnyEdit(t *testing.T) {
	repo := setupTestRepo(t)
	m, _ := newTestMonitor(t, repo, nil, config.DefaultSettings().Monitor, nil)

	if err := os.WriteFile(filepath.Join(repo.Path(), "README.md"), []byte("tampered\n"), 0644); err != nil {
		t.Fatalf("modifying file: %v", err)
	}

	report, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(report.Findings) != 1 || report.Findings[0].Kind != KindOutOfScopeEdit {
		t.Errorf("findings = %v, want one %s", findingKinds(report), KindOutOfScopeEdit)
	}
}

func TestExcessDeletionsAndCompleteness(t *testing.T) {
	repo := setupTestRepo(t)
	for i := 0; i < 5; i++ {
		commitFile(t, repo, fmt.Sprintf("doc%d.txt", i), "content\n", fmt.Sprintf("add doc%d", i))
	}

	cfg := config.DefaultSettings().Monitor
	cfg.DeletionTolerance = 2
	m, _ := newTestMonitor(t, repo, nil, cfg, nil)

	// Baseline holds README.md plus five docs; removing the docs breaches
	// both the deletion tolerance and the completeness floor.
	for i := 0; i < 5; i++ {
		if _, err := repo.Run("rm", fmt.Sprintf("doc%d.txt", i)); err != nil {
			t.Fatalf("git rm failed: %v", err)
		}
	}
	if _, err := repo.Run("commit", "-m", "remove docs"); err != nil {
		t.Fatalf("git commit failed: %v", err)
	}

	report, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	kinds := map[string]bool{}
	for _, f := range report.Findings {
		kinds[f.Kind] = true
	}
	if !kinds[KindExcessDeletion] {
		t.Errorf("findings %v missing %s", findingKinds(report), KindExcessDeletion)
	}
	if !kinds[KindIncomplete] {
		t.Errorf("findings %v missing %s", findingKinds(report), KindIncomplete)
	}
	if report.Expected != 6 || report.Observed != 1 {
		t.Errorf("expected/observed = %d/%d, want 6/1", report.Expected, report.Observed)
	}
}

func TestAutoPauseSuspendsAgent(t *testing.T) {
	repo := setupTestRepo(t)
	agent := &config.AgentSpec{Name: "widgets", Scope: []string{"widgets/"}}

	cfg := config.DefaultSettings().Monitor
	cfg.AutoPause = true
	pauser := &fakePauser{}
	m, _ := newTestMonitor(t, repo, agent, cfg, pauser)

	if err := os.WriteFile(filepath.Join(repo.Path(), "README.md"), []byte("tampered\n"), 0644); err != nil {
		t.Fatalf("modifying file: %v", err)
	}

	if _, err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(pauser.calls) != 1 || pauser.calls[0] != "widgets" {
		t.Fatalf("suspend calls = %v, want one for widgets", pauser.calls)
	}
	if pauser.reason == "" {
		t.Error("suspension reason is empty")
	}
}
