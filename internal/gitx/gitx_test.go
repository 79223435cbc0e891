package gitx

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// setupTestRepo creates a temporary git repository with one initial commit.
func setupTestRepo(t *testing.T) *Repo {
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

	repo, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return repo
}

func commitFile(t *testing.T, r *Repo, name, content, message string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(filepath.Join(r.Path(), name)), 0755); err != nil {
		t.Fatalf("creating directory for %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(r.Path(), name), []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	if _, err := r.Run("add", "."); err != nil {
		t.Fatalf("git add failed: %v", err)
	}
	if _, err := r.Run("commit", "-m", message); err != nil {
		t.Fatalf("git commit failed: %v", err)
	}
}

func TestOpenRejectsNonRepo(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil {
		t.Error("Open succeeded on a plain directory")
	}
}

func TestHeadAndBranch(t *testing.T) {
	r := setupTestRepo(t)

	head, err := r.Head()
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if len(head) != 40 {
		t.Errorf("Head returned %q, want 40-char hash", head)
	}

	branch, err := r.CurrentBranch()
	if err != nil {
		t.Fatalf("CurrentBranch failed: %v", err)
	}
	if branch != "main" {
		t.Errorf("CurrentBranch = %q, want main", branch)
	}
}

func TestLog(t *testing.T) {
	r := setupTestRepo(t)
	commitFile(t, r, "a.txt", "a", "add a")
	commitFile(t, r, "b.txt", "b", "add b")

	commits, err := r.Log(0)
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("got %d commits, want 3", len(commits))
	}
	if commits[0].Message != "add b" {
		t.Errorf("newest commit message = %q", commits[0].Message)
	}

	limited, err := r.Log(2)
	if err != nil {
		t.Fatalf("Log(2) failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Log(2) returned %d commits", len(limited))
	}
}

func TestTrackedAndModifiedFiles(t *testing.T) {
	r := setupTestRepo(t)
	commitFile(t, r, "services/auth.go", "package services\n", "add auth")

	tracked, err := r.TrackedFiles()
	if err != nil {
		t.Fatalf("TrackedFiles failed: %v", err)
	}
	if len(tracked) != 2 {
		t.Errorf("TrackedFiles = %v, want 2 entries", tracked)
	}

	// Modify a tracked file and add an untracked one.
	if err := os.WriteFile(filepath.Join(r.Path(), "README.md"), []byte("changed\n"), 0644); err != nil {
		t.Fatalf("modifying file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(r.Path(), "scratch.txt"), []byte("tmp\n"), 0644); err != nil {
		t.Fatalf("writing untracked file: %v", err)
	}

	modified, err := r.ModifiedFiles()
	if err != nil {
		t.Fatalf("ModifiedFiles failed: %v", err)
	}
	if len(modified) != 1 || modified[0] != "README.md" {
		t.Errorf("ModifiedFiles = %v, want [README.md]", modified)
	}

	untracked, err := r.UntrackedFiles()
	if err != nil {
		t.Fatalf("UntrackedFiles failed: %v", err)
	}
	if len(untracked) != 1 || untracked[0] != "scratch.txt" {
		t.Errorf("UntrackedFiles = %v, want [scratch.txt]", untracked)
	}
}

func TestCommitsAheadAndExists(t *testing.T) {
	r := setupTestRepo(t)

	base, err := r.Head()
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}

	commitFile(t, r, "a.txt", "a", "add a")
	commitFile(t, r, "b.txt", "b", "add b")

	ahead, err := r.CommitsAhead(base)
	if err != nil {
		t.Fatalf("CommitsAhead failed: %v", err)
	}
	if ahead != 2 {
		t.Errorf("CommitsAhead = %d, want 2", ahead)
	}

	if !r.CommitExists(base) {
		t.Error("CommitExists false for a real commit")
	}
	if r.CommitExists("0000000000000000000000000000000000000000") {
		t.Error("CommitExists true for the zero hash")
	}
}
