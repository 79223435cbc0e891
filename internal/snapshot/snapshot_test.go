package snapshot

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/convoy-sh/convoy/internal/gitx"
	"github.com/convoy-sh/convoy/internal/state"
)

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

	files := map[string]string{
		"README.md":    "# Test\n",
		"go.mod":       "module example.com/app\n",
		"package.json": `{"name":"app"}` + "\n",
		"src/main.go":  "package main\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	run("add", ".")
	run("commit", "-m", "initial commit")

	repo, err := gitx.Open(dir)
	if err != nil {
		t.Fatalf("gitx.Open failed: %v", err)
	}
	return repo
}

func newTestStore(t *testing.T) (*Store, *gitx.Repo) {
	t.Helper()
	repo := setupTestRepo(t)
	st, err := state.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}
	return NewStore(repo, st, nil), repo
}

func TestCaptureAndGet(t *testing.T) {
	s, repo := newTestStore(t)

	snap, err := s.Capture("baseline")
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	head, _ := repo.Head()
	if snap.Commit != head {
		t.Errorf("snapshot commit = %s, want HEAD %s", snap.Commit, head)
	}
	if snap.FileCount != 4 {
		t.Errorf("FileCount = %d, want 4", snap.FileCount)
	}

	got, err := s.Get("baseline")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "baseline" || got.Commit != head {
		t.Errorf("Get returned %+v", got)
	}

	files, err := s.Files("baseline")
	if err != nil {
		t.Fatalf("Files failed: %v", err)
	}
	if len(files) != 4 {
		t.Errorf("Files = %v, want 4 entries", files)
	}

	// Manifests present in the repo were captured; absent ones skipped.
	if len(snap.Manifests) != 2 {
		t.Errorf("Manifests = %v, want [go.mod package.json]", snap.Manifests)
	}
	data, err := s.Manifest("baseline", "go.mod")
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	if string(data) != "module example.com/app\n" {
		t.Errorf("manifest content = %q", string(data))
	}
}

func TestCaptureImmutable(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Capture("baseline"); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	_, err := s.Capture("baseline")
	if !errors.Is(err, ErrExists) {
		t.Errorf("second Capture returned %v, want ErrExists", err)
	}
}

func TestCaptureInvalidName(t *testing.T) {
	s, _ := newTestStore(t)

	for _, name := range []string{"", "a/b", `a\b`} {
		if _, err := s.Capture(name); err == nil {
			t.Errorf("Capture(%q) succeeded, want error", name)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get returned %v, want ErrNotFound", err)
	}
	_, err = s.Files("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Files returned %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Capture("baseline"); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if _, err := s.Capture("pre-rollback"); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	snaps, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("List returned %d snapshots, want 2", len(snaps))
	}
	if snaps[0].Name != "baseline" || snaps[1].Name != "pre-rollback" {
		t.Errorf("List order = [%s, %s]", snaps[0].Name, snaps[1].Name)
	}
}
