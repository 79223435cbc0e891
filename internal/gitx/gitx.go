// Package gitx wraps the version-control operations the snapshot, rollback,
// and experiment components share. Mutations go through the git CLI (the
// only interface that covers worktrees, hard resets, and clean); read-only
// inspection of HEAD and history uses go-git so hot polling paths avoid
// subprocess overhead.
package gitx

import (
	"bufio"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Repo operates on one git repository.
type Repo struct {
	path string
}

// Open returns a Repo for the given directory, verifying it is a repository.
func Open(path string) (*Repo, error) {
	if _, err := git.PlainOpen(path); err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}
	return &Repo{path: path}, nil
}

// Path returns the repository root.
func (r *Repo) Path() string { return r.path }

// Run executes a git command in the repository and returns its combined
// output. Failures carry the output for context.
func (r *Repo) Run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.path
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w (output: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Head returns the current HEAD commit hash.
func (r *Repo) Head() (string, error) {
	repo, err := git.PlainOpen(r.path)
	if err != nil {
		return "", fmt.Errorf("opening repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// CurrentBranch returns the checked-out branch name, or empty for a
// detached HEAD.
func (r *Repo) CurrentBranch() (string, error) {
	repo, err := git.PlainOpen(r.path)
	if err != nil {
		return "", fmt.Errorf("opening repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return "", nil
}

// Commit is one entry of the history log.
type Commit struct {
	Hash    string
	Message string
}

// Log returns up to limit commits starting at HEAD, newest first.
func (r *Repo) Log(limit int) ([]Commit, error) {
	repo, err := git.PlainOpen(r.path)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Message: strings.TrimSpace(c.Message),
		})
		if limit > 0 && len(commits) >= limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterating log: %w", err)
	}
	return commits, nil
}

// TrackedFiles returns repository-relative paths of all tracked files.
func (r *Repo) TrackedFiles() ([]string, error) {
	output, err := r.Run("ls-files")
	if err != nil {
		return nil, err
	}
	return splitLines(output), nil
}

// StatusPorcelain returns `git status --porcelain` lines.
func (r *Repo) StatusPorcelain() ([]string, error) {
	output, err := r.Run("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return splitLines(output), nil
}

// ModifiedFiles returns paths with uncommitted modifications (staged or
// not), excluding untracked files.
func (r *Repo) ModifiedFiles() ([]string, error) {
	lines, err := r.StatusPorcelain()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range lines {
		if len(line) < 4 {
			continue
		}
		if strings.HasPrefix(line, "??") {
			continue
		}
		out = append(out, strings.TrimSpace(line[3:]))
	}
	return out, nil
}

// UntrackedFiles returns paths git does not track.
func (r *Repo) UntrackedFiles() ([]string, error) {
	lines, err := r.StatusPorcelain()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range lines {
		if strings.HasPrefix(line, "??") {
			out = append(out, strings.TrimSpace(line[3:]))
		}
	}
	return out, nil
}

// CommitsAhead counts commits on HEAD that are not reachable from ref.
func (r *Repo) CommitsAhead(ref string) (int, error) {
	output, err := r.Run("rev-list", "--count", ref+"..HEAD")
	if err != nil {
		return 0, err
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(output), "%d", &n); err != nil {
		return 0, fmt.Errorf("parsing rev-list count %q: %w", output, err)
	}
	return n, nil
}

// CommitExists reports whether ref resolves to a commit.
func (r *Repo) CommitExists(ref string) bool {
	_, err := r.Run("rev-parse", "--verify", "--quiet", ref+"^{commit}")
	return err == nil
}

func splitLines(s string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
