// Package snapshot captures point-in-time workspace state under a name:
// tracked-file listing, manifest file copies, a short history log, and the
// working-tree status. Snapshots are immutable once written and are only
// ever compared against or restored from, never mutated.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/convoy-sh/convoy/internal/gitx"
	"github.com/convoy-sh/convoy/internal/state"
)

// historyDepth is how many commits the history log captures.
const historyDepth = 20

// DefaultManifests are the build/dependency manifests captured when the
// caller does not name its own.
var DefaultManifests = []string{
	"go.mod", "go.sum",
	"package.json", "package-lock.json",
	"requirements.txt", "pyproject.toml",
	"Makefile",
}

// ErrExists is returned when capturing over an existing snapshot name.
var ErrExists = errors.New("snapshot: name already exists")

// ErrNotFound is returned when a named snapshot does not exist.
var ErrNotFound = errors.New("snapshot: not found")

// Snapshot is the metadata of one capture.
type Snapshot struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Commit    string    `json:"commit"`
	FileCount int       `json:"fileCount"`
	Manifests []string  `json:"manifests,omitempty"`
}

// Store captures and reads snapshots. Content lives in the shared-state
// store under snapshots/<name>/.
type Store struct {
	repo      *gitx.Repo
	state     state.Store
	manifests []string
}

// NewStore creates a snapshot store. manifests may be nil to capture
// DefaultManifests.
func NewStore(repo *gitx.Repo, st state.Store, manifests []string) *Store {
	if manifests == nil {
		manifests = DefaultManifests
	}
	return &Store{repo: repo, state: st, manifests: manifests}
}

func metaKey(name string) string { return "snapshots/" + name + "/meta.json" }

// Capture records the workspace state under name. Names are write-once;
// capturing over an existing snapshot fails with ErrExists.
func (s *Store) Capture(name string) (*Snapshot, error) {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("snapshot: invalid name %q", name)
	}
	exists, err := s.state.Exists(metaKey(name))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}

	commit, err := s.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("capturing HEAD: %w", err)
	}
	files, err := s.repo.TrackedFiles()
	if err != nil {
		return nil, fmt.Errorf("capturing file listing: %w", err)
	}
	history, err := s.repo.Log(historyDepth)
	if err != nil {
		return nil, fmt.Errorf("capturing history: %w", err)
	}
	status, err := s.repo.StatusPorcelain()
	if err != nil {
		return nil, fmt.Errorf("capturing working-tree status: %w", err)
	}

	prefix := "snapshots/" + name + "/"
	if err := s.state.Write(prefix+"files.txt", []byte(strings.Join(files, "\n")+"\n")); err != nil {
		return nil, err
	}

	var historyLines []string
	for _, c := range history {
		historyLines = append(historyLines, c.Hash+" "+c.Message)
	}
	if err := s.state.Write(prefix+"history.log", []byte(strings.Join(historyLines, "\n")+"\n")); err != nil {
		return nil, err
	}
	if err := s.state.Write(prefix+"status.txt", []byte(strings.Join(status, "\n")+"\n")); err != nil {
		return nil, err
	}

	var captured []string
	for _, m := range s.manifests {
		data, err := os.ReadFile(filepath.Join(s.repo.Path(), m))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading manifest %s: %w", m, err)
		}
		if err := s.state.Write(prefix+"manifests/"+m, data); err != nil {
			return nil, err
		}
		captured = append(captured, m)
	}

	snap := &Snapshot{
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Commit:    commit,
		FileCount: len(files),
		Manifests: captured,
	}
	meta, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot metadata: %w", err)
	}
	// Metadata written last: a snapshot without meta.json is an aborted
	// capture and is invisible to Get/List.
	if err := s.state.Write(metaKey(name), meta); err != nil {
		return nil, err
	}
	return snap, nil
}

// Get returns the metadata of a named snapshot.
func (s *Store) Get(name string) (*Snapshot, error) {
	data, err := s.state.Read(metaKey(name))
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", name, err)
	}
	return &snap, nil
}

// List returns all snapshot metadata, ordered by name.
func (s *Store) List() ([]*Snapshot, error) {
	keys, err := s.state.List("snapshots")
	if err != nil {
		return nil, err
	}
	var out []*Snapshot
	for _, key := range keys {
		if !strings.HasSuffix(key, "/meta.json") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, "snapshots/"), "/meta.json")
		snap, err := s.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Files returns the tracked-file listing captured in a snapshot.
func (s *Store) Files(name string) ([]string, error) {
	data, err := s.state.Read("snapshots/" + name + "/files.txt")
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Manifest returns the captured copy of one manifest file.
func (s *Store) Manifest(name, manifest string) ([]byte, error) {
	data, err := s.state.Read("snapshots/" + name + "/manifests/" + manifest)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, name, manifest)
	}
	return data, err
}
