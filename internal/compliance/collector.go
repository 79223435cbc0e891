package compliance

import (
	"context"
	"os"
	"path/filepath"

	"github.com/convoy-sh/convoy/internal/config"
	"github.com/convoy-sh/convoy/internal/gitx"
	"github.com/convoy-sh/convoy/internal/snapshot"
)

// maxInspectedFileSize bounds how much of a created file the keyword
// density rule reads.
const maxInspectedFileSize = 256 * 1024

// NewCollector returns a CollectFunc that derives the change-set from the
// working tree: uncommitted modifications, files new since the named
// baseline snapshot, and the latest commit message as the change summary.
func NewCollector(repo *gitx.Repo, snaps *snapshot.Store, baseline string, agent *config.AgentSpec) CollectFunc {
	return func(ctx context.Context) (Change, error) {
		change := Change{Agent: agent, Contents: make(map[string]string)}

		modified, err := repo.ModifiedFiles()
		if err != nil {
			return Change{}, err
		}
		change.ModifiedFiles = modified

		baselineFiles := make(map[string]bool)
		if baseline != "" {
			files, err := snaps.Files(baseline)
			if err != nil {
				return Change{}, err
			}
			for _, f := range files {
				baselineFiles[f] = true
			}
		}

		tracked, err := repo.TrackedFiles()
		if err != nil {
			return Change{}, err
		}
		untracked, err := repo.UntrackedFiles()
		if err != nil {
			return Change{}, err
		}
		for _, f := range append(tracked, untracked...) {
			if !baselineFiles[f] {
				change.CreatedFiles = append(change.CreatedFiles, f)
			}
		}

		for _, f := range change.CreatedFiles {
			if isTestArtifact(f) {
				continue
			}
			path := filepath.Join(repo.Path(), f)
			info, err := os.Stat(path)
			if err != nil || info.Size() > maxInspectedFileSize {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			change.Contents[f] = string(data)
		}

		if commits, err := repo.Log(1); err == nil && len(commits) > 0 {
			change.Summary = commits[0].Message
		}

		return change, ctx.Err()
	}
}
