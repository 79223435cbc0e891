package compliance

import (
	"fmt"
	"strings"

	"github.com/convoy-sh/convoy/internal/config"
)

// Change is one agent's most recent change-set, as seen by the monitor.
type Change struct {
	Agent         *config.AgentSpec
	ModifiedFiles []string          // tracked files with uncommitted edits
	CreatedFiles  []string          // files new since the agent started
	Summary       string            // most recent change summary text
	Contents      map[string]string // contents of created files, keyed by path
}

// Verdict is one rule's contribution to a cycle.
type Verdict struct {
	Violations int
	Warnings   int
	Critical   bool
	Notes      []string
}

// Rule is a single behavioral heuristic. Rules are independent predicates so
// each is testable in isolation and replaceable without touching the
// monitor.
type Rule interface {
	Name() string
	Evaluate(Change) Verdict
}

// DefaultRules returns the standard rule set with the given monitor
// settings applied.
func DefaultRules(cfg config.MonitorSettings) []Rule {
	return []Rule{
		FileCountRule{Limit: cfg.ModifiedFileLimit},
		VocabularyRule{
			Flagged: defaultFlaggedVocabulary,
			Allowed: defaultAllowedVocabulary,
		},
		TestScopeRule{},
		KeywordDensityRule{
			Keywords:  defaultBusinessTerms,
			Threshold: 0.05,
		},
		ManifestRule{Manifests: defaultManifestNames, Allowed: nil},
	}
}

// FileCountRule warns when a change-set touches more files than the limit.
// A sprawling change-set is the first sign of an agent drifting out of its
// lane.
type FileCountRule struct {
	Limit int
}

func (r FileCountRule) Name() string { return "file-count" }

func (r FileCountRule) Evaluate(c Change) Verdict {
	touched := len(c.ModifiedFiles) + len(c.CreatedFiles)
	if r.Limit > 0 && touched > r.Limit {
		return Verdict{
			Warnings: 1,
			Notes:    []string{fmt.Sprintf("%d files touched, limit %d", touched, r.Limit)},
		}
	}
	return Verdict{}
}

var defaultFlaggedVocabulary = []string{
	"refactor", "restructure", "rewrite", "optimize", "optimization",
	"cleanup", "clean up", "simplify", "streamline",
}

var defaultAllowedVocabulary = []string{
	"test refactor", "fixture cleanup",
}

// VocabularyRule warns when the change summary reaches for refactor or
// optimization vocabulary outside a narrow allowed list. Agents are tasked
// with building, not reshaping what already works.
type VocabularyRule struct {
	Flagged []string
	Allowed []string
}

func (r VocabularyRule) Name() string { return "vocabulary" }

func (r VocabularyRule) Evaluate(c Change) Verdict {
	summary := strings.ToLower(c.Summary)
	for _, allowed := range r.Allowed {
		if strings.Contains(summary, strings.ToLower(allowed)) {
			return Verdict{}
		}
	}
	for _, word := range r.Flagged {
		if strings.Contains(summary, strings.ToLower(word)) {
			return Verdict{
				Warnings: 1,
				Notes:    []string{fmt.Sprintf("summary uses flagged vocabulary %q", word)},
			}
		}
	}
	return Verdict{}
}

// TestScopeRule flags a violation for every new test artifact created
// outside the agent's declared scope. Test files belong to the agent that
// owns the code under test.
type TestScopeRule struct{}

func (r TestScopeRule) Name() string { return "test-scope" }

func (r TestScopeRule) Evaluate(c Change) Verdict {
	var v Verdict
	for _, path := range c.CreatedFiles {
		if !isTestArtifact(path) {
			continue
		}
		if c.Agent != nil && c.Agent.InScope(path) {
			continue
		}
		v.Violations++
		v.Notes = append(v.Notes, fmt.Sprintf("test artifact %s outside declared scope", path))
	}
	return v
}

func isTestArtifact(path string) bool {
	base := strings.ToLower(path)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."),
		strings.HasPrefix(base, "tests/"),
		strings.Contains(base, "/tests/"),
		strings.HasPrefix(base, "test_"),
		strings.Contains(base, "/test_"):
		return true
	}
	return false
}

var defaultBusinessTerms = []string{
	"invoice", "billing", "payment", "pricing", "discount",
	"tax", "checkout", "subscription", "refund", "ledger",
}

// KeywordDensityRule flags a critical violation when a newly created
// non-test file is dense with business-logic vocabulary. Business semantics
// are the external collaborators' territory; an agent writing them has left
// its mandate.
type KeywordDensityRule struct {
	Keywords  []string
	Threshold float64 // keyword hits per word
}

func (r KeywordDensityRule) Name() string { return "keyword-density" }

func (r KeywordDensityRule) Evaluate(c Change) Verdict {
	var v Verdict
	for _, path := range c.CreatedFiles {
		if isTestArtifact(path) {
			continue
		}
		content, ok := c.Contents[path]
		if !ok {
			continue
		}
		words := strings.Fields(strings.ToLower(content))
		if len(words) == 0 {
			continue
		}
		hits := 0
		for _, w := range words {
			for _, kw := range r.Keywords {
				if strings.Contains(w, kw) {
					hits++
					break
				}
			}
		}
		density := float64(hits) / float64(len(words))
		if density > r.Threshold {
			v.Violations++
			v.Critical = true
			v.Notes = append(v.Notes, fmt.Sprintf(
				"%s: business-term density %.3f above %.3f", path, density, r.Threshold))
		}
	}
	return v
}

var defaultManifestNames = []string{
	"go.mod", "go.sum", "package.json", "package-lock.json",
	"requirements.txt", "pyproject.toml",
}

// ManifestRule warns when a dependency manifest is edited by an agent not
// on the allow-list for that manifest.
type ManifestRule struct {
	Manifests []string
	Allowed   map[string][]string // manifest -> agent names allowed to edit
}

func (r ManifestRule) Name() string { return "manifest-edit" }

func (r ManifestRule) Evaluate(c Change) Verdict {
	var v Verdict
	for _, path := range append(append([]string(nil), c.ModifiedFiles...), c.CreatedFiles...) {
		for _, m := range r.Manifests {
			if path != m && !strings.HasSuffix(path, "/"+m) {
				continue
			}
			if c.Agent != nil && r.allowed(m, c.Agent.Name) {
				continue
			}
			v.Warnings++
			v.Notes = append(v.Notes, fmt.Sprintf("dependency manifest %s edited", path))
		}
	}
	return v
}

func (r ManifestRule) allowed(manifest, agent string) bool {
	for _, name := range r.Allowed[manifest] {
		if name == agent {
			return true
		}
	}
	return false
}
