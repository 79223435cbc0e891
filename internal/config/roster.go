package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/gammazero/toposort"
	"gopkg.in/yaml.v3"
)

// AgentSpec declares one agent: its phase, the agents that must hand off
// before it may run, the file prefixes it is allowed to touch, and the
// contract for running its test suite. Immutable for a run's lifetime.
type AgentSpec struct {
	Name        string   `yaml:"name"`
	Phase       string   `yaml:"phase"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	Scope       []string `yaml:"scope,omitempty"`
	TestCommand string   `yaml:"test_command,omitempty"`
	Prompt      string   `yaml:"prompt,omitempty"`
	MaxRestarts int      `yaml:"max_restarts,omitempty"`
}

// InScope reports whether a repository-relative path falls under one of the
// agent's declared scope prefixes. An agent with no declared scope owns
// nothing.
func (a *AgentSpec) InScope(path string) bool {
	for _, prefix := range a.Scope {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Roster is the static agent configuration for a run: ordered phases and
// the agents assigned to them.
type Roster struct {
	Phases []string    `yaml:"phases"`
	Agents []AgentSpec `yaml:"agents"`
}

// LoadRoster reads and validates a roster YAML file. A roster that declares
// a dependency cycle is rejected here, not discovered at runtime.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster %s: %w", path, err)
	}
	return ParseRoster(data)
}

// ParseRoster parses and validates roster YAML.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Agent returns the spec for the named agent.
func (r *Roster) Agent(name string) (*AgentSpec, bool) {
	for i := range r.Agents {
		if r.Agents[i].Name == name {
			return &r.Agents[i], true
		}
	}
	return nil, false
}

// PhaseAgents returns the agents assigned to the given phase.
func (r *Roster) PhaseAgents(phase string) []AgentSpec {
	var out []AgentSpec
	for _, a := range r.Agents {
		if a.Phase == phase {
			out = append(out, a)
		}
	}
	return out
}

// Validate checks structural integrity: non-empty phase list, unique agent
// names, every agent assigned to a declared phase, every dependency naming
// a known agent, and an acyclic dependency graph.
func (r *Roster) Validate() error {
	if len(r.Phases) == 0 {
		return fmt.Errorf("roster declares no phases")
	}
	if len(r.Agents) == 0 {
		return fmt.Errorf("roster declares no agents")
	}

	phases := make(map[string]bool, len(r.Phases))
	for _, p := range r.Phases {
		if phases[p] {
			return fmt.Errorf("phase %q declared twice", p)
		}
		phases[p] = true
	}

	names := make(map[string]bool, len(r.Agents))
	for _, a := range r.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent with empty name")
		}
		if names[a.Name] {
			return fmt.Errorf("agent %q declared twice", a.Name)
		}
		names[a.Name] = true
		if !phases[a.Phase] {
			return fmt.Errorf("agent %q assigned to undeclared phase %q", a.Name, a.Phase)
		}
	}

	for _, a := range r.Agents {
		for _, dep := range a.DependsOn {
			if !names[dep] {
				return fmt.Errorf("agent %q depends on unknown agent %q", a.Name, dep)
			}
			if dep == a.Name {
				return fmt.Errorf("agent %q depends on itself", a.Name)
			}
		}
	}

	return r.checkCycles()
}

// checkCycles runs a topological sort over the dependency edges and rejects
// the roster if no ordering exists.
func (r *Roster) checkCycles() error {
	var edges []toposort.Edge
	for _, a := range r.Agents {
		if len(a.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, a.Name})
			continue
		}
		for _, dep := range a.DependsOn {
			// Edge (dep, agent): dep must hand off before agent runs.
			edges = append(edges, toposort.Edge{dep, a.Name})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return fmt.Errorf("roster dependency graph contains a cycle: %w", err)
	}

	// A sort that loses agents means the graph was malformed.
	seen := make(map[string]bool)
	for _, id := range sorted {
		if id != nil {
			seen[id.(string)] = true
		}
	}
	var missing []string
	for _, a := range r.Agents {
		if !seen[a.Name] {
			missing = append(missing, a.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("topological sort lost %d agents: %s", len(missing), strings.Join(missing, ", "))
	}
	return nil
}
