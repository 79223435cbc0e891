package config

import (
	"strings"
	"testing"
)

const validRoster = `
phases: [test-authoring, implementation, optimization, audit, final-integration]
agents:
  - name: tests
    phase: test-authoring
    scope: ["tests/"]
    test_command: "npm test"
  - name: schema
    phase: implementation
    depends_on: [tests]
    scope: ["schema/", "migrations/"]
  - name: services
    phase: implementation
    depends_on: [schema]
    scope: ["services/"]
  - name: hooks
    phase: implementation
    depends_on: [services]
    scope: ["hooks/"]
`

func TestParseRosterValid(t *testing.T) {
	r, err := ParseRoster([]byte(validRoster))
	if err != nil {
		t.Fatalf("ParseRoster failed: %v", err)
	}

	if len(r.Agents) != 4 {
		t.Fatalf("got %d agents, want 4", len(r.Agents))
	}

	services, ok := r.Agent("services")
	if !ok {
		t.Fatal("Agent(services) not found")
	}
	if services.Phase != "implementation" {
		t.Errorf("services phase = %q", services.Phase)
	}
	if len(services.DependsOn) != 1 || services.DependsOn[0] != "schema" {
		t.Errorf("services deps = %v", services.DependsOn)
	}

	impl := r.PhaseAgents("implementation")
	if len(impl) != 3 {
		t.Errorf("implementation phase has %d agents, want 3", len(impl))
	}
}

func TestParseRosterRejections(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		errContains string
	}{
		{
			name:        "no phases",
			yaml:        "agents:\n  - name: a\n    phase: impl\n",
			errContains: "no phases",
		},
		{
			name:        "no agents",
			yaml:        "phases: [impl]\n",
			errContains: "no agents",
		},
		{
			name: "duplicate agent",
			yaml: `
phases: [impl]
agents:
  - name: a
    phase: impl
  - name: a
    phase: impl
`,
			errContains: "declared twice",
		},
		{
			name: "unknown phase",
			yaml: `
phases: [impl]
agents:
  - name: a
    phase: audit
`,
			errContains: "undeclared phase",
		},
		{
			name: "unknown dependency",
			yaml: `
phases: [impl]
agents:
  - name: a
    phase: impl
    depends_on: [ghost]
`,
			errContains: "unknown agent",
		},
		{
			name: "self dependency",
			yaml: `
phases: [impl]
agents:
  - name: a
    phase: impl
    depends_on: [a]
`,
			errContains: "depends on itself",
		},
		{
			name: "direct cycle",
			yaml: `
phases: [impl]
agents:
  - name: a
    phase: impl
    depends_on: [b]
  - name: b
    phase: impl
    depends_on: [a]
`,
			errContains: "cycle",
		},
		{
			name: "transitive cycle",
			yaml: `
phases: [impl]
agents:
  - name: a
    phase: impl
    depends_on: [c]
  - name: b
    phase: impl
    depends_on: [a]
  - name: c
    phase: impl
    depends_on: [b]
`,
			errContains: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoster([]byte(tt.yaml))
			if err == nil {
				t.Fatal("ParseRoster succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.errContains)
			}
		})
	}
}

func TestAgentInScope(t *testing.T) {
	a := AgentSpec{Name: "schema", Scope: []string{"schema/", "migrations/"}}

	tests := []struct {
		path string
		want bool
	}{
		{"schema/users.sql", true},
		{"migrations/001_init.sql", true},
		{"services/auth.go", false},
		{"schema.go", false},
	}

	for _, tt := range tests {
		if got := a.InScope(tt.path); got != tt.want {
			t.Errorf("InScope(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	noScope := AgentSpec{Name: "bare"}
	if noScope.InScope("anything") {
		t.Error("agent with no scope should own nothing")
	}
}
