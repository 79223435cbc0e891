package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/convoy-sh/convoy/internal/config"
)

func TestParseTestCounts(t *testing.T) {
	tests := []struct {
		name        string
		output      string
		wantPassing int
		wantTotal   int
	}{
		{"passed and failed", "ok: 7 passed, 2 failed", 7, 9},
		{"passed only", "12 passed", 12, 12},
		{"failed only", "3 failed", 0, 3},
		{"passing variant", "4 passing", 4, 4},
		{"no counts", "all good", 0, 0},
		{"empty", "", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passing, total := parseTestCounts(tt.output)
			if passing != tt.wantPassing || total != tt.wantTotal {
				t.Errorf("parseTestCounts(%q) = (%d, %d), want (%d, %d)",
					tt.output, passing, total, tt.wantPassing, tt.wantTotal)
			}
		})
	}
}

func TestExecInvokerRunTests(t *testing.T) {
	pm := NewProcessManager()

	t.Run("passing command", func(t *testing.T) {
		inv := NewExecInvoker(t.TempDir(), "", pm, nil)
		spec := &config.AgentSpec{Name: "schema", TestCommand: `echo "5 passed"`}
		res, err := inv.RunTests(context.Background(), spec)
		if err != nil {
			t.Fatalf("RunTests failed: %v", err)
		}
		if !res.Passed || res.Passing != 5 || res.Total != 5 {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("failing command", func(t *testing.T) {
		inv := NewExecInvoker(t.TempDir(), "", pm, nil)
		spec := &config.AgentSpec{Name: "schema", TestCommand: `echo "2 passed, 3 failed"; exit 1`}
		res, err := inv.RunTests(context.Background(), spec)
		if err != nil {
			t.Fatalf("RunTests failed: %v", err)
		}
		if res.Passed || res.Passing != 2 || res.Total != 5 {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("unparseable output falls back to exit code", func(t *testing.T) {
		inv := NewExecInvoker(t.TempDir(), "", pm, nil)
		spec := &config.AgentSpec{Name: "schema", TestCommand: "true"}
		res, err := inv.RunTests(context.Background(), spec)
		if err != nil {
			t.Fatalf("RunTests failed: %v", err)
		}
		if !res.Passed || res.Passing != 1 || res.Total != 1 {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("missing test command", func(t *testing.T) {
		inv := NewExecInvoker(t.TempDir(), "", pm, nil)
		if _, err := inv.RunTests(context.Background(), &config.AgentSpec{Name: "schema"}); err == nil {
			t.Error("RunTests without a command succeeded")
		}
	})

	t.Run("timeout is a liveness failure", func(t *testing.T) {
		inv := NewExecInvoker(t.TempDir(), "", pm, nil)
		spec := &config.AgentSpec{Name: "schema", TestCommand: "sleep 10"}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if _, err := inv.RunTests(ctx, spec); err == nil {
			t.Error("timed-out command reported a result")
		}
	})
}

func TestExecInvokerInvoke(t *testing.T) {
	pm := NewProcessManager()

	inv := NewExecInvoker(t.TempDir(), "echo", pm, nil)
	out, err := inv.Invoke(context.Background(), &config.AgentSpec{Name: "schema"}, "build the schema")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !strings.Contains(out, "build the schema") {
		t.Errorf("output = %q", out)
	}

	disabled := NewExecInvoker(t.TempDir(), "", pm, nil)
	if _, err := disabled.Invoke(context.Background(), &config.AgentSpec{Name: "schema"}, "x"); err == nil {
		t.Error("Invoke without a command succeeded")
	}
}

func TestRunCommandDrainsLargeOutput(t *testing.T) {
	cmd := newCommand(context.Background(), "sh", "-c", "head -c 262144 /dev/zero | tr '\\0' 'x'")
	stdout, _, err := runCommand(cmd, nil)
	if err != nil {
		t.Fatalf("runCommand failed: %v", err)
	}
	if len(stdout) != 262144 {
		t.Errorf("drained %d bytes, want 262144", len(stdout))
	}
}

func TestProcessManagerTracksAndKills(t *testing.T) {
	pm := NewProcessManager()
	cmd := newCommand(context.Background(), "sleep", "10")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting sleep: %v", err)
	}
	pm.Track(cmd)
	if pm.Count() != 1 {
		t.Fatalf("Count = %d, want 1", pm.Count())
	}

	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll failed: %v", err)
	}
	cmd.Wait()
	pm.Untrack(cmd)
	if pm.Count() != 0 {
		t.Errorf("Count = %d after untrack, want 0", pm.Count())
	}
}
