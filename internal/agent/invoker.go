// Package agent drives one worker per roster entry: a bounded-retry
// build-test-fix loop whose external calls (the agent's test command and
// the coding-agent invocation) are timeout-wrapped, retried with backoff,
// and guarded by a circuit breaker. On exhausting its restart budget a
// runner parks in a terminal idle state instead of thrashing.
package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/convoy-sh/convoy/internal/config"
)

// TestResult is the outcome of one test command run.
type TestResult struct {
	Passed  bool
	Passing int
	Total   int
	Output  string
}

// Invoker is the runner's window onto the outside world. The two calls
// mirror the only contracts the pipeline has with agent internals: run the
// test command and report counts, invoke the coding agent and return text.
type Invoker interface {
	RunTests(ctx context.Context, spec *config.AgentSpec) (*TestResult, error)
	Invoke(ctx context.Context, spec *config.AgentSpec, prompt string) (string, error)
}

// Registrar records which pid currently belongs to which agent, so the
// boundary monitor can pause the right process group.
type Registrar interface {
	Register(agent string, pid int)
	Unregister(agent string)
}

// ExecInvoker runs the external calls as subprocesses through a shell.
type ExecInvoker struct {
	workdir   string
	invokeCmd string // coding-agent command; empty disables invocation
	pm        *ProcessManager
	registrar Registrar // optional
}

// NewExecInvoker creates an invoker rooted at workdir. registrar may be nil.
func NewExecInvoker(workdir, invokeCmd string, pm *ProcessManager, registrar Registrar) *ExecInvoker {
	return &ExecInvoker{workdir: workdir, invokeCmd: invokeCmd, pm: pm, registrar: registrar}
}

// RunTests executes the spec's test command and parses pass/fail counts
// from its output. A command with unparseable output counts as one test,
// passed or failed by exit code.
func (e *ExecInvoker) RunTests(ctx context.Context, spec *config.AgentSpec) (*TestResult, error) {
	if spec.TestCommand == "" {
		return nil, fmt.Errorf("agent %s has no test command", spec.Name)
	}
	output, runErr := e.run(ctx, spec.Name, spec.TestCommand)

	res := &TestResult{Passed: runErr == nil, Output: output}
	res.Passing, res.Total = parseTestCounts(output)
	if res.Total == 0 {
		res.Total = 1
		if res.Passed {
			res.Passing = 1
		}
	}
	if runErr != nil && ctx.Err() != nil {
		// Timeouts and cancellations are liveness failures, not test
		// results.
		return nil, fmt.Errorf("test command for %s: %w", spec.Name, runErr)
	}
	return res, nil
}

// Invoke runs the coding-agent command with the prompt on stdin-like
// argument and returns its textual output.
func (e *ExecInvoker) Invoke(ctx context.Context, spec *config.AgentSpec, prompt string) (string, error) {
	if e.invokeCmd == "" {
		return "", fmt.Errorf("no invoke command configured")
	}
	output, err := e.run(ctx, spec.Name, e.invokeCmd+" "+shellQuote(prompt))
	if err != nil {
		return output, fmt.Errorf("invoking coding agent for %s: %w", spec.Name, err)
	}
	return output, nil
}

func (e *ExecInvoker) run(ctx context.Context, agent, command string) (string, error) {
	cmd := newCommand(ctx, "sh", "-c", command)
	cmd.Dir = e.workdir

	stdout, stderr, err := runCommand(cmd, func(pid int) {
		e.pm.Track(cmd)
		if e.registrar != nil {
			e.registrar.Register(agent, pid)
		}
	})
	e.pm.Untrack(cmd)
	if e.registrar != nil {
		e.registrar.Unregister(agent)
	}
	return string(stdout) + string(stderr), err
}

var (
	passedRe = regexp.MustCompile(`(\d+)\s+pass(?:ed|ing)?`)
	failedRe = regexp.MustCompile(`(\d+)\s+fail(?:ed|ing)?`)
)

// parseTestCounts extracts "N passed" / "M failed" style counts from test
// output. Unmatched output yields zeros.
func parseTestCounts(output string) (passing, total int) {
	if m := passedRe.FindStringSubmatch(output); m != nil {
		passing, _ = strconv.Atoi(m[1])
	}
	failed := 0
	if m := failedRe.FindStringSubmatch(output); m != nil {
		failed, _ = strconv.Atoi(m[1])
	}
	if passing > 0 || failed > 0 {
		return passing, passing + failed
	}
	return 0, 0
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, `'`, `'\''`) + "'"
}
