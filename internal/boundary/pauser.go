package boundary

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/convoy-sh/convoy/internal/events"
)

// ProcessPauser suspends and resumes agent processes with stop signals. A
// paused agent keeps its process and resources until a human resumes it or
// rolls it back.
type ProcessPauser struct {
	mu   sync.Mutex
	pids map[string]int // agent name -> process group leader pid
	bus  *events.Bus    // optional
	log  *zap.Logger
}

// NewProcessPauser creates a pauser. bus may be nil.
func NewProcessPauser(bus *events.Bus, log *zap.Logger) *ProcessPauser {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProcessPauser{pids: make(map[string]int), bus: bus, log: log}
}

// Register records the process group leader pid for an agent. Runners call
// this when the agent process starts.
func (p *ProcessPauser) Register(agent string, pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pids[agent] = pid
}

// Unregister forgets an agent's process, typically after it exits.
func (p *ProcessPauser) Unregister(agent string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pids, agent)
}

// Suspend pauses the agent's whole process group with SIGSTOP. The process
// is not killed; it holds its resources pending human review.
func (p *ProcessPauser) Suspend(agent, reason string) error {
	p.mu.Lock()
	pid, ok := p.pids[agent]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("suspending %s: no registered process", agent)
	}
	if err := syscall.Kill(-pid, syscall.SIGSTOP); err != nil {
		return fmt.Errorf("suspending %s (pid %d): %w", agent, pid, err)
	}
	p.log.Warn("agent suspended",
		zap.String("agent", agent),
		zap.Int("pid", pid),
		zap.String("reason", reason))
	if p.bus != nil {
		p.bus.Publish(events.TopicAlert, events.AgentSuspendedEvent{
			AgentName: agent,
			Reason:    reason,
			Timestamp: time.Now().UTC(),
		})
	}
	return nil
}

// Resume continues a previously suspended agent's process group.
func (p *ProcessPauser) Resume(agent string) error {
	p.mu.Lock()
	pid, ok := p.pids[agent]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("resuming %s: no registered process", agent)
	}
	if err := syscall.Kill(-pid, syscall.SIGCONT); err != nil {
		return fmt.Errorf("resuming %s (pid %d): %w", agent, pid, err)
	}
	p.log.Info("agent resumed", zap.String("agent", agent), zap.Int("pid", pid))
	return nil
}
