// Package scheduler computes agent readiness and phase completion over the
// roster's dependency DAG. It never executes agents; the only inputs to a
// control decision are handoff-marker presence and the roster, and the only
// thing it writes is the synthesized phase-level handoff marker.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/convoy-sh/convoy/internal/config"
	"github.com/convoy-sh/convoy/internal/coord"
	"github.com/convoy-sh/convoy/internal/events"
)

// Scheduler answers "which agents may run" and "which phases are done".
type Scheduler struct {
	roster *config.Roster
	coord  *coord.Coordinator
	bus    *events.Bus // optional
}

// New creates a Scheduler. The roster must already be validated (cycles are
// rejected at load time). bus may be nil.
func New(roster *config.Roster, c *coord.Coordinator, bus *events.Bus) *Scheduler {
	return &Scheduler{roster: roster, coord: c, bus: bus}
}

// EffectiveDeps returns the full dependency set gating an agent: its
// declared dependencies plus, for agents past the first phase, the
// synthesized marker of the preceding phase. Phase ordering is transitive
// through that marker.
func (s *Scheduler) EffectiveDeps(agent *config.AgentSpec) []string {
	deps := append([]string(nil), agent.DependsOn...)
	for i, phase := range s.roster.Phases {
		if phase == agent.Phase && i > 0 {
			deps = append(deps, coord.PhaseHandoffName(s.roster.Phases[i-1]))
		}
	}
	return deps
}

// Ready reports whether every member of the agent's effective dependency
// set has a handoff marker.
func (s *Scheduler) Ready(name string) (bool, error) {
	agent, ok := s.roster.Agent(name)
	if !ok {
		return false, fmt.Errorf("unknown agent %q", name)
	}
	for _, dep := range s.EffectiveDeps(agent) {
		ok, err := s.coord.HasHandoff(dep)
		if err != nil {
			return false, fmt.Errorf("checking handoff for dependency %s of %s: %w", dep, name, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// ReadyAgents returns every agent that is ready but has not itself handed
// off yet, in roster order.
func (s *Scheduler) ReadyAgents() ([]string, error) {
	var out []string
	for _, a := range s.roster.Agents {
		done, err := s.coord.HasHandoff(a.Name)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		ready, err := s.Ready(a.Name)
		if err != nil {
			return nil, err
		}
		if ready {
			out = append(out, a.Name)
		}
	}
	return out, nil
}

// PhaseComplete reports whether every agent assigned to the phase has a
// handoff marker. Markers are write-once, so completion is monotonic.
func (s *Scheduler) PhaseComplete(phase string) (bool, error) {
	agents := s.roster.PhaseAgents(phase)
	if len(agents) == 0 {
		// A phase with no agents completes trivially.
		return true, nil
	}
	for _, a := range agents {
		ok, err := s.coord.HasHandoff(a.Name)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// SyncPhases synthesizes the phase-level handoff marker for every complete
// phase that does not have one yet. Safe to call on every scheduler cycle;
// MarkHandoff is idempotent.
func (s *Scheduler) SyncPhases() error {
	for _, phase := range s.roster.Phases {
		complete, err := s.PhaseComplete(phase)
		if err != nil {
			return err
		}
		if !complete {
			continue
		}

		marker := coord.PhaseHandoffName(phase)
		exists, err := s.coord.HasHandoff(marker)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		var participants []string
		for _, a := range s.roster.PhaseAgents(phase) {
			participants = append(participants, a.Name)
		}
		summary := fmt.Sprintf("phase %s complete; participants: %s",
			phase, strings.Join(participants, ", "))
		if err := s.coord.MarkHandoff(marker, summary); err != nil {
			return fmt.Errorf("synthesizing handoff for phase %s: %w", phase, err)
		}
		if s.bus != nil {
			s.bus.Publish(events.TopicPhase, events.PhaseCompletedEvent{
				Phase:        phase,
				Participants: participants,
				Timestamp:    time.Now().UTC(),
			})
		}
	}
	return nil
}
