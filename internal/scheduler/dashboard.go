package scheduler

import (
	"errors"
	"time"

	"github.com/convoy-sh/convoy/internal/coord"
)

// AgentState is the dashboard classification of one agent.
type AgentState string

const (
	StateNotStarted AgentState = "not-started"
	StateActive     AgentState = "active"
	StateStale      AgentState = "stale"
	StateComplete   AgentState = "complete"
)

// PhaseView summarizes one phase for the dashboard.
type PhaseView struct {
	Phase      string                `json:"phase"`
	Complete   bool                  `json:"complete"`
	NotStarted int                   `json:"notStarted"`
	Active     int                   `json:"active"`
	Stale      int                   `json:"stale"`
	Done       int                   `json:"done"`
	Agents     map[string]AgentState `json:"agents"`
}

// Dashboard is the full scheduler view: per-phase counts plus current
// blockers.
type Dashboard struct {
	Phases   []PhaseView     `json:"phases"`
	Blockers []coord.Blocker `json:"blockers,omitempty"`
}

// Dashboard computes the view at the given instant. Agents with a handoff
// are complete regardless of status; agents without one are classified by
// their status record's freshness.
func (s *Scheduler) Dashboard(now time.Time) (*Dashboard, error) {
	d := &Dashboard{}

	for _, phase := range s.roster.Phases {
		view := PhaseView{
			Phase:  phase,
			Agents: make(map[string]AgentState),
		}
		for _, a := range s.roster.PhaseAgents(phase) {
			st, err := s.agentState(a.Name, now)
			if err != nil {
				return nil, err
			}
			view.Agents[a.Name] = st
			switch st {
			case StateNotStarted:
				view.NotStarted++
			case StateActive:
				view.Active++
			case StateStale:
				view.Stale++
			case StateComplete:
				view.Done++
			}
		}
		complete, err := s.PhaseComplete(phase)
		if err != nil {
			return nil, err
		}
		view.Complete = complete
		d.Phases = append(d.Phases, view)
	}

	blockers, err := s.coord.Blockers()
	if err != nil {
		return nil, err
	}
	d.Blockers = blockers
	return d, nil
}

func (s *Scheduler) agentState(name string, now time.Time) (AgentState, error) {
	done, err := s.coord.HasHandoff(name)
	if err != nil {
		return "", err
	}
	if done {
		return StateComplete, nil
	}

	rec, err := s.coord.ReadStatus(name)
	if errors.Is(err, coord.ErrNotFound) {
		return StateNotStarted, nil
	}
	if err != nil {
		return "", err
	}
	if s.coord.IsStale(rec, now) {
		return StateStale, nil
	}
	return StateActive, nil
}
