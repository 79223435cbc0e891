package events

import (
	"time"
)

// Event is the base interface for all pipeline events.
type Event interface {
	EventType() string
	Agent() string
}

// Topic constants
const (
	TopicStatus   = "status"
	TopicPhase    = "phase"
	TopicAlert    = "alert"
	TopicRollback = "rollback"
)

// Event type constants
const (
	EventTypeStatusUpdated   = "status.updated"
	EventTypeHandoffCreated  = "status.handoff"
	EventTypeBlockerRaised   = "status.blocker"
	EventTypePhaseCompleted  = "phase.completed"
	EventTypeAlertRaised     = "alert.raised"
	EventTypeAgentSuspended  = "alert.suspended"
	EventTypeAgentExhausted  = "alert.exhausted"
	EventTypeRollbackApplied = "rollback.applied"
)

// StatusUpdatedEvent is published when an agent writes its status record.
type StatusUpdatedEvent struct {
	AgentName    string
	Phase        string
	TestsPassing int
	TestsTotal   int
	Timestamp    time.Time
}

func (e StatusUpdatedEvent) EventType() string { return EventTypeStatusUpdated }
func (e StatusUpdatedEvent) Agent() string     { return e.AgentName }

// HandoffCreatedEvent is published when an agent completes its phase work.
type HandoffCreatedEvent struct {
	AgentName string
	Summary   string
	Timestamp time.Time
}

func (e HandoffCreatedEvent) EventType() string { return EventTypeHandoffCreated }
func (e HandoffCreatedEvent) Agent() string     { return e.AgentName }

// BlockerRaisedEvent is published when an agent files a blocker.
type BlockerRaisedEvent struct {
	AgentName string
	Reason    string
	Critical  bool
	Timestamp time.Time
}

func (e BlockerRaisedEvent) EventType() string { return EventTypeBlockerRaised }
func (e BlockerRaisedEvent) Agent() string     { return e.AgentName }

// PhaseCompletedEvent is published when every agent in a phase has handed off.
type PhaseCompletedEvent struct {
	Phase        string
	Participants []string
	Timestamp    time.Time
}

func (e PhaseCompletedEvent) EventType() string { return EventTypePhaseCompleted }
func (e PhaseCompletedEvent) Agent() string     { return "" }

// AlertRaisedEvent is published for every compliance or boundary violation.
type AlertRaisedEvent struct {
	AgentName string
	Kind      string // e.g. "out-of-scope-edit", "keyword-density"
	Severity  string // "warning", "violation", "critical"
	Cycle     int
	Detail    string
	Timestamp time.Time
}

func (e AlertRaisedEvent) EventType() string { return EventTypeAlertRaised }
func (e AlertRaisedEvent) Agent() string     { return e.AgentName }

// AgentSuspendedEvent is published when the boundary monitor pauses an agent.
type AgentSuspendedEvent struct {
	AgentName string
	Reason    string
	Timestamp time.Time
}

func (e AgentSuspendedEvent) EventType() string { return EventTypeAgentSuspended }
func (e AgentSuspendedEvent) Agent() string     { return e.AgentName }

// AgentExhaustedEvent is published when an agent exceeds its restart budget
// and enters the terminal idle/maintenance state.
type AgentExhaustedEvent struct {
	AgentName string
	Attempts  int
	Timestamp time.Time
}

func (e AgentExhaustedEvent) EventType() string { return EventTypeAgentExhausted }
func (e AgentExhaustedEvent) Agent() string     { return e.AgentName }

// RollbackAppliedEvent is published after a rollback strategy runs.
type RollbackAppliedEvent struct {
	Level     string
	Target    string
	Succeeded bool
	Timestamp time.Time
}

func (e RollbackAppliedEvent) EventType() string { return EventTypeRollbackApplied }
func (e RollbackAppliedEvent) Agent() string     { return "" }
