package coord

import (
	"time"
)

// StatusRecord is the per-agent mutable status document. The owning agent
// is its only writer; every monitor reads it. Staleness is derived from
// LastUpdate against the freshness window, never stored.
type StatusRecord struct {
	Phase        string    `json:"phase"`
	TestsPassing int       `json:"testsPassing"`
	TestsTotal   int       `json:"testsTotal"`
	CurrentTask  string    `json:"currentTask"`
	Restarts     int       `json:"restarts"`
	LastUpdate   time.Time `json:"lastUpdate"`
}

// Blocker is an agent-authored "cannot proceed" fact. Critical blockers
// trigger escalation.
type Blocker struct {
	AgentName string    `json:"agent"`
	Reason    string    `json:"reason"`
	Critical  bool      `json:"critical"`
	FiledAt   time.Time `json:"filedAt"`
}

// criticalToken is the severity marker embedded in blocker artifacts so
// shell tooling can grep for escalations without parsing JSON.
const criticalToken = "CRITICAL"
