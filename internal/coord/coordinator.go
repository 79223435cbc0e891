// Package coord implements the status and handoff protocol: atomic
// per-agent status records, write-once handoff markers, and blockers. It is
// the synchronization primitive the scheduler and monitors build on; all
// state lives in the shared store, no process-local locks.
package coord

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/convoy-sh/convoy/internal/events"
	"github.com/convoy-sh/convoy/internal/state"
)

// ErrNotFound is returned when an agent has no status record.
var ErrNotFound = state.ErrNotFound

// Coordinator reads and writes agent status, handoff markers, and blockers.
type Coordinator struct {
	store     state.Store
	freshness time.Duration
	bus       *events.Bus // optional; nil disables publishing
}

// New creates a Coordinator over the given store. freshness is the window
// beyond which a status record counts as stale. bus may be nil.
func New(store state.Store, freshness time.Duration, bus *events.Bus) *Coordinator {
	return &Coordinator{store: store, freshness: freshness, bus: bus}
}

func statusKey(agent string) string  { return "status/" + agent + ".json" }
func handoffKey(agent string) string { return "handoffs/" + agent + "-complete" }
func blockerKey(agent string) string { return "blockers/" + agent }

// PhaseHandoffName is the synthetic agent name used for phase-level
// handoff markers.
func PhaseHandoffName(phase string) string {
	return "phase-" + phase
}

// WriteStatus atomically replaces the agent's status record. The record's
// LastUpdate is stamped if unset. Only the owning agent may call this.
func (c *Coordinator) WriteStatus(agent string, rec StatusRecord) error {
	if rec.LastUpdate.IsZero() {
		rec.LastUpdate = time.Now().UTC()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling status for %s: %w", agent, err)
	}
	if err := c.store.Write(statusKey(agent), data); err != nil {
		return fmt.Errorf("writing status for %s: %w", agent, err)
	}
	if c.bus != nil {
		c.bus.Publish(events.TopicStatus, events.StatusUpdatedEvent{
			AgentName:    agent,
			Phase:        rec.Phase,
			TestsPassing: rec.TestsPassing,
			TestsTotal:   rec.TestsTotal,
			Timestamp:    rec.LastUpdate,
		})
	}
	return nil
}

// ReadStatus returns the agent's status record, or ErrNotFound.
func (c *Coordinator) ReadStatus(agent string) (StatusRecord, error) {
	data, err := c.store.Read(statusKey(agent))
	if err != nil {
		return StatusRecord{}, err
	}
	var rec StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return StatusRecord{}, fmt.Errorf("parsing status for %s: %w", agent, err)
	}
	return rec, nil
}

// IsStale reports whether the record is older than the freshness window at
// the given instant. Stale records are treated as "agent not making
// progress" regardless of content.
func (c *Coordinator) IsStale(rec StatusRecord, now time.Time) bool {
	return now.Sub(rec.LastUpdate) > c.freshness
}

// MarkHandoff creates the agent's completion marker. Idempotent: once a
// handoff exists, re-invocation is a no-op and the original summary is
// preserved. The marker's presence is the control signal; the summary text
// is advisory only.
func (c *Coordinator) MarkHandoff(agent, summary string) error {
	key := handoffKey(agent)
	exists, err := c.store.Exists(key)
	if err != nil {
		return fmt.Errorf("checking handoff for %s: %w", agent, err)
	}
	if exists {
		return nil
	}
	content := fmt.Sprintf("%s completed at %s\n\n%s\n",
		agent, time.Now().UTC().Format(time.RFC3339), summary)
	if err := c.store.Write(key, []byte(content)); err != nil {
		return fmt.Errorf("writing handoff for %s: %w", agent, err)
	}
	if c.bus != nil {
		c.bus.Publish(events.TopicStatus, events.HandoffCreatedEvent{
			AgentName: agent,
			Summary:   summary,
			Timestamp: time.Now().UTC(),
		})
	}
	return nil
}

// HasHandoff reports whether the agent's completion marker exists.
func (c *Coordinator) HasHandoff(agent string) (bool, error) {
	return c.store.Exists(handoffKey(agent))
}

// FileBlocker records that an agent cannot proceed. The artifact embeds
// the CRITICAL token for critical blockers so the severity survives in
// plain text.
func (c *Coordinator) FileBlocker(b Blocker) error {
	if b.FiledAt.IsZero() {
		b.FiledAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling blocker for %s: %w", b.AgentName, err)
	}
	if b.Critical {
		data = append([]byte(criticalToken+"\n"), data...)
	}
	if err := c.store.Write(blockerKey(b.AgentName), data); err != nil {
		return fmt.Errorf("writing blocker for %s: %w", b.AgentName, err)
	}
	if c.bus != nil {
		c.bus.Publish(events.TopicStatus, events.BlockerRaisedEvent{
			AgentName: b.AgentName,
			Reason:    b.Reason,
			Critical:  b.Critical,
			Timestamp: b.FiledAt,
		})
	}
	return nil
}

// ClearBlocker removes an agent's blocker once resolved.
func (c *Coordinator) ClearBlocker(agent string) error {
	return c.store.Delete(blockerKey(agent))
}

// Blockers returns every current blocker.
func (c *Coordinator) Blockers() ([]Blocker, error) {
	keys, err := c.store.List("blockers")
	if err != nil {
		return nil, fmt.Errorf("listing blockers: %w", err)
	}
	var out []Blocker
	for _, key := range keys {
		data, err := c.store.Read(key)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				continue // removed between list and read
			}
			return nil, err
		}
		b, err := parseBlocker(data)
		if err != nil {
			return nil, fmt.Errorf("parsing blocker %s: %w", key, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// HasCriticalBlocker reports whether any agent has filed a critical
// blocker. This is the escalation trigger.
func (c *Coordinator) HasCriticalBlocker() (bool, error) {
	blockers, err := c.Blockers()
	if err != nil {
		return false, err
	}
	for _, b := range blockers {
		if b.Critical {
			return true, nil
		}
	}
	return false, nil
}

func parseBlocker(data []byte) (Blocker, error) {
	text := string(data)
	if rest, ok := strings.CutPrefix(text, criticalToken+"\n"); ok {
		text = rest
	}
	var b Blocker
	if err := json.Unmarshal([]byte(text), &b); err != nil {
		return Blocker{}, err
	}
	return b, nil
}
