// Package alert writes violation alert artifacts to the shared-state tree.
// One artifact per detection; monitors only ever append here, never touch
// agent-authored state.
package alert

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/convoy-sh/convoy/internal/state"
)

// Severity levels, mildest first.
const (
	SeverityWarning   = "warning"
	SeverityViolation = "violation"
	SeverityCritical  = "critical"
)

// Alert is one detected policy or boundary violation.
type Alert struct {
	Agent    string    `json:"agent"`
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Cycle    int       `json:"cycle"`
	Detail   string    `json:"detail"`
	RaisedAt time.Time `json:"raisedAt"`
}

// Writer appends alerts to the shared store.
type Writer struct {
	store state.Store
}

// NewWriter creates an alert writer.
func NewWriter(store state.Store) *Writer {
	return &Writer{store: store}
}

// Write records one alert under alerts/<agent>/.
func (w *Writer) Write(a Alert) error {
	if a.RaisedAt.IsZero() {
		a.RaisedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	key := fmt.Sprintf("alerts/%s/cycle-%04d-%s-%d.json",
		a.Agent, a.Cycle, a.Kind, a.RaisedAt.UnixNano())
	if err := w.store.Write(key, data); err != nil {
		return fmt.Errorf("writing alert: %w", err)
	}
	return nil
}

// List returns all alerts for an agent, or every alert when agent is empty.
func (w *Writer) List(agent string) ([]Alert, error) {
	prefix := "alerts"
	if agent != "" {
		prefix = "alerts/" + agent
	}
	keys, err := w.store.List(prefix)
	if err != nil {
		return nil, err
	}
	var out []Alert
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := w.store.Read(key)
		if err != nil {
			return nil, err
		}
		var a Alert
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("parsing alert %s: %w", key, err)
		}
		out = append(out, a)
	}
	return out, nil
}
