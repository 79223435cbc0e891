package coord

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/convoy-sh/convoy/internal/state"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	store, err := state.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}
	return New(store, 5*time.Minute, nil)
}

func TestStatusRoundTrip(t *testing.T) {
	c := newTestCoordinator(t)

	rec := StatusRecord{
		Phase:        "implementation",
		TestsPassing: 12,
		TestsTotal:   20,
		CurrentTask:  "wiring service layer",
		Restarts:     1,
	}
	if err := c.WriteStatus("services", rec); err != nil {
		t.Fatalf("WriteStatus failed: %v", err)
	}

	got, err := c.ReadStatus("services")
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if got.Phase != "implementation" || got.TestsPassing != 12 || got.TestsTotal != 20 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Restarts != 1 {
		t.Errorf("Restarts = %d, want 1", got.Restarts)
	}
	if got.LastUpdate.IsZero() {
		t.Error("LastUpdate not stamped on write")
	}
}

func TestReadStatusNotFound(t *testing.T) {
	c := newTestCoordinator(t)

	_, err := c.ReadStatus("ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIsStale(t *testing.T) {
	c := newTestCoordinator(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"fresh", time.Minute, false},
		{"at the window", 5 * time.Minute, false},
		{"just past the window", 5*time.Minute + time.Second, true},
		{"very old", 24 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := StatusRecord{LastUpdate: now.Add(-tt.age)}
			if got := c.IsStale(rec, now); got != tt.want {
				t.Errorf("IsStale(age=%s) = %v, want %v", tt.age, got, tt.want)
			}
		})
	}
}

func TestMarkHandoffIdempotent(t *testing.T) {
	c := newTestCoordinator(t)

	if err := c.MarkHandoff("schema", "schema tables in place"); err != nil {
		t.Fatalf("MarkHandoff failed: %v", err)
	}

	ok, err := c.HasHandoff("schema")
	if err != nil {
		t.Fatalf("HasHandoff failed: %v", err)
	}
	if !ok {
		t.Fatal("handoff marker missing after MarkHandoff")
	}

	// Second invocation is a no-op, not an error, and preserves the
	// original summary.
	if err := c.MarkHandoff("schema", "a different summary"); err != nil {
		t.Fatalf("repeated MarkHandoff failed: %v", err)
	}

	store, _ := c.store.(*state.DirStore)
	data, err := store.Read("handoffs/schema-complete")
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	if !strings.Contains(string(data), "schema tables in place") {
		t.Error("original handoff summary not preserved")
	}
	if strings.Contains(string(data), "a different summary") {
		t.Error("second summary overwrote write-once marker")
	}
}

func TestHasHandoffAbsent(t *testing.T) {
	c := newTestCoordinator(t)

	ok, err := c.HasHandoff("services")
	if err != nil {
		t.Fatalf("HasHandoff failed: %v", err)
	}
	if ok {
		t.Error("HasHandoff true for agent that never handed off")
	}
}

func TestBlockers(t *testing.T) {
	c := newTestCoordinator(t)

	critical, err := c.HasCriticalBlocker()
	if err != nil {
		t.Fatalf("HasCriticalBlocker failed: %v", err)
	}
	if critical {
		t.Error("critical blocker reported on empty store")
	}

	if err := c.FileBlocker(Blocker{AgentName: "hooks", Reason: "upstream schema missing"}); err != nil {
		t.Fatalf("FileBlocker failed: %v", err)
	}
	if err := c.FileBlocker(Blocker{AgentName: "services", Reason: "database unreachable", Critical: true}); err != nil {
		t.Fatalf("FileBlocker failed: %v", err)
	}

	blockers, err := c.Blockers()
	if err != nil {
		t.Fatalf("Blockers failed: %v", err)
	}
	if len(blockers) != 2 {
		t.Fatalf("got %d blockers, want 2", len(blockers))
	}

	critical, err = c.HasCriticalBlocker()
	if err != nil {
		t.Fatalf("HasCriticalBlocker failed: %v", err)
	}
	if !critical {
		t.Error("critical blocker not detected")
	}

	// The artifact carries the severity token in plain text.
	store, _ := c.store.(*state.DirStore)
	data, err := store.Read("blockers/services")
	if err != nil {
		t.Fatalf("reading blocker artifact: %v", err)
	}
	if !strings.HasPrefix(string(data), "CRITICAL") {
		t.Error("critical blocker artifact missing CRITICAL token")
	}

	if err := c.ClearBlocker("services"); err != nil {
		t.Fatalf("ClearBlocker failed: %v", err)
	}
	critical, err = c.HasCriticalBlocker()
	if err != nil {
		t.Fatalf("HasCriticalBlocker failed: %v", err)
	}
	if critical {
		t.Error("critical blocker still reported after clear")
	}
}
