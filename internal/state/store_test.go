package state

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *DirStore {
	t.Helper()
	s, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}
	return s
}

func TestStoreReadWrite(t *testing.T) {
	s := newTestStore(t)

	if err := s.Write("status/schema.json", []byte(`{"phase":"implementation"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := s.Read("status/schema.json")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != `{"phase":"implementation"}` {
		t.Errorf("Read returned %q", string(data))
	}
}

func TestStoreReadNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Read("status/missing.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = s.ModTime("status/missing.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ModTime: expected ErrNotFound, got %v", err)
	}
}

func TestStoreInvalidKeys(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name string
		key  string
	}{
		{"parent traversal", "../outside"},
		{"nested traversal", "status/../../outside"},
		{"absolute path", "/etc/passwd"},
		{"empty key", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Write(tt.key, []byte("x")); err == nil {
				t.Errorf("Write(%q) succeeded, want error", tt.key)
			}
			if _, err := s.Read(tt.key); err == nil {
				t.Errorf("Read(%q) succeeded, want error", tt.key)
			}
		})
	}
}

func TestStoreExists(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Exists("handoffs/schema-complete")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("Exists returned true for absent key")
	}

	if err := s.Write("handoffs/schema-complete", []byte("done")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ok, err = s.Exists("handoffs/schema-complete")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("Exists returned false for present key")
	}
}

func TestStoreList(t *testing.T) {
	s := newTestStore(t)

	keys := []string{
		"status/hooks.json",
		"status/schema.json",
		"status/services.json",
		"handoffs/schema-complete",
	}
	for _, k := range keys {
		if err := s.Write(k, []byte("x")); err != nil {
			t.Fatalf("Write(%q) failed: %v", k, err)
		}
	}

	got, err := s.List("status")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"status/hooks.json", "status/schema.json", "status/services.json"}
	if len(got) != len(want) {
		t.Fatalf("List returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Listing an absent prefix is empty, not an error
	empty, err := s.List("snapshots")
	if err != nil {
		t.Fatalf("List on absent prefix failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List on absent prefix returned %v", empty)
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)

	if err := s.Write("blockers/schema", []byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Delete("blockers/schema"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete("blockers/schema"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

// TestStoreAtomicWrites hammers a single key with a writer alternating
// between two self-consistent payloads while readers poll. A reader must
// only ever observe one of the two complete payloads, never a splice.
func TestStoreAtomicWrites(t *testing.T) {
	s := newTestStore(t)

	const key = "status/services.json"
	old := []byte(strings.Repeat("A", 4096))
	new_ := []byte(strings.Repeat("B", 4096))

	if err := s.Write(key, old); err != nil {
		t.Fatalf("initial Write failed: %v", err)
	}

	const iterations = 200
	var wg sync.WaitGroup
	errCh := make(chan error, 8)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			payload := old
			if i%2 == 1 {
				payload = new_
			}
			if err := s.Write(key, payload); err != nil {
				errCh <- fmt.Errorf("writer: %w", err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				data, err := s.Read(key)
				if err != nil {
					errCh <- fmt.Errorf("reader: %w", err)
					return
				}
				if !bytes.Equal(data, old) && !bytes.Equal(data, new_) {
					errCh <- fmt.Errorf("reader observed torn write of %d bytes", len(data))
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}
