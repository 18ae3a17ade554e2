package audit

import (
	"path/filepath"
	"testing"

	"github.com/fentz26/crewd/internal/store"
)

func newTestWriter(t *testing.T) (*Writer, *store.Store) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return NewWriter(s), s
}

func TestRecordWritesEntry(t *testing.T) {
	w, s := newTestWriter(t)

	entry, err := w.Record("lock.acquire", map[string]string{"resource_key": "src/main.go"}, "acquired", "agent-1", "")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if entry.ID == "" {
		t.Error("Expected generated entry id")
	}
	if len(entry.InputsHash) != 64 {
		t.Errorf("Expected sha256 hex hash, got %q", entry.InputsHash)
	}

	entries, err := s.ListAudit(10)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Action != "lock.acquire" || entries[0].SubjectID != "agent-1" {
		t.Errorf("Unexpected entry: %+v", entries[0])
	}
	if entries[0].Outcome != "acquired" {
		t.Errorf("Expected outcome acquired, got %s", entries[0].Outcome)
	}
}

func TestIdenticalInputsHashEqually(t *testing.T) {
	w, _ := newTestWriter(t)

	a, err := w.Record("task.submit", map[string]string{"task_type": "implement"}, "pending", "t-1", "")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	b, err := w.Record("task.submit", map[string]string{"task_type": "implement"}, "pending", "t-2", "")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if a.InputsHash != b.InputsHash {
		t.Error("Same inputs must hash to the same value")
	}

	c, err := w.Record("task.submit", map[string]string{"task_type": "review"}, "pending", "t-3", "")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if c.InputsHash == a.InputsHash {
		t.Error("Different inputs must hash differently")
	}
}

func TestListAuditNewestFirst(t *testing.T) {
	w, s := newTestWriter(t)

	for _, action := range []string{"first", "second", "third"} {
		if _, err := w.Record(action, nil, "ok", "", ""); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	entries, err := s.ListAudit(2)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected limit 2, got %d", len(entries))
	}
	if entries[0].Action != "third" || entries[1].Action != "second" {
		t.Errorf("Expected newest first, got %s then %s", entries[0].Action, entries[1].Action)
	}
}
