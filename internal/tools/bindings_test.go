package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/fentz26/crewd/internal/audit"
	"github.com/fentz26/crewd/internal/authz"
	"github.com/fentz26/crewd/internal/coordination"
	"github.com/fentz26/crewd/internal/models"
	"github.com/fentz26/crewd/internal/store"
)

func newBoundRegistry(t *testing.T) *Registry {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	aw := audit.NewWriter(s)
	locks := coordination.NewLockManager(s, aw, authz.AllowAll)
	queue := coordination.NewWorkQueue(s, aw, authz.AllowAll)
	registry := coordination.NewAgentRegistry(s, locks, aw, authz.AllowAll)
	handoffs := coordination.NewHandoffStore(s, aw, authz.AllowAll)

	r := NewRegistry()
	RegisterCoordinationTools(r, Services{Locks: locks, Queue: queue, Registry: registry, Handoffs: handoffs})
	return r
}

func TestEveryOperationHasATool(t *testing.T) {
	r := newBoundRegistry(t)

	expected := []string{
		"acquire_lock", "release_lock", "check_locks",
		"submit_task", "claim_task", "start_task", "complete_task", "get_task", "cancel_task",
		"register_agent", "heartbeat", "discover_agents", "sweep_dead_agents", "end_session",
		"write_handoff", "read_handoff",
	}
	if r.Count() != len(expected) {
		t.Errorf("Expected %d tools, got %d", len(expected), r.Count())
	}

	registered := make(map[string]bool)
	for _, tool := range r.List() {
		registered[tool.Name] = true
	}
	for _, name := range expected {
		if !registered[name] {
			t.Errorf("Missing tool %s", name)
		}
	}
}

func TestLockLifecycleThroughTools(t *testing.T) {
	r := newBoundRegistry(t)
	ctx := context.Background()

	out, err := r.Call(ctx, "acquire_lock", json.RawMessage(
		`{"agent_id":"agent-1","agent_type":"claude","resource_key":"src/main.go","ttl_seconds":60}`))
	if err != nil {
		t.Fatalf("acquire_lock failed: %v", err)
	}
	result := out.(*coordination.AcquireResult)
	if result.Status != coordination.AcquireAcquired {
		t.Fatalf("Expected acquired, got %s", result.Status)
	}

	// Competing agent sees a conflict, not an error
	out, err = r.Call(ctx, "acquire_lock", json.RawMessage(
		`{"agent_id":"agent-2","resource_key":"src/main.go"}`))
	if err != nil {
		t.Fatalf("acquire_lock failed: %v", err)
	}
	if out.(*coordination.AcquireResult).Status != coordination.AcquireConflict {
		t.Error("Expected conflict for held resource")
	}

	out, err = r.Call(ctx, "release_lock", json.RawMessage(
		`{"agent_id":"agent-1","resource_key":"src/main.go"}`))
	if err != nil {
		t.Fatalf("release_lock failed: %v", err)
	}
	if out.(map[string]string)["status"] != "released" {
		t.Errorf("Expected released, got %v", out)
	}
}

func TestTaskLifecycleThroughTools(t *testing.T) {
	r := newBoundRegistry(t)
	ctx := context.Background()

	out, err := r.Call(ctx, "submit_task", json.RawMessage(
		`{"agent_id":"orchestrator","task_type":"implement","description":"add parser"}`))
	if err != nil {
		t.Fatalf("submit_task failed: %v", err)
	}
	task := out.(*models.Task)
	if task.Priority != coordination.DefaultPriority {
		t.Errorf("Omitted priority should default to %d, got %d", coordination.DefaultPriority, task.Priority)
	}

	out, err = r.Call(ctx, "claim_task", json.RawMessage(`{"agent_id":"agent-1"}`))
	if err != nil {
		t.Fatalf("claim_task failed: %v", err)
	}
	claim := out.(*coordination.ClaimResult)
	if claim.Status != coordination.ClaimAssigned || claim.Task.TaskID != task.TaskID {
		t.Fatalf("Expected the submitted task assigned, got %+v", claim)
	}

	if _, err := r.Call(ctx, "complete_task", json.RawMessage(
		`{"agent_id":"agent-1","task_id":"`+task.TaskID+`","success":true}`)); err != nil {
		t.Fatalf("complete_task failed: %v", err)
	}

	out, err = r.Call(ctx, "get_task", json.RawMessage(`{"task_id":"`+task.TaskID+`"}`))
	if err != nil {
		t.Fatalf("get_task failed: %v", err)
	}
	snapshot := out.(map[string]interface{})
	if snapshot["found"] != true {
		t.Fatal("Expected the task to be found")
	}
	if snapshot["task"].(*models.Task).Status != models.TaskStatusCompleted {
		t.Errorf("Expected completed, got %s", snapshot["task"].(*models.Task).Status)
	}
}

func TestExplicitPriorityZeroPreserved(t *testing.T) {
	r := newBoundRegistry(t)
	ctx := context.Background()

	out, err := r.Call(ctx, "submit_task", json.RawMessage(
		`{"agent_id":"orchestrator","task_type":"hotfix","priority":0}`))
	if err != nil {
		t.Fatalf("submit_task failed: %v", err)
	}
	if out.(*models.Task).Priority != 0 {
		t.Errorf("Explicit priority 0 must not be replaced, got %d", out.(*models.Task).Priority)
	}
}
