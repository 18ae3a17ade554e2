package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fentz26/crewd/internal/audit"
	"github.com/fentz26/crewd/internal/authz"
	"github.com/fentz26/crewd/internal/coordination"
	"github.com/fentz26/crewd/internal/models"
	"github.com/fentz26/crewd/internal/store"
)

func TestHealthEndpoint_OK(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	// Create a test request
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	// Call the handler
	s.handleHealth(w, req)

	// Check response
	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	server := NewServer(newServices(st), st, "127.0.0.1:0")

	// Close the store to simulate DB error
	st.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if health.OK {
		t.Error("Expected health.OK to be false when DB is down")
	}
	if health.DB == "ok" {
		t.Error("Expected DB status to indicate error")
	}
}

func TestStorageFailureReportsUnavailable(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	server := NewServer(newServices(st), st, "127.0.0.1:0")
	st.Close()

	req := httptest.NewRequest(http.MethodGet, "/locks", nil)
	w := httptest.NewRecorder()
	server.handleLocks(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 for storage failure, got %d", w.Code)
	}

	w = postJSON(t, server.handleTasks, "/tasks", map[string]interface{}{
		"agent_id":  "orchestrator",
		"task_type": "implement",
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 for storage failure on submit, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	s.SetAuthToken("secret")

	handler := s.auth(s.handleLocks)

	req := httptest.NewRequest(http.MethodGet, "/locks", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Result().StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/locks", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 with bad token, got %d", w.Result().StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/locks", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with valid token, got %d", w.Result().StatusCode)
	}
}

func TestLockAcquireAndConflict(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, s.handleLockAcquire, "/locks/acquire", map[string]interface{}{
		"agent_id":     "agent-1",
		"resource_key": "src/main.go",
		"reason":       "editing",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for fresh acquire, got %d: %s", w.Code, w.Body.String())
	}
	var result coordination.AcquireResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Status != coordination.AcquireAcquired {
		t.Errorf("Expected acquired, got %s", result.Status)
	}

	// Second agent hits the held lock: 409 with the holder in the payload
	w = postJSON(t, s.handleLockAcquire, "/locks/acquire", map[string]interface{}{
		"agent_id":     "agent-2",
		"resource_key": "src/main.go",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for held resource, got %d", w.Code)
	}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Status != coordination.AcquireConflict {
		t.Errorf("Expected conflict status, got %s", result.Status)
	}
	if result.Owner != "agent-1" {
		t.Errorf("Expected holder agent-1 in conflict payload, got %s", result.Owner)
	}
	if result.ExpiresAt.IsZero() {
		t.Error("Conflict payload must carry the holder's expiry")
	}
}

func TestLockAcquireExplicitZeroTTL(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, s.handleLockAcquire, "/locks/acquire", map[string]interface{}{
		"agent_id":     "agent-1",
		"resource_key": "src/main.go",
		"ttl_seconds":  0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for zero-ttl acquire, got %d: %s", w.Code, w.Body.String())
	}

	// The instantly-expired lock must not block the next caller.
	w = postJSON(t, s.handleLockAcquire, "/locks/acquire", map[string]interface{}{
		"agent_id":     "agent-2",
		"resource_key": "src/main.go",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 over an expired lock, got %d", w.Code)
	}
	var result coordination.AcquireResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Status != coordination.AcquireAcquired {
		t.Errorf("Expected acquired, got %s (owner %s)", result.Status, result.Owner)
	}
}

func TestLockAcquireValidation(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, s.handleLockAcquire, "/locks/acquire", map[string]interface{}{
		"agent_id": "agent-1",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing resource key, got %d", w.Code)
	}
}

func TestLockReleaseStatusMapping(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	postJSON(t, s.handleLockAcquire, "/locks/acquire", map[string]interface{}{
		"agent_id":     "agent-1",
		"resource_key": "src/main.go",
	})

	// Wrong agent: 403, lock stays
	w := postJSON(t, s.handleLockRelease, "/locks/release", map[string]interface{}{
		"agent_id":     "agent-2",
		"resource_key": "src/main.go",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-owner release, got %d", w.Code)
	}

	// Owner: 200
	w = postJSON(t, s.handleLockRelease, "/locks/release", map[string]interface{}{
		"agent_id":     "agent-1",
		"resource_key": "src/main.go",
	})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for owner release, got %d", w.Code)
	}

	// Nothing left to release: 404
	w = postJSON(t, s.handleLockRelease, "/locks/release", map[string]interface{}{
		"agent_id":     "agent-1",
		"resource_key": "src/main.go",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for absent lock, got %d", w.Code)
	}
}

func TestListLocksFiltered(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	postJSON(t, s.handleLockAcquire, "/locks/acquire", map[string]interface{}{
		"agent_id": "agent-1", "resource_key": "a.go",
	})
	postJSON(t, s.handleLockAcquire, "/locks/acquire", map[string]interface{}{
		"agent_id": "agent-1", "resource_key": "b.go",
	})

	req := httptest.NewRequest(http.MethodGet, "/locks?keys=a.go", nil)
	w := httptest.NewRecorder()
	s.handleLocks(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body struct {
		Locks []models.FileLock `json:"locks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Locks) != 1 || body.Locks[0].ResourceKey != "a.go" {
		t.Errorf("Expected only a.go, got %+v", body.Locks)
	}
}

func TestTaskSubmitAndClaim(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, s.handleTasks, "/tasks", map[string]interface{}{
		"agent_id":  "orchestrator",
		"task_type": "implement",
		"priority":  1,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for submit, got %d: %s", w.Code, w.Body.String())
	}
	var task models.Task
	if err := json.NewDecoder(w.Body).Decode(&task); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if task.TaskID == "" || task.Status != models.TaskStatusPending {
		t.Errorf("Unexpected submitted task: %+v", task)
	}

	w = postJSON(t, s.handleTaskClaim, "/tasks/claim", map[string]interface{}{
		"agent_id": "agent-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for claim, got %d", w.Code)
	}
	var claim coordination.ClaimResult
	if err := json.NewDecoder(w.Body).Decode(&claim); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if claim.Status != coordination.ClaimAssigned {
		t.Fatalf("Expected assigned, got %s", claim.Status)
	}
	if claim.Task == nil || claim.Task.TaskID != task.TaskID {
		t.Errorf("Expected claimed task %s, got %+v", task.TaskID, claim.Task)
	}

	// Empty queue is a normal outcome, still 200
	w = postJSON(t, s.handleTaskClaim, "/tasks/claim", map[string]interface{}{
		"agent_id": "agent-2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for empty claim, got %d", w.Code)
	}
	if err := json.NewDecoder(w.Body).Decode(&claim); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if claim.Status != coordination.ClaimNoWork {
		t.Errorf("Expected no_work_available, got %s", claim.Status)
	}
}

func TestSubmitUnknownDependency(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, s.handleTasks, "/tasks", map[string]interface{}{
		"agent_id":   "orchestrator",
		"task_type":  "implement",
		"depends_on": []string{"no-such-task"},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for unknown dependency, got %d", w.Code)
	}
}

func TestTaskByIDRouting(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, s.handleTasks, "/tasks", map[string]interface{}{
		"agent_id":  "orchestrator",
		"task_type": "implement",
	})
	var task models.Task
	if err := json.NewDecoder(w.Body).Decode(&task); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	postJSON(t, s.handleTaskClaim, "/tasks/claim", map[string]interface{}{
		"agent_id": "agent-1",
	})

	// GET /tasks/{id}
	req := httptest.NewRequest(http.MethodGet, "/tasks/"+task.TaskID, nil)
	w2 := httptest.NewRecorder()
	s.handleTaskByID(w2, req)
	if w2.Code != http.StatusOK {
		t.Errorf("Expected 200 for get, got %d", w2.Code)
	}

	// GET of an unknown id
	req = httptest.NewRequest(http.MethodGet, "/tasks/no-such-task", nil)
	w2 = httptest.NewRecorder()
	s.handleTaskByID(w2, req)
	if w2.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown task, got %d", w2.Code)
	}

	// Wrong agent reporting completion: 403
	w2 = postJSON(t, s.handleTaskByID, "/tasks/"+task.TaskID+"/complete", map[string]interface{}{
		"agent_id": "impostor",
		"success":  true,
	})
	if w2.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-assignee, got %d", w2.Code)
	}

	// Assignee: 200
	w2 = postJSON(t, s.handleTaskByID, "/tasks/"+task.TaskID+"/complete", map[string]interface{}{
		"agent_id": "agent-1",
		"success":  true,
	})
	if w2.Code != http.StatusOK {
		t.Errorf("Expected 200 for assignee completion, got %d", w2.Code)
	}

	// Terminal task: 409
	w2 = postJSON(t, s.handleTaskByID, "/tasks/"+task.TaskID+"/complete", map[string]interface{}{
		"agent_id": "agent-1",
		"success":  true,
	})
	if w2.Code != http.StatusConflict {
		t.Errorf("Expected 409 for terminal task, got %d", w2.Code)
	}
}

func TestAgentRegisterAndDiscover(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, s.handleAgentRegister, "/agents/register", map[string]interface{}{
		"agent_id":     "reviewer-1",
		"agent_type":   "claude",
		"capabilities": []string{"review"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for register, got %d: %s", w.Code, w.Body.String())
	}
	var session models.AgentSession
	if err := json.NewDecoder(w.Body).Decode(&session); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if session.SessionID == "" {
		t.Error("Expected generated session id")
	}

	req := httptest.NewRequest(http.MethodGet, "/agents?capability=review", nil)
	w2 := httptest.NewRecorder()
	s.handleAgents(w2, req)
	var sessions []models.AgentSession
	if err := json.NewDecoder(w2.Body).Decode(&sessions); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(sessions) != 1 || sessions[0].AgentID != "reviewer-1" {
		t.Errorf("Expected reviewer-1, got %+v", sessions)
	}

	w2 = postJSON(t, s.handleAgentHeartbeat, "/agents/heartbeat", map[string]interface{}{
		"session_id": session.SessionID,
	})
	if w2.Code != http.StatusOK {
		t.Errorf("Expected 200 for heartbeat, got %d", w2.Code)
	}

	w2 = postJSON(t, s.handleAgentHeartbeat, "/agents/heartbeat", map[string]interface{}{
		"session_id": "no-such-session",
	})
	if w2.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session heartbeat, got %d", w2.Code)
	}
}

func TestHandoffRoundTrip(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, s.handleHandoffs, "/handoffs", map[string]interface{}{
		"agent_id":   "builder-1",
		"agent_name": "builder-1",
		"summary":    "wired the parser",
		"next_steps": []string{"add error recovery"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for handoff write, got %d: %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/handoffs?agent=builder-1&limit=5", nil)
	w2 := httptest.NewRecorder()
	s.handleHandoffs(w2, req)
	var docs []models.HandoffDocument
	if err := json.NewDecoder(w2.Body).Decode(&docs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(docs) != 1 || docs[0].Summary != "wired the parser" {
		t.Errorf("Expected the written handoff back, got %+v", docs)
	}
}

func TestHandoffWriteValidationStatus(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	w := postJSON(t, s.handleHandoffs, "/handoffs", map[string]interface{}{
		"agent_id":   "builder-1",
		"agent_name": "builder-1",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing summary, got %d", w.Code)
	}
}

func TestToolSurfaceDisabled(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	w := httptest.NewRecorder()
	s.handleToolList(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when tool surface not enabled, got %d", w.Code)
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func newServices(st *store.Store) Services {
	aw := audit.NewWriter(st)
	locks := coordination.NewLockManager(st, aw, authz.AllowAll)
	return Services{
		Locks:    locks,
		Queue:    coordination.NewWorkQueue(st, aw, authz.AllowAll),
		Registry: coordination.NewAgentRegistry(st, locks, aw, authz.AllowAll),
		Handoffs: coordination.NewHandoffStore(st, aw, authz.AllowAll),
	}
}

func newTestServer(t *testing.T) (*Server, func()) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	server := NewServer(newServices(st), st, "127.0.0.1:0")

	cleanup := func() {
		st.Close()
	}

	return server, cleanup
}
