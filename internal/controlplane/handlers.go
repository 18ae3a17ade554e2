package controlplane

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/crewd/internal/coordination"
	"github.com/fentz26/crewd/internal/models"
)

// callerBody is embedded in mutating request bodies; identity travels in the
// call, not in the environment.
type callerBody struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (c callerBody) caller() coordination.Caller {
	return coordination.Caller{AgentID: c.AgentID, AgentType: c.AgentType, SessionID: c.SessionID}
}

// --- Lock Handlers ---

// handleLocks handles GET /locks?keys=a,b
func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var keys []string
	if raw := r.URL.Query().Get("keys"); raw != "" {
		keys = strings.Split(raw, ",")
	}
	locks, err := s.services.Locks.Check(r.Context(), keys)
	if err != nil {
		writeError(w, err)
		return
	}
	if locks == nil {
		locks = []models.FileLock{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"locks": locks})
}

// acquireLockRequest carries ttl_seconds as a pointer so an explicit 0 is
// distinguishable from an omitted field, mirroring how priority travels.
type acquireLockRequest struct {
	callerBody
	ResourceKey string            `json:"resource_key"`
	Reason      string            `json:"reason,omitempty"`
	TTLSeconds  *int              `json:"ttl_seconds,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
}

func (s *Server) handleLockAcquire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req acquireLockRequest
	if !decodeBody(w, r, &req) {
		return
	}

	acquireReq := coordination.AcquireRequest{
		Reason:  req.Reason,
		Context: req.Context,
	}
	if req.TTLSeconds != nil {
		ttl := time.Duration(*req.TTLSeconds) * time.Second
		acquireReq.TTL = &ttl
	}
	result, err := s.services.Locks.Acquire(r.Context(), req.caller(), req.ResourceKey, acquireReq)
	if err != nil {
		writeError(w, err)
		return
	}

	// A conflict is an actionable negative, not an error: the payload names
	// the holder and its expiry so the caller can wait or work elsewhere.
	status := http.StatusOK
	if result.Status == coordination.AcquireConflict {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

type releaseLockRequest struct {
	callerBody
	ResourceKey string `json:"resource_key"`
}

func (s *Server) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req releaseLockRequest
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := s.services.Locks.Release(r.Context(), req.caller(), req.ResourceKey)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	switch outcome {
	case coordination.ReleaseNotOwner:
		status = http.StatusForbidden
	case coordination.ReleaseNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"status": string(outcome)})
}

// --- Task Handlers ---

type submitTaskRequest struct {
	callerBody
	TaskType     string     `json:"task_type"`
	Description  string     `json:"description,omitempty"`
	InputPayload string     `json:"input_payload,omitempty"`
	Priority     *int       `json:"priority,omitempty"`
	DependsOn    []string   `json:"depends_on,omitempty"`
	MaxAttempts  int        `json:"max_attempts,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
}

// handleTasks handles POST /tasks and GET /tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req submitTaskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		priority := coordination.DefaultPriority
		if req.Priority != nil {
			priority = *req.Priority
		}
		task, err := s.services.Queue.Submit(r.Context(), req.caller(), coordination.SubmitRequest{
			TaskType:     req.TaskType,
			Description:  req.Description,
			InputPayload: req.InputPayload,
			Priority:     priority,
			DependsOn:    req.DependsOn,
			MaxAttempts:  req.MaxAttempts,
			Deadline:     req.Deadline,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)

	case http.MethodGet:
		tasks, err := s.services.Queue.List(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, err)
			return
		}
		if tasks == nil {
			tasks = []models.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type claimTaskRequest struct {
	callerBody
	AllowedTaskTypes []string `json:"allowed_task_types,omitempty"`
}

func (s *Server) handleTaskClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req claimTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.services.Queue.Claim(r.Context(), req.caller(), req.AllowedTaskTypes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleTaskByID handles /tasks/{id} and /tasks/{id}/{action}
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}

	taskID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getTask(w, r, taskID)
	case action == "start" && r.Method == http.MethodPost:
		s.startTask(w, r, taskID)
	case action == "complete" && r.Method == http.MethodPost:
		s.completeTask(w, r, taskID)
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancelTask(w, r, taskID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.services.Queue.Get(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req callerBody
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.services.Queue.Start(r.Context(), req.caller(), taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

type completeTaskRequest struct {
	callerBody
	Success       bool   `json:"success"`
	ResultPayload string `json:"result_payload,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req completeTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.services.Queue.Complete(r.Context(), req.caller(), taskID, req.Success, req.ResultPayload, req.ErrorMessage); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reported"})
}

type cancelTaskRequest struct {
	callerBody
	Reason string `json:"reason,omitempty"`
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request, taskID string) {
	var req cancelTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.services.Queue.Cancel(r.Context(), req.caller(), taskID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// --- Agent Handlers ---

// handleAgents handles GET /agents?capability=&status=
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions, err := s.services.Registry.Discover(r.Context(),
		r.URL.Query().Get("capability"),
		models.SessionStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.AgentSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type registerAgentRequest struct {
	callerBody
	Capabilities []string `json:"capabilities,omitempty"`
	CurrentTask  string   `json:"current_task,omitempty"`
}

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registerAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	session, err := s.services.Registry.Register(r.Context(), req.caller(), coordination.RegisterRequest{
		Capabilities: req.Capabilities,
		CurrentTask:  req.CurrentTask,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type heartbeatRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req heartbeatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.services.Registry.Heartbeat(r.Context(), req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

type sweepRequest struct {
	StaleThresholdSeconds int `json:"stale_threshold_seconds,omitempty"`
}

func (s *Server) handleAgentSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sweepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reclaimed, err := s.services.Registry.SweepDeadAgents(r.Context(),
		time.Duration(req.StaleThresholdSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reclaimed": reclaimed})
}

func (s *Server) handleAgentEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req callerBody
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.services.Registry.EndSession(r.Context(), req.caller(), req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// --- Handoff Handlers ---

type writeHandoffRequest struct {
	callerBody
	AgentName     string   `json:"agent_name"`
	Summary       string   `json:"summary"`
	CompletedWork []string `json:"completed_work,omitempty"`
	InProgress    []string `json:"in_progress,omitempty"`
	Decisions     []string `json:"decisions,omitempty"`
	NextSteps     []string `json:"next_steps,omitempty"`
	RelevantFiles []string `json:"relevant_files,omitempty"`
}

// handleHandoffs handles POST /handoffs and GET /handoffs?agent=&limit=
func (s *Server) handleHandoffs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req writeHandoffRequest
		if !decodeBody(w, r, &req) {
			return
		}
		doc, err := s.services.Handoffs.Write(r.Context(), req.caller(), coordination.WriteRequest{
			AgentName:     req.AgentName,
			SessionID:     req.SessionID,
			Summary:       req.Summary,
			CompletedWork: req.CompletedWork,
			InProgress:    req.InProgress,
			Decisions:     req.Decisions,
			NextSteps:     req.NextSteps,
			RelevantFiles: req.RelevantFiles,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)

	case http.MethodGet:
		limit := 1
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}
		docs, err := s.services.Handoffs.Read(r.Context(), r.URL.Query().Get("agent"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, docs)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Tool Handlers ---

func (s *Server) handleToolList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.tools == nil {
		http.Error(w, "tool surface not enabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.tools.List())
}

type toolCallRequest struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.tools == nil {
		http.Error(w, "tool surface not enabled", http.StatusNotFound)
		return
	}
	var req toolCallRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.tools.Call(r.Context(), req.Name, req.Input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

// --- Stats Handler ---

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := map[string]interface{}{}
	if s.sweeper != nil {
		stats["sweeper"] = s.sweeper.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}
