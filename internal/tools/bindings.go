package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fentz26/crewd/internal/coordination"
	"github.com/fentz26/crewd/internal/models"
)

// Services bundles the coordination services the tool surface fronts.
type Services struct {
	Locks    *coordination.LockManager
	Queue    *coordination.WorkQueue
	Registry *coordination.AgentRegistry
	Handoffs *coordination.HandoffStore
}

// callerFields is embedded in every mutating tool input so agent identity is
// explicit in the call rather than ambient.
type callerFields struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (c callerFields) caller() coordination.Caller {
	return coordination.Caller{AgentID: c.AgentID, AgentType: c.AgentType, SessionID: c.SessionID}
}

func decode(input json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid tool input: %w", err)
	}
	return nil
}

// RegisterCoordinationTools registers one tool per coordination operation.
func RegisterCoordinationTools(r *Registry, svc Services) {
	r.Register("acquire_lock", "Acquire or refresh an exclusive TTL-bounded lock on a resource", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			callerFields
			ResourceKey string            `json:"resource_key"`
			Reason      string            `json:"reason,omitempty"`
			TTLSeconds  *int              `json:"ttl_seconds,omitempty"`
			Context     map[string]string `json:"context,omitempty"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		acquireReq := coordination.AcquireRequest{
			Reason:  req.Reason,
			Context: req.Context,
		}
		if req.TTLSeconds != nil {
			ttl := time.Duration(*req.TTLSeconds) * time.Second
			acquireReq.TTL = &ttl
		}
		return svc.Locks.Acquire(ctx, req.caller(), req.ResourceKey, acquireReq)
	})

	r.Register("release_lock", "Release a lock held by the calling agent", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			callerFields
			ResourceKey string `json:"resource_key"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		status, err := svc.Locks.Release(ctx, req.caller(), req.ResourceKey)
		if err != nil {
			return nil, err
		}
		return map[string]string{"status": string(status)}, nil
	})

	r.Register("check_locks", "List live locks, optionally filtered by resource keys", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			ResourceKeys []string `json:"resource_keys,omitempty"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		locks, err := svc.Locks.Check(ctx, req.ResourceKeys)
		if err != nil {
			return nil, err
		}
		if locks == nil {
			locks = []models.FileLock{}
		}
		return map[string]interface{}{"locks": locks}, nil
	})

	r.Register("submit_task", "Submit a new task to the work queue", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			callerFields
			TaskType     string   `json:"task_type"`
			Description  string   `json:"description,omitempty"`
			InputPayload string   `json:"input_payload,omitempty"`
			Priority     *int     `json:"priority,omitempty"`
			DependsOn    []string `json:"depends_on,omitempty"`
			MaxAttempts  int      `json:"max_attempts,omitempty"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		priority := coordination.DefaultPriority
		if req.Priority != nil {
			priority = *req.Priority
		}
		return svc.Queue.Submit(ctx, req.caller(), coordination.SubmitRequest{
			TaskType:     req.TaskType,
			Description:  req.Description,
			InputPayload: req.InputPayload,
			Priority:     priority,
			DependsOn:    req.DependsOn,
			MaxAttempts:  req.MaxAttempts,
		})
	})

	r.Register("claim_task", "Atomically claim the highest-priority eligible task", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			callerFields
			AllowedTaskTypes []string `json:"allowed_task_types,omitempty"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		return svc.Queue.Claim(ctx, req.caller(), req.AllowedTaskTypes)
	})

	r.Register("start_task", "Report that a claimed task is now running", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			callerFields
			TaskID string `json:"task_id"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		if err := svc.Queue.Start(ctx, req.caller(), req.TaskID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "running"}, nil
	})

	r.Register("complete_task", "Report success or failure of an assigned task", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			callerFields
			TaskID        string `json:"task_id"`
			Success       bool   `json:"success"`
			ResultPayload string `json:"result_payload,omitempty"`
			ErrorMessage  string `json:"error_message,omitempty"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		if err := svc.Queue.Complete(ctx, req.caller(), req.TaskID, req.Success, req.ResultPayload, req.ErrorMessage); err != nil {
			return nil, err
		}
		return map[string]string{"status": "reported"}, nil
	})

	r.Register("get_task", "Read a task snapshot without claiming it", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			TaskID string `json:"task_id"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		task, err := svc.Queue.Get(ctx, req.TaskID)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return map[string]interface{}{"found": false}, nil
		}
		return map[string]interface{}{"found": true, "task": task}, nil
	})

	r.Register("cancel_task", "Cancel a task (orchestrator-initiated)", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			callerFields
			TaskID string `json:"task_id"`
			Reason string `json:"reason,omitempty"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		if err := svc.Queue.Cancel(ctx, req.caller(), req.TaskID, req.Reason); err != nil {
			return nil, err
		}
		return map[string]string{"status": "cancelled"}, nil
	})

	r.Register("register_agent", "Register or refresh an agent session", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			callerFields
			Capabilities []string `json:"capabilities,omitempty"`
			CurrentTask  string   `json:"current_task,omitempty"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		return svc.Registry.Register(ctx, req.caller(), coordination.RegisterRequest{
			Capabilities: req.Capabilities,
			CurrentTask:  req.CurrentTask,
		})
	})

	r.Register("heartbeat", "Refresh the liveness timestamp of a session", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		if err := svc.Registry.Heartbeat(ctx, req.SessionID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "alive"}, nil
	})

	r.Register("discover_agents", "List agent sessions filtered by capability and status", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			Capability string `json:"capability,omitempty"`
			Status     string `json:"status,omitempty"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		sessions, err := svc.Registry.Discover(ctx, req.Capability, models.SessionStatus(req.Status))
		if err != nil {
			return nil, err
		}
		if sessions == nil {
			sessions = []models.AgentSession{}
		}
		return map[string]interface{}{"agents": sessions}, nil
	})

	r.Register("sweep_dead_agents", "Reclaim sessions with stale heartbeats and release their locks", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			StaleThresholdSeconds int `json:"stale_threshold_seconds,omitempty"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		reclaimed, err := svc.Registry.SweepDeadAgents(ctx, time.Duration(req.StaleThresholdSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		return map[string]int{"reclaimed": reclaimed}, nil
	})

	r.Register("end_session", "Gracefully end a session, releasing its locks", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			callerFields
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		if err := svc.Registry.EndSession(ctx, req.caller(), req.SessionID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "ended"}, nil
	})

	r.Register("write_handoff", "Append an immutable session handoff document", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			callerFields
			AgentName     string   `json:"agent_name"`
			Summary       string   `json:"summary"`
			CompletedWork []string `json:"completed_work,omitempty"`
			InProgress    []string `json:"in_progress,omitempty"`
			Decisions     []string `json:"decisions,omitempty"`
			NextSteps     []string `json:"next_steps,omitempty"`
			RelevantFiles []string `json:"relevant_files,omitempty"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		return svc.Handoffs.Write(ctx, req.caller(), coordination.WriteRequest{
			AgentName:     req.AgentName,
			SessionID:     req.SessionID,
			Summary:       req.Summary,
			CompletedWork: req.CompletedWork,
			InProgress:    req.InProgress,
			Decisions:     req.Decisions,
			NextSteps:     req.NextSteps,
			RelevantFiles: req.RelevantFiles,
		})
	})

	r.Register("read_handoff", "Read the most recent handoff documents", func(ctx context.Context, input json.RawMessage) (interface{}, error) {
		var req struct {
			AgentName string `json:"agent_name,omitempty"`
			Limit     int    `json:"limit,omitempty"`
		}
		if err := decode(input, &req); err != nil {
			return nil, err
		}
		docs, err := svc.Handoffs.Read(ctx, req.AgentName, req.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"handoffs": docs}, nil
	})
}
