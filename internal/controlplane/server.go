// Package controlplane provides the HTTP transport for the crewd
// coordination core. It is thin protocol translation: each endpoint maps
// onto one coordination operation with equivalent semantics, and the bearer
// credential a caller supplies is checked for transport access but never
// interpreted by the core.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/crewd/internal/coordination"
	"github.com/fentz26/crewd/internal/store"
	"github.com/fentz26/crewd/internal/sweeper"
	"github.com/fentz26/crewd/internal/tools"
)

// Version is the control plane API version reported by /health.
const Version = "0.2.0"

// Services bundles the coordination services behind the HTTP surface.
type Services struct {
	Locks    *coordination.LockManager
	Queue    *coordination.WorkQueue
	Registry *coordination.AgentRegistry
	Handoffs *coordination.HandoffStore
}

// Server provides the HTTP API for crewd.
type Server struct {
	services  Services
	store     *store.Store
	tools     *tools.Registry
	sweeper   *sweeper.Sweeper
	addr      string
	authToken string
	server    *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(services Services, st *store.Store, addr string) *Server {
	return &Server{
		services: services,
		store:    st,
		addr:     addr,
	}
}

// SetToolRegistry exposes the tool-call surface at /tools.
func (s *Server) SetToolRegistry(r *tools.Registry) {
	s.tools = r
}

// SetSweeper exposes sweeper counters at /stats.
func (s *Server) SetSweeper(sw *sweeper.Sweeper) {
	s.sweeper = sw
}

// SetAuthToken requires callers to present the token as a bearer credential.
// The token is compared, never parsed; interpretation belongs to whoever
// issued it.
func (s *Server) SetAuthToken(token string) {
	s.authToken = token
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/locks", s.auth(s.handleLocks))
	mux.HandleFunc("/locks/acquire", s.auth(s.handleLockAcquire))
	mux.HandleFunc("/locks/release", s.auth(s.handleLockRelease))

	mux.HandleFunc("/tasks", s.auth(s.handleTasks))
	mux.HandleFunc("/tasks/claim", s.auth(s.handleTaskClaim))
	mux.HandleFunc("/tasks/", s.auth(s.handleTaskByID))

	mux.HandleFunc("/agents", s.auth(s.handleAgents))
	mux.HandleFunc("/agents/register", s.auth(s.handleAgentRegister))
	mux.HandleFunc("/agents/heartbeat", s.auth(s.handleAgentHeartbeat))
	mux.HandleFunc("/agents/sweep", s.auth(s.handleAgentSweep))
	mux.HandleFunc("/agents/end", s.auth(s.handleAgentEnd))

	mux.HandleFunc("/handoffs", s.auth(s.handleHandoffs))

	mux.HandleFunc("/tools", s.auth(s.handleToolList))
	mux.HandleFunc("/tools/call", s.auth(s.handleToolCall))

	mux.HandleFunc("/stats", s.auth(s.handleStats))
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("Starting crewd daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// auth enforces the transport bearer credential when one is configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.authToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		health.OK = false
		health.DB = err.Error()
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(health)
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps coordination and store errors onto HTTP status codes.
// Contention results never reach this path; they are encoded as normal
// response payloads the caller branches on. Anything not matched below is a
// storage failure, reported as unavailable rather than a server bug.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusServiceUnavailable
	var unknownTool *tools.ErrUnknownTool
	switch {
	case errors.As(err, &unknownTool):
		status = http.StatusNotFound
	case errors.Is(err, coordination.ErrPermissionDenied),
		errors.Is(err, store.ErrNotTaskOwner):
		status = http.StatusForbidden
	case errors.Is(err, coordination.ErrAgentNotFound),
		errors.Is(err, store.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrTaskNotActive):
		status = http.StatusConflict
	case errors.Is(err, store.ErrUnknownDependency),
		errors.Is(err, store.ErrDependencyCycle):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, coordination.ErrMissingAgentID),
		errors.Is(err, coordination.ErrMissingResource),
		errors.Is(err, coordination.ErrMissingTaskType),
		errors.Is(err, coordination.ErrMissingSummary):
		status = http.StatusBadRequest
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}
