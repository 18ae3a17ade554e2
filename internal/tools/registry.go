// Package tools exposes the coordination operations as a named tool-call
// surface: each operation maps 1:1 onto a callable tool taking the same
// parameters and returning the same result shape.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one tool call against decoded JSON input.
type Handler func(ctx context.Context, input json.RawMessage) (interface{}, error)

// Tool is one callable action.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	handler     Handler
}

// Registry manages the registered tools.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(name, description string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool %q has no handler", name)
	}
	r.tools[name] = Tool{Name: name, Description: description, handler: handler}
	return nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})
	return tools
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ErrUnknownTool is returned by Call for an unregistered tool name.
type ErrUnknownTool struct {
	Name string
}

func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// Call invokes a tool by name with raw JSON input.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) (interface{}, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &ErrUnknownTool{Name: name}
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return tool.handler(ctx, input)
}
