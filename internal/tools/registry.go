// Package tools implements the gated tool surface the reasoning service may
// call. Every sensitive operation is a named, schema-typed Tool registered
// by name; invocation passes through the Gateway, which enforces the runtime
// enable flag before the tool itself enforces identity verification. Tool
// failures are structured payloads returned to the model, never Go errors;
// they shape the next reasoning step, not the API response.
package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bankabc/voicegate/internal/llm"
)

// Tool is the interface all gated operations implement.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args json.RawMessage) string
}

// Registry manages registered tools. Thread-safe for concurrent access.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, exists := r.tools[name]
	return tool, exists
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Specs returns the llm.Tool definitions for every registered tool that is
// enabled under the given flags. Disabled tools are not exposed to the
// model at all; calls to them are additionally rejected by the Gateway in
// case the model invents one.
func (r *Registry) Specs(flags map[string]bool) []llm.Tool {
	var specs []llm.Tool
	for _, t := range r.List() {
		if enabled, ok := flags[t.Name()]; ok && !enabled {
			continue
		}
		specs = append(specs, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	return specs
}
