// Package toolgate implements the Tool Registry & Gate (spec §4.7): a
// catalog of invocable tools tagged with a safety tier, and a gate that runs
// safe tools immediately, routes gated tools through the Approval
// Coordinator, and refuses forbidden ones inline.
//
// Tools are registered explicitly by name, not discovered via reflection,
// per spec §9 ("Dynamic dispatch over tools is modeled as a tagged
// registry... implementations should avoid reflection"); the registry shape
// generalizes the teacher's internal/agent.ToolRegistry (a mutex-guarded
// name->Tool map).
package toolgate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/conductorhq/core/pkg/models"
)

// Executor runs a tool call and returns its textual result.
type Executor func(ctx context.Context, input json.RawMessage) (string, error)

// AutoApprovePredicate decides whether a gated tool call may run without a
// human approval round-trip (spec §4.7: "the gate evaluates an
// auto-approval predicate... if it passes, execute immediately").
// It returns false (never auto-approve) when nil.
type AutoApprovePredicate func(input json.RawMessage) bool

// Tool is one entry in the registry: a name, an input schema for the
// executor model, a safety tier, and the function that actually runs it.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Tier        models.SafetyTier
	Exec        Executor
	AutoApprove AutoApprovePredicate
}

// Registry is a thread-safe catalog of tools, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool's schema, for handing to the executor
// model as its available-tools list.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ErrUnknownTool is returned when the executor model names a tool the
// registry has never heard of.
var ErrUnknownTool = fmt.Errorf("toolgate: unknown tool")
