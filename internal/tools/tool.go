// Package tools holds the tool registry, the result cache, the confirmation
// flow, and every builtin tool the agent can call.
package tools

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/providers"
)

// Tool is implemented by everything the model can call.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Side-effect classes. Sensitive tools pass through the confirmation gate.
const (
	ClassRead      = "read"
	ClassWrite     = "write"
	ClassSensitive = "sensitive"
)

// Meta classifies a registered tool for the executor.
type Meta struct {
	Class     string        // read, write, sensitive
	Cacheable bool          // results may be served from the cache
	TTL       time.Duration // cache TTL override; 0 uses the cache default
	Timeout   time.Duration // per-call timeout override; 0 uses the executor default
	MaxResult int           // history truncation override; 0 uses the per-tool table
}

type registration struct {
	tool  Tool
	meta  Meta
	group string // "" for builtin tools; skill or MCP server name otherwise
}

// Registry maps tool names to implementations. Builtin tools register
// individually; skills and MCP servers register as groups that can be
// swapped out on reload.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

func (r *Registry) Register(t Tool, meta Meta) {
	r.register(t, meta, "")
}

func (r *Registry) register(t Tool, meta Meta, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = registration{tool: t, meta: meta, group: group}
}

// RegisterGroup merges an externally-supplied tool set (a skill, an MCP
// server) after the builtin tools. Re-registering a group replaces it.
func (r *Registry) RegisterGroup(group string, ts []Tool, meta Meta) {
	r.RemoveGroup(group)
	for _, t := range ts {
		r.register(t, meta, group)
	}
}

// RemoveGroup drops every tool registered under the group name.
func (r *Registry) RemoveGroup(group string) {
	if group == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	for _, name := range r.order {
		if r.tools[name].group == group {
			delete(r.tools, name)
			continue
		}
		kept = append(kept, name)
	}
	r.order = kept
}

func (r *Registry) Get(name string) (Tool, Meta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.tool, reg.meta, ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Sensitive returns the names of sensitive-class tools, sorted.
func (r *Registry) Sensitive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, reg := range r.tools {
		if reg.meta.Class == ClassSensitive {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Definitions inflates the registry to the function-calling schema the LLM
// wire format requires.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
