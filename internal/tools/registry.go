package tools

import (
	"context"

	"github.com/soloqueue/soloqueue/internal/providers"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{} // JSON schema
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry is an ordered tool set for one agent. Duplicate names are
// suppressed in favor of the first inclusion.
type Registry struct {
	byName map[string]Tool
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Add registers a tool unless its name is already taken. Returns whether
// the tool was added.
func (r *Registry) Add(t Tool) bool {
	if _, exists := r.byName[t.Name()]; exists {
		return false
	}
	r.byName[t.Name()] = t
	r.order = append(r.order, t.Name())
	return true
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.order) }

// Definitions renders the registry as model-facing tool schemas, in
// registration order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	out := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.byName[name]
		out = append(out, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}
