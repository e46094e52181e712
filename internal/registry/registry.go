// Package registry holds agent and group definitions and the delegation
// permission rules between them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrAgentNotFound is returned when name resolution fails.
var ErrAgentNotFound = errors.New("agent not found")

// ErrPermissionDenied is returned when a delegation violates the group
// rules.
var ErrPermissionDenied = errors.New("permission denied")

// AgentConfig defines one agent.
type AgentConfig struct {
	Name         string   `yaml:"name" json:"name"`
	Group        string   `yaml:"group,omitempty" json:"group,omitempty"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	Model        string   `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt string   `yaml:"-" json:"system_prompt,omitempty"`
	IsLeader     bool     `yaml:"is_leader,omitempty" json:"is_leader,omitempty"`
	SubAgents    []string `yaml:"sub_agents,omitempty" json:"sub_agents,omitempty"`
	Tools        []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	Skills       []string `yaml:"skills,omitempty" json:"skills,omitempty"`
}

// NodeID returns the agent's registry key: group__name, or just name for
// ungrouped agents.
func (a *AgentConfig) NodeID() string {
	if a.Group != "" {
		return a.Group + "__" + a.Name
	}
	return a.Name
}

// GroupConfig defines a cohort of agents.
type GroupConfig struct {
	Name          string `yaml:"name" json:"name"`
	SharedContext string `yaml:"shared_context,omitempty" json:"shared_context,omitempty"`
}

// Registry is the in-memory index of agents and groups, keyed by node id.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*AgentConfig // node id → config
	groups map[string]*GroupConfig
}

func New() *Registry {
	return &Registry{
		agents: make(map[string]*AgentConfig),
		groups: make(map[string]*GroupConfig),
	}
}

// RegisterGroup adds or replaces a group definition.
func (r *Registry) RegisterGroup(g *GroupConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.Name] = g
}

// RegisterAgent adds an agent, enforcing the one-leader-per-group rule: a
// second leader in a group is downgraded with a warning.
func (r *Registry) RegisterAgent(a *AgentConfig) error {
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.IsLeader && a.Group != "" {
		if existing := r.leaderOfLocked(a.Group); existing != nil && existing.Name != a.Name {
			slog.Warn("registry: group already has a leader, downgrading",
				"group", a.Group, "leader", existing.Name, "agent", a.Name)
			a.IsLeader = false
		}
	}
	r.agents[a.NodeID()] = a
	return nil
}

func (r *Registry) leaderOfLocked(group string) *AgentConfig {
	for _, a := range r.agents {
		if a.Group == group && a.IsLeader {
			return a
		}
	}
	return nil
}

// Get returns an agent by exact node id.
func (r *Registry) Get(nodeID string) (*AgentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[nodeID]
	return a, ok
}

// Group returns a group definition.
func (r *Registry) Group(name string) (*GroupConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	return g, ok
}

// Agents returns all registered agents.
func (r *Registry) Agents() []*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentConfig, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Resolve finds an agent by name from a caller's perspective:
// exact node id first, then the caller's group qualification, then a scan
// for a bare-name match. The bare-name fallback is order-dependent when two
// groups share a simple name; callers should prefer qualified ids.
func (r *Registry) Resolve(name string, caller *AgentConfig) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.agents[name]; ok {
		return a, nil
	}
	if caller != nil && caller.Group != "" {
		if a, ok := r.agents[caller.Group+"__"+name]; ok {
			return a, nil
		}
	}
	for _, a := range r.agents {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
}

// CheckPermission enforces the delegation rules: intra-group is always
// allowed; cross-group requires both sides to be leaders.
func (r *Registry) CheckPermission(src, dst *AgentConfig) error {
	if src.Group != "" && src.Group == dst.Group {
		return nil
	}
	if src.IsLeader && dst.IsLeader {
		return nil
	}
	return fmt.Errorf("%w: %s cannot delegate to %s (cross-group delegation requires both agents to be leaders)",
		ErrPermissionDenied, src.NodeID(), dst.NodeID())
}

// SubAgentTargets returns the agents a leader may list as delegation
// targets: its declared sub_agents, or every group member when the list is
// empty (wildcard).
func (r *Registry) SubAgentTargets(leader *AgentConfig) []*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*AgentConfig
	if len(leader.SubAgents) > 0 {
		for _, name := range leader.SubAgents {
			if a, ok := r.agents[name]; ok {
				out = append(out, a)
				continue
			}
			if leader.Group != "" {
				if a, ok := r.agents[leader.Group+"__"+name]; ok {
					out = append(out, a)
				}
			}
		}
		return out
	}
	for _, a := range r.agents {
		if a.Group == leader.Group && a.Name != leader.Name {
			out = append(out, a)
		}
	}
	return out
}

// SharedContext returns the group's shared context block, empty when the
// agent is ungrouped or the group has none.
func (r *Registry) SharedContext(a *AgentConfig) string {
	if a.Group == "" {
		return ""
	}
	g, ok := r.Group(a.Group)
	if !ok {
		return ""
	}
	return strings.TrimSpace(g.SharedContext)
}
