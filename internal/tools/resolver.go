package tools

import (
	"log/slog"

	"github.com/soloqueue/soloqueue/internal/approval"
	"github.com/soloqueue/soloqueue/internal/memory"
	"github.com/soloqueue/soloqueue/internal/registry"
	"github.com/soloqueue/soloqueue/internal/skills"
	"github.com/soloqueue/soloqueue/internal/workspace"
)

// Resolver composes the per-agent tool set: primitives, skill proxies,
// delegation tools for leaders, memory tools when a semantic store is
// available, and artifact tools.
type Resolver struct {
	Workspace *workspace.Manager
	Approval  *approval.Bridge
	Memory    *memory.Manager
	Registry  *registry.Registry
	Skills    *skills.Loader
}

// Resolve builds the full tool registry for an agent.
func (r *Resolver) Resolve(agent *registry.AgentConfig) *Registry {
	return r.resolve(agent, nil)
}

// ResolveAllowed builds a registry restricted to the named tools; used for
// dynamic skill agents whose frontmatter declares allowed_tools.
func (r *Resolver) ResolveAllowed(agent *registry.AgentConfig, allowed []string) *Registry {
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}
	return r.resolve(agent, allowedSet)
}

func (r *Resolver) resolve(agent *registry.AgentConfig, allowed map[string]bool) *Registry {
	reg := NewRegistry()
	agentID := agent.NodeID()

	add := func(t Tool) {
		if allowed != nil && !allowed[t.Name()] {
			return
		}
		if !reg.Add(t) {
			slog.Debug("tools: duplicate name suppressed", "tool", t.Name(), "agent", agentID)
		}
	}

	// Primitives.
	add(NewBashTool(r.Workspace, r.Approval, agentID))
	add(NewReadFileTool(r.Workspace))
	add(NewWriteFileTool(r.Workspace, r.Approval, agentID))
	add(NewGrepTool(r.Workspace))
	add(NewGlobTool(r.Workspace))
	add(NewWebFetchTool())

	// Skill proxies for skills named by the agent.
	if r.Skills != nil {
		for _, name := range agent.Skills {
			skill, err := r.Skills.Load(name)
			if err != nil {
				slog.Warn("tools: skill unavailable", "skill", name, "agent", agentID, "error", err)
				continue
			}
			add(NewSkillProxyTool(skill.Name, skill.Description))
		}
	}

	// Delegation for leaders. An empty sub_agents list means wildcard
	// targets within the group.
	if agent.IsLeader && r.Registry != nil {
		add(NewDelegateTool(r.Registry.SubAgentTargets(agent)))
		add(NewDelegateParallelTool())
	}

	// Memory tools when semantic memory is configured for the group.
	if r.Memory != nil {
		if store, err := r.Memory.Semantic(agent.Group); err == nil && store != nil {
			add(NewSearchMemoryTool(store, agentID))
			add(NewRememberTool(store, agentID))
		} else if err != nil {
			slog.Warn("tools: semantic store unavailable", "group", agent.Group, "error", err)
		}

		store := r.Memory.Artifacts()
		add(NewSaveArtifactTool(store, agent.Group, agentID))
		add(NewReadArtifactTool(store))
		add(NewListArtifactsTool(store, agent.Group))
		add(NewDeleteArtifactTool(store, r.Approval, agentID))
	}

	return reg
}
