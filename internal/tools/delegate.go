package tools

import (
	"context"
	"fmt"

	"github.com/soloqueue/soloqueue/internal/registry"
)

// DelegateTool exposes delegate_to to leader agents. Invocations are
// intercepted by the agent runner and turned into delegation signals; the
// tool itself never executes.
type DelegateTool struct {
	targets []*registry.AgentConfig
}

func NewDelegateTool(targets []*registry.AgentConfig) *DelegateTool {
	return &DelegateTool{targets: targets}
}

func (t *DelegateTool) Name() string { return "delegate_to" }

func (t *DelegateTool) Description() string {
	desc := "Delegate a sub-task to another agent and wait for its result."
	if len(t.targets) > 0 {
		desc += " Available targets:"
		for _, a := range t.targets {
			desc += fmt.Sprintf(" %s;", a.NodeID())
		}
	}
	return desc
}

func (t *DelegateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target": map[string]interface{}{
				"type":        "string",
				"description": "Agent to delegate to (node id or name)",
			},
			"instruction": map[string]interface{}{
				"type":        "string",
				"description": "The sub-task instruction",
			},
		},
		"required": []string{"target", "instruction"},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return ErrorResult("delegate_to is handled by the orchestrator and cannot be executed directly")
}

// DelegateParallelTool exposes delegate_parallel to leader agents. Like
// DelegateTool, it is signal-only.
type DelegateParallelTool struct{}

func NewDelegateParallelTool() *DelegateParallelTool { return &DelegateParallelTool{} }

func (t *DelegateParallelTool) Name() string { return "delegate_parallel" }

func (t *DelegateParallelTool) Description() string {
	return "Delegate several independent sub-tasks to agents running in parallel. " +
		"tasks_json is a JSON array of {\"target\": ..., \"instruction\": ...} objects."
}

func (t *DelegateParallelTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tasks_json": map[string]interface{}{
				"type":        "string",
				"description": "JSON array of tasks: [{\"target\": \"name\", \"instruction\": \"...\"}]",
			},
		},
		"required": []string{"tasks_json"},
	}
}

func (t *DelegateParallelTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return ErrorResult("delegate_parallel is handled by the orchestrator and cannot be executed directly")
}
