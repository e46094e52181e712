package tools

import (
	"context"
	"fmt"
)

// UseSkillSentinel prefixes a skill proxy's output. The agent runner
// recognizes it in tool results and converts the call into a use_skill
// signal: __USE_SKILL__:<name>|<args>.
const UseSkillSentinel = "__USE_SKILL__:"

// SkillProxyTool stands in for a disk-defined skill. Executing it only
// emits the sentinel; the orchestrator hydrates and runs the skill as a
// one-shot dynamic agent.
type SkillProxyTool struct {
	SkillName        string
	SkillDescription string
}

func NewSkillProxyTool(name, description string) *SkillProxyTool {
	return &SkillProxyTool{SkillName: name, SkillDescription: description}
}

func (t *SkillProxyTool) Name() string { return t.SkillName }

func (t *SkillProxyTool) Description() string {
	if t.SkillDescription != "" {
		return t.SkillDescription
	}
	return fmt.Sprintf("Invoke the %s skill", t.SkillName)
}

func (t *SkillProxyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"args": map[string]interface{}{
				"type":        "string",
				"description": "Arguments passed to the skill",
			},
		},
	}
}

func (t *SkillProxyTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	skillArgs, _ := args["args"].(string)
	return SilentResult(UseSkillSentinel + t.SkillName + "|" + skillArgs)
}
