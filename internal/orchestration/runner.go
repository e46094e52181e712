package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/soloqueue/soloqueue/internal/memory"
	"github.com/soloqueue/soloqueue/internal/prompt"
	"github.com/soloqueue/soloqueue/internal/providers"
	"github.com/soloqueue/soloqueue/internal/registry"
	"github.com/soloqueue/soloqueue/internal/tokens"
	"github.com/soloqueue/soloqueue/internal/tools"
	"github.com/soloqueue/soloqueue/pkg/protocol"
)

const (
	// maxReasoningChars aborts a stream whose thinking grows unbounded.
	maxReasoningChars = 50_000

	// Tool outputs above offloadThreshold are saved as ephemeral artifacts
	// and replaced with a head/tail preview.
	offloadThreshold = 2_000
	offloadHead      = 500
	offloadTail      = 200

	// sharedContextWarnLen flags oversized group context blocks.
	sharedContextWarnLen = 1_000

	// reasoningPlaceholder stands in for older assistant reasoning in
	// outgoing requests; only the newest assistant message keeps it full.
	reasoningPlaceholder = "[earlier reasoning omitted]"
)

// Runner advances a single TaskFrame by one agent step: build the context,
// stream the model call, run any tool calls, and report a control signal.
type Runner struct {
	Provider providers.Provider
	Registry *registry.Registry
	Tools    *tools.Resolver
	Builder  *prompt.Builder

	// Artifacts enables tool-output offloading when set.
	Artifacts *memory.ArtifactStore

	// Profile, when set, is injected into every agent's system prompt.
	Profile *memory.UserProfileStore

	tracer trace.Tracer
}

func NewRunner(provider providers.Provider, reg *registry.Registry, resolver *tools.Resolver, builder *prompt.Builder, artifacts *memory.ArtifactStore) *Runner {
	return &Runner{
		Provider:  provider,
		Registry:  reg,
		Tools:     resolver,
		Builder:   builder,
		Artifacts: artifacts,
		tracer:    otel.Tracer("github.com/soloqueue/soloqueue/internal/orchestration"),
	}
}

// Config returns the frame's effective agent configuration: the dynamic
// config when present, otherwise the registry entry.
func (r *Runner) Config(frame *TaskFrame) (*registry.AgentConfig, error) {
	if frame.DynamicConfig != nil {
		return frame.DynamicConfig, nil
	}
	cfg, ok := r.Registry.Get(frame.AgentName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrAgentNotFound, frame.AgentName)
	}
	return cfg, nil
}

// Step runs one agent step on the frame. The assistant message and any
// tool-result messages are appended to frame.Memory before returning.
func (r *Runner) Step(ctx context.Context, frame *TaskFrame, rec *TurnRecorder, events EventFunc) Signal {
	cfg, err := r.Config(frame)
	if err != nil {
		return errorSignal(err.Error())
	}
	agentID := cfg.NodeID()

	ctx, span := r.tracer.Start(ctx, "agent.step",
		trace.WithAttributes(attribute.String("agent.id", agentID)))
	defer span.End()

	systemPrompt := r.assemblePrompt(cfg)
	model := cfg.Model
	if model == "" {
		model = r.Provider.DefaultModel()
	}
	outgoing := serializeReasoning(frame.Memory)
	msgs := r.Builder.BuildContext(systemPrompt, outgoing, tokens.ModelLimit(model))

	toolReg := r.resolveTools(cfg)
	req := providers.ChatRequest{
		Messages: msgs,
		Tools:    toolReg.Definitions(),
		Model:    model,
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var reasoningLen int
	var overflow bool
	resp, err := r.Provider.ChatStream(streamCtx, req, func(chunk providers.StreamChunk) {
		if chunk.Reasoning != "" {
			reasoningLen += len(chunk.Reasoning)
			emit(events, protocol.EventStream, protocol.StreamPayload{
				AgentID:    agentID,
				StreamType: protocol.StreamThinking,
				Content:    chunk.Reasoning,
			})
			if reasoningLen > maxReasoningChars && !overflow {
				overflow = true
				cancel()
			}
		}
		if chunk.Content != "" {
			emit(events, protocol.EventStream, protocol.StreamPayload{
				AgentID:    agentID,
				StreamType: protocol.StreamAnswer,
				Content:    chunk.Content,
			})
		}
	})
	if overflow {
		span.SetStatus(codes.Error, "reasoning overflow")
		return errorSignal(fmt.Sprintf("reasoning exceeded %d characters, aborting", maxReasoningChars))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model stream failed")
		return errorSignal(fmt.Sprintf("model stream failed: %v", err))
	}
	rec.AddUsage(resp.Usage)

	assistant := providers.Message{
		Role:      "assistant",
		Content:   resp.Content,
		Reasoning: resp.Reasoning,
		ToolCalls: resp.ToolCalls,
	}
	frame.Memory = append(frame.Memory, assistant)

	if len(resp.ToolCalls) == 0 {
		frame.Result = resp.Content
		return returnSignal(resp.Content)
	}
	return r.interpretToolCalls(ctx, frame, cfg, toolReg, rec, events)
}

// assemblePrompt builds the system prompt: the agent's own prompt, a
// sub-agent roster for leaders, and the group's shared context block.
func (r *Runner) assemblePrompt(cfg *registry.AgentConfig) string {
	var b strings.Builder
	b.WriteString(cfg.SystemPrompt)

	if r.Profile != nil {
		if profile := r.Profile.Read(); profile != "" {
			b.WriteString("\n\n## User Profile\n")
			b.WriteString(profile)
		}
	}

	if cfg.IsLeader {
		targets := r.Registry.SubAgentTargets(cfg)
		if len(targets) > 0 {
			b.WriteString("\n\n## Available Sub-Agents\n")
			for _, t := range targets {
				fmt.Fprintf(&b, "- %s: %s\n", t.NodeID(), t.Description)
			}
		}
	}

	if shared := r.Registry.SharedContext(cfg); shared != "" {
		if len(shared) > sharedContextWarnLen {
			slog.Warn("orchestration: group shared context is large",
				"group", cfg.Group, "chars", len(shared))
		}
		fmt.Fprintf(&b, "\n\n## Group Shared Context (%s)\n%s", cfg.Group, shared)
	}
	return b.String()
}

func (r *Runner) resolveTools(cfg *registry.AgentConfig) *tools.Registry {
	if len(cfg.Tools) > 0 {
		return r.Tools.ResolveAllowed(cfg, cfg.Tools)
	}
	return r.Tools.Resolve(cfg)
}

// interpretToolCalls turns the assistant's tool calls into a control signal.
// Delegation calls short-circuit without executing anything; everything else
// runs in order.
func (r *Runner) interpretToolCalls(ctx context.Context, frame *TaskFrame, cfg *registry.AgentConfig, toolReg *tools.Registry, rec *TurnRecorder, events EventFunc) Signal {
	agentID := cfg.NodeID()
	assistant := &frame.Memory[len(frame.Memory)-1]

	for _, call := range assistant.ToolCalls {
		if call.Name != "delegate_to" {
			continue
		}
		target, _ := call.Arguments["target"].(string)
		instruction, _ := call.Arguments["instruction"].(string)
		if target == "" {
			break
		}
		// Keep only the delegation call so the parent's history stays
		// consistent with the single tool-result it will receive.
		assistant.ToolCalls = []providers.ToolCall{call}
		rec.AddToolCall(call.Name, call.Arguments)
		return Signal{Kind: SignalDelegate, Delegate: &DelegateTask{
			Target:      target,
			Instruction: instruction,
			ToolCallID:  call.ID,
		}}
	}

	for _, call := range assistant.ToolCalls {
		if call.Name != "delegate_parallel" {
			continue
		}
		raw, _ := call.Arguments["tasks_json"].(string)
		var parsed []DelegateTask
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil || len(parsed) == 0 {
			frame.Memory = append(frame.Memory, toolMessage(call,
				fmt.Sprintf("Error: invalid tasks_json for delegate_parallel: %v", err)))
			return continueSignal()
		}
		assistant.ToolCalls = []providers.ToolCall{call}
		for i := range parsed {
			parsed[i].ToolCallID = call.ID
		}
		rec.AddToolCall(call.Name, call.Arguments)
		return Signal{Kind: SignalDelegateParallel, Parallel: parsed}
	}

	var skill *SkillCall
	for _, call := range assistant.ToolCalls {
		emit(events, protocol.EventToolCall, protocol.ToolCallPayload{
			ToolName: call.Name,
			ToolArgs: call.Arguments,
			AgentID:  agentID,
		})
		rec.AddToolCall(call.Name, call.Arguments)

		content := r.executeTool(ctx, toolReg, call, cfg)
		if skill == nil && strings.HasPrefix(content, tools.UseSkillSentinel) {
			name, args := parseSkillSentinel(content)
			skill = &SkillCall{Name: name, Args: args, ToolCallID: call.ID}
			rec.AddSkillCall(name, args)
			content = fmt.Sprintf("Invoking skill '%s'...", name)
		}
		frame.Memory = append(frame.Memory, toolMessage(call, content))
		emit(events, protocol.EventToolResult, protocol.ToolResultPayload{
			Content: content,
			AgentID: agentID,
		})
	}
	if skill != nil {
		return Signal{Kind: SignalUseSkill, Skill: skill}
	}
	return continueSignal()
}

// executeTool runs one call and returns the tool-message content, offloading
// oversized output to an ephemeral artifact.
func (r *Runner) executeTool(ctx context.Context, toolReg *tools.Registry, call providers.ToolCall, cfg *registry.AgentConfig) string {
	tool, ok := toolReg.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool '%s'", call.Name)
	}

	ctx, span := r.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer span.End()

	result := tool.Execute(ctx, call.Arguments)
	if result == nil {
		return fmt.Sprintf("Error: tool '%s' returned no result", call.Name)
	}
	if result.IsError {
		span.SetStatus(codes.Error, "tool failed")
	}
	content := result.ForLLM

	if len(content) > offloadThreshold && r.Artifacts != nil && !result.IsError {
		offloaded, err := r.offload(ctx, call.Name, content, cfg)
		if err != nil {
			slog.Warn("orchestration: tool output offload failed",
				"tool", call.Name, "error", err)
			return content
		}
		return offloaded
	}
	return content
}

func (r *Runner) offload(ctx context.Context, toolName, content string, cfg *registry.AgentConfig) (string, error) {
	id, err := r.Artifacts.Save(ctx, []byte(content),
		fmt.Sprintf("%s output", toolName), cfg.NodeID(), cfg.Group,
		[]string{"sys:ephemeral", "tool:" + toolName}, "text/plain")
	if err != nil {
		return "", err
	}
	truncated := len(content) - offloadHead - offloadTail
	return fmt.Sprintf("[Output too large (%.1fKB). Saved as Artifact: %d. Preview:\n---\n%s\n[... truncated %d chars ...]\n%s\n---\nUse read_artifact('%d') to see full content.]",
		float64(len(content))/1024, id,
		content[:offloadHead], truncated, content[len(content)-offloadTail:], id), nil
}

func toolMessage(call providers.ToolCall, content string) providers.Message {
	return providers.Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

func parseSkillSentinel(content string) (name, args string) {
	rest := strings.TrimPrefix(content, tools.UseSkillSentinel)
	name, args, _ = strings.Cut(rest, "|")
	return name, args
}

// serializeReasoning prepares the outgoing history: the newest assistant
// message keeps its reasoning in full, older assistant messages carry a
// placeholder. The in-memory frame is never modified.
func serializeReasoning(history []providers.Message) []providers.Message {
	lastAssistant := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			lastAssistant = i
			break
		}
	}
	out := make([]providers.Message, len(history))
	copy(out, history)
	for i := range out {
		if out[i].Role == "assistant" && i != lastAssistant && out[i].Reasoning != "" {
			out[i].Reasoning = reasoningPlaceholder
		}
	}
	return out
}
