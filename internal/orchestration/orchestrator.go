package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soloqueue/soloqueue/internal/memory"
	"github.com/soloqueue/soloqueue/internal/providers"
	"github.com/soloqueue/soloqueue/internal/registry"
	"github.com/soloqueue/soloqueue/internal/skills"
	"github.com/soloqueue/soloqueue/pkg/protocol"
)

const (
	// DefaultMaxIterations caps the outer stack loop for one user turn.
	DefaultMaxIterations = 100
	// DefaultMaxSubIterations caps each parallel sub-agent's inner loop.
	DefaultMaxSubIterations = 50
	// DefaultHistoryTurns is how many past turns seed the root frame.
	DefaultHistoryTurns = 20
)

// Orchestrator owns the main loop: one call to Run drives one user turn over
// a stack of task frames, interpreting the control signals each step emits.
type Orchestrator struct {
	Runner   *Runner
	Registry *registry.Registry
	Skills   *skills.Loader

	// Memory enables history preload, session handling, and turn
	// persistence. Nil disables all persistence.
	Memory *memory.Manager

	MaxIterations    int
	MaxSubIterations int
	HistoryTurns     int
}

// RunResult is the outcome of one user turn.
type RunResult struct {
	Response  string
	SessionID string
	Status    string
}

func (o *Orchestrator) maxIterations() int {
	if o.MaxIterations > 0 {
		return o.MaxIterations
	}
	return DefaultMaxIterations
}

func (o *Orchestrator) maxSubIterations() int {
	if o.MaxSubIterations > 0 {
		return o.MaxSubIterations
	}
	return DefaultMaxSubIterations
}

func (o *Orchestrator) historyTurns() int {
	if o.HistoryTurns > 0 {
		return o.HistoryTurns
	}
	return DefaultHistoryTurns
}

// Run drives one user turn starting at entryAgent. sessionID may be empty,
// in which case it is resolved (and rolled over across days) from userID.
func (o *Orchestrator) Run(ctx context.Context, entryAgent, userMessage string, events EventFunc, sessionID, userID string) (res *RunResult, err error) {
	entry, ok := o.Registry.Get(entryAgent)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrAgentNotFound, entryAgent)
	}

	if userMessage == "/new" && userID != "" && o.Memory != nil {
		return o.startNewSession(ctx, entry, userID, events)
	}

	sessionID, err = o.resolveSession(ctx, entry, sessionID, userID)
	if err != nil {
		return nil, err
	}

	rec := NewTurnRecorder()
	start := time.Now()

	// An unhandled panic anywhere in the turn is persisted as an error
	// turn and surfaced as a system error string, never a crash.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestration: run panicked", "agent", entryAgent, "panic", r)
			response := fmt.Sprintf("System Error: %v", r)
			o.persistTurn(entry, sessionID, userID, userMessage, response, "", rec, start, memory.StatusError)
			res = &RunResult{Response: response, SessionID: sessionID, Status: memory.StatusError}
			err = nil
		}
	}()

	root := &TaskFrame{AgentName: entry.NodeID(), Instruction: userMessage}
	if o.Memory != nil && sessionID != "" {
		history, histErr := o.Memory.SessionLog().GetHistory(sessionID, o.historyTurns())
		if histErr != nil {
			slog.Warn("orchestration: history preload failed", "session", sessionID, "error", histErr)
		} else {
			root.Memory = history
		}
	}
	root.Memory = append(root.Memory, providers.Message{Role: "user", Content: userMessage})
	rec.AddAgent(entry.NodeID())
	emit(events, protocol.EventAgentStatus, protocol.AgentStatusPayload{
		AgentID: entry.NodeID(), Status: protocol.StatusStarting, Group: entry.Group,
	})

	response, thinking, status := o.runStack(ctx, root, rec, events)

	o.persistTurn(entry, sessionID, userID, userMessage, response, thinking, rec, start, status)
	emit(events, protocol.EventAgentStatus, protocol.AgentStatusPayload{
		AgentID: entry.NodeID(), Status: completionStatus(status), Group: entry.Group,
	})
	return &RunResult{Response: response, SessionID: sessionID, Status: status}, nil
}

func completionStatus(turnStatus string) string {
	if turnStatus == memory.StatusCompleted {
		return protocol.StatusCompleted
	}
	return protocol.StatusError
}

// runStack iterates the frame stack until the root returns or the iteration
// cap is hit.
func (o *Orchestrator) runStack(ctx context.Context, root *TaskFrame, rec *TurnRecorder, events EventFunc) (response, thinking, status string) {
	stack := []*TaskFrame{root}

	for i := 0; i < o.maxIterations(); i++ {
		top := stack[len(stack)-1]
		sig := o.Runner.Step(ctx, top, rec, events)

		switch sig.Kind {
		case SignalContinue:

		case SignalDelegate:
			if child, ok := o.pushDelegate(top, sig.Delegate, rec, events); ok {
				stack = append(stack, child)
			}

		case SignalDelegateParallel:
			o.handleParallel(ctx, top, sig.Parallel, rec, events)

		case SignalUseSkill:
			if child, ok := o.pushSkill(ctx, top, sig.Skill, rec, events); ok {
				stack = append(stack, child)
			}

		case SignalReturn:
			popped := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return sig.Result, lastReasoning(popped), memory.StatusCompleted
			}
			o.resolveReturn(stack[len(stack)-1], popped, sig.Result, events)

		case SignalError:
			top.Memory = append(top.Memory, providers.Message{
				Role: "user", Content: "Error: " + sig.Err,
			})
		}
	}

	slog.Warn("orchestration: iteration cap reached", "agent", root.AgentName)
	return "Error: maximum iterations reached without a final response", "", memory.StatusTimeout
}

// pushDelegate resolves and permission-checks a delegation target. Failures
// are surfaced to the model as tool messages, never as engine errors.
func (o *Orchestrator) pushDelegate(parent *TaskFrame, task *DelegateTask, rec *TurnRecorder, events EventFunc) (*TaskFrame, bool) {
	src, err := o.Runner.Config(parent)
	if err != nil {
		appendToolError(parent, task.ToolCallID, "delegate_to", "Error: "+err.Error())
		return nil, false
	}
	target, err := o.Registry.Resolve(task.Target, src)
	if err != nil {
		appendToolError(parent, task.ToolCallID, "delegate_to",
			fmt.Sprintf("Error: agent '%s' not found", task.Target))
		return nil, false
	}
	if err := o.Registry.CheckPermission(src, target); err != nil {
		appendToolError(parent, task.ToolCallID, "delegate_to", permissionDeniedMessage(err))
		return nil, false
	}

	rec.AddAgent(target.NodeID())
	emit(events, protocol.EventAgentStatus, protocol.AgentStatusPayload{
		AgentID: target.NodeID(), Status: protocol.StatusStarting, Group: target.Group,
	})
	return &TaskFrame{
		AgentName:        target.NodeID(),
		Instruction:      task.Instruction,
		Memory:           []providers.Message{{Role: "user", Content: task.Instruction}},
		ParentToolCallID: task.ToolCallID,
	}, true
}

// pushSkill hydrates a skill into a one-shot dynamic agent frame.
func (o *Orchestrator) pushSkill(ctx context.Context, parent *TaskFrame, call *SkillCall, rec *TurnRecorder, events EventFunc) (*TaskFrame, bool) {
	src, err := o.Runner.Config(parent)
	if err != nil {
		appendToolError(parent, call.ToolCallID, call.Name, "Error: "+err.Error())
		return nil, false
	}
	skill, err := o.Skills.Load(call.Name)
	if err != nil {
		appendToolError(parent, call.ToolCallID, call.Name,
			fmt.Sprintf("Error: skill '%s' not found", call.Name))
		return nil, false
	}

	dyn := &registry.AgentConfig{
		Name:         "skill_" + skill.Name,
		Group:        src.Group,
		Model:        src.Model,
		SystemPrompt: skills.Hydrate(ctx, skill, call.Args),
		Tools:        skill.AllowedTools,
	}
	if skill.Model != "" {
		dyn.Model = skill.Model
	}

	instruction := call.Args
	if instruction == "" {
		instruction = "Execute the skill."
	}
	rec.AddAgent(dyn.NodeID())
	emit(events, protocol.EventAgentStatus, protocol.AgentStatusPayload{
		AgentID: dyn.NodeID(), Status: protocol.StatusStarting, Group: dyn.Group,
	})
	return &TaskFrame{
		AgentName:        dyn.NodeID(),
		Instruction:      instruction,
		Memory:           []providers.Message{{Role: "user", Content: instruction}},
		ParentToolCallID: call.ToolCallID,
		DynamicConfig:    dyn,
	}, true
}

// resolveReturn folds a popped child frame's result into its parent as a
// tool message.
func (o *Orchestrator) resolveReturn(parent, popped *TaskFrame, result string, events EventFunc) {
	if popped.ParentToolCallID == "" {
		slog.Warn("orchestration: popped frame has no parent tool call", "agent", popped.AgentName)
		return
	}
	actionType := protocol.ActionDelegate
	toolName := "delegate_to"
	if popped.DynamicConfig != nil {
		actionType = protocol.ActionSkill
		toolName = popped.DynamicConfig.Name
	}
	parent.Memory = append(parent.Memory, providers.Message{
		Role:       "tool",
		Content:    "Result:\n" + result,
		ToolCallID: popped.ParentToolCallID,
		Name:       toolName,
	})
	emit(events, protocol.EventActionReturn, protocol.ActionReturnPayload{
		ActionType:       actionType,
		FromActor:        popped.AgentName,
		ToActor:          parent.AgentName,
		ParentToolCallID: popped.ParentToolCallID,
		Content:          result,
	})
	emit(events, protocol.EventAgentStatus, protocol.AgentStatusPayload{
		AgentID: popped.AgentName, Status: protocol.StatusCompleted,
	})
}

func appendToolError(frame *TaskFrame, toolCallID, toolName, msg string) {
	frame.Memory = append(frame.Memory, providers.Message{
		Role:       "tool",
		Content:    msg,
		ToolCallID: toolCallID,
		Name:       toolName,
	})
}

// permissionDeniedMessage renders a registry permission error for the model.
func permissionDeniedMessage(err error) string {
	detail := strings.TrimPrefix(err.Error(), registry.ErrPermissionDenied.Error()+": ")
	return "Error: Permission Denied: " + detail
}

func lastReasoning(frame *TaskFrame) string {
	for i := len(frame.Memory) - 1; i >= 0; i-- {
		if frame.Memory[i].Role == "assistant" {
			return frame.Memory[i].Reasoning
		}
	}
	return ""
}

// startNewSession implements the /new command: force a fresh session id,
// archive the one it replaces, and return without running any agent.
func (o *Orchestrator) startNewSession(ctx context.Context, entry *registry.AgentConfig, userID string, events EventFunc) (*RunResult, error) {
	sessions := o.Memory.Sessions()
	prevID, wasNew, err := sessions.ResolveSession(userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("resolve current session: %w", err)
	}
	newID, err := sessions.ForceNewSession(userID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !wasNew {
		o.archiveSession(ctx, entry, prevID, userID)
	}
	message := "Started a new session."
	emit(events, protocol.EventSessionNew, protocol.SessionNewPayload{
		SessionID: newID, Message: message,
	})
	return &RunResult{Response: message, SessionID: newID, Status: memory.StatusCompleted}, nil
}

// resolveSession picks the session id for this turn, archiving the previous
// session on cross-day rollover.
func (o *Orchestrator) resolveSession(ctx context.Context, entry *registry.AgentConfig, sessionID, userID string) (string, error) {
	if sessionID != "" || o.Memory == nil {
		return sessionID, nil
	}
	if userID == "" {
		userID = "anonymous"
	}
	id, isNew, err := o.Memory.Sessions().ResolveSession(userID, time.Now())
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	if isNew {
		if prev, prevErr := o.Memory.Sessions().GetPreviousSessionID(userID); prevErr == nil && prev != "" {
			o.archiveSession(ctx, entry, prev, userID)
		}
	}
	return id, nil
}

func (o *Orchestrator) archiveSession(ctx context.Context, entry *registry.AgentConfig, sessionID, userID string) {
	store, err := o.Memory.Semantic(entry.Group)
	if err != nil {
		slog.Warn("orchestration: semantic store unavailable for archive",
			"group", entry.Group, "error", err)
		store = nil
	}
	if err := o.Memory.Sessions().ArchiveSession(ctx, sessionID, userID, store); err != nil {
		slog.Warn("orchestration: session archive failed", "session", sessionID, "error", err)
	}
}

func (o *Orchestrator) persistTurn(entry *registry.AgentConfig, sessionID, userID, userMessage, response, thinking string, rec *TurnRecorder, start time.Time, status string) {
	if o.Memory == nil || sessionID == "" {
		return
	}
	log := o.Memory.SessionLog()
	count, err := log.TurnCount(sessionID)
	if err != nil {
		slog.Warn("orchestration: turn count failed", "session", sessionID, "error", err)
	}
	toolCalls, skillCalls, chain, usage := rec.Snapshot()
	turn := &memory.ConversationTurn{
		SessionID:       sessionID,
		Turn:            count + 1,
		Timestamp:       start,
		EntryAgent:      entry.NodeID(),
		UserID:          userID,
		UserMessage:     userMessage,
		Response:        memory.AIResponse{Content: response, Thinking: thinking},
		ToolCalls:       toolCalls,
		SkillCalls:      skillCalls,
		DelegationChain: chain,
		Usage:           usage,
		DurationMS:      time.Since(start).Milliseconds(),
		Status:          status,
	}
	if err := log.SaveTurn(turn); err != nil {
		slog.Error("orchestration: turn persistence failed", "session", sessionID, "error", err)
	}
}
