// Package orchestration drives multi-agent runs: an explicit stack of task
// frames advanced one agent step at a time, with control signals telling the
// engine how to mutate the stack.
package orchestration

import (
	"sync"

	"github.com/soloqueue/soloqueue/internal/memory"
	"github.com/soloqueue/soloqueue/internal/providers"
	"github.com/soloqueue/soloqueue/internal/registry"
)

// TaskFrame is one stack element: a single agent invocation with its own
// message history. Frames are owned exclusively by their stack slot and are
// consumed on pop; memory is never shared between frames.
type TaskFrame struct {
	AgentName        string // node id
	Instruction      string
	Memory           []providers.Message
	State            map[string]interface{}
	ParentToolCallID string // which parent tool call this frame resolves
	Result           string

	// DynamicConfig, when set, takes precedence over the registry lookup.
	// Used for one-shot skill agents that never enter the registry.
	DynamicConfig *registry.AgentConfig
}

// SignalKind tags a control signal variant.
type SignalKind int

const (
	SignalContinue SignalKind = iota
	SignalDelegate
	SignalDelegateParallel
	SignalUseSkill
	SignalReturn
	SignalError
)

// DelegateTask is one delegation request: who, what, and which tool call it
// resolves on the requesting frame.
type DelegateTask struct {
	Target      string `json:"target"`
	Instruction string `json:"instruction"`
	ToolCallID  string `json:"-"`
}

// SkillCall asks the orchestrator to instantiate a skill as a child frame.
type SkillCall struct {
	Name       string
	Args       string
	ToolCallID string
}

// Signal is the tagged result of one agent step. Exactly the fields for its
// Kind are populated.
type Signal struct {
	Kind     SignalKind
	Delegate *DelegateTask
	Parallel []DelegateTask
	Skill    *SkillCall
	Result   string
	Err      string
}

func continueSignal() Signal { return Signal{Kind: SignalContinue} }

func returnSignal(result string) Signal { return Signal{Kind: SignalReturn, Result: result} }

func errorSignal(msg string) Signal { return Signal{Kind: SignalError, Err: msg} }

// EventFunc receives engine events for one run. Payloads are the typed
// structs from pkg/protocol. A nil EventFunc is valid and drops everything.
type EventFunc func(name string, payload interface{})

func emit(f EventFunc, name string, payload interface{}) {
	if f != nil {
		f(name, payload)
	}
}

// TurnRecorder accumulates per-turn bookkeeping across frames, including
// parallel sub-agents, so a mutex guards every field.
type TurnRecorder struct {
	mu         sync.Mutex
	toolCalls  []memory.ToolCallRecord
	skillCalls []memory.SkillCallRecord
	chain      []string
	seen       map[string]bool
	usage      memory.TokenUsage
}

func NewTurnRecorder() *TurnRecorder {
	return &TurnRecorder{seen: make(map[string]bool)}
}

// AddAgent appends a node id to the delegation chain on first appearance.
func (r *TurnRecorder) AddAgent(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[nodeID] {
		return
	}
	r.seen[nodeID] = true
	r.chain = append(r.chain, nodeID)
}

func (r *TurnRecorder) AddToolCall(name string, args map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolCalls = append(r.toolCalls, memory.ToolCallRecord{Name: name, Args: args})
}

func (r *TurnRecorder) AddSkillCall(name, args string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skillCalls = append(r.skillCalls, memory.SkillCallRecord{Name: name, Args: args})
}

func (r *TurnRecorder) AddUsage(u *providers.Usage) {
	if u == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage.PromptTokens += u.PromptTokens
	r.usage.CompletionTokens += u.CompletionTokens
	r.usage.TotalTokens += u.TotalTokens
}

// Snapshot returns copies of the accumulated records.
func (r *TurnRecorder) Snapshot() ([]memory.ToolCallRecord, []memory.SkillCallRecord, []string, memory.TokenUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tc := make([]memory.ToolCallRecord, len(r.toolCalls))
	copy(tc, r.toolCalls)
	sc := make([]memory.SkillCallRecord, len(r.skillCalls))
	copy(sc, r.skillCalls)
	ch := make([]string, len(r.chain))
	copy(ch, r.chain)
	return tc, sc, ch, r.usage
}
