package protocol

import "time"

// Event names pushed from the engine to UI observers.
const (
	EventWriteActionRequest = "write_action_request"
	EventWriteActionRes     = "write_action_response" // inbound from the UI
	EventStream             = "stream"
	EventAgentStatus        = "agent_status"
	EventToolCall           = "tool_call"
	EventToolResult         = "tool_result"
	EventParallelStarted    = "parallel_started"
	EventParallelCompleted  = "parallel_completed"
	EventActionReturn       = "action_return"
	EventSessionNew         = "session_new"
)

// Stream subtypes (in StreamPayload.StreamType).
const (
	StreamThinking = "thinking"
	StreamAnswer   = "answer"
)

// Agent status values (in AgentStatusPayload.Status).
const (
	StatusStarting  = "starting"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Write-action operations (in WriteActionRequest.Operation).
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpExecute = "execute" // shell command; FilePath carries the command line
)

// Action-return kinds (in ActionReturnPayload.ActionType).
const (
	ActionDelegate = "delegate"
	ActionSkill    = "skill"
)

// WriteActionRequest asks the UI to approve a pending write action.
type WriteActionRequest struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	FilePath  string    `json:"file_path"`
	Operation string    `json:"operation"` // Op* constants
	Timestamp time.Time `json:"timestamp"`
}

// WriteActionResponse is the UI's answer to a WriteActionRequest.
type WriteActionResponse struct {
	ID        string    `json:"id"`
	Approved  bool      `json:"approved"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamPayload carries one incremental chunk of model output.
type StreamPayload struct {
	AgentID    string `json:"agent_id"`
	StreamType string `json:"stream_type"` // StreamThinking or StreamAnswer
	Content    string `json:"content"`
	AgentColor string `json:"agent_color,omitempty"`
}

// AgentStatusPayload reports an agent entering or leaving a run.
type AgentStatusPayload struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"` // Status* constants
	Message string `json:"message,omitempty"`
	Group   string `json:"group,omitempty"`
}

// ToolCallPayload announces a tool invocation.
type ToolCallPayload struct {
	ToolName string                 `json:"tool_name"`
	ToolArgs map[string]interface{} `json:"tool_args"`
	AgentID  string                 `json:"agent_id"`
}

// ToolResultPayload carries a tool's (possibly offloaded) output.
type ToolResultPayload struct {
	Content string `json:"content"`
	AgentID string `json:"agent_id"`
}

// ParallelPayload marks the start or end of a parallel delegation batch.
type ParallelPayload struct {
	AgentID string   `json:"agent_id"`
	Targets []string `json:"targets"`
	Group   string   `json:"group,omitempty"`
}

// ActionReturnPayload reports a child frame resolving back into its parent.
type ActionReturnPayload struct {
	ActionType       string `json:"action_type"` // ActionDelegate or ActionSkill
	FromActor        string `json:"from_actor"`
	ToActor          string `json:"to_actor"`
	ParentToolCallID string `json:"parent_tool_call_id"`
	Content          string `json:"content"`
}

// SessionNewPayload announces a freshly created session id.
type SessionNewPayload struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}
