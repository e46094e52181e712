package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/soloqueue/soloqueue/internal/approval"
	"github.com/soloqueue/soloqueue/internal/workspace"
	"github.com/soloqueue/soloqueue/pkg/protocol"
)

// safeCommands are read-only or informative commands that run without
// approval. Matching is on the first word, or on the full prefix for
// multi-word entries like "git status".
var safeCommands = map[string]bool{
	"ls": true, "cat": true, "pwd": true, "echo": true,
	"head": true, "tail": true, "wc": true,
	"grep": true, "find": true, "which": true,
	"env": true, "date": true, "whoami": true,
	"git status": true, "git log": true, "git diff": true,
	"go test": true,
}

// isSafeCommand reports whether a command matches the allowlist.
func isSafeCommand(command string) bool {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return true
	}
	if first := strings.Fields(cmd); safeCommands[first[0]] {
		return true
	}
	for safe := range safeCommands {
		if cmd == safe || strings.HasPrefix(cmd, safe+" ") {
			return true
		}
	}
	return false
}

// BashTool runs shell commands in the workspace root. Commands outside the
// safe allowlist are gated on the approval bridge, like the write tools.
type BashTool struct {
	ws       *workspace.Manager
	approval *approval.Bridge
	agentID  string
	Timeout  time.Duration
}

const defaultShellTimeout = 60 * time.Second

func NewBashTool(ws *workspace.Manager, bridge *approval.Bridge, agentID string) *BashTool {
	return &BashTool{ws: ws, approval: bridge, agentID: agentID, Timeout: defaultShellTimeout}
}

func (t *BashTool) Name() string { return "bash" }
func (t *BashTool) Description() string {
	return "Execute a shell command in the workspace. Non-read-only commands require user approval."
}
func (t *BashTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	if !isSafeCommand(command) && t.approval != nil {
		if !t.approval.RequestApproval(t.agentID, command, protocol.OpExecute) {
			return NewResult(fmt.Sprintf("Command '%s' was not approved by the user.", command))
		}
	}

	cctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = t.ws.Root()
	output, err := cmd.CombinedOutput()

	text := strings.TrimSpace(string(output))
	if cctx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s", t.Timeout))
	}
	if err != nil {
		if text == "" {
			text = err.Error()
		}
		return ErrorResult(fmt.Sprintf("command failed: %s", text))
	}
	if text == "" {
		text = "(no output)"
	}
	return SilentResult(text)
}
