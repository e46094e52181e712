package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/soloqueue/soloqueue/internal/providers"
	"github.com/soloqueue/soloqueue/internal/registry"
	"github.com/soloqueue/soloqueue/pkg/protocol"
)

// resolvedTask pairs a delegation request with its resolved target.
type resolvedTask struct {
	target      *registry.AgentConfig
	instruction string
}

// handleParallel resolves every target up front, then fans the sub-tasks out
// to isolated frames. Results land in the parent's memory in declaration
// order regardless of completion order.
func (o *Orchestrator) handleParallel(ctx context.Context, parent *TaskFrame, tasks []DelegateTask, rec *TurnRecorder, events EventFunc) {
	src, err := o.Runner.Config(parent)
	if err != nil {
		appendToolError(parent, tasks[0].ToolCallID, "delegate_parallel", "Error: "+err.Error())
		return
	}
	toolCallID := tasks[0].ToolCallID

	resolved := make([]resolvedTask, 0, len(tasks))
	for _, task := range tasks {
		target, resolveErr := o.Registry.Resolve(task.Target, src)
		if resolveErr != nil {
			appendToolError(parent, toolCallID, "delegate_parallel",
				fmt.Sprintf("Error: agent '%s' not found", task.Target))
			return
		}
		if permErr := o.Registry.CheckPermission(src, target); permErr != nil {
			appendToolError(parent, toolCallID, "delegate_parallel", permissionDeniedMessage(permErr))
			return
		}
		resolved = append(resolved, resolvedTask{target: target, instruction: task.Instruction})
	}

	targetIDs := make([]string, len(resolved))
	for i, rt := range resolved {
		targetIDs[i] = rt.target.NodeID()
		rec.AddAgent(targetIDs[i])
	}
	emit(events, protocol.EventParallelStarted, protocol.ParallelPayload{
		AgentID: parent.AgentName, Targets: targetIDs, Group: src.Group,
	})

	results := o.runParallel(ctx, resolved, rec, events)

	for i, rt := range resolved {
		parent.Memory = append(parent.Memory, providers.Message{
			Role:       "tool",
			Content:    fmt.Sprintf("[%s] Result:\n%s", rt.target.NodeID(), results[i]),
			ToolCallID: toolCallID,
			Name:       "delegate_parallel",
		})
	}
	emit(events, protocol.EventParallelCompleted, protocol.ParallelPayload{
		AgentID: parent.AgentName, Targets: targetIDs, Group: src.Group,
	})
}

// runParallel executes every sub-task concurrently with all-to-finish
// semantics: a failing target is retried once and never cancels siblings.
func (o *Orchestrator) runParallel(ctx context.Context, tasks []resolvedTask, rec *TurnRecorder, events EventFunc) []string {
	results := make([]string, len(tasks))
	var g errgroup.Group

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			result, err := o.runSubAgent(ctx, task, rec, events)
			if err != nil {
				slog.Warn("orchestration: parallel sub-agent failed, retrying",
					"agent", task.target.NodeID(), "error", err)
				result, err = o.runSubAgent(ctx, task, rec, events)
			}
			if err != nil {
				result = fmt.Sprintf("Error: Agent %s failed after retry: %v", task.target.NodeID(), err)
			}
			results[i] = result
			return nil
		})
	}
	g.Wait()
	return results
}

// runSubAgent drives one isolated inner loop for a parallel target. The
// frame is fresh per attempt; nested delegation is rejected outright.
func (o *Orchestrator) runSubAgent(ctx context.Context, task resolvedTask, rec *TurnRecorder, events EventFunc) (string, error) {
	nodeID := task.target.NodeID()
	emit(events, protocol.EventAgentStatus, protocol.AgentStatusPayload{
		AgentID: nodeID, Status: protocol.StatusStarting, Group: task.target.Group,
	})

	frame := &TaskFrame{
		AgentName:   nodeID,
		Instruction: task.instruction,
		Memory:      []providers.Message{{Role: "user", Content: task.instruction}},
	}
	for i := 0; i < o.maxSubIterations(); i++ {
		sig := o.Runner.Step(ctx, frame, rec, events)
		switch sig.Kind {
		case SignalContinue:
		case SignalReturn:
			emit(events, protocol.EventAgentStatus, protocol.AgentStatusPayload{
				AgentID: nodeID, Status: protocol.StatusCompleted, Group: task.target.Group,
			})
			return sig.Result, nil
		case SignalDelegate, SignalDelegateParallel, SignalUseSkill:
			return "", errors.New("nested delegation is not allowed in parallel sub-agents")
		case SignalError:
			return "", errors.New(sig.Err)
		}
	}
	return "", fmt.Errorf("sub-agent exceeded %d iterations", o.maxSubIterations())
}
