package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soloqueue/soloqueue/internal/bus"
	"github.com/soloqueue/soloqueue/internal/memory"
	"github.com/soloqueue/soloqueue/internal/orchestration"
	"github.com/soloqueue/soloqueue/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var (
		agentID   string
		userID    string
		sessionID string
		approve   bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one message to an agent, or start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if agentID == "" {
				if agentID, err = rt.defaultEntryAgent(); err != nil {
					return err
				}
			}
			if _, ok := rt.reg.Get(agentID); !ok {
				return fmt.Errorf("unknown agent %q", agentID)
			}

			attachApprovalPrompt(rt, approve)

			if len(args) > 0 {
				return runTurn(cmd.Context(), rt, agentID, strings.Join(args, " "), sessionID, userID)
			}
			return runInteractive(cmd.Context(), rt, agentID, sessionID, userID)
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "entry agent node id (default: the sole leader)")
	cmd.Flags().StringVar(&userID, "user", "local", "user id for session tracking")
	cmd.Flags().StringVar(&sessionID, "session", "", "explicit session id (default: resolved per user and day)")
	cmd.Flags().BoolVar(&approve, "approve", false, "auto-approve write actions instead of prompting")
	return cmd
}

// attachApprovalPrompt connects the bridge and answers write-action requests
// either automatically or from the terminal.
func attachApprovalPrompt(rt *runtime, auto bool) {
	rt.bridge.SetConnected(true)
	rt.bus.Subscribe("cli-approvals", func(event bus.Event) {
		req, ok := event.Payload.(protocol.WriteActionRequest)
		if event.Name != protocol.EventWriteActionRequest || !ok {
			return
		}
		if auto {
			fmt.Fprintf(os.Stderr, "\n[auto-approved] %s %s by %s\n", req.Operation, req.FilePath, req.AgentID)
			rt.bridge.SubmitResponse(req.ID, true)
			return
		}
		fmt.Fprintf(os.Stderr, "\nAgent %s wants to %s %s. Allow? [y/N]: ", req.AgentID, req.Operation, req.FilePath)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		rt.bridge.SubmitResponse(req.ID, answer == "y" || answer == "yes")
	})
}

func runTurn(ctx context.Context, rt *runtime, agentID, message, sessionID, userID string) error {
	res, err := rt.orc.Run(ctx, agentID, message, printEvents, sessionID, userID)
	if err != nil {
		return err
	}
	fmt.Println(res.Response)
	return nil
}

func runInteractive(ctx context.Context, rt *runtime, agentID, sessionID, userID string) error {
	fmt.Fprintf(os.Stderr, "Chatting with %s. /new starts a fresh session, exit quits.\n", agentID)
	return interactiveLoop(ctx, os.Stdin, os.Stdout, os.Stderr, sessionID,
		func(ctx context.Context, message, sessionID string) (*orchestration.RunResult, error) {
			return rt.orc.Run(ctx, agentID, message, printEvents, sessionID, userID)
		})
}

// turnFunc runs one conversational turn and reports the session it landed in.
type turnFunc func(ctx context.Context, message, sessionID string) (*orchestration.RunResult, error)

// interactiveLoop reads lines from in and runs each as a turn. The session id
// follows the orchestrator's answer, so /new rotates every later turn onto
// the fresh session even when an explicit id was forced at startup.
func interactiveLoop(ctx context.Context, in io.Reader, out, diag io.Writer, sessionID string, run turnFunc) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(diag, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		res, err := run(ctx, line, sessionID)
		if err != nil {
			fmt.Fprintf(diag, "error: %v\n", err)
			continue
		}
		sessionID = res.SessionID
		// Streamed answer chunks were already printed; finish the line.
		fmt.Fprintln(out)
		if res.Status != memory.StatusCompleted {
			fmt.Fprintf(diag, "[turn ended with status %s]\n", res.Status)
		}
	}
}

// printEvents renders engine events on the terminal: answers stream to
// stdout, everything else is diagnostics on stderr.
func printEvents(name string, payload interface{}) {
	switch name {
	case protocol.EventStream:
		p, ok := payload.(protocol.StreamPayload)
		if !ok {
			return
		}
		if p.StreamType == protocol.StreamAnswer {
			fmt.Print(p.Content)
		}
	case protocol.EventAgentStatus:
		if p, ok := payload.(protocol.AgentStatusPayload); ok && p.Status == protocol.StatusStarting {
			fmt.Fprintf(os.Stderr, "[%s working...]\n", p.AgentID)
		}
	case protocol.EventSessionNew:
		if p, ok := payload.(protocol.SessionNewPayload); ok {
			fmt.Fprintf(os.Stderr, "[new session %s]\n", p.SessionID)
		}
	}
}

var _ orchestration.EventFunc = printEvents
