package cmd

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soloqueue/soloqueue/internal/memory"
	"github.com/soloqueue/soloqueue/internal/orchestration"
)

func TestInteractiveLoopFollowsSessionRotation(t *testing.T) {
	var got []string
	run := func(ctx context.Context, message, sessionID string) (*orchestration.RunResult, error) {
		got = append(got, sessionID)
		res := &orchestration.RunResult{SessionID: sessionID, Status: memory.StatusCompleted}
		if message == "/new" {
			res.SessionID = "rotated-session"
		}
		return res, nil
	}

	in := strings.NewReader("hi\n/new\nagain\nexit\n")
	err := interactiveLoop(context.Background(), in, io.Discard, io.Discard, "forced-session", run)
	require.NoError(t, err)

	// The turn after /new must land on the rotated session, not the
	// id forced at startup.
	require.Equal(t, []string{"forced-session", "forced-session", "rotated-session"}, got)
}

func TestInteractiveLoopKeepsSessionAcrossErrors(t *testing.T) {
	calls := 0
	run := func(ctx context.Context, message, sessionID string) (*orchestration.RunResult, error) {
		calls++
		if message == "boom" {
			return nil, context.DeadlineExceeded
		}
		return &orchestration.RunResult{SessionID: "s1", Status: memory.StatusCompleted}, nil
	}

	in := strings.NewReader("ok\nboom\nok\n")
	var diag strings.Builder
	err := interactiveLoop(context.Background(), in, io.Discard, &diag, "", run)
	require.NoError(t, err, "EOF after the last line ends the loop cleanly")
	require.Equal(t, 3, calls)
	require.Contains(t, diag.String(), "error:")
}
