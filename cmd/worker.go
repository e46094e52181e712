package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/soloqueue/soloqueue/internal/memory"
	"github.com/soloqueue/soloqueue/internal/statedb"
)

func workerCmd() *cobra.Command {
	var workerID string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a queue worker that executes enqueued agent tasks",
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

			db, err := statedb.Open(filepath.Join(rt.mem.Root(), "state.db"))
			if err != nil {
				return err
			}
			defer db.Close()

			if workerID == "" {
				workerID = "worker-" + uuid.NewString()[:8]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("worker started", "id", workerID)
			return runWorkerLoop(ctx, rt, db, workerID,
				time.Duration(cfg.Worker.PollIntervalMS)*time.Millisecond,
				time.Duration(cfg.Worker.HeartbeatSeconds)*time.Second)
		},
	}

	cmd.Flags().StringVar(&workerID, "id", "", "worker id (default: random)")
	return cmd
}

func runWorkerLoop(ctx context.Context, rt *runtime, db *statedb.DB, workerID string, poll, heartbeat time.Duration) error {
	pollTicker := time.NewTicker(poll)
	defer pollTicker.Stop()
	hbTicker := time.NewTicker(heartbeat)
	defer hbTicker.Stop()

	if err := db.UpdateHeartbeat(ctx, workerID, statedb.AgentIdle); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping", "id", workerID)
			return nil
		case <-hbTicker.C:
			if err := db.UpdateHeartbeat(ctx, workerID, statedb.AgentIdle); err != nil {
				slog.Warn("heartbeat failed", "error", err)
			}
		case <-pollTicker.C:
			if err := processNextTask(ctx, rt, db, workerID); err != nil {
				slog.Error("task processing failed", "error", err)
			}
		}
	}
}

func processNextTask(ctx context.Context, rt *runtime, db *statedb.DB, workerID string) error {
	task, err := db.ClaimNextTask(ctx, workerID)
	if errors.Is(err, statedb.ErrNoTask) {
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("task claimed", "task", task.ID, "agent", task.AgentID)
	if err := db.UpdateHeartbeat(ctx, workerID, statedb.AgentBusy); err != nil {
		slog.Warn("heartbeat failed", "error", err)
	}

	res, runErr := rt.orc.Run(ctx, task.AgentID, task.Payload, nil, task.SessionID, task.UserID)
	if runErr != nil {
		return db.CompleteTask(ctx, task.ID, runErr.Error(), true)
	}
	failed := res.Status != memory.StatusCompleted
	if err := db.CompleteTask(ctx, task.ID, res.Response, failed); err != nil {
		return err
	}
	slog.Info("task finished", "task", task.ID, "status", res.Status)
	return db.UpdateHeartbeat(ctx, workerID, statedb.AgentIdle)
}

func enqueueCmd() *cobra.Command {
	var (
		agentID   string
		userID    string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <message>",
		Short: "Queue a task for a worker to execute",
		Args:  cobra.MinimumNArgs(1),
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

			db, err := statedb.Open(filepath.Join(rt.mem.Root(), "state.db"))
			if err != nil {
				return err
			}
			defer db.Close()

			id, err := db.EnqueueTask(cmd.Context(), agentID, userID, sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "target agent node id")
	cmd.Flags().StringVar(&userID, "user", "local", "user id")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	return cmd
}
