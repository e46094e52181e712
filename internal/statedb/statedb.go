// Package statedb backs the queue-worker mode: a task queue with atomic
// claiming, agent heartbeats, and named locks, all on a single SQLite file
// local to the workspace.
package statedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Task statuses.
const (
	TaskPending   = "pending"
	TaskClaimed   = "claimed"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Agent availability states reported through heartbeats.
const (
	AgentIdle = "idle"
	AgentBusy = "busy"
)

// ErrNoTask is returned by ClaimNextTask when the queue is empty.
var ErrNoTask = errors.New("no pending task")

// ErrLockHeld is returned when a named lock is held by someone else.
var ErrLockHeld = errors.New("lock held")

// Task is one queued unit of work for an agent.
type Task struct {
	ID         string
	AgentID    string
	UserID     string
	SessionID  string
	Payload    string
	Status     string
	Result     string
	CreatedAt  time.Time
	ClaimedAt  *time.Time
	ClaimedBy  string
	FinishedAt *time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	user_id     TEXT NOT NULL DEFAULT '',
	session_id  TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	result      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	claimed_at  TIMESTAMP,
	claimed_by  TEXT NOT NULL DEFAULT '',
	finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at);

CREATE TABLE IF NOT EXISTS heartbeats (
	agent_id  TEXT PRIMARY KEY,
	state     TEXT NOT NULL DEFAULT 'idle',
	last_seen TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS locks (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
`

// DB wraps the state database.
type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init state schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (s *DB) Close() error { return s.db.Close() }

// EnqueueTask adds a pending task for an agent and returns its id.
func (s *DB) EnqueueTask(ctx context.Context, agentID, userID, sessionID, payload string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, agent_id, user_id, session_id, payload, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, agentID, userID, sessionID, payload, TaskPending, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return id, nil
}

// ClaimNextTask atomically moves the oldest pending task to claimed and
// returns it. The claim is a single conditional UPDATE, so two workers can
// never claim the same task.
func (s *DB) ClaimNextTask(ctx context.Context, workerID string) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM tasks WHERE status = ? ORDER BY created_at LIMIT 1`,
		TaskPending).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoTask
	}
	if err != nil {
		return nil, fmt.Errorf("find pending task: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, claimed_at = ?, claimed_by = ?
		 WHERE id = ? AND status = ?`,
		TaskClaimed, now, workerID, id, TaskPending)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNoTask
	}

	task, err := scanTask(tx.QueryRowContext(ctx,
		`SELECT id, agent_id, user_id, session_id, payload, status, result,
		        created_at, claimed_at, claimed_by, finished_at
		 FROM tasks WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return task, nil
}

// CompleteTask records a task's outcome.
func (s *DB) CompleteTask(ctx context.Context, taskID, result string, failed bool) error {
	status := TaskCompleted
	if failed {
		status = TaskFailed
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, finished_at = ? WHERE id = ?`,
		status, result, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// GetTask fetches a task by id.
func (s *DB) GetTask(ctx context.Context, taskID string) (*Task, error) {
	return scanTask(s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, user_id, session_id, payload, status, result,
		        created_at, claimed_at, claimed_by, finished_at
		 FROM tasks WHERE id = ?`, taskID))
}

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.AgentID, &t.UserID, &t.SessionID, &t.Payload,
		&t.Status, &t.Result, &t.CreatedAt, &t.ClaimedAt, &t.ClaimedBy, &t.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoTask
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}

// UpdateHeartbeat upserts an agent's liveness record.
func (s *DB) UpdateHeartbeat(ctx context.Context, agentID, state string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO heartbeats (agent_id, state, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET state = excluded.state, last_seen = excluded.last_seen`,
		agentID, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// LiveAgents returns agents whose heartbeat is newer than maxAge.
func (s *DB) LiveAgents(ctx context.Context, maxAge time.Duration) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, state FROM heartbeats WHERE last_seen > ?`,
		time.Now().UTC().Add(-maxAge))
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		out[id] = state
	}
	return out, rows.Err()
}

// AcquireLock takes a named lock for the holder until ttl elapses. An
// expired lock is silently taken over.
func (s *DB) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locks (name, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		 WHERE locks.expires_at < ? OR locks.holder = excluded.holder`,
		name, holder, now.Add(ttl), now)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrLockHeld, name)
	}
	return nil
}

// ReleaseLock drops a named lock if the holder still owns it.
func (s *DB) ReleaseLock(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM locks WHERE name = ? AND holder = ?`, name, holder)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
