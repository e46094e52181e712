package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soloqueue/soloqueue/internal/providers"
)

// Turn completion statuses.
const (
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusError     = "error"
)

// ToolCallRecord captures one tool invocation made during a turn.
type ToolCallRecord struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// SkillCallRecord captures one skill invocation made during a turn.
type SkillCallRecord struct {
	Name string `json:"name"`
	Args string `json:"args,omitempty"`
}

// TokenUsage aggregates model token counters over a turn.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AIResponse is the assistant's final output for a turn.
type AIResponse struct {
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

// ConversationTurn is one user/assistant exchange, appended once and never
// edited.
type ConversationTurn struct {
	SessionID       string            `json:"session_id"`
	Turn            int               `json:"turn"` // 1-based, monotone per session
	Timestamp       time.Time         `json:"timestamp"`
	EntryAgent      string            `json:"entry_agent"`
	UserID          string            `json:"user_id,omitempty"`
	UserMessage     string            `json:"user_message"`
	Response        AIResponse        `json:"response"`
	ToolCalls       []ToolCallRecord  `json:"tool_calls,omitempty"`
	SkillCalls      []SkillCallRecord `json:"skill_calls,omitempty"`
	DelegationChain []string          `json:"delegation_chain,omitempty"`
	Usage           TokenUsage        `json:"token_usage"`
	DurationMS      int64             `json:"duration_ms"`
	Status          string            `json:"status"`
}

// SessionLog is an append-only JSONL record of conversation turns. Appends
// are serialized by a mutex and atomic at line granularity; readers scan the
// whole file and skip malformed lines.
type SessionLog struct {
	path string
	mu   sync.Mutex
}

func NewSessionLog(path string) (*SessionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &SessionLog{path: path}, nil
}

// SaveTurn appends one turn as a single JSON line.
func (l *SessionLog) SaveTurn(turn *ConversationTurn) error {
	line, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("serialize turn: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// scan reads every well-formed turn, invoking fn for each. Malformed lines
// are skipped.
func (l *SessionLog) scan(fn func(*ConversationTurn)) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var turn ConversationTurn
		if err := json.Unmarshal(line, &turn); err != nil {
			slog.Debug("session log: skipping malformed line", "error", err)
			continue
		}
		fn(&turn)
	}
	return scanner.Err()
}

// GetTurns returns every turn of a session, sorted by turn number.
func (l *SessionLog) GetTurns(sessionID string) ([]ConversationTurn, error) {
	var out []ConversationTurn
	err := l.scan(func(t *ConversationTurn) {
		if t.SessionID == sessionID {
			out = append(out, *t)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Turn < out[j].Turn })
	return out, nil
}

// GetHistory reconstructs alternating user/assistant messages from the last
// limit turns of a session, oldest first. limit <= 0 means all turns.
func (l *SessionLog) GetHistory(sessionID string, limit int) ([]providers.Message, error) {
	turns, err := l.GetTurns(sessionID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	msgs := make([]providers.Message, 0, len(turns)*2)
	for _, t := range turns {
		msgs = append(msgs,
			providers.Message{Role: "user", Content: t.UserMessage},
			providers.Message{Role: "assistant", Content: t.Response.Content})
	}
	return msgs, nil
}

// GetSessionsByUser returns the user's session ids, deduplicated, in
// first-seen order.
func (l *SessionLog) GetSessionsByUser(userID string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	err := l.scan(func(t *ConversationTurn) {
		if t.UserID != userID || seen[t.SessionID] {
			return
		}
		seen[t.SessionID] = true
		out = append(out, t.SessionID)
	})
	return out, err
}

// GetSessionTurnsText renders a session as a plain transcript for archival.
func (l *SessionLog) GetSessionTurnsText(sessionID string) (string, error) {
	turns, err := l.GetTurns(sessionID)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		parts = append(parts, fmt.Sprintf("User: %s\nAI: %s", t.UserMessage, t.Response.Content))
	}
	return strings.Join(parts, "\n---\n"), nil
}

// TurnCount returns the number of recorded turns for a session.
func (l *SessionLog) TurnCount(sessionID string) (int, error) {
	turns, err := l.GetTurns(sessionID)
	if err != nil {
		return 0, err
	}
	return len(turns), nil
}

// ClearSession rewrites the file without the session's rows.
func (l *SessionLog) ClearSession(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var kept [][]byte
	err := l.scan(func(t *ConversationTurn) {
		if t.SessionID == sessionID {
			return
		}
		if line, err := json.Marshal(t); err == nil {
			kept = append(kept, line)
		}
	})
	if err != nil {
		return err
	}

	tmp := l.path + ".tmp"
	var buf strings.Builder
	for _, line := range kept {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(tmp, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write rewritten log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace session log: %w", err)
	}
	return nil
}
