package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *SessionLog {
	t.Helper()
	log, err := NewSessionLog(filepath.Join(t.TempDir(), "conversations.jsonl"))
	require.NoError(t, err)
	return log
}

func saveTurn(t *testing.T, log *SessionLog, session, user, msg, reply string, turn int) {
	t.Helper()
	require.NoError(t, log.SaveTurn(&ConversationTurn{
		SessionID:   session,
		Turn:        turn,
		Timestamp:   time.Now(),
		EntryAgent:  "main__assistant",
		UserID:      user,
		UserMessage: msg,
		Response:    AIResponse{Content: reply},
		Status:      StatusCompleted,
	}))
}

func TestParseSessionIDRoundTrip(t *testing.T) {
	tests := []struct {
		user string
		date string
		seq  int
	}{
		{"alice", "2026-08-24", 0},
		{"bob_smith", "2026-02-27", 3},
		{"u_with_many_underscores", "2025-12-31", 17},
	}
	for _, tt := range tests {
		id := fmt.Sprintf("%s_%s_%d", tt.user, tt.date, tt.seq)
		user, date, seq, err := ParseSessionID(id)
		require.NoError(t, err, id)
		require.Equal(t, tt.user, user)
		require.Equal(t, tt.date, date)
		require.Equal(t, tt.seq, seq)
	}
}

func TestParseSessionIDRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"noseq",
		"alice_2026-08-24_x",
		"alice_2026-08-24_-1",
		"alice_20260824_0",
		"alice_2026/08/24_0",
		"_2026-08-24_0",
		"2026-08-24_0",
	}
	for _, id := range bad {
		_, _, _, err := ParseSessionID(id)
		require.Error(t, err, "id %q should be rejected", id)
	}
}

func TestResolveSessionFirstOfDay(t *testing.T) {
	m := NewSessionManager(newTestLog(t))
	id, isNew, err := m.ResolveSession("alice", time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, isNew)
	require.Equal(t, "alice_2026-08-24_0", id)
}

func TestResolveSessionReturnsNewest(t *testing.T) {
	log := newTestLog(t)
	saveTurn(t, log, "alice_2026-08-24_0", "alice", "hi", "hello", 1)
	saveTurn(t, log, "alice_2026-08-24_2", "alice", "hi again", "hello", 1)

	m := NewSessionManager(log)
	id, isNew, err := m.ResolveSession("alice", time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, "alice_2026-08-24_2", id)
}

func TestResolveSessionCrossDayRollover(t *testing.T) {
	log := newTestLog(t)
	saveTurn(t, log, "u_2026-02-27_0", "u", "q1", "a1", 1)
	saveTurn(t, log, "u_2026-02-27_0", "u", "q2", "a2", 2)

	m := NewSessionManager(log)
	id, isNew, err := m.ResolveSession("u", time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, isNew)
	require.Equal(t, "u_2026-02-28_0", id)
}

func TestForceNewSessionIncrementsSeq(t *testing.T) {
	log := newTestLog(t)
	day := time.Now().Format("2006-01-02")
	saveTurn(t, log, fmt.Sprintf("alice_%s_0", day), "alice", "hi", "hello", 1)

	m := NewSessionManager(log)
	id, err := m.ForceNewSession("alice")
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("alice_%s_1", day), id)
}

func TestGetPreviousSessionID(t *testing.T) {
	log := newTestLog(t)
	day := time.Now().Format("2006-01-02")
	m := NewSessionManager(log)

	prev, err := m.GetPreviousSessionID("alice")
	require.NoError(t, err)
	require.Empty(t, prev)

	// Prior-day session is the previous one while today has at most one.
	saveTurn(t, log, "alice_2026-01-01_1", "alice", "old", "old", 1)
	saveTurn(t, log, fmt.Sprintf("alice_%s_0", day), "alice", "hi", "hello", 1)
	prev, err = m.GetPreviousSessionID("alice")
	require.NoError(t, err)
	require.Equal(t, "alice_2026-01-01_1", prev)

	// With two sessions today, the second-newest of today wins.
	saveTurn(t, log, fmt.Sprintf("alice_%s_1", day), "alice", "again", "hello", 1)
	prev, err = m.GetPreviousSessionID("alice")
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("alice_%s_0", day), prev)
}

func TestArchiveSessionStoresTranscript(t *testing.T) {
	log := newTestLog(t)
	saveTurn(t, log, "u_2026-02-27_0", "u", "q1", "a1", 1)
	saveTurn(t, log, "u_2026-02-27_0", "u", "q2", "a2", 2)

	store := newTestSemanticStore(t)
	m := NewSessionManager(log)
	require.NoError(t, m.ArchiveSession(context.Background(), "u_2026-02-27_0", "u", store))

	results, err := store.Search(context.Background(), "q1 a1", 1, nil, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "session_archive", results[0].Metadata["type"])
	require.Equal(t, "2", results[0].Metadata["turn_count"])
	require.Equal(t, "u_2026-02-27_0", results[0].Metadata["session_id"])
	require.Contains(t, results[0].Content, "User: q1\nAI: a1")
	require.Contains(t, results[0].Content, "---")
}

func TestArchiveSessionSkipsEmpty(t *testing.T) {
	m := NewSessionManager(newTestLog(t))
	store := newTestSemanticStore(t)
	require.NoError(t, m.ArchiveSession(context.Background(), "u_2026-02-27_0", "u", store))
	require.Equal(t, 0, store.Count())
}
