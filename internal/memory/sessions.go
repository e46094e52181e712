package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SessionManager derives deterministic session identity from
// (user, date, seq) and handles /new and cross-day rollover. Session ids
// look like `alice_2026-08-24_0`; the user id itself may contain
// underscores, so parsing works right to left.
type SessionManager struct {
	log *SessionLog
}

func NewSessionManager(log *SessionLog) *SessionManager {
	return &SessionManager{log: log}
}

// ResolveSession returns today's session id for the user, creating the
// first one of the day (seq 0) when none exists yet. isNew reports whether
// the id is fresh — callers archive the previous session on rollover.
func (m *SessionManager) ResolveSession(userID string, date time.Time) (sessionID string, isNew bool, err error) {
	day := date.Format("2006-01-02")
	seqs, err := m.sequencesForDay(userID, day)
	if err != nil {
		return "", false, err
	}
	if len(seqs) > 0 {
		return fmt.Sprintf("%s_%s_%d", userID, day, seqs[len(seqs)-1]), false, nil
	}
	return fmt.Sprintf("%s_%s_0", userID, day), true, nil
}

// ForceNewSession always mints a fresh id for today: seq = max existing + 1,
// or 0 when the day has no sessions.
func (m *SessionManager) ForceNewSession(userID string) (string, error) {
	day := time.Now().Format("2006-01-02")
	seqs, err := m.sequencesForDay(userID, day)
	if err != nil {
		return "", err
	}
	next := 0
	if len(seqs) > 0 {
		next = seqs[len(seqs)-1] + 1
	}
	return fmt.Sprintf("%s_%s_%d", userID, day, next), nil
}

// GetPreviousSessionID returns the session to archive: the second-newest of
// today, else the newest id from a prior day. Empty when there is none.
// Lexicographic order works across days because the date is fixed-width.
func (m *SessionManager) GetPreviousSessionID(userID string) (string, error) {
	sessions, err := m.log.GetSessionsByUser(userID)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", nil
	}

	day := time.Now().Format("2006-01-02")
	prefix := fmt.Sprintf("%s_%s_", userID, day)

	var today []string
	var earlier []string
	for _, s := range sessions {
		if strings.HasPrefix(s, prefix) {
			today = append(today, s)
		} else {
			earlier = append(earlier, s)
		}
	}

	if len(today) >= 2 {
		sort.Slice(today, func(i, j int) bool {
			return sessionSeq(today[i]) < sessionSeq(today[j])
		})
		return today[len(today)-2], nil
	}
	if len(earlier) > 0 {
		sort.Strings(earlier)
		return earlier[len(earlier)-1], nil
	}
	if len(today) == 1 {
		return "", nil // only the current session exists
	}
	return "", nil
}

// ArchiveSession writes the session's transcript into the semantic store as
// one session_archive entry. Empty sessions are skipped. A nil store is a
// no-op (semantic memory not configured).
func (m *SessionManager) ArchiveSession(ctx context.Context, sessionID, userID string, store *SemanticStore) error {
	if store == nil {
		return nil
	}
	text, err := m.log.GetSessionTurnsText(sessionID)
	if err != nil {
		return err
	}
	if text == "" {
		slog.Debug("sessions: nothing to archive", "session", sessionID)
		return nil
	}
	count, err := m.log.TurnCount(sessionID)
	if err != nil {
		return err
	}
	_, date, seq, err := ParseSessionID(sessionID)
	if err != nil {
		return err
	}

	meta := map[string]string{
		"type":       "session_archive",
		"user_id":    userID,
		"session_id": sessionID,
		"date":       date,
		"seq":        strconv.Itoa(seq),
		"turn_count": strconv.Itoa(count),
	}
	if _, err := store.AddEntry(ctx, text, meta, "", ""); err != nil {
		return fmt.Errorf("archive session %s: %w", sessionID, err)
	}
	slog.Info("sessions: archived", "session", sessionID, "turns", count)
	return nil
}

// ParseSessionID splits an id into (user, date, seq). The tail after the
// last underscore must be a non-negative integer; the remainder must end in
// `_YYYY-MM-DD` with fixed hyphen positions; the prefix before that is the
// user id and must be non-empty.
func ParseSessionID(s string) (userID, date string, seq int, err error) {
	i := strings.LastIndex(s, "_")
	if i < 0 {
		return "", "", 0, fmt.Errorf("invalid session id %q: no sequence", s)
	}
	seq, err = strconv.Atoi(s[i+1:])
	if err != nil || seq < 0 {
		return "", "", 0, fmt.Errorf("invalid session id %q: bad sequence", s)
	}

	rest := s[:i]
	if len(rest) < 11 || rest[len(rest)-11] != '_' {
		return "", "", 0, fmt.Errorf("invalid session id %q: bad date", s)
	}
	date = rest[len(rest)-10:]
	if _, perr := time.Parse("2006-01-02", date); perr != nil {
		return "", "", 0, fmt.Errorf("invalid session id %q: bad date", s)
	}

	userID = rest[:len(rest)-11]
	if userID == "" {
		return "", "", 0, fmt.Errorf("invalid session id %q: empty user", s)
	}
	return userID, date, seq, nil
}

// sequencesForDay returns sorted sequence numbers for the user's sessions
// on a given day.
func (m *SessionManager) sequencesForDay(userID, day string) ([]int, error) {
	sessions, err := m.log.GetSessionsByUser(userID)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("%s_%s_", userID, day)
	var seqs []int
	for _, s := range sessions {
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		if n, err := strconv.Atoi(s[len(prefix):]); err == nil && n >= 0 {
			seqs = append(seqs, n)
		}
	}
	sort.Ints(seqs)
	return seqs, nil
}

func sessionSeq(s string) int {
	i := strings.LastIndex(s, "_")
	if i < 0 {
		return 0
	}
	n, _ := strconv.Atoi(s[i+1:])
	return n
}
