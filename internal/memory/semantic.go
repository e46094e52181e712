package memory

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/soloqueue/soloqueue/internal/providers"
)

// SearchResult is one semantic search hit. Score is cosine similarity in
// [0,1] (1 − distance).
type SearchResult struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Score     float32           `json:"score"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp string            `json:"timestamp"`
}

// BatchEntry is one entry for AddBatch.
type BatchEntry struct {
	Content  string
	Metadata map[string]string
}

// SummarizeStats reports a compaction pass.
type SummarizeStats struct {
	Summarized int `json:"summarized_count"`
	Failed     int `json:"failed_count"`
	Skipped    int `json:"skipped_count"`
}

// SemanticStore holds vector-indexed knowledge entries for one agent group,
// persisted through an embedded chromem collection. Embeddings are computed
// up front via the Embedder; the collection never embeds on its own.
type SemanticStore struct {
	col      *chromem.Collection
	embedder Embedder
	group    string
}

// entryIDLayout produces time-ordered ids like entry_20260224_153000_123456.
const entryIDLayout = "20060102_150405"

// NewSemanticStore opens the persistent collection for a group at dir.
func NewSemanticStore(dir, group string, embedder Embedder) (*SemanticStore, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open semantic store: %w", err)
	}
	// Embeddings are always supplied by the caller; the collection-level
	// embedding func must never run.
	stub := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("semantic store: no collection-level embedding configured")
	}
	col, err := db.GetOrCreateCollection("knowledge", map[string]string{"group": group}, stub)
	if err != nil {
		return nil, fmt.Errorf("open knowledge collection: %w", err)
	}
	return &SemanticStore{col: col, embedder: embedder, group: group}, nil
}

func newEntryID(t time.Time) string {
	return fmt.Sprintf("entry_%s_%06d", t.Format(entryIDLayout), t.Nanosecond()/1000)
}

// enrich fills in the always-present metadata keys and the agent scope.
func (s *SemanticStore) enrich(content string, metadata map[string]string, agentID string, now time.Time) map[string]string {
	out := make(map[string]string, len(metadata)+3)
	for k, v := range metadata {
		out[k] = v
	}
	if _, ok := out["timestamp"]; !ok {
		out["timestamp"] = now.UTC().Format(time.RFC3339)
	}
	out["content_length"] = strconv.Itoa(len(content))
	if agentID != "" {
		out["agent_id"] = agentID
	}
	return out
}

// AddEntry stores one entry. A time-based id is generated when id is empty.
func (s *SemanticStore) AddEntry(ctx context.Context, content string, metadata map[string]string, id, agentID string) (string, error) {
	now := time.Now()
	if id == "" {
		id = newEntryID(now)
	}
	vectors, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return "", fmt.Errorf("embed entry: %w", err)
	}
	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: vectors[0],
		Metadata:  s.enrich(content, metadata, agentID, now),
	}
	if err := s.col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return "", fmt.Errorf("add entry: %w", err)
	}
	return id, nil
}

// AddBatch stores several entries with a single embedding call.
func (s *SemanticStore) AddBatch(ctx context.Context, entries []BatchEntry, agentID string) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(entries) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(entries))
	}

	now := time.Now()
	ids := make([]string, len(entries))
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		// Offset keeps generated ids unique within the batch.
		ids[i] = newEntryID(now.Add(time.Duration(i) * time.Microsecond))
		docs[i] = chromem.Document{
			ID:        ids[i],
			Content:   e.Content,
			Embedding: vectors[i],
			Metadata:  s.enrich(e.Content, e.Metadata, agentID, now),
		}
	}
	if err := s.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("add batch: %w", err)
	}
	return ids, nil
}

// Search returns up to k entries ranked by similarity. agentID narrows the
// scope; when both agentID and filter specify agent_id, the parameter wins.
func (s *SemanticStore) Search(ctx context.Context, query string, k int, filter map[string]string, agentID string) ([]SearchResult, error) {
	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	where := make(map[string]string, len(filter)+1)
	for key, v := range filter {
		where[key] = v
	}
	if agentID != "" {
		if prev, ok := where["agent_id"]; ok && prev != agentID {
			slog.Warn("semantic: agent_id in filter overridden by parameter",
				"filter_agent", prev, "agent", agentID)
		}
		where["agent_id"] = agentID
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	// Rank across the whole collection, then apply the metadata filter.
	// Filtering after ranking keeps the top-k semantics independent of how
	// many documents the filter leaves.
	results, err := s.col.QueryEmbedding(ctx, vectors[0], count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic query: %w", err)
	}

	out := make([]SearchResult, 0, k)
	for _, r := range results {
		if !matchesFilter(r.Metadata, where) {
			continue
		}
		out = append(out, SearchResult{
			ID:        r.ID,
			Content:   r.Content,
			Score:     r.Similarity,
			Metadata:  r.Metadata,
			Timestamp: r.Metadata["timestamp"],
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func matchesFilter(metadata, where map[string]string) bool {
	for k, v := range where {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// GetByID returns a single entry, or ErrNotFound.
func (s *SemanticStore) GetByID(ctx context.Context, id string) (*SearchResult, error) {
	doc, err := s.col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return &SearchResult{
		ID:        doc.ID,
		Content:   doc.Content,
		Score:     1,
		Metadata:  doc.Metadata,
		Timestamp: doc.Metadata["timestamp"],
	}, nil
}

// Delete removes entries by id.
func (s *SemanticStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	return nil
}

// Count returns the number of stored entries.
func (s *SemanticStore) Count() int { return s.col.Count() }

// GetOldEntries returns entries whose timestamp is older than the given
// number of days. The collection exposes only similarity queries, so this
// scans via a full-width query and filters on metadata.
func (s *SemanticStore) GetOldEntries(ctx context.Context, days int) ([]SearchResult, error) {
	count := s.col.Count()
	if count == 0 {
		return nil, nil
	}
	vectors, err := s.embedder.Embed(ctx, []string{"."})
	if err != nil {
		return nil, fmt.Errorf("embed scan probe: %w", err)
	}
	results, err := s.col.QueryEmbedding(ctx, vectors[0], count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var out []SearchResult
	for _, r := range results {
		ts, err := time.Parse(time.RFC3339, r.Metadata["timestamp"])
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			out = append(out, SearchResult{
				ID:        r.ID,
				Content:   r.Content,
				Score:     r.Similarity,
				Metadata:  r.Metadata,
				Timestamp: r.Metadata["timestamp"],
			})
		}
	}
	return out, nil
}

// SummarizeEntries compacts entries older than days: each is replaced by a
// model-written summary capped at 200 characters, keeping the original
// timestamp and marking summarized="true". batch bounds how many entries one
// pass touches.
func (s *SemanticStore) SummarizeEntries(ctx context.Context, llm providers.Provider, days, batch int) (*SummarizeStats, error) {
	old, err := s.GetOldEntries(ctx, days)
	if err != nil {
		return nil, err
	}

	stats := &SummarizeStats{}
	for _, entry := range old {
		if batch > 0 && stats.Summarized+stats.Failed >= batch {
			break
		}
		if entry.Metadata["summarized"] == "true" || len(entry.Content) <= 200 {
			stats.Skipped++
			continue
		}

		summary, err := summarizeContent(ctx, llm, entry.Content)
		if err != nil {
			slog.Warn("semantic: summarize failed", "id", entry.ID, "error", err)
			stats.Failed++
			continue
		}

		meta := map[string]string{
			"original_timestamp": entry.Timestamp,
			"summarized":         "true",
		}
		for _, k := range []string{"agent_id", "type", "topic", "importance", "session_id"} {
			if v, ok := entry.Metadata[k]; ok {
				meta[k] = v
			}
		}
		agentID := entry.Metadata["agent_id"]
		if _, err := s.AddEntry(ctx, summary, meta, "", agentID); err != nil {
			stats.Failed++
			continue
		}
		if err := s.Delete(ctx, entry.ID); err != nil {
			slog.Warn("semantic: failed to delete summarized entry", "id", entry.ID, "error", err)
		}
		stats.Summarized++
	}
	return stats, nil
}

func summarizeContent(ctx context.Context, llm providers.Provider, content string) (string, error) {
	resp, err := llm.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "Summarize the following note in at most 200 characters. Keep concrete facts; drop filler."},
			{Role: "user", Content: content},
		},
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("empty summary")
	}
	if len(summary) > 200 {
		summary = summary[:200]
	}
	return summary, nil
}
