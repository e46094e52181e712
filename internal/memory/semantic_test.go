package memory

import (
	"context"
	"hash/fnv"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soloqueue/soloqueue/internal/providers"
)

// hashEmbedder maps text deterministically to a unit vector. Identical
// texts embed identically (similarity 1); different texts land elsewhere.
type hashEmbedder struct{}

func (hashEmbedder) Dimension() int { return 8 }

func (e hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, e.Dimension())
		var norm float64
		for d := range v {
			h := fnv.New32a()
			h.Write([]byte{byte(d)})
			h.Write([]byte(text))
			v[d] = float32(h.Sum32()%1000) + 1
			norm += float64(v[d]) * float64(v[d])
		}
		norm = math.Sqrt(norm)
		for d := range v {
			v[d] = float32(float64(v[d]) / norm)
		}
		out[i] = v
	}
	return out, nil
}

func newTestSemanticStore(t *testing.T) *SemanticStore {
	t.Helper()
	store, err := NewSemanticStore(t.TempDir(), "testgroup", hashEmbedder{})
	require.NoError(t, err)
	return store
}

func TestAddEntryEnrichesMetadata(t *testing.T) {
	store := newTestSemanticStore(t)
	ctx := context.Background()

	id, err := store.AddEntry(ctx, "the deploy runs at midnight", map[string]string{"topic": "ops"}, "", "main__worker")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entry, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "ops", entry.Metadata["topic"])
	require.Equal(t, "main__worker", entry.Metadata["agent_id"])
	require.NotEmpty(t, entry.Metadata["timestamp"])
	require.Equal(t, "27", entry.Metadata["content_length"])
}

func TestSearchExactMatchScoresHighest(t *testing.T) {
	store := newTestSemanticStore(t)
	ctx := context.Background()

	_, err := store.AddEntry(ctx, "kubernetes cluster config", nil, "", "")
	require.NoError(t, err)
	_, err = store.AddEntry(ctx, "grocery list for saturday", nil, "", "")
	require.NoError(t, err)

	results, err := store.Search(ctx, "kubernetes cluster config", 2, nil, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "kubernetes cluster config", results[0].Content)
	require.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestSearchAgentScoping(t *testing.T) {
	store := newTestSemanticStore(t)
	ctx := context.Background()

	_, err := store.AddEntry(ctx, "fact A", nil, "", "agent_a")
	require.NoError(t, err)
	_, err = store.AddEntry(ctx, "fact B", nil, "", "agent_b")
	require.NoError(t, err)

	results, err := store.Search(ctx, "fact", 5, nil, "agent_a")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "fact A", results[0].Content)

	// Parameter wins over a conflicting filter value.
	results, err = store.Search(ctx, "fact", 5, map[string]string{"agent_id": "agent_b"}, "agent_a")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "fact A", results[0].Content)
}

func TestAddBatch(t *testing.T) {
	store := newTestSemanticStore(t)
	ctx := context.Background()

	ids, err := store.AddBatch(ctx, []BatchEntry{
		{Content: "first entry"},
		{Content: "second entry", Metadata: map[string]string{"topic": "x"}},
		{Content: "third entry"},
	}, "agent_a")
	require.NoError(t, err)
	require.Len(t, ids, 3)
	require.Equal(t, 3, store.Count())

	seen := map[string]bool{}
	for _, id := range ids {
		require.False(t, seen[id], "batch ids must be unique")
		seen[id] = true
	}
}

func TestDeleteEntry(t *testing.T) {
	store := newTestSemanticStore(t)
	ctx := context.Background()

	id, err := store.AddEntry(ctx, "to be removed", nil, "", "")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, id))
	require.Equal(t, 0, store.Count())

	_, err = store.GetByID(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

// scriptedLLM returns canned content for Chat calls.
type scriptedLLM struct{ reply string }

func (s *scriptedLLM) Chat(_ context.Context, _ providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: s.reply}, nil
}

func (s *scriptedLLM) ChatStream(ctx context.Context, req providers.ChatRequest, _ func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return s.Chat(ctx, req)
}

func (s *scriptedLLM) DefaultModel() string { return "test-model" }
func (s *scriptedLLM) Name() string         { return "scripted" }

func TestSummarizeEntries(t *testing.T) {
	store := newTestSemanticStore(t)
	ctx := context.Background()

	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	// Backdated timestamp so the entry qualifies as old.
	_, err := store.AddEntry(ctx, string(long), map[string]string{"timestamp": "2020-01-01T00:00:00Z"}, "", "agent_a")
	require.NoError(t, err)
	// Short entry is skipped.
	_, err = store.AddEntry(ctx, "short", map[string]string{"timestamp": "2020-01-01T00:00:00Z"}, "", "")
	require.NoError(t, err)

	stats, err := store.SummarizeEntries(ctx, &scriptedLLM{reply: "a compact summary"}, 30, 10)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Summarized)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, 0, stats.Failed)

	results, err := store.Search(ctx, "a compact summary", 2, map[string]string{"summarized": "true"}, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "a compact summary", results[0].Content)
	require.Equal(t, "2020-01-01T00:00:00Z", results[0].Metadata["original_timestamp"])
	require.Equal(t, "agent_a", results[0].Metadata["agent_id"])
}
