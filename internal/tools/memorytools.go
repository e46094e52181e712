package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/soloqueue/soloqueue/internal/memory"
)

// DefaultRememberThreshold is the similarity above which a new memory is
// treated as a duplicate of an existing one.
const DefaultRememberThreshold = 0.95

// SearchMemoryTool queries the agent's semantic memory.
type SearchMemoryTool struct {
	store   *memory.SemanticStore
	agentID string
}

func NewSearchMemoryTool(store *memory.SemanticStore, agentID string) *SearchMemoryTool {
	return &SearchMemoryTool{store: store, agentID: agentID}
}

func (t *SearchMemoryTool) Name() string { return "search_memory" }
func (t *SearchMemoryTool) Description() string {
	return "Search your long-term memory for relevant knowledge"
}
func (t *SearchMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for",
			},
			"top_k": map[string]interface{}{
				"type":        "integer",
				"description": "Max results (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}
	topK := 5
	if k, ok := args["top_k"].(float64); ok && k > 0 {
		topK = int(k)
	}

	results, err := t.store.Search(ctx, query, topK, nil, t.agentID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory search failed: %v", err)).WithError(err)
	}
	if len(results) == 0 {
		return SilentResult("No relevant memories found.")
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. (%.2f) %s\n", i+1, r.Score, r.Content)
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// RememberTool stores a fact in semantic memory, skipping near-duplicates:
// the content is first queried at top_k=1 and dropped when the best match
// scores at or above the threshold.
type RememberTool struct {
	store     *memory.SemanticStore
	agentID   string
	Threshold float32
}

func NewRememberTool(store *memory.SemanticStore, agentID string) *RememberTool {
	return &RememberTool{store: store, agentID: agentID, Threshold: DefaultRememberThreshold}
}

func (t *RememberTool) Name() string { return "remember" }
func (t *RememberTool) Description() string {
	return "Store an important fact in your long-term memory"
}
func (t *RememberTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The fact to remember",
			},
			"importance": map[string]interface{}{
				"type":        "string",
				"description": "Optional importance: low, medium, high",
			},
		},
		"required": []string{"content"},
	}
}

func (t *RememberTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	if content == "" {
		return ErrorResult("content is required")
	}

	existing, err := t.store.Search(ctx, content, 1, nil, t.agentID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("memory lookup failed: %v", err)).WithError(err)
	}
	if len(existing) > 0 && existing[0].Score >= t.Threshold {
		return SilentResult(fmt.Sprintf("duplicate: already remembered as %s", existing[0].ID))
	}

	meta := map[string]string{}
	if importance, ok := args["importance"].(string); ok && importance != "" {
		meta["importance"] = importance
	}
	id, err := t.store.AddEntry(ctx, content, meta, "", t.agentID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to store memory: %v", err)).WithError(err)
	}
	return SilentResult(fmt.Sprintf("Remembered as %s", id))
}
