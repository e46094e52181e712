package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soloqueue/soloqueue/internal/approval"
	"github.com/soloqueue/soloqueue/internal/memory"
	"github.com/soloqueue/soloqueue/pkg/protocol"
)

// SaveArtifactTool stores content in the artifact store.
type SaveArtifactTool struct {
	store   *memory.ArtifactStore
	group   string
	agentID string
}

func NewSaveArtifactTool(store *memory.ArtifactStore, group, agentID string) *SaveArtifactTool {
	return &SaveArtifactTool{store: store, group: group, agentID: agentID}
}

func (t *SaveArtifactTool) Name() string { return "save_artifact" }
func (t *SaveArtifactTool) Description() string {
	return "Save content as a persistent artifact; returns its id"
}
func (t *SaveArtifactTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to store",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable title",
			},
			"tags": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional tags",
			},
		},
		"required": []string{"content", "title"},
	}
}

func (t *SaveArtifactTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	content, _ := args["content"].(string)
	title, _ := args["title"].(string)
	if content == "" || title == "" {
		return ErrorResult("content and title are required")
	}
	var tags []string
	if raw, ok := args["tags"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	id, err := t.store.Save(ctx, []byte(content), title, t.agentID, t.group, tags, "")
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to save artifact: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("Saved artifact %d (%q, %d bytes)", id, title, len(content)))
}

// ReadArtifactTool fetches an artifact's content by id.
type ReadArtifactTool struct {
	store *memory.ArtifactStore
}

func NewReadArtifactTool(store *memory.ArtifactStore) *ReadArtifactTool {
	return &ReadArtifactTool{store: store}
}

func (t *ReadArtifactTool) Name() string        { return "read_artifact" }
func (t *ReadArtifactTool) Description() string { return "Read the full content of an artifact by id" }
func (t *ReadArtifactTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "integer",
				"description": "Artifact id",
			},
		},
		"required": []string{"id"},
	}
}

func (t *ReadArtifactTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id, ok := artifactID(args["id"])
	if !ok {
		return ErrorResult("id is required")
	}
	art, err := t.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return ErrorResult(fmt.Sprintf("artifact %d not found", id))
		}
		return ErrorResult(fmt.Sprintf("failed to read artifact: %v", err)).WithError(err)
	}
	return SilentResult(string(art.Content))
}

// ListArtifactsTool lists artifact metadata for the agent's group.
type ListArtifactsTool struct {
	store *memory.ArtifactStore
	group string
}

func NewListArtifactsTool(store *memory.ArtifactStore, group string) *ListArtifactsTool {
	return &ListArtifactsTool{store: store, group: group}
}

func (t *ListArtifactsTool) Name() string        { return "list_artifacts" }
func (t *ListArtifactsTool) Description() string { return "List stored artifacts, optionally by tag" }
func (t *ListArtifactsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tag": map[string]interface{}{
				"type":        "string",
				"description": "Only list artifacts carrying this tag",
			},
		},
	}
}

func (t *ListArtifactsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	tag, _ := args["tag"].(string)
	records, err := t.store.List(ctx, t.group, tag)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to list artifacts: %v", err)).WithError(err)
	}
	if len(records) == 0 {
		return SilentResult("No artifacts found.")
	}
	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "[%d] %s (%d bytes, tags: %s, created: %s)\n",
			rec.ID, rec.Title, rec.Size, strings.Join(rec.Tags, ","),
			rec.CreatedAt.Format("2006-01-02 15:04"))
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// DeleteArtifactTool removes an artifact row. Deletion is a write action
// and goes through the approval bridge.
type DeleteArtifactTool struct {
	store    *memory.ArtifactStore
	approval *approval.Bridge
	agentID  string
}

func NewDeleteArtifactTool(store *memory.ArtifactStore, bridge *approval.Bridge, agentID string) *DeleteArtifactTool {
	return &DeleteArtifactTool{store: store, approval: bridge, agentID: agentID}
}

func (t *DeleteArtifactTool) Name() string { return "delete_artifact" }
func (t *DeleteArtifactTool) Description() string {
	return "Delete an artifact by id. Requires user approval."
}
func (t *DeleteArtifactTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "integer",
				"description": "Artifact id",
			},
		},
		"required": []string{"id"},
	}
}

func (t *DeleteArtifactTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id, ok := artifactID(args["id"])
	if !ok {
		return ErrorResult("id is required")
	}
	target := fmt.Sprintf("artifact:%d", id)
	if t.approval != nil && !t.approval.RequestApproval(t.agentID, target, protocol.OpDelete) {
		return NewResult(fmt.Sprintf("Deletion of artifact %d was not approved by the user.", id))
	}
	if err := t.store.Delete(ctx, id); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return ErrorResult(fmt.Sprintf("artifact %d not found", id))
		}
		return ErrorResult(fmt.Sprintf("failed to delete artifact: %v", err)).WithError(err)
	}
	return NewResult(fmt.Sprintf("Deleted artifact %d", id))
}

// artifactID coerces a JSON-decoded argument into an artifact id.
func artifactID(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
