package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/soloqueue/soloqueue/internal/approval"
	"github.com/soloqueue/soloqueue/internal/workspace"
	"github.com/soloqueue/soloqueue/pkg/protocol"
)

// ReadFileTool reads file contents from inside the workspace.
type ReadFileTool struct {
	ws *workspace.Manager
}

func NewReadFileTool(ws *workspace.Manager) *ReadFileTool { return &ReadFileTool{ws: ws} }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file" }
func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	resolved, err := t.ws.Resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}
	return SilentResult(string(data))
}

// WriteFileTool writes file contents inside the workspace. Every write is
// gated on the approval bridge; a denial is reported to the model as a
// refusal, not an error.
type WriteFileTool struct {
	ws       *workspace.Manager
	approval *approval.Bridge
	agentID  string
}

func NewWriteFileTool(ws *workspace.Manager, bridge *approval.Bridge, agentID string) *WriteFileTool {
	return &WriteFileTool{ws: ws, approval: bridge, agentID: agentID}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file (creates or overwrites). Requires user approval."
}
func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	resolved, err := t.ws.Resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	op := protocol.OpUpdate
	if _, statErr := os.Stat(resolved); os.IsNotExist(statErr) {
		op = protocol.OpCreate
	}
	if t.approval != nil && !t.approval.RequestApproval(t.agentID, path, op) {
		return NewResult(fmt.Sprintf("Write to '%s' was not approved by the user.", path))
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create directory: %v", err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}
	return NewResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), path))
}

// GrepTool searches workspace files for a regular expression.
type GrepTool struct {
	ws *workspace.Manager
}

const grepMaxMatches = 100

func NewGrepTool(ws *workspace.Manager) *GrepTool { return &GrepTool{ws: ws} }

func (t *GrepTool) Name() string        { return "grep" }
func (t *GrepTool) Description() string { return "Search file contents with a regular expression" }
func (t *GrepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search (default: workspace root)",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid pattern: %v", err))
	}
	dir, _ := args["path"].(string)
	root, err := t.ws.Resolve(dir)
	if err != nil {
		return ErrorResult(err.Error())
	}

	var matches []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(matches) >= grepMaxMatches {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(t.ws.Root(), path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, i+1, line))
				if len(matches) >= grepMaxMatches {
					break
				}
			}
		}
		return nil
	})
	if err != nil && len(matches) == 0 {
		return ErrorResult(fmt.Sprintf("search failed: %v", err))
	}
	if len(matches) == 0 {
		return SilentResult("No matches found.")
	}
	return SilentResult(strings.Join(matches, "\n"))
}

// GlobTool lists workspace files matching a glob pattern.
type GlobTool struct {
	ws *workspace.Manager
}

func NewGlobTool(ws *workspace.Manager) *GlobTool { return &GlobTool{ws: ws} }

func (t *GlobTool) Name() string        { return "glob" }
func (t *GlobTool) Description() string { return "Find files by glob pattern (e.g. **/*.go)" }
func (t *GlobTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern relative to the workspace root",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}

	var out []string
	root := t.ws.Root()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if matchGlob(pattern, rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("glob failed: %v", err))
	}
	if len(out) == 0 {
		return SilentResult("No files matched.")
	}
	sort.Strings(out)
	return SilentResult(strings.Join(out, "\n"))
}

// matchGlob supports standard path.Match patterns plus a leading **/ that
// matches any directory depth.
func matchGlob(pattern, rel string) bool {
	rel = filepath.ToSlash(rel)
	if ok, _ := filepath.Match(pattern, rel); ok {
		return true
	}
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if ok, _ := filepath.Match(suffix, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}
