package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebFetchTool retrieves a URL and returns its body text.
type WebFetchTool struct {
	client  *http.Client
	maxSize int64
}

const (
	webFetchTimeout = 30 * time.Second
	webFetchMaxSize = 2 << 20 // 2 MiB
)

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client:  &http.Client{Timeout: webFetchTimeout},
		maxSize: webFetchMaxSize,
	}
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch the contents of a URL" }
func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	url, _ := args["url"].(string)
	if url == "" {
		return ErrorResult("url is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return ErrorResult("only http and https URLs are supported")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid request: %v", err))
	}
	req.Header.Set("User-Agent", "soloqueue/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ErrorResult(fmt.Sprintf("fetch failed: HTTP %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxSize))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read body: %v", err))
	}
	return SilentResult(string(body))
}
