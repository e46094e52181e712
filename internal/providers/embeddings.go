package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// embeddingDimensions maps known models to their vector width; unknown
// models are detected from the first response.
var embeddingDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
}

// OpenAIEmbedder computes embeddings through an OpenAI-compatible
// /embeddings endpoint (OpenAI, Ollama, GLM, DeepSeek, ...).
type OpenAIEmbedder struct {
	apiBase string
	apiKey  string
	model   string
	client  *http.Client

	mu        sync.Mutex
	dimension int
}

func NewOpenAIEmbedder(apiBase, apiKey, model string, dimension int) *OpenAIEmbedder {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if dimension == 0 {
		dimension = embeddingDimensions[model]
	}
	return &OpenAIEmbedder{
		apiBase:   strings.TrimRight(apiBase, "/"),
		apiKey:    apiKey,
		model:     model,
		client:    &http.Client{Timeout: 60 * time.Second},
		dimension: dimension,
	}
}

// Dimension returns the vector width, 0 until the first call for unknown
// models.
func (e *OpenAIEmbedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimension
}

type embeddingDatum struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Data []embeddingDatum `json:"data"`
}

// Embed returns one vector per input text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(map[string]interface{}{
		"model": e.model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.apiBase+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("embeddings: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var wire embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("embeddings: decode response: %w", err)
	}
	if len(wire.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d texts", len(wire.Data), len(texts))
	}

	// The API may return data out of order; index is authoritative.
	sort.Slice(wire.Data, func(i, j int) bool { return wire.Data[i].Index < wire.Data[j].Index })
	out := make([][]float32, len(wire.Data))
	for i, d := range wire.Data {
		out[i] = d.Embedding
	}

	e.mu.Lock()
	if e.dimension == 0 && len(out[0]) > 0 {
		e.dimension = len(out[0])
	}
	e.mu.Unlock()
	return out, nil
}
