package memory

import "context"

// Embedder turns text into vectors. Implementations wrap a remote embedding
// API; the semantic store is disabled when no embedder is configured.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
