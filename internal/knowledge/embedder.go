package knowledge

import "context"

// Embedder converts text to embedding vectors. The store never talks to a
// model directly; callers plug in an implementation (see the embedding
// package for the Genkit adapter).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
