// Package embedding adapts external embedding providers to the knowledge
// store's Embedder interface and classifies their failures.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// ErrTransient marks embedding failures worth retrying (network, rate
// limits, service unavailability). Check with errors.Is.
var ErrTransient = errors.New("transient embedding failure")

// Transient wraps err so errors.Is(err, ErrTransient) holds. A nil err
// stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// GenkitEmbedder adapts a Genkit ai.Embedder. Embedding-model logic stays
// entirely on the Genkit side; this type only translates requests and
// wraps failures as transient, since Genkit surfaces its provider errors
// after exhausting its own retry budget.
type GenkitEmbedder struct {
	embedder ai.Embedder
}

// NewGenkitEmbedder wraps a configured Genkit embedder.
func NewGenkitEmbedder(embedder ai.Embedder) *GenkitEmbedder {
	return &GenkitEmbedder{embedder: embedder}
}

// Embed returns the embedding vector for one text.
func (g *GenkitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request.
func (g *GenkitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, 0, len(texts))
	for _, t := range texts {
		docs = append(docs, ai.DocumentFromText(t, nil))
	}

	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, Transient(fmt.Errorf("embed request: %w", err))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed request: got %d embeddings for %d texts",
			len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Embedding)
	}
	return out, nil
}
