// Package testutil provides shared test helpers: a deterministic embedder
// for unit tests and a pgvector container for integration tests.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// EmbedderDim is the vector dimension produced by VocabEmbedder. It
// matches the sql_knowledge.embedding column so the same embedder works
// against the real schema in integration tests.
const EmbedderDim = 768

// VocabEmbedder is a deterministic bag-of-words embedder. Texts sharing
// words produce similar vectors, so similarity-dependent code paths can be
// tested without a model. Identical text always embeds identically.
type VocabEmbedder struct {
	// Fail, when set, is returned from every call. Lets tests simulate an
	// embedding-service outage.
	Fail error

	// Calls counts Embed invocations, for cache-hit assertions.
	Calls int
}

// Embed hashes each word into a bucket and L2-normalizes the result.
func (e *VocabEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.Calls++
	if e.Fail != nil {
		return nil, e.Fail
	}

	vec := make([]float32, EmbedderDim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(word, ".,?!\"'()")))
		vec[h.Sum32()%EmbedderDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *VocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}
