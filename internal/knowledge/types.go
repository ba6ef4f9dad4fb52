// Package knowledge implements the vector-backed SQL knowledge store.
//
// Two backends are provided: ChromemStore (embedded, chromem-go) and
// PostgresStore (pgx + pgvector). Both satisfy Store and share the
// document/ID construction in content.go, so items written through one
// backend rank identically in the other.
package knowledge

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an item ID does not exist in the store.
var ErrNotFound = errors.New("knowledge: item not found")

// Item is one question→SQL pair in the knowledge base. Embedding vectors
// are owned by the store and never surface here.
type Item struct {
	ID          string
	Question    string
	SQL         string
	Description string
	Tags        []string
	Rating      float64
	UsageCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Match is an item returned from a similarity search, with the similarity
// in [0, 1] (1 = identical).
type Match struct {
	Item
	Similarity float64
}

// Stats summarizes store contents.
type Stats struct {
	TotalItems    int
	TopRatedItems int // rating >= 1
	AvgRating     float64
	TotalUsage    int
	Backend       string
}

// Store is the persistence contract for the knowledge base.
type Store interface {
	// Add inserts or replaces the item derived from question+sql. Returns
	// the deterministic item ID.
	Add(ctx context.Context, item Item) (string, error)

	// Search returns items ranked by similarity to the query, most similar
	// first. Results below the threshold are dropped. An empty store
	// returns an empty slice, not an error.
	Search(ctx context.Context, query string, opts ...SearchOption) ([]Match, error)

	// UpdateUsage increments the usage counter and applies a rating delta
	// atomically. Returns ErrNotFound for unknown IDs.
	UpdateUsage(ctx context.Context, id string, ratingDelta float64) error

	// Delete removes an item, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// List returns items for management tooling, newest first.
	List(ctx context.Context, limit, offset int) ([]Item, error)

	// Update replaces the given metadata fields on an existing item.
	// Question and SQL are immutable (they define the ID); pass
	// description, tags or rating.
	Update(ctx context.Context, id string, fields map[string]any) error

	// Stats reports store totals.
	Stats(ctx context.Context) (Stats, error)
}

// searchConfig collects search options.
type searchConfig struct {
	topK      int
	threshold float64
	tags      []string
}

// SearchOption configures a Search call.
type SearchOption func(*searchConfig)

// WithTopK caps the number of results. Default 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithThreshold drops results whose similarity is below t. Default 0
// (keep everything).
func WithThreshold(t float64) SearchOption {
	return func(c *searchConfig) { c.threshold = t }
}

// WithTags restricts results to items carrying every given tag.
func WithTags(tags ...string) SearchOption {
	return func(c *searchConfig) { c.tags = tags }
}

func applySearchOptions(opts []SearchOption) searchConfig {
	cfg := searchConfig{topK: 5}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, t := range have {
			if t == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
