package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/guard"
	"github.com/chatbi/chatbi/internal/knowledge"
	"github.com/chatbi/chatbi/internal/log"
)

// similarExampleCount is how many ranked matches a search result carries
// for downstream example curation.
const similarExampleCount = 3

// Retriever answers knowledge searches through a TTL result cache and
// guards every write. It does not handle failures; that is the resilience
// layer's job.
type Retriever struct {
	store    knowledge.Store
	guard    *guard.Guard
	selector *StrategySelector
	cache    *resultCache
	cfg      *config.Config
	logger   log.Logger
}

// NewRetriever builds a retriever over a knowledge store.
func NewRetriever(store knowledge.Store, g *guard.Guard, cfg *config.Config, logger log.Logger) *Retriever {
	return &Retriever{
		store:    store,
		guard:    g,
		selector: NewStrategySelector(cfg),
		cache:    newResultCache(cfg.CacheTTL, cfg.CacheCapacity),
		cfg:      cfg,
		logger:   logger,
	}
}

// Search returns the strategy-stamped result for a question, from cache
// when a fresh identical search exists.
func (r *Retriever) Search(ctx context.Context, question string) (Result, error) {
	key := r.cacheKey(question)
	if result, ok := r.cache.Get(key); ok {
		r.logger.Debug("search served from cache", "question_len", len(question))
		return result, nil
	}

	matches, err := r.store.Search(ctx, question, knowledge.WithTopK(r.cfg.SearchTopK))
	if err != nil {
		return Result{}, fmt.Errorf("searching knowledge store: %w", err)
	}

	result := r.assemble(matches)
	r.cache.Put(key, result)
	return result, nil
}

// assemble builds a Result from ranked matches: rank 1 is the best match,
// the top ranks become the example pool, confidence is the best
// similarity, and the selector stamps the strategy.
func (r *Retriever) assemble(matches []knowledge.Match) Result {
	var result Result
	if len(matches) > 0 {
		best := matches[0]
		result.BestMatch = &best
		result.Confidence = best.Similarity
		result.FoundMatch = best.Similarity >= r.cfg.SimilarityThreshold

		n := similarExampleCount
		if n > len(matches) {
			n = len(matches)
		}
		result.SimilarExamples = append([]knowledge.Match(nil), matches[:n]...)
	}
	r.selector.Decide(&result)
	return result
}

// AddItem validates the item through the consistency guard and writes it
// to the store. Sanitizable problems are corrected silently (logged);
// structural problems reject the write.
func (r *Retriever) AddItem(ctx context.Context, item knowledge.Item) (string, error) {
	res := r.guard.Validate(itemToRecord(item), guard.LevelStandard)
	if !res.Valid {
		return "", fmt.Errorf("invalid knowledge item: %s", issueSummary(res.Errors()))
	}
	if res.Corrected != nil {
		item = recordToItem(res.Corrected, item)
		r.logger.Debug("knowledge item corrected before write",
			"issues", len(res.Issues))
	}

	id, err := r.store.Add(ctx, item)
	if err != nil {
		return "", fmt.Errorf("storing knowledge item: %w", err)
	}

	// Stored content changed; cached search results may now be stale.
	r.cache.Clear()
	return id, nil
}

// UpdateUsage forwards a usage/rating update to the store.
func (r *Retriever) UpdateUsage(ctx context.Context, id string, ratingDelta float64) error {
	if err := r.store.UpdateUsage(ctx, id, ratingDelta); err != nil {
		return fmt.Errorf("updating usage for %s: %w", id, err)
	}
	return nil
}

// CacheMetrics exposes result-cache counters for stats reporting.
func (r *Retriever) CacheMetrics() (hits, misses, size int) {
	return r.cache.Metrics()
}

// ClearCache drops all cached search results.
func (r *Retriever) ClearCache() {
	r.cache.Clear()
}

// cacheKey folds the question and the search parameters that shape the
// result. Config changes mid-flight produce distinct keys rather than
// stale hits.
func (r *Retriever) cacheKey(question string) string {
	return fmt.Sprintf("%s|k=%d|t=%g", strings.ToLower(strings.TrimSpace(question)),
		r.cfg.SearchTopK, r.cfg.SimilarityThreshold)
}

func issueSummary(issues []guard.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, iss := range issues {
		parts = append(parts, iss.Field+": "+iss.Description)
	}
	return strings.Join(parts, "; ")
}

// itemToRecord and recordToItem convert between the typed item and the
// guard's loosely-typed record form.
func itemToRecord(item knowledge.Item) map[string]any {
	rec := map[string]any{
		"question":    item.Question,
		"sql":         item.SQL,
		"rating":      item.Rating,
		"usage_count": item.UsageCount,
	}
	if item.Description != "" {
		rec["description"] = item.Description
	}
	if len(item.Tags) > 0 {
		rec["tags"] = item.Tags
	}
	if !item.CreatedAt.IsZero() {
		rec["created_at"] = item.CreatedAt
	}
	if !item.UpdatedAt.IsZero() {
		rec["updated_at"] = item.UpdatedAt
	}
	return rec
}

func recordToItem(rec map[string]any, base knowledge.Item) knowledge.Item {
	item := base
	if q, ok := rec["question"].(string); ok {
		item.Question = q
	}
	if s, ok := rec["sql"].(string); ok {
		item.SQL = s
	}
	if d, ok := rec["description"].(string); ok {
		item.Description = d
	}
	if tags, ok := rec["tags"].([]string); ok {
		item.Tags = tags
	}
	if f, ok := rec["rating"].(float64); ok {
		item.Rating = f
	}
	if n, ok := rec["usage_count"].(int); ok {
		item.UsageCount = n
	}
	return item
}
