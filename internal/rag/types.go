// Package rag implements the retrieval-augmented decision pipeline for
// SQL generation: knowledge retrieval with caching, strategy selection,
// example curation, prompt assembly and failure resilience.
package rag

import (
	"time"

	"github.com/chatbi/chatbi/internal/knowledge"
)

// Generation strategies, ordered from strongest to weakest knowledge
// support.
const (
	// StrategyCached reuses the best match's SQL directly.
	StrategyCached = "high_similarity_cached"
	// StrategyAssisted generates with curated examples in the prompt.
	StrategyAssisted = "medium_similarity_assisted"
	// StrategyNormal generates without knowledge-base support.
	StrategyNormal = "low_similarity_normal"
)

// Result is the outcome of one knowledge search, consumed by the SQL
// generation caller. It is transient and never persisted.
type Result struct {
	FoundMatch      bool
	BestMatch       *knowledge.Match
	SimilarExamples []knowledge.Match
	Confidence      float64
	Strategy        string
	ShouldUseCached bool

	// FromFallback is true when the result came from the degraded path
	// rather than the vector store.
	FromFallback bool
}

// FallbackLevel describes how degraded retrieval currently is.
type FallbackLevel int

const (
	FallbackNone FallbackLevel = iota
	FallbackCacheOnly
	FallbackSimpleMatch
	FallbackDisabled
)

func (l FallbackLevel) String() string {
	switch l {
	case FallbackNone:
		return "none"
	case FallbackCacheOnly:
		return "cache_only"
	case FallbackSimpleMatch:
		return "simple_match"
	case FallbackDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Health is a snapshot of the resilience layer's state.
type Health struct {
	ConsecutiveFailures int
	FallbackLevel       FallbackLevel
	CircuitOpen         bool
	OpenSince           time.Time
	ErrorCount          int
}

// IsHealthy reports whether retrieval runs at full capability: breaker
// closed and no fallback level active.
func (h Health) IsHealthy() bool {
	return !h.CircuitOpen && h.FallbackLevel == FallbackNone
}
