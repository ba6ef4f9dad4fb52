package rag

import (
	"fmt"
	"strings"

	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/knowledge"
)

// StrategySelector stamps a search result with the generation strategy.
// All threshold comparisons are inclusive: a similarity exactly at a gate
// qualifies for it.
type StrategySelector struct {
	high        float64
	medium      float64
	confidence  float64
	minRating   float64
	maxExamples int
}

// NewStrategySelector builds a selector from configuration.
func NewStrategySelector(cfg *config.Config) *StrategySelector {
	return &StrategySelector{
		high:        cfg.HighSimilarity,
		medium:      cfg.MediumSimilarity,
		confidence:  cfg.ConfidenceThreshold,
		minRating:   cfg.MinRatingForCache,
		maxExamples: cfg.MaxExamples,
	}
}

// Decide fills Strategy and ShouldUseCached on the result.
//
// Cached reuse needs all three gates at once: similarity at the high
// threshold, confidence at the confidence threshold, and a best-match
// rating at or above the cache floor. A high-similarity match that fails
// on confidence or rating intentionally downgrades to the assisted
// strategy rather than falling through to normal.
func (s *StrategySelector) Decide(result *Result) {
	if !result.FoundMatch || result.BestMatch == nil {
		result.Strategy = StrategyNormal
		result.ShouldUseCached = false
		return
	}

	sim := result.BestMatch.Similarity
	switch {
	case sim >= s.high && result.Confidence >= s.confidence &&
		result.BestMatch.Rating >= s.minRating:
		result.Strategy = StrategyCached
		result.ShouldUseCached = true
	case sim >= s.medium:
		result.Strategy = StrategyAssisted
		result.ShouldUseCached = false
	default:
		result.Strategy = StrategyNormal
		result.ShouldUseCached = false
	}
}

// Example is a formatted question→SQL pair ready for prompt inclusion.
type Example struct {
	Question string
	SQL      string
}

// Format renders the example as a prompt block.
func (e Example) Format() string {
	return fmt.Sprintf("Q: %s\nSQL: %s", e.Question, strings.TrimSpace(e.SQL))
}

// ExamplesFor returns the prompt examples for a decided result: none for
// the cached strategy (the SQL is reused verbatim), otherwise up to
// max_examples non-negatively-rated matches.
func (s *StrategySelector) ExamplesFor(result *Result) []Example {
	if result.Strategy == StrategyCached {
		return nil
	}

	var examples []Example
	for _, m := range result.SimilarExamples {
		if m.Rating < 0 {
			continue
		}
		examples = append(examples, matchExample(m))
		if len(examples) == s.maxExamples {
			break
		}
	}
	return examples
}

func matchExample(m knowledge.Match) Example {
	return Example{Question: m.Question, SQL: m.SQL}
}
