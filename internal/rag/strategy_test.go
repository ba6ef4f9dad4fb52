package rag

import (
	"testing"

	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/knowledge"
)

func matchWith(similarity, rating float64) *knowledge.Match {
	return &knowledge.Match{
		Item: knowledge.Item{
			ID:       "sql_test",
			Question: "how many users",
			SQL:      "SELECT count(*) FROM users",
			Rating:   rating,
		},
		Similarity: similarity,
	}
}

func TestDecide_Strategies(t *testing.T) {
	selector := NewStrategySelector(config.Default()) // high 0.8, medium 0.6, confidence 0.8

	tests := []struct {
		name       string
		similarity float64
		rating     float64
		confidence float64
		strategy   string
		cached     bool
	}{
		{"well above high", 0.95, 2.0, 0.95, StrategyCached, true},
		{"exactly at high gate", 0.8, 0.0, 0.8, StrategyCached, true},
		{"exactly at medium gate", 0.6, 0.0, 0.6, StrategyAssisted, false},
		{"just below medium", 0.59, 0.0, 0.59, StrategyNormal, false},
		{"high similarity, negative rating", 0.9, -1.0, 0.9, StrategyAssisted, false},
		{"high similarity, low confidence", 0.85, 1.0, 0.5, StrategyAssisted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &Result{
				FoundMatch: true,
				BestMatch:  matchWith(tt.similarity, tt.rating),
				Confidence: tt.confidence,
			}
			selector.Decide(result)
			if result.Strategy != tt.strategy {
				t.Errorf("Strategy = %s, want %s", result.Strategy, tt.strategy)
			}
			if result.ShouldUseCached != tt.cached {
				t.Errorf("ShouldUseCached = %v, want %v", result.ShouldUseCached, tt.cached)
			}
		})
	}
}

func TestDecide_NoMatch(t *testing.T) {
	selector := NewStrategySelector(config.Default())

	result := &Result{FoundMatch: false}
	selector.Decide(result)
	if result.Strategy != StrategyNormal || result.ShouldUseCached {
		t.Errorf("no-match result = %s cached=%v, want normal/false",
			result.Strategy, result.ShouldUseCached)
	}

	result = &Result{FoundMatch: true, BestMatch: nil}
	selector.Decide(result)
	if result.Strategy != StrategyNormal {
		t.Errorf("nil best match got strategy %s", result.Strategy)
	}
}

func TestExamplesFor(t *testing.T) {
	selector := NewStrategySelector(config.Default()) // max_examples 3

	examples := []knowledge.Match{
		*matchWith(0.9, 1.0),
		*matchWith(0.8, -0.5), // negative rating, excluded
		*matchWith(0.7, 0.0),
		*matchWith(0.65, 2.0),
		*matchWith(0.6, 0.5),
	}

	result := &Result{
		FoundMatch:      true,
		Strategy:        StrategyAssisted,
		SimilarExamples: examples,
	}
	got := selector.ExamplesFor(result)
	if len(got) != 3 {
		t.Fatalf("got %d examples, want 3", len(got))
	}

	result.Strategy = StrategyCached
	if got := selector.ExamplesFor(result); got != nil {
		t.Errorf("cached strategy returned %d examples, want none", len(got))
	}
}
