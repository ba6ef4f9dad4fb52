package rag

import (
	"context"
	"fmt"

	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/guard"
	"github.com/chatbi/chatbi/internal/knowledge"
	"github.com/chatbi/chatbi/internal/log"
)

// Feedback rating deltas, matching the feedback loop semantics: explicit
// positive feedback rates a pair 1.0, each cached reuse nudges it by 0.1.
const (
	positiveFeedbackRating = 1.0
	usageFeedbackDelta     = 0.1
)

// System is the consumer-facing entry point of the pipeline. Build one at
// startup and share it; all methods are safe for concurrent use.
type System struct {
	retriever  *Retriever
	resilience *Resilience
	selector   *StrategySelector
	curator    *Curator
	prompt     *PromptBuilder
	store      knowledge.Store
	cfg        *config.Config
	logger     log.Logger
}

// NewSystem wires the full pipeline over a knowledge store.
func NewSystem(store knowledge.Store, cfg *config.Config, logger log.Logger) *System {
	g := guard.New(cfg, logger)
	return &System{
		retriever:  NewRetriever(store, g, cfg, logger),
		resilience: NewResilience(cfg, logger),
		selector:   NewStrategySelector(cfg),
		curator:    NewCurator(),
		prompt:     NewPromptBuilder(cfg.MaxPromptLength),
		store:      store,
		cfg:        cfg,
		logger:     logger,
	}
}

// SearchKnowledge answers a question from the knowledge base. It never
// fails outright: under backend outages the result comes from the
// degraded path, tagged FromFallback, with the strategy still stamped.
func (s *System) SearchKnowledge(ctx context.Context, question string) (Result, error) {
	result, err := s.resilience.Execute(ctx, question, func(ctx context.Context) (Result, error) {
		return s.retriever.Search(ctx, question)
	})
	if err != nil {
		return Result{}, err
	}

	if result.FromFallback {
		s.selector.Decide(&result)
	} else if result.FoundMatch && result.BestMatch != nil {
		s.resilience.RememberPair(result.BestMatch.Question, result.BestMatch.SQL)
	}

	s.logger.Debug("knowledge search completed",
		"found", result.FoundMatch,
		"strategy", result.Strategy,
		"confidence", result.Confidence,
		"fallback", result.FromFallback)
	return result, nil
}

// AddFeedback stores a confirmed-good question→SQL pair with a positive
// rating. The guard validates before the write.
func (s *System) AddFeedback(ctx context.Context, question, sql, description string) (string, error) {
	id, err := s.retriever.AddItem(ctx, knowledge.Item{
		Question:    question,
		SQL:         sql,
		Description: description,
		Rating:      positiveFeedbackRating,
	})
	if err != nil {
		return "", fmt.Errorf("adding feedback: %w", err)
	}
	s.resilience.RememberPair(question, sql)
	return id, nil
}

// UpdateUsageFeedback records that a cached result was reused: usage
// count up, rating nudged positive.
func (s *System) UpdateUsageFeedback(ctx context.Context, id string) error {
	return s.retriever.UpdateUsage(ctx, id, usageFeedbackDelta)
}

// BuildPrompt assembles the generation prompt for a decided search
// result. Examples come from the curator; the cached strategy carries
// none since its SQL is reused verbatim.
func (s *System) BuildPrompt(question string, result Result, schema string, tableHints, requirements []string) string {
	var examples []Example
	if result.Strategy != StrategyCached {
		for _, m := range s.curator.Curate(question, result.SimilarExamples, s.cfg.MaxExamples) {
			if m.Rating < 0 {
				continue
			}
			examples = append(examples, matchExample(m))
		}
	}

	return s.prompt.Build(PromptInput{
		Question:     question,
		Schema:       schema,
		TableHints:   tableHints,
		Requirements: requirements,
		Examples:     examples,
		Strategy:     result.Strategy,
	})
}

// SystemStats aggregates store, cache and resilience state.
type SystemStats struct {
	Store       knowledge.Stats
	CacheHits   int
	CacheMisses int
	CacheSize   int
	Health      Health
}

// Stats reports pipeline statistics.
func (s *System) Stats(ctx context.Context) (SystemStats, error) {
	storeStats, err := s.store.Stats(ctx)
	if err != nil {
		return SystemStats{}, fmt.Errorf("reading store stats: %w", err)
	}
	hits, misses, size := s.retriever.CacheMetrics()
	return SystemStats{
		Store:       storeStats,
		CacheHits:   hits,
		CacheMisses: misses,
		CacheSize:   size,
		Health:      s.resilience.Health(),
	}, nil
}

// Health snapshots the resilience layer.
func (s *System) Health() Health {
	return s.resilience.Health()
}

// ErrorSummary reports per-kind failure counts and recent errors.
func (s *System) ErrorSummary() (map[string]int, []string) {
	return s.resilience.ErrorSummary()
}

// ResetHealth clears failure state after an outage is resolved.
func (s *System) ResetHealth() {
	s.resilience.ResetHealth()
}
