package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration validation. Callers match them with
// errors.Is.
var (
	ErrInvalidThreshold      = errors.New("threshold must be between 0 and 1")
	ErrThresholdOrder        = errors.New("high similarity threshold must not be below medium")
	ErrInvalidMaxExamples    = errors.New("max_examples must be positive")
	ErrInvalidPromptLength   = errors.New("max_prompt_length must be positive")
	ErrInvalidTopK           = errors.New("search_top_k must be positive")
	ErrInvalidRetries        = errors.New("max_retries must not be negative")
	ErrInvalidDuration       = errors.New("duration must be positive")
	ErrInvalidBreaker        = errors.New("circuit_breaker_threshold must be positive")
	ErrInvalidCapacity       = errors.New("capacity must be positive")
	ErrInvalidWorkers        = errors.New("batch_workers must be positive")
	ErrInvalidRateLimit      = errors.New("retrieval_rate_limit must not be negative")
	ErrInvalidRatingClamp    = errors.New("rating_clamp_min must be below rating_clamp_max")
	ErrInvalidStorageBackend = errors.New("storage_backend must be chromem or postgres")
	ErrMissingPostgres       = errors.New("postgres backend requires host, user and db name")
)

// Validate checks the configuration for consistency. It fails fast on the
// first violation.
func (c *Config) Validate() error {
	for name, t := range map[string]float64{
		"similarity_threshold":        c.SimilarityThreshold,
		"medium_similarity_threshold": c.MediumSimilarity,
		"high_similarity_threshold":   c.HighSimilarity,
		"confidence_threshold":        c.ConfidenceThreshold,
	} {
		if t < 0 || t > 1 {
			return fmt.Errorf("%w: %s=%g", ErrInvalidThreshold, name, t)
		}
	}
	if c.HighSimilarity < c.MediumSimilarity {
		return fmt.Errorf("%w: high=%g medium=%g",
			ErrThresholdOrder, c.HighSimilarity, c.MediumSimilarity)
	}

	if c.MaxExamples <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxExamples, c.MaxExamples)
	}
	if c.MaxPromptLength <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPromptLength, c.MaxPromptLength)
	}
	if c.SearchTopK <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTopK, c.SearchTopK)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidRetries, c.MaxRetries)
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("%w: retry_delay=%s", ErrInvalidDuration, c.RetryDelay)
	}
	if c.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidBreaker, c.CircuitBreakerThreshold)
	}
	if c.CircuitBreakerTimeout <= 0 {
		return fmt.Errorf("%w: circuit_breaker_timeout=%s",
			ErrInvalidDuration, c.CircuitBreakerTimeout)
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache_ttl=%s", ErrInvalidDuration, c.CacheTTL)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("%w: cache_capacity=%d", ErrInvalidCapacity, c.CacheCapacity)
	}
	if c.DegradedCacheSize <= 0 {
		return fmt.Errorf("%w: degraded_cache_size=%d",
			ErrInvalidCapacity, c.DegradedCacheSize)
	}
	if c.SearchTimeout <= 0 {
		return fmt.Errorf("%w: search_timeout=%s", ErrInvalidDuration, c.SearchTimeout)
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, c.BatchWorkers)
	}

	if c.RetrievalRateLimit < 0 {
		return fmt.Errorf("%w: got %g", ErrInvalidRateLimit, c.RetrievalRateLimit)
	}

	if c.RatingClampMin >= c.RatingClampMax {
		return fmt.Errorf("%w: min=%g max=%g",
			ErrInvalidRatingClamp, c.RatingClampMin, c.RatingClampMax)
	}

	switch c.StorageBackend {
	case BackendChromem:
		// chromem path may be empty (in-memory store).
	case BackendPostgres:
		if c.PostgresHost == "" || c.PostgresUser == "" || c.PostgresDBName == "" {
			return ErrMissingPostgres
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidStorageBackend, c.StorageBackend)
	}

	return nil
}
