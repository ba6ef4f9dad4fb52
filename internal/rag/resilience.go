package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/embedding"
	"github.com/chatbi/chatbi/internal/log"
)

// FailureKind classifies retrieval failures for retry decisions and
// error reporting.
type FailureKind int

const (
	ConnectionFailure FailureKind = iota
	EmbeddingServiceFailure
	BackendFailure
	TimeoutFailure
	ResourceExhaustion
	UnknownFailure
)

func (k FailureKind) String() string {
	switch k {
	case ConnectionFailure:
		return "connection"
	case EmbeddingServiceFailure:
		return "embedding_service"
	case BackendFailure:
		return "backend"
	case TimeoutFailure:
		return "timeout"
	case ResourceExhaustion:
		return "resource_exhaustion"
	default:
		return "unknown"
	}
}

// Classify maps an error to its failure kind. Typed sentinels win over
// textual signatures.
func Classify(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutFailure
	}
	if errors.Is(err, embedding.ErrTransient) {
		return EmbeddingServiceFailure
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "out of memory", "resource exhaust", "too many requests", "overloaded"):
		return ResourceExhaustion
	case containsAny(msg, "connection", "dial", "refused", "reset by peer", "broken pipe", "no such host"):
		return ConnectionFailure
	case containsAny(msg, "timeout", "timed out", "deadline"):
		return TimeoutFailure
	case containsAny(msg, "embed"):
		return EmbeddingServiceFailure
	case containsAny(msg, "database", "postgres", "pgx", "sql", "collection", "vector"):
		return BackendFailure
	default:
		return UnknownFailure
	}
}

// retryable reports whether a failure kind is worth retrying. Resource
// exhaustion is not: hammering an overloaded dependency makes it worse.
func retryable(kind FailureKind) bool {
	return kind != ResourceExhaustion
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Consecutive-failure counts at which retrieval degrades further.
const (
	fallbackCacheOnlyAt   = 3
	fallbackSimpleMatchAt = 5
	fallbackDisabledAt    = 10
)

// errorHistoryLimit bounds the retained error records.
const errorHistoryLimit = 50

// Resilience wraps retrieval calls with retries, a circuit breaker and a
// degraded fallback path. Callers always receive a usable Result; total
// knowledge-base loss degrades to found_match=false, never to an error
// that blocks SQL generation.
type Resilience struct {
	cfg     *config.Config
	logger  log.Logger
	breaker *circuitBreaker
	cache   *degradedCache
	limiter *rate.Limiter

	sleep func(context.Context, time.Duration) error

	mu           sync.Mutex
	consecutive  int
	errorCounts  map[FailureKind]int
	recentErrors []errorRecord
}

type errorRecord struct {
	At      time.Time
	Kind    FailureKind
	Message string
}

// NewResilience builds the resilience layer from configuration.
func NewResilience(cfg *config.Config, logger log.Logger) *Resilience {
	var limiter *rate.Limiter
	if cfg.RetrievalRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RetrievalRateLimit), 1)
	}
	return &Resilience{
		cfg:         cfg,
		logger:      logger,
		breaker:     newCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout),
		cache:       newDegradedCache(cfg.DegradedCacheSize),
		limiter:     limiter,
		sleep:       sleepContext,
		errorCounts: make(map[FailureKind]int),
	}
}

// Execute runs fn with retries and breaker protection. On exhaustion it
// answers from the degraded path instead of failing.
func (r *Resilience) Execute(ctx context.Context, question string, fn func(context.Context) (Result, error)) (Result, error) {
	if r.fallbackLevel() == FallbackDisabled {
		r.logger.Warn("knowledge retrieval disabled after repeated failures")
		return Result{Strategy: StrategyNormal, FromFallback: true}, nil
	}
	if !r.breaker.Allow() {
		r.logger.Debug("circuit open, serving fallback", "question_len", len(question))
		return r.fallback(question), nil
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return r.fallback(question), nil
		}
	}

	// One initial attempt plus up to MaxRetries retries.
	attempts := r.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			r.breaker.RecordSuccess()
			r.resetConsecutive()
			return result, nil
		}

		lastErr = err
		kind := Classify(err)
		r.logger.Warn("knowledge retrieval attempt failed",
			"attempt", attempt, "kind", kind.String(), "error", err)
		if !retryable(kind) || attempt == attempts {
			break
		}
		// Linear backoff: delay grows with the attempt number.
		if err := r.sleep(ctx, r.cfg.RetryDelay*time.Duration(attempt)); err != nil {
			break
		}
	}

	r.recordFailure(lastErr)
	return r.fallback(question), nil
}

// RememberPair feeds a successful retrieval into the degraded cache so
// future outages can still answer common questions.
func (r *Resilience) RememberPair(question, sql string) {
	if question == "" || sql == "" {
		return
	}
	r.cache.Put(question, sql)
}

// Health snapshots the resilience state.
func (r *Resilience) Health() Health {
	r.mu.Lock()
	consecutive := r.consecutive
	errorCount := 0
	for _, n := range r.errorCounts {
		errorCount += n
	}
	r.mu.Unlock()

	open, openSince := r.breaker.State()
	return Health{
		ConsecutiveFailures: consecutive,
		FallbackLevel:       levelFor(consecutive),
		CircuitOpen:         open,
		OpenSince:           openSince,
		ErrorCount:          errorCount,
	}
}

// ErrorSummary returns per-kind error counts and the most recent error
// records, newest last.
func (r *Resilience) ErrorSummary() (map[string]int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int, len(r.errorCounts))
	for kind, n := range r.errorCounts {
		counts[kind.String()] = n
	}
	recent := make([]string, 0, len(r.recentErrors))
	for _, rec := range r.recentErrors {
		recent = append(recent, rec.At.Format(time.RFC3339)+" "+rec.Kind.String()+": "+rec.Message)
	}
	return counts, recent
}

// ResetHealth clears failure counters and closes the breaker. Operator
// use, after the underlying outage is fixed.
func (r *Resilience) ResetHealth() {
	r.mu.Lock()
	r.consecutive = 0
	r.errorCounts = make(map[FailureKind]int)
	r.recentErrors = nil
	r.mu.Unlock()
	r.breaker.Reset()
}

func (r *Resilience) recordFailure(err error) {
	kind := UnknownFailure
	msg := "unknown failure"
	if err != nil {
		kind = Classify(err)
		msg = err.Error()
	}

	r.mu.Lock()
	r.consecutive++
	r.errorCounts[kind]++
	r.recentErrors = append(r.recentErrors, errorRecord{At: time.Now(), Kind: kind, Message: msg})
	if len(r.recentErrors) > errorHistoryLimit {
		r.recentErrors = r.recentErrors[len(r.recentErrors)-errorHistoryLimit:]
	}
	r.mu.Unlock()

	r.breaker.RecordFailure()
}

func (r *Resilience) resetConsecutive() {
	r.mu.Lock()
	r.consecutive = 0
	r.mu.Unlock()
}

func (r *Resilience) fallbackLevel() FallbackLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return levelFor(r.consecutive)
}

func levelFor(consecutive int) FallbackLevel {
	switch {
	case consecutive >= fallbackDisabledAt:
		return FallbackDisabled
	case consecutive >= fallbackSimpleMatchAt:
		return FallbackSimpleMatch
	case consecutive >= fallbackCacheOnlyAt:
		return FallbackCacheOnly
	default:
		return FallbackNone
	}
}

// fallback answers from the degraded cache. The similarity floor is
// deliberately below the normal threshold: under an outage a mediocre
// hint beats none.
func (r *Resilience) fallback(question string) Result {
	level := r.fallbackLevel()
	if level == FallbackDisabled {
		return Result{Strategy: StrategyNormal, FromFallback: true}
	}

	substringOnly := level == FallbackSimpleMatch
	matches := r.cache.Search(question, substringOnly)
	if len(matches) == 0 {
		return Result{Strategy: StrategyNormal, FromFallback: true}
	}

	result := Result{
		FoundMatch:      true,
		BestMatch:       &matches[0],
		SimilarExamples: matches,
		Confidence:      matches[0].Similarity,
		FromFallback:    true,
	}
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// circuitBreaker is a consecutive-failure breaker with a single-trial
// half-open state: after the open timeout one call may pass; its success
// closes the breaker, its failure re-opens it for another full timeout.
type circuitBreaker struct {
	mu        sync.Mutex
	threshold int
	timeout   time.Duration
	now       func() time.Time

	failures      int
	state         breakerState
	openedAt      time.Time
	trialInFlight bool
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func newCircuitBreaker(threshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false
		}
		b.state = breakerHalfOpen
		b.trialInFlight = true
		return true
	case breakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
	b.trialInFlight = false
}

// RecordFailure counts a failure; at the threshold, or on a failed
// half-open trial, the breaker opens.
func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = b.now()
		b.trialInFlight = false
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}

// State reports whether calls are currently blocked and since when. An
// open breaker whose timeout has elapsed reports closed even before the
// next call performs the half-open transition.
func (b *circuitBreaker) State() (open bool, openedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerClosed {
		return false, time.Time{}
	}
	if b.state == breakerOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return false, b.openedAt
	}
	return b.state == breakerOpen, b.openedAt
}

// Reset closes the breaker unconditionally.
func (b *circuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
	b.trialInFlight = false
	b.openedAt = time.Time{}
}
