// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (CHATBI_* prefix, DATABASE_URL)
//  2. Config file (~/.chatbi/config.yaml, or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - RAG: similarity thresholds, strategy gates, example and prompt budgets
//   - Resilience: retry, circuit breaker and degraded-mode settings
//   - Storage: PostgreSQL connection or embedded chromem path (see storage.go)
//   - Embedding: embedder model name
//
// Validation uses sentinel errors so callers can check failures with
// errors.Is(); see validation.go.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backend identifiers used in Config.StorageBackend.
const (
	BackendChromem  = "chromem"
	BackendPostgres = "postgres"
)

// Default threshold and budget values. The clamp bounds for rating are
// configuration, not law: the long-term rating semantics (decay, reset)
// are an open product question, so only validation clamps apply here.
const (
	DefaultSimilarityThreshold     = 0.6
	DefaultMediumSimilarity        = 0.6
	DefaultHighSimilarity          = 0.8
	DefaultConfidenceThreshold     = 0.8
	DefaultMinRatingForCache       = 0.0
	DefaultMaxExamples             = 3
	DefaultMaxPromptLength         = 8000
	DefaultSearchTopK              = 5
	DefaultMaxRetries              = 3
	DefaultRetryDelay              = time.Second
	DefaultCircuitBreakerThreshold = 5
	DefaultCircuitBreakerTimeout   = 300 * time.Second
	DefaultCacheTTL                = 300 * time.Second
	DefaultCacheCapacity           = 100
	DefaultDegradedCacheSize       = 1000
	DefaultBatchWorkers            = 4
	DefaultSearchTimeout           = 30 * time.Second
	DefaultRatingClampMin          = -10.0
	DefaultRatingClampMax          = 10.0
)

// Config stores application configuration.
// SECURITY: the PostgreSQL password is masked when the config is logged;
// never log the raw struct.
type Config struct {
	// RAG thresholds and budgets
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MediumSimilarity    float64 `mapstructure:"medium_similarity_threshold"`
	HighSimilarity      float64 `mapstructure:"high_similarity_threshold"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	MinRatingForCache   float64 `mapstructure:"min_rating_for_cache"`
	MaxExamples         int     `mapstructure:"max_examples"`
	MaxPromptLength     int     `mapstructure:"max_prompt_length"`
	SearchTopK          int     `mapstructure:"search_top_k"`

	// Resilience
	MaxRetries              int           `mapstructure:"max_retries"`
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
	DegradedCacheSize       int           `mapstructure:"degraded_cache_size"`
	RetrievalRateLimit      float64       `mapstructure:"retrieval_rate_limit"` // per second, 0 = unlimited

	// Result cache
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheCapacity int           `mapstructure:"cache_capacity"`

	// Search
	SearchTimeout time.Duration `mapstructure:"search_timeout"`

	// Batch ingestion
	BatchWorkers int `mapstructure:"batch_workers"`

	// Rating clamp bounds applied by the data-consistency guard.
	RatingClampMin float64 `mapstructure:"rating_clamp_min"`
	RatingClampMax float64 `mapstructure:"rating_clamp_max"`

	// Storage configuration (see storage.go)
	StorageBackend   string `mapstructure:"storage_backend"`
	ChromemPath      string `mapstructure:"chromem_path"`
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Embedding
	EmbedderModel string `mapstructure:"embedder_model"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".chatbi")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("CHATBI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration populated with default values only.
// Used by tests and by library consumers that configure programmatically.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Unmarshal over pure defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("similarity_threshold", DefaultSimilarityThreshold)
	v.SetDefault("medium_similarity_threshold", DefaultMediumSimilarity)
	v.SetDefault("high_similarity_threshold", DefaultHighSimilarity)
	v.SetDefault("confidence_threshold", DefaultConfidenceThreshold)
	v.SetDefault("min_rating_for_cache", DefaultMinRatingForCache)
	v.SetDefault("max_examples", DefaultMaxExamples)
	v.SetDefault("max_prompt_length", DefaultMaxPromptLength)
	v.SetDefault("search_top_k", DefaultSearchTopK)

	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("retry_delay", DefaultRetryDelay)
	v.SetDefault("circuit_breaker_threshold", DefaultCircuitBreakerThreshold)
	v.SetDefault("circuit_breaker_timeout", DefaultCircuitBreakerTimeout)
	v.SetDefault("degraded_cache_size", DefaultDegradedCacheSize)
	v.SetDefault("retrieval_rate_limit", 0)

	v.SetDefault("cache_ttl", DefaultCacheTTL)
	v.SetDefault("cache_capacity", DefaultCacheCapacity)
	v.SetDefault("search_timeout", DefaultSearchTimeout)
	v.SetDefault("batch_workers", DefaultBatchWorkers)

	v.SetDefault("rating_clamp_min", DefaultRatingClampMin)
	v.SetDefault("rating_clamp_max", DefaultRatingClampMax)

	v.SetDefault("storage_backend", BackendChromem)
	v.SetDefault("chromem_path", filepath.Join("data", "knowledge_base", "vectors"))
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "chatbi")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "chatbi")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("embedder_model", "gemini-embedding-001")
}
