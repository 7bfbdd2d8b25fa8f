// ABOUTME: Centralized configuration for the kbdistill pipeline
// ABOUTME: Loads from environment variables with validation and defaults
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Supported generation/embedding providers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Supported corpus backends
const (
	BackendSQLite = "sqlite"
	BackendCharm  = "charm"
)

// Config holds all configuration for a pipeline run
type Config struct {
	// Provider settings
	Provider        string
	GoogleAPIKey    string
	OpenAIKey       string
	GenerationModel string
	TaggingModel    string
	EmbeddingModel  string

	// Planning and execution
	TokenLimit       int
	MaxAttempts      int
	InitialDelay     time.Duration
	Concurrency      int
	ProbeConcurrency int
	RequestsPerMin   int
	TokensPerMin     int
	RequestTimeout   time.Duration
	RunTimeout       time.Duration

	// Dedup settings
	SimilarityThreshold float64
	EmbeddingDimensions int
	DedupConcurrency    int
	CollapseWithinRun   bool
	CollapseThreshold   float64

	// Corpus settings
	CorpusBackend string
	DBPath        string
	CharmHost     string
	CharmDBName   string
	AutoSync      bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Defaults
		Provider:            getEnv("KB_PROVIDER", ProviderGemini),
		GoogleAPIKey:        firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY"),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		GenerationModel:     os.Getenv("KB_GENERATION_MODEL"),
		TaggingModel:        os.Getenv("KB_TAGGING_MODEL"),
		EmbeddingModel:      os.Getenv("KB_EMBEDDING_MODEL"),
		TokenLimit:          getEnvInt("KB_TOKEN_LIMIT", 1048576),
		MaxAttempts:         getEnvInt("KB_MAX_ATTEMPTS", 5),
		InitialDelay:        getEnvDuration("KB_INITIAL_DELAY", time.Second),
		Concurrency:         getEnvInt("KB_CONCURRENCY", 2),
		ProbeConcurrency:    getEnvInt("KB_PROBE_CONCURRENCY", 4),
		RequestsPerMin:      getEnvInt("KB_RPM", 150),
		TokensPerMin:        getEnvInt("KB_TPM", 2000000),
		RequestTimeout:      getEnvDuration("KB_REQUEST_TIMEOUT", 15*time.Minute),
		RunTimeout:          getEnvDuration("KB_RUN_TIMEOUT", 0),
		SimilarityThreshold: getEnvFloat("KB_SIMILARITY_THRESHOLD", 0.85),
		EmbeddingDimensions: getEnvInt("KB_EMBEDDING_DIMENSIONS", 1536),
		DedupConcurrency:    getEnvInt("KB_DEDUP_CONCURRENCY", 8),
		CollapseWithinRun:   getEnvBool("KB_COLLAPSE_WITHIN_RUN", true),
		CollapseThreshold:   getEnvFloat("KB_COLLAPSE_THRESHOLD", 0.10),
		CorpusBackend:       getEnv("KB_CORPUS_BACKEND", BackendSQLite),
		DBPath:              os.Getenv("KB_DB_PATH"),
		CharmHost:           getEnv("CHARM_HOST", "charm.2389.dev"),
		CharmDBName:         getEnv("CHARM_DB", "kbdistill"),
		AutoSync:            getEnvBool("CHARM_AUTO_SYNC", true),
	}
	cfg.applyModelDefaults()

	return cfg, cfg.Validate()
}

// ModelDefaults returns the generation, tagging and embedding models used for a
// provider when none are configured
func ModelDefaults(provider string) (generation, tagging, embedding string) {
	if provider == ProviderOpenAI {
		return "gpt-4o", "gpt-4o-mini", "text-embedding-3-small"
	}
	return "gemini-2.5-pro", "gemini-2.5-flash", "gemini-embedding-001"
}

// applyModelDefaults fills unset model names with the provider's defaults
func (c *Config) applyModelDefaults() {
	gen, tag, emb := ModelDefaults(c.Provider)
	if c.GenerationModel == "" {
		c.GenerationModel = gen
	}
	if c.TaggingModel == "" {
		c.TaggingModel = tag
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = emb
	}
}

// Validate checks value ranges; credentials are checked separately by RequireAPIKey
func (c *Config) Validate() error {
	if c.Provider != ProviderGemini && c.Provider != ProviderOpenAI {
		return fmt.Errorf("KB_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.Provider)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 2 {
		return fmt.Errorf("KB_SIMILARITY_THRESHOLD must be 0-2, got %f", c.SimilarityThreshold)
	}
	if c.CollapseThreshold < 0 || c.CollapseThreshold > 2 {
		return fmt.Errorf("KB_COLLAPSE_THRESHOLD must be 0-2, got %f", c.CollapseThreshold)
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("KB_MAX_ATTEMPTS must be 1-10, got %d", c.MaxAttempts)
	}
	if c.TokenLimit < 1 {
		return fmt.Errorf("KB_TOKEN_LIMIT must be positive, got %d", c.TokenLimit)
	}
	if c.Concurrency < 1 || c.ProbeConcurrency < 1 || c.DedupConcurrency < 1 {
		return fmt.Errorf("concurrency settings must be at least 1 (KB_CONCURRENCY=%d, KB_PROBE_CONCURRENCY=%d, KB_DEDUP_CONCURRENCY=%d)",
			c.Concurrency, c.ProbeConcurrency, c.DedupConcurrency)
	}
	if c.EmbeddingDimensions < 1 {
		return fmt.Errorf("KB_EMBEDDING_DIMENSIONS must be positive, got %d", c.EmbeddingDimensions)
	}
	if c.RequestsPerMin < 0 || c.TokensPerMin < 0 {
		return fmt.Errorf("KB_RPM and KB_TPM must be non-negative, got %d and %d", c.RequestsPerMin, c.TokensPerMin)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("KB_INITIAL_DELAY must be non-negative, got %v", c.InitialDelay)
	}
	if c.CorpusBackend != BackendSQLite && c.CorpusBackend != BackendCharm {
		return fmt.Errorf("KB_CORPUS_BACKEND must be %q or %q, got %q", BackendSQLite, BackendCharm, c.CorpusBackend)
	}
	return nil
}

// RequireAPIKey returns an error when the chosen provider has no key configured
func (c *Config) RequireAPIKey() error {
	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	default:
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY environment variable not set")
		}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
