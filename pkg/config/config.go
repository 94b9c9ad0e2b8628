// Package config loads and validates process configuration for the
// answering engine. Defaults are declared on the structs and can be
// overridden through ANSWERGRID_-prefixed environment variables
// (e.g. ANSWERGRID_RETRIEVAL_SEARCH_URL).
package config

import "time"

type Config struct {
	Log        LogConfig        `koanf:"log"`
	Model      ModelConfig      `koanf:"model"      validate:"required"`
	Analyzer   AnalyzerConfig   `koanf:"analyzer"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"  validate:"required"`
	Tools      ToolsConfig      `koanf:"tools"`
	Confidence ConfidenceConfig `koanf:"confidence"`
	Store      StoreConfig      `koanf:"store"`
	Cache      CacheConfig      `koanf:"cache"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `koanf:"json"`
}

// ModelConfig holds default language-model settings. Per-environment
// overrides come from the configuration store at request time.
type ModelConfig struct {
	Provider    string        `koanf:"provider"    validate:"required"`
	Model       string        `koanf:"model"       validate:"required"`
	APIKey      string        `koanf:"api_key"`
	APIURL      string        `koanf:"api_url"`
	Temperature float64       `koanf:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int32         `koanf:"max_tokens"  validate:"gte=0"`
	Timeout     time.Duration `koanf:"timeout"`
}

type AnalyzerConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type RetrievalConfig struct {
	SearchURL     string        `koanf:"search_url"     validate:"required,url"`
	RerankURL     string        `koanf:"rerank_url"     validate:"omitempty,url"`
	APIKey        string        `koanf:"api_key"`
	Limit         int           `koanf:"limit"          validate:"gt=0"`
	MinSimilarity float64       `koanf:"min_similarity" validate:"gte=0,lte=1"`
	MaxTokens     int           `koanf:"max_tokens"     validate:"gt=0"`
	Timeout       time.Duration `koanf:"timeout"`
	EmbedderModel string        `koanf:"embedder_model"`
	CacheSize     int           `koanf:"cache_size"     validate:"gte=0"`
}

type ToolsConfig struct {
	InvokeTimeout    time.Duration `koanf:"invoke_timeout"`
	DiscoveryTimeout time.Duration `koanf:"discovery_timeout"`
	AllowedServers   []string      `koanf:"allowed_servers"`
	DeniedServers    []string      `koanf:"denied_servers"`
}

type ConfidenceConfig struct {
	Method              string        `koanf:"method"               validate:"omitempty,oneof=formula model_judged hybrid"`
	SimilarityWeight    float64       `koanf:"similarity_weight"    validate:"gte=0"`
	SourceCountWeight   float64       `koanf:"source_count_weight"  validate:"gte=0"`
	CompletenessWeight  float64       `koanf:"completeness_weight"  validate:"gte=0"`
	FormulaWeight       float64       `koanf:"formula_weight"       validate:"gte=0"`
	ModelWeight         float64       `koanf:"model_weight"         validate:"gte=0"`
	EscalationThreshold float64       `koanf:"escalation_threshold" validate:"gte=0,lte=1"`
	ModelTimeout        time.Duration `koanf:"model_timeout"`
}

type StoreConfig struct {
	// DSN is the Postgres connection string for the configuration store.
	// Empty selects the in-memory store.
	DSN         string `koanf:"dsn"`
	Environment string `koanf:"environment" validate:"required"`
}

type CacheConfig struct {
	ResponseTTL     time.Duration `koanf:"response_ttl"`
	ResponseEntries int64         `koanf:"response_entries" validate:"gte=0"`
}

// Default returns the configuration used when no overrides are present.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Model: ModelConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
		},
		Analyzer: AnalyzerConfig{
			Timeout: 10 * time.Second,
		},
		Retrieval: RetrievalConfig{
			SearchURL:     "http://localhost:8090",
			Limit:         8,
			MinSimilarity: 0.4,
			MaxTokens:     3000,
			Timeout:       10 * time.Second,
			EmbedderModel: "text-embedding-3-small",
			CacheSize:     512,
		},
		Tools: ToolsConfig{
			InvokeTimeout:    15 * time.Second,
			DiscoveryTimeout: 10 * time.Second,
		},
		Confidence: ConfidenceConfig{
			Method:              "formula",
			SimilarityWeight:    0.8,
			SourceCountWeight:   0.1,
			CompletenessWeight:  0.1,
			FormulaWeight:       0.6,
			ModelWeight:         0.4,
			EscalationThreshold: 0.95,
			ModelTimeout:        8 * time.Second,
		},
		Store: StoreConfig{
			Environment: "production",
		},
		Cache: CacheConfig{
			ResponseTTL:     5 * time.Minute,
			ResponseEntries: 4096,
		},
	}
}
