package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder turns query text into a dense vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CachingEmbedder wraps a langchaingo embedder with an LRU cache keyed by
// the text's digest. Repeated queries skip the provider round trip.
type CachingEmbedder struct {
	impl  embeddings.Embedder
	model string

	mu    sync.Mutex
	cache *lru.Cache[string, []float32]
}

// EmbedderConfig selects the embedding model endpoint.
type EmbedderConfig struct {
	Model     string
	APIKey    string
	APIURL    string
	CacheSize int
}

// NewEmbedder builds an OpenAI-compatible embedding client. CacheSize <= 0
// disables caching.
func NewEmbedder(cfg *EmbedderConfig) (*CachingEmbedder, error) {
	if cfg == nil || cfg.Model == "" {
		return nil, fmt.Errorf("embedder model is required")
	}
	opts := []openai.Option{openai.WithEmbeddingModel(cfg.Model)}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	if cfg.APIURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.APIURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	impl, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to construct embedder: %w", err)
	}
	return WrapEmbedder(impl, cfg.Model, cfg.CacheSize)
}

// WrapEmbedder builds a CachingEmbedder around an existing implementation.
func WrapEmbedder(impl embeddings.Embedder, model string, cacheSize int) (*CachingEmbedder, error) {
	e := &CachingEmbedder{impl: impl, model: model}
	if cacheSize > 0 {
		cache, err := lru.New[string, []float32](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to init embedding cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

func (e *CachingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vector, ok := e.lookup(key); ok {
		return vector, nil
	}
	vector, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding model %q: %w", e.model, err)
	}
	e.store(key, vector)
	return vector, nil
}

func (e *CachingEmbedder) lookup(key string) ([]float32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache == nil {
		return nil, false
	}
	vector, ok := e.cache.Get(key)
	if !ok {
		return nil, false
	}
	return cloneVector(vector), true
}

func (e *CachingEmbedder) store(key string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cache != nil {
		e.cache.Add(key, cloneVector(vector))
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}
