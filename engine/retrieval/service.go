package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/answergrid/answergrid/pkg/logger"
)

// Options carries per-query retrieval adjustments from the analyzer.
type Options struct {
	Filters map[string]any
	// SimilarityCutoff overrides the configured minimum similarity when
	// greater than zero.
	SimilarityCutoff float64
	MinDocuments     int
}

// ServiceConfig holds the retrieval stage defaults.
type ServiceConfig struct {
	Limit         int
	MinSimilarity float64
	MaxTokens     int
}

// Service orchestrates embed, search, rerank, and budget trimming.
type Service struct {
	embedder  Embedder
	search    SearchClient
	reranker  Reranker
	estimator TokenEstimator
	config    ServiceConfig
}

// NewService wires the retrieval pipeline. reranker may be nil to skip the
// rerank pass; estimator defaults to the tiktoken-backed one.
func NewService(
	embedder Embedder,
	search SearchClient,
	reranker Reranker,
	estimator TokenEstimator,
	config ServiceConfig,
) *Service {
	if estimator == nil {
		estimator = NewTokenEstimator()
	}
	if config.Limit <= 0 {
		config.Limit = 8
	}
	return &Service{
		embedder:  embedder,
		search:    search,
		reranker:  reranker,
		estimator: estimator,
		config:    config,
	}
}

// Retrieve returns ranked contexts for query. It never returns an error:
// backend failures degrade to an empty result with telemetry recording
// whether the backend was unavailable or simply had nothing relevant.
func (s *Service) Retrieve(ctx context.Context, query string, opts Options) []RetrievedContext {
	log := logger.FromContext(ctx)
	if strings.TrimSpace(query) == "" {
		return nil
	}
	start := time.Now()
	defer func() { RecordQueryLatency(ctx, time.Since(start)) }()

	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		// Keyword-only search still works without a vector.
		log.Warn("query embedding failed, degrading to keyword search", "error", err)
		embedding = nil
	}

	threshold := s.config.MinSimilarity
	if opts.SimilarityCutoff > 0 {
		threshold = opts.SimilarityCutoff
	}
	contexts, err := s.search.Search(ctx, &SearchRequest{
		Embedding: embedding,
		Query:     query,
		Threshold: threshold,
		Limit:     s.config.Limit,
		Filters:   opts.Filters,
	})
	if err != nil {
		log.Error("search backend unavailable", "error", err)
		RecordEmptyResult(ctx, EmptyReasonBackendUnavailable)
		return nil
	}
	if len(contexts) == 0 {
		log.Info("no relevant documents found", "query_length", len(query))
		RecordEmptyResult(ctx, EmptyReasonNoDocuments)
		return nil
	}

	if s.reranker != nil {
		contexts = s.reranker.Rerank(ctx, query, contexts)
	} else {
		SortContexts(contexts)
	}
	contexts = trimToBudget(ctx, s.estimator, contexts, s.config.MaxTokens)
	if opts.MinDocuments > 0 && len(contexts) < opts.MinDocuments {
		log.Warn("retrieved fewer documents than the query requires",
			"got", len(contexts), "want", opts.MinDocuments)
	}
	log.Debug("retrieval finished", "results", len(contexts), "duration", time.Since(start))
	return contexts
}
