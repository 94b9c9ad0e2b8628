package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/answergrid/answergrid/pkg/logger"
)

// rrfK dampens rank contributions in reciprocal rank fusion.
const rrfK = 60

// Reranker reorders retrieved contexts by relevance to the query.
// Implementations replace the Relevance field only; the original
// Similarity is kept for confidence scoring.
type Reranker interface {
	Rerank(ctx context.Context, query string, contexts []RetrievedContext) []RetrievedContext
}

// CrossEncoderReranker calls a remote cross-encoder scoring endpoint and
// falls back to local reciprocal rank fusion when the call fails.
type CrossEncoderReranker struct {
	client *resty.Client
}

func NewCrossEncoderReranker(baseURL, apiKey string, timeout time.Duration) *CrossEncoderReranker {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &CrossEncoderReranker{client: client}
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

func (r *CrossEncoderReranker) Rerank(
	ctx context.Context,
	query string,
	contexts []RetrievedContext,
) []RetrievedContext {
	if len(contexts) < 2 {
		return contexts
	}
	scores, err := r.score(ctx, query, contexts)
	if err != nil {
		logger.FromContext(ctx).Warn("rerank call failed, using fused local ordering", "error", err)
		RecordRerankFallback(ctx)
		return FuseRanking(query, contexts)
	}
	for i := range contexts {
		contexts[i].Relevance = scores[i]
	}
	SortContexts(contexts)
	return contexts
}

func (r *CrossEncoderReranker) score(
	ctx context.Context,
	query string,
	contexts []RetrievedContext,
) ([]float64, error) {
	passages := make([]string, len(contexts))
	for i := range contexts {
		passages[i] = contexts[i].Content
	}
	var body rerankResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(&rerankRequest{Query: query, Passages: passages}).
		SetResult(&body).
		Post("/rerank")
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("rerank returned status %d", resp.StatusCode())
	}
	if len(body.Scores) != len(contexts) {
		return nil, fmt.Errorf("rerank returned %d scores for %d passages", len(body.Scores), len(contexts))
	}
	return body.Scores, nil
}

// FuseRanking combines the backend's similarity ordering with a query-term
// overlap ordering via reciprocal rank fusion. The fused score only orders
// the set; it is scaled into (0,1] so citation rendering downstream does
// not surface raw reciprocal-rank magnitudes.
func FuseRanking(query string, contexts []RetrievedContext) []RetrievedContext {
	similarityRank := rankBy(contexts, func(i, j int) bool {
		return contexts[i].Similarity > contexts[j].Similarity
	})
	overlap := make([]float64, len(contexts))
	terms := queryTerms(query)
	for i := range contexts {
		overlap[i] = termOverlap(terms, contexts[i].Content)
	}
	overlapRank := rankBy(contexts, func(i, j int) bool {
		return overlap[i] > overlap[j]
	})
	maxFused := 0.0
	for i := range contexts {
		fused := 1.0/float64(rrfK+similarityRank[i]) + 1.0/float64(rrfK+overlapRank[i])
		contexts[i].Relevance = fused
		if fused > maxFused {
			maxFused = fused
		}
	}
	if maxFused > 0 {
		for i := range contexts {
			contexts[i].Relevance /= maxFused
		}
	}
	SortContexts(contexts)
	return contexts
}

// rankBy returns the 1-based rank of each element under less.
func rankBy(contexts []RetrievedContext, less func(i, j int) bool) []int {
	order := make([]int, len(contexts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return less(order[a], order[b]) })
	ranks := make([]int, len(contexts))
	for pos, idx := range order {
		ranks[idx] = pos + 1
	}
	return ranks
}

func queryTerms(query string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(query)) {
		term := strings.Trim(field, ".,;:!?\"'()")
		if len(term) > 2 {
			terms[term] = struct{}{}
		}
	}
	return terms
}

func termOverlap(terms map[string]struct{}, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
