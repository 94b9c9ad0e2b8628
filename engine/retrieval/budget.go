package retrieval

import (
	"context"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator counts tokens for budget enforcement.
type TokenEstimator interface {
	EstimateTokens(ctx context.Context, text string) int
}

type tiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTokenEstimator returns a cl100k_base tiktoken estimator, falling back
// to a rune heuristic when the encoding is unavailable (offline builds).
func NewTokenEstimator() TokenEstimator {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return runeEstimator{}
	}
	return &tiktokenEstimator{enc: enc}
}

func (t *tiktokenEstimator) EstimateTokens(_ context.Context, text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

type runeEstimator struct{}

func (runeEstimator) EstimateTokens(_ context.Context, text string) int {
	count := len([]rune(text))
	if count == 0 {
		return 0
	}
	tokens := count / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}

// trimToBudget drops whole trailing contexts until the total token count
// fits maxTokens. Previews computed earlier keep the dropped detail for
// citations of what survives.
func trimToBudget(ctx context.Context, estimator TokenEstimator, contexts []RetrievedContext, maxTokens int) []RetrievedContext {
	if maxTokens <= 0 {
		return contexts
	}
	total := 0
	for i := range contexts {
		contexts[i].TokenCount = estimator.EstimateTokens(ctx, contexts[i].Content)
		total += contexts[i].TokenCount
	}
	for total > maxTokens && len(contexts) > 0 {
		last := len(contexts) - 1
		total -= contexts[last].TokenCount
		contexts = contexts[:last]
	}
	return contexts
}
