// Package retrieval produces ranked context passages for a query by
// embedding it, querying the hybrid search service, and optionally
// reranking the results.
package retrieval

import (
	"sort"
	"time"
	"unicode/utf8"
)

// PreviewLength caps the citation preview carried in metadata.
const PreviewLength = 200

// RetrievedContext is one passage returned by the search backend.
type RetrievedContext struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	// Similarity is the search backend's original score, kept for
	// confidence scoring even after a rerank pass reorders results.
	Similarity float64 `json:"similarity"`
	// Relevance drives ordering. It starts equal to Similarity and is
	// replaced by the reranker's score when reranking runs.
	Relevance  float64        `json:"relevance"`
	Source     map[string]any `json:"source,omitempty"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
	Preview    string         `json:"preview"`
	TokenCount int            `json:"-"`
}

// MakePreview truncates full text to PreviewLength runes.
func MakePreview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:PreviewLength])
}

// SortContexts orders by descending relevance, breaking ties by document
// recency (newer first) and finally by document ID for stability.
func SortContexts(contexts []RetrievedContext) {
	sort.SliceStable(contexts, func(i, j int) bool {
		if contexts[i].Relevance != contexts[j].Relevance {
			return contexts[i].Relevance > contexts[j].Relevance
		}
		ti, tj := contexts[i].Timestamp, contexts[j].Timestamp
		switch {
		case ti != nil && tj != nil && !ti.Equal(*tj):
			return ti.After(*tj)
		case ti != nil && tj == nil:
			return true
		case ti == nil && tj != nil:
			return false
		}
		return contexts[i].DocumentID < contexts[j].DocumentID
	})
}

// MeanSimilarity averages the original similarity scores. Zero for an
// empty set.
func MeanSimilarity(contexts []RetrievedContext) float64 {
	if len(contexts) == 0 {
		return 0
	}
	total := 0.0
	for i := range contexts {
		total += contexts[i].Similarity
	}
	return total / float64(len(contexts))
}
