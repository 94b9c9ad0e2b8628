package retrieval

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return f.vector, f.err
}

type fakeSearch struct {
	contexts []RetrievedContext
	err      error
	lastReq  *SearchRequest
}

func (f *fakeSearch) Search(_ context.Context, req *SearchRequest) ([]RetrievedContext, error) {
	f.lastReq = req
	return f.contexts, f.err
}

func ts(s string) *time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return &t
}

func TestSortContexts(t *testing.T) {
	t.Run("Should order by descending relevance", func(t *testing.T) {
		contexts := []RetrievedContext{
			{DocumentID: "a", Relevance: 0.2},
			{DocumentID: "b", Relevance: 0.9},
			{DocumentID: "c", Relevance: 0.5},
		}
		SortContexts(contexts)
		assert.Equal(t, "b", contexts[0].DocumentID)
		assert.Equal(t, "c", contexts[1].DocumentID)
		assert.Equal(t, "a", contexts[2].DocumentID)
	})

	t.Run("Should break relevance ties by document recency", func(t *testing.T) {
		contexts := []RetrievedContext{
			{DocumentID: "old", Relevance: 0.5, Timestamp: ts("2024-01-01T00:00:00Z")},
			{DocumentID: "new", Relevance: 0.5, Timestamp: ts("2025-06-01T00:00:00Z")},
			{DocumentID: "undated", Relevance: 0.5},
		}
		SortContexts(contexts)
		assert.Equal(t, "new", contexts[0].DocumentID)
		assert.Equal(t, "old", contexts[1].DocumentID)
		assert.Equal(t, "undated", contexts[2].DocumentID)
	})
}

func TestMakePreview(t *testing.T) {
	t.Run("Should truncate to 200 runes", func(t *testing.T) {
		long := make([]rune, 500)
		for i := range long {
			long[i] = 'ä'
		}
		preview := MakePreview(string(long))
		assert.Equal(t, PreviewLength, len([]rune(preview)))
	})

	t.Run("Should keep short text intact", func(t *testing.T) {
		assert.Equal(t, "short", MakePreview("short"))
	})
}

func TestService_Retrieve(t *testing.T) {
	t.Run("Should return sorted contexts", func(t *testing.T) {
		search := &fakeSearch{contexts: []RetrievedContext{
			{DocumentID: "a", Content: "first", Similarity: 0.4, Relevance: 0.4},
			{DocumentID: "b", Content: "second", Similarity: 0.8, Relevance: 0.8},
		}}
		svc := NewService(&fakeEmbedder{vector: []float32{0.1}}, search, nil, runeEstimator{}, ServiceConfig{Limit: 5})

		contexts := svc.Retrieve(context.Background(), "query", Options{})
		require.Len(t, contexts, 2)
		assert.Equal(t, "b", contexts[0].DocumentID)
	})

	t.Run("Should return empty when the search backend fails", func(t *testing.T) {
		search := &fakeSearch{err: errors.New("connection refused")}
		svc := NewService(&fakeEmbedder{vector: []float32{0.1}}, search, nil, runeEstimator{}, ServiceConfig{})

		contexts := svc.Retrieve(context.Background(), "query", Options{})
		assert.Empty(t, contexts)
	})

	t.Run("Should degrade to keyword search when embedding fails", func(t *testing.T) {
		search := &fakeSearch{contexts: []RetrievedContext{{DocumentID: "a", Similarity: 0.5, Relevance: 0.5}}}
		svc := NewService(&fakeEmbedder{err: errors.New("quota exhausted")}, search, nil, runeEstimator{}, ServiceConfig{})

		contexts := svc.Retrieve(context.Background(), "query", Options{})
		assert.Len(t, contexts, 1)
		require.NotNil(t, search.lastReq)
		assert.Nil(t, search.lastReq.Embedding)
		assert.Equal(t, "query", search.lastReq.Query)
	})

	t.Run("Should apply the analyzer similarity override", func(t *testing.T) {
		search := &fakeSearch{}
		svc := NewService(&fakeEmbedder{vector: []float32{0.1}}, search, nil, runeEstimator{}, ServiceConfig{MinSimilarity: 0.4})

		svc.Retrieve(context.Background(), "query", Options{SimilarityCutoff: 0.7})
		require.NotNil(t, search.lastReq)
		assert.Equal(t, 0.7, search.lastReq.Threshold)
	})

	t.Run("Should drop trailing contexts past the token budget", func(t *testing.T) {
		big := make([]byte, 4000)
		for i := range big {
			big[i] = 'x'
		}
		search := &fakeSearch{contexts: []RetrievedContext{
			{DocumentID: "a", Content: string(big), Similarity: 0.9, Relevance: 0.9},
			{DocumentID: "b", Content: string(big), Similarity: 0.8, Relevance: 0.8},
		}}
		svc := NewService(&fakeEmbedder{vector: []float32{0.1}}, search, nil, runeEstimator{}, ServiceConfig{MaxTokens: 1200})

		contexts := svc.Retrieve(context.Background(), "query", Options{})
		require.Len(t, contexts, 1)
		assert.Equal(t, "a", contexts[0].DocumentID)
	})

	t.Run("Should return nil for a blank query", func(t *testing.T) {
		svc := NewService(&fakeEmbedder{}, &fakeSearch{}, nil, runeEstimator{}, ServiceConfig{})
		assert.Nil(t, svc.Retrieve(context.Background(), "   ", Options{}))
	})
}

func TestHTTPSearchClient(t *testing.T) {
	t.Run("Should parse results and seed relevance from similarity", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/search", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"results": [
				{"content": "passage text", "document_id": "doc-1", "title": "Doc One", "similarity": 0.83}
			]}`))
		}))
		defer server.Close()

		client := NewHTTPSearchClient(server.URL, "", time.Second)
		contexts, err := client.Search(context.Background(), &SearchRequest{Query: "q", Limit: 5})
		require.NoError(t, err)
		require.Len(t, contexts, 1)
		assert.Equal(t, 0.83, contexts[0].Similarity)
		assert.Equal(t, 0.83, contexts[0].Relevance)
		assert.Equal(t, "passage text", contexts[0].Preview)
	})

	t.Run("Should retry server errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"results": []}`))
		}))
		defer server.Close()

		client := NewHTTPSearchClient(server.URL, "", time.Second)
		_, err := client.Search(context.Background(), &SearchRequest{Query: "q"})
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Should not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := NewHTTPSearchClient(server.URL, "", time.Second)
		_, err := client.Search(context.Background(), &SearchRequest{Query: "q"})
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestReranker(t *testing.T) {
	t.Run("Should replace relevance with reranker scores and keep similarity", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"scores": [0.1, 0.9]}`))
		}))
		defer server.Close()

		reranker := NewCrossEncoderReranker(server.URL, "", time.Second)
		contexts := reranker.Rerank(context.Background(), "query", []RetrievedContext{
			{DocumentID: "a", Content: "one", Similarity: 0.8, Relevance: 0.8},
			{DocumentID: "b", Content: "two", Similarity: 0.6, Relevance: 0.6},
		})
		require.Len(t, contexts, 2)
		assert.Equal(t, "b", contexts[0].DocumentID)
		assert.Equal(t, 0.6, contexts[0].Similarity)
		assert.Equal(t, 0.9, contexts[0].Relevance)
	})

	t.Run("Should fall back to fused ordering when the endpoint fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		reranker := NewCrossEncoderReranker(server.URL, "", time.Second)
		contexts := reranker.Rerank(context.Background(), "postgres vacuum tuning", []RetrievedContext{
			{DocumentID: "a", Content: "unrelated cooking recipe", Similarity: 0.5},
			{DocumentID: "b", Content: "postgres vacuum tuning guide", Similarity: 0.5},
		})
		require.Len(t, contexts, 2)
		assert.Equal(t, "b", contexts[0].DocumentID)
	})
}

func TestFuseRanking(t *testing.T) {
	t.Run("Should favor passages matching query terms when similarity ties", func(t *testing.T) {
		contexts := FuseRanking("error budget policy", []RetrievedContext{
			{DocumentID: "a", Content: "quarterly revenue report", Similarity: 0.7},
			{DocumentID: "b", Content: "the error budget policy states", Similarity: 0.7},
		})
		assert.Equal(t, "b", contexts[0].DocumentID)
	})

	t.Run("Should scale fused scores into the unit interval", func(t *testing.T) {
		contexts := FuseRanking("postgres vacuum tuning", []RetrievedContext{
			{DocumentID: "a", Content: "postgres vacuum tuning guide", Similarity: 0.9},
			{DocumentID: "b", Content: "index maintenance notes", Similarity: 0.6},
			{DocumentID: "c", Content: "unrelated cooking recipe", Similarity: 0.3},
		})
		require.Len(t, contexts, 3)
		assert.Equal(t, 1.0, contexts[0].Relevance)
		for i := range contexts {
			assert.Greater(t, contexts[i].Relevance, 0.0)
			assert.LessOrEqual(t, contexts[i].Relevance, 1.0)
		}
		assert.Equal(t, 0.9, contexts[0].Similarity)
	})
}
