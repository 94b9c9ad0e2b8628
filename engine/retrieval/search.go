package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
)

// SearchClient queries the external hybrid search service.
type SearchClient interface {
	Search(ctx context.Context, req *SearchRequest) ([]RetrievedContext, error)
}

// SearchRequest carries one hybrid search call. Embedding may be nil, in
// which case the backend runs keyword-only matching.
type SearchRequest struct {
	Embedding []float32      `json:"embedding,omitempty"`
	Query     string         `json:"query"`
	Threshold float64        `json:"threshold"`
	Limit     int            `json:"limit"`
	Filters   map[string]any `json:"filters,omitempty"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Content    string         `json:"content"`
	DocumentID string         `json:"document_id"`
	Title      string         `json:"title"`
	Similarity float64        `json:"similarity"`
	Source     map[string]any `json:"source"`
	Timestamp  *time.Time     `json:"timestamp"`
}

// HTTPSearchClient talks to the hybrid search service over REST.
type HTTPSearchClient struct {
	client *resty.Client
}

func NewHTTPSearchClient(baseURL, apiKey string, timeout time.Duration) *HTTPSearchClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPSearchClient{client: client}
}

// Search posts the request, retrying transient failures with exponential
// backoff. 4xx responses are not retried.
func (c *HTTPSearchClient) Search(ctx context.Context, req *SearchRequest) ([]RetrievedContext, error) {
	var body searchResponse
	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&body).
			Post("/search")
		if err != nil {
			return retry.RetryableError(fmt.Errorf("search request failed: %w", err))
		}
		if resp.IsError() {
			err := fmt.Errorf("search returned status %d: %s", resp.StatusCode(), resp.String())
			if resp.StatusCode() >= 500 {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	contexts := make([]RetrievedContext, 0, len(body.Results))
	for _, result := range body.Results {
		contexts = append(contexts, RetrievedContext{
			Content:    result.Content,
			DocumentID: result.DocumentID,
			Title:      result.Title,
			Similarity: result.Similarity,
			Relevance:  result.Similarity,
			Source:     result.Source,
			Timestamp:  result.Timestamp,
			Preview:    MakePreview(result.Content),
		})
	}
	return contexts, nil
}
