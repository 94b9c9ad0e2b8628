package orchestrator

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/answergrid/answergrid/engine/retrieval"
)

// genericSourceName labels a citation whose document carries neither a
// title nor a usable filename.
const genericSourceName = "Knowledge base document"

// apologeticFallback is the user-visible answer when generation itself
// failed. It always ships with escalated=true.
const apologeticFallback = "I'm sorry, I wasn't able to produce an answer for this question. " +
	"Your request has been flagged for a human to follow up."

// FormatCitations converts contexts into the caller-facing citation list,
// sorted by descending relevance. Missing titles and timestamps degrade
// to defaults instead of failing.
func FormatCitations(contexts []retrieval.RetrievedContext) []Citation {
	if len(contexts) == 0 {
		return []Citation{}
	}
	ordered := append([]retrieval.RetrievedContext(nil), contexts...)
	retrieval.SortContexts(ordered)

	citations := make([]Citation, 0, len(ordered))
	for i := range ordered {
		c := &ordered[i]
		citations = append(citations, Citation{
			SourceName: sourceName(c),
			Preview:    citationPreview(c),
			Relevance:  fmt.Sprintf("%.0f%%", c.Relevance*100),
			Timestamp:  c.Timestamp,
		})
	}
	return citations
}

func sourceName(c *retrieval.RetrievedContext) string {
	if name := strings.TrimSpace(c.Title); name != "" {
		return name
	}
	if raw, ok := c.Source["filename"].(string); ok {
		if name := strings.TrimSpace(path.Base(raw)); name != "" && name != "." && name != "/" {
			return name
		}
	}
	if kind, ok := c.Source["type"].(string); ok && strings.TrimSpace(kind) != "" {
		return strings.TrimSpace(kind)
	}
	return genericSourceName
}

func citationPreview(c *retrieval.RetrievedContext) string {
	if c.Preview != "" {
		return c.Preview
	}
	return retrieval.MakePreview(c.Content)
}

// buildResponse assembles the final contract from the finished state.
func buildResponse(state *RequestState) *Response {
	resp := &Response{
		Answer:           state.Draft,
		Citations:        state.Citations,
		Escalated:        state.Verdict.Escalated,
		EscalationReason: state.Verdict.Reason,
		TokensUsed:       state.TokensUsed,
		Latency:          time.Since(state.StartedAt).Round(time.Millisecond).String(),
	}
	if state.Confidence != nil {
		resp.Confidence = state.Confidence.Score
	}
	if resp.Answer == "" {
		resp.Answer = apologeticFallback
	}
	if resp.Citations == nil {
		resp.Citations = []Citation{}
	}
	if state.Err != nil {
		resp.Error = state.Err.Error()
	}
	return resp
}
