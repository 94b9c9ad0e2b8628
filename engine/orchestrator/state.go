// Package orchestrator wires the analyzer, retrieval, tools, generator,
// and confidence stages into one request-scoped state machine.
package orchestrator

import (
	"time"

	"github.com/answergrid/answergrid/engine/analyzer"
	"github.com/answergrid/answergrid/engine/confidence"
	"github.com/answergrid/answergrid/engine/core"
	"github.com/answergrid/answergrid/engine/llm"
	"github.com/answergrid/answergrid/engine/retrieval"
	"github.com/answergrid/answergrid/engine/tool"
)

// Stage names the states of the orchestration graph.
type Stage string

const (
	StageAnalyze     Stage = "analyze"
	StageRetrieve    Stage = "retrieve"
	StageInvokeTools Stage = "invoke_tools"
	StageGenerate    Stage = "generate"
	StageScore       Stage = "score_confidence"
	StageDecide      Stage = "decide"
	StageFormat      Stage = "format"
	StageEnd         Stage = "end"
)

// Request is the caller's input for one pipeline run.
type Request struct {
	Query     string
	SessionID string
	UserID    string
	History   []llm.Message
	Filters   map[string]any
}

// RequestState is owned by exactly one pipeline execution and discarded
// once the response is built. Every field is written once by its stage;
// later stages read but never overwrite, with Err as the only mutable
// slot.
type RequestState struct {
	ID        core.ID
	Query     string
	SessionID string
	UserID    string
	History   []llm.Message
	Filters   map[string]any

	Analysis    *analyzer.Analysis
	Contexts    []retrieval.RetrievedContext
	ToolResults []tool.InvocationResult
	Draft       string
	FromCache   bool
	Confidence  *confidence.Result
	Verdict     confidence.Verdict
	Citations   []Citation

	TokensUsed   int
	StageLatency map[Stage]time.Duration
	StartedAt    time.Time

	// Err records the first unrecovered stage failure. The pipeline still
	// runs through format so the caller gets a degraded response.
	Err error
}

func newRequestState(req *Request) *RequestState {
	// Filters are deep-copied so the state stays isolated from caller
	// mutation for the lifetime of the request.
	filters, err := core.DeepCopyMap(req.Filters)
	if err != nil {
		filters = core.CloneMap(req.Filters)
	}
	return &RequestState{
		ID:           core.NewID(),
		Query:        req.Query,
		SessionID:    req.SessionID,
		UserID:       req.UserID,
		History:      req.History,
		Filters:      filters,
		StageLatency: make(map[Stage]time.Duration),
		StartedAt:    time.Now(),
	}
}

func (s *RequestState) setError(err error) {
	if s.Err == nil {
		s.Err = err
	}
}

// Citation points the caller back at one source the answer drew on.
type Citation struct {
	SourceName string     `json:"source_name"`
	Preview    string     `json:"preview"`
	Relevance  string     `json:"relevance"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// Response is the contract returned to the caller.
type Response struct {
	Answer           string     `json:"answer"`
	Citations        []Citation `json:"citations"`
	Confidence       float64    `json:"confidence"`
	Escalated        bool       `json:"escalated"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
	TokensUsed       int        `json:"tokens_used"`
	Latency          string     `json:"latency,omitempty"`
	Error            string     `json:"error,omitempty"`
}
