// Package analyzer classifies incoming queries: intent, complexity,
// entities, and the routing decision that drives the orchestration graph.
package analyzer

import "strings"

// Intent classifies what the user is trying to accomplish.
type Intent string

const (
	IntentFactual         Intent = "factual"
	IntentProcedural      Intent = "procedural"
	IntentTroubleshooting Intent = "troubleshooting"
	IntentComparison      Intent = "comparison"
	IntentDefinition      Intent = "definition"
	IntentConceptual      Intent = "conceptual"
	IntentNavigational    Intent = "navigational"
	IntentTransactional   Intent = "transactional"
	IntentUnknown         Intent = "unknown"
)

// Complexity grades how much work a query needs.
type Complexity string

const (
	ComplexitySimple      Complexity = "simple"
	ComplexityModerate    Complexity = "moderate"
	ComplexityComplex     Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

// Routing selects the execution path out of the analyze stage.
type Routing string

const (
	RouteStandardRetrieval Routing = "standard_retrieval"
	RouteToolInvocation    Routing = "tool_invocation"
	RouteMultiStep         Routing = "multi_step"
	RouteDirectEscalation  Routing = "direct_escalation"
	RouteCachedResponse    Routing = "cached_response"
)

// Entity is a span the analyzer extracted from the query.
type Entity struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ContextRequirements tunes the retrieval stage for this query.
type ContextRequirements struct {
	MinDocuments       int     `json:"min_documents"`
	SimilarityCutoff   float64 `json:"similarity_cutoff"`
	RequireMultiSource bool    `json:"require_multi_source"`
}

// Analysis is the analyzer's verdict for one query.
type Analysis struct {
	Intent       Intent              `json:"intent"`
	Complexity   Complexity          `json:"complexity"`
	Entities     []Entity            `json:"entities"`
	Routing      Routing             `json:"routing"`
	Requirements ContextRequirements `json:"requirements"`
	// Fallback marks analyses produced by the deterministic default after a
	// failed or malformed classification call.
	Fallback bool `json:"-"`
}

// FallbackAnalysis is the deterministic safe default: requests never fail
// because classification failed.
func FallbackAnalysis() *Analysis {
	return &Analysis{
		Intent:     IntentUnknown,
		Complexity: ComplexityModerate,
		Routing:    RouteStandardRetrieval,
		Entities:   []Entity{},
		Fallback:   true,
	}
}

func normalizeIntent(raw string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(raw))) {
	case IntentFactual, IntentProcedural, IntentTroubleshooting, IntentComparison,
		IntentDefinition, IntentConceptual, IntentNavigational, IntentTransactional:
		return Intent(strings.ToLower(strings.TrimSpace(raw)))
	default:
		return IntentUnknown
	}
}

func normalizeComplexity(raw string) Complexity {
	switch Complexity(strings.ToLower(strings.TrimSpace(raw))) {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityVeryComplex:
		return Complexity(strings.ToLower(strings.TrimSpace(raw)))
	default:
		return ComplexityModerate
	}
}

func normalizeRouting(raw string) Routing {
	switch Routing(strings.ToLower(strings.TrimSpace(raw))) {
	case RouteStandardRetrieval, RouteToolInvocation, RouteMultiStep,
		RouteDirectEscalation, RouteCachedResponse:
		return Routing(strings.ToLower(strings.TrimSpace(raw)))
	default:
		return RouteStandardRetrieval
	}
}
