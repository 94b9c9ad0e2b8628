// Package confidence scores a draft answer and decides whether the
// request must be escalated to a human.
package confidence

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/answergrid/answergrid/engine/llm"
	"github.com/answergrid/answergrid/engine/retrieval"
	"github.com/answergrid/answergrid/pkg/logger"
)

// Method selects how the score is computed.
type Method string

const (
	MethodFormula     Method = "formula"
	MethodModelJudged Method = "model_judged"
	MethodHybrid      Method = "hybrid"
)

// fullCreditSources is the source count that earns the full source-count
// contribution.
const fullCreditSources = 3

// targetAnswerLength normalizes the completeness component: answers at or
// beyond this rune count get full credit.
const targetAnswerLength = 300

// Breakdown itemizes the score components for telemetry.
type Breakdown struct {
	Similarity   float64  `json:"similarity"`
	SourceCount  float64  `json:"source_count"`
	Completeness float64  `json:"completeness"`
	ModelScore   *float64 `json:"model_score,omitempty"`
}

// Result is always produced: a scorer that cannot compute any component
// still returns a conservative near-zero score, because the escalation
// decision depends on it unconditionally.
type Result struct {
	Score     float64       `json:"score"`
	Method    Method        `json:"method"`
	Breakdown Breakdown     `json:"breakdown"`
	Latency   time.Duration `json:"latency"`
}

// ScorerConfig carries the weights and method selection. The component
// weights are treated as normalized; they need not sum to exactly 1.
type ScorerConfig struct {
	Method             Method
	SimilarityWeight   float64
	SourceCountWeight  float64
	CompletenessWeight float64
	// FormulaWeight and ModelWeight blend the two branches in hybrid mode.
	FormulaWeight float64
	ModelWeight   float64
	ModelTimeout  time.Duration
}

// DefaultScorerConfig mirrors the documented default weighting.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Method:             MethodFormula,
		SimilarityWeight:   0.8,
		SourceCountWeight:  0.1,
		CompletenessWeight: 0.1,
		FormulaWeight:      0.6,
		ModelWeight:        0.4,
		ModelTimeout:       8 * time.Second,
	}
}

// Scorer computes confidence for a drafted answer.
type Scorer struct {
	config ScorerConfig
	client llm.Client
}

// NewScorer builds a scorer. client may be nil when only the formula
// method is configured; model-judged and hybrid then degrade to formula.
func NewScorer(config ScorerConfig, client llm.Client) *Scorer {
	if config.ModelTimeout <= 0 {
		config.ModelTimeout = 8 * time.Second
	}
	return &Scorer{config: config, client: client}
}

// Score computes the confidence for answer given the contexts used to
// draft it. It never fails; every degradation path still yields a Result.
func (s *Scorer) Score(ctx context.Context, query, answer string, contexts []retrieval.RetrievedContext) *Result {
	start := time.Now()
	result := s.score(ctx, query, answer, contexts)
	result.Score = clamp01(result.Score)
	result.Latency = time.Since(start)
	return result
}

func (s *Scorer) score(ctx context.Context, query, answer string, contexts []retrieval.RetrievedContext) *Result {
	switch s.config.Method {
	case MethodModelJudged:
		if result, err := s.modelJudged(ctx, query, answer); err == nil {
			return result
		} else {
			logger.FromContext(ctx).Warn("model-judged confidence failed, falling back to formula", "error", err)
		}
		return s.formula(answer, contexts)
	case MethodHybrid:
		formula := s.formula(answer, contexts)
		judged, err := s.modelJudged(ctx, query, answer)
		if err != nil {
			logger.FromContext(ctx).Warn("hybrid confidence collapsed to formula", "error", err)
			return formula
		}
		total := s.config.FormulaWeight + s.config.ModelWeight
		if total <= 0 {
			return formula
		}
		blended := (formula.Score*s.config.FormulaWeight + judged.Score*s.config.ModelWeight) / total
		breakdown := formula.Breakdown
		breakdown.ModelScore = judged.Breakdown.ModelScore
		return &Result{Score: blended, Method: MethodHybrid, Breakdown: breakdown}
	default:
		return s.formula(answer, contexts)
	}
}

// formula is the weighted sum of mean similarity, capped source count,
// and answer completeness.
func (s *Scorer) formula(answer string, contexts []retrieval.RetrievedContext) *Result {
	similarity := retrieval.MeanSimilarity(contexts)
	sources := float64(len(contexts)) / fullCreditSources
	if sources > 1 {
		sources = 1
	}
	completeness := float64(len([]rune(answer))) / targetAnswerLength
	if completeness > 1 {
		completeness = 1
	}
	score := similarity*s.config.SimilarityWeight +
		sources*s.config.SourceCountWeight +
		completeness*s.config.CompletenessWeight
	return &Result{
		Score:  score,
		Method: MethodFormula,
		Breakdown: Breakdown{
			Similarity:   similarity,
			SourceCount:  sources,
			Completeness: completeness,
		},
	}
}

var decimalPattern = regexp.MustCompile(`^(0(\.\d+)?|1(\.0+)?)$`)

// modelJudged asks the model for a bare decimal in [0,1]. Anything else,
// or a timeout, is an error so the caller can fall back.
func (s *Scorer) modelJudged(ctx context.Context, query, answer string) (*Result, error) {
	if s.client == nil {
		return nil, fmt.Errorf("no model client configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.ModelTimeout)
	defer cancel()

	resp, err := s.client.GenerateContent(ctx, &llm.Request{
		SystemPrompt: "Rate how confidently the answer addresses the question using only the given answer text. " +
			"Respond with a single decimal number between 0 and 1. No words, no explanation.",
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Question: %s\n\nAnswer: %s", query, answer),
		}},
		Options: llm.CallOptions{Temperature: 0.0, MaxTokens: 8},
	})
	if err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(resp.Content)
	if !decimalPattern.MatchString(raw) {
		return nil, fmt.Errorf("model returned %q instead of a decimal in [0,1]", raw)
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &Result{
		Score:     score,
		Method:    MethodModelJudged,
		Breakdown: Breakdown{ModelScore: &score},
	}, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
