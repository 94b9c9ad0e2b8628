package confidence

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answergrid/answergrid/engine/llm"
	"github.com/answergrid/answergrid/engine/retrieval"
)

func contexts(similarities ...float64) []retrieval.RetrievedContext {
	out := make([]retrieval.RetrievedContext, 0, len(similarities))
	for _, s := range similarities {
		out = append(out, retrieval.RetrievedContext{Similarity: s})
	}
	return out
}

func TestScorer_Formula(t *testing.T) {
	t.Run("Should weight similarity, sources, and completeness", func(t *testing.T) {
		scorer := NewScorer(DefaultScorerConfig(), nil)
		answer := strings.Repeat("a", targetAnswerLength)

		result := scorer.Score(context.Background(), "q", answer, contexts(0.9, 0.7, 0.8))
		// 0.8*0.8 + 1.0*0.1 + 1.0*0.1
		assert.InDelta(t, 0.84, result.Score, 1e-9)
		assert.Equal(t, MethodFormula, result.Method)
		assert.InDelta(t, 0.8, result.Breakdown.Similarity, 1e-9)
		assert.Equal(t, 1.0, result.Breakdown.SourceCount)
	})

	t.Run("Should score the similarity component zero with empty context", func(t *testing.T) {
		scorer := NewScorer(DefaultScorerConfig(), nil)
		result := scorer.Score(context.Background(), "q", "short answer", nil)
		assert.Equal(t, 0.0, result.Breakdown.Similarity)
		assert.Less(t, result.Score, 0.2)
	})

	t.Run("Should cap the source-count contribution at three sources", func(t *testing.T) {
		scorer := NewScorer(DefaultScorerConfig(), nil)
		three := scorer.Score(context.Background(), "q", "a", contexts(0.5, 0.5, 0.5))
		six := scorer.Score(context.Background(), "q", "a", contexts(0.5, 0.5, 0.5, 0.5, 0.5, 0.5))
		assert.Equal(t, three.Breakdown.SourceCount, six.Breakdown.SourceCount)
	})

	t.Run("Should clamp the score into the unit interval", func(t *testing.T) {
		config := DefaultScorerConfig()
		config.SimilarityWeight = 5
		scorer := NewScorer(config, nil)
		result := scorer.Score(context.Background(), "q", "a", contexts(0.9))
		assert.Equal(t, 1.0, result.Score)
	})
}

func TestScorer_ModelJudged(t *testing.T) {
	config := DefaultScorerConfig()
	config.Method = MethodModelJudged

	t.Run("Should accept a bare decimal", func(t *testing.T) {
		client := llm.NewMockClient().Queue(&llm.Response{Content: "0.85"})
		scorer := NewScorer(config, client)
		result := scorer.Score(context.Background(), "q", "answer", nil)
		assert.Equal(t, 0.85, result.Score)
		assert.Equal(t, MethodModelJudged, result.Method)
		require.NotNil(t, result.Breakdown.ModelScore)
	})

	t.Run("Should fall back to formula on non-decimal output", func(t *testing.T) {
		client := llm.NewMockClient().Queue(&llm.Response{Content: "I'd say about 0.85"})
		scorer := NewScorer(config, client)
		result := scorer.Score(context.Background(), "q", "answer", contexts(0.6))
		assert.Equal(t, MethodFormula, result.Method)
	})

	t.Run("Should fall back to formula on model failure", func(t *testing.T) {
		client := llm.NewMockClient().Fail(errors.New("timeout"))
		scorer := NewScorer(config, client)
		result := scorer.Score(context.Background(), "q", "answer", contexts(0.6))
		assert.Equal(t, MethodFormula, result.Method)
		assert.GreaterOrEqual(t, result.Score, 0.0)
		assert.LessOrEqual(t, result.Score, 1.0)
	})

	t.Run("Should reject decimals outside the unit interval", func(t *testing.T) {
		client := llm.NewMockClient().Queue(&llm.Response{Content: "1.5"})
		scorer := NewScorer(config, client)
		result := scorer.Score(context.Background(), "q", "answer", nil)
		assert.Equal(t, MethodFormula, result.Method)
	})
}

func TestScorer_Hybrid(t *testing.T) {
	config := DefaultScorerConfig()
	config.Method = MethodHybrid

	t.Run("Should blend formula and model scores", func(t *testing.T) {
		client := llm.NewMockClient().Queue(&llm.Response{Content: "1.0"})
		scorer := NewScorer(config, client)
		answer := strings.Repeat("a", targetAnswerLength)
		result := scorer.Score(context.Background(), "q", answer, contexts(0.5, 0.5, 0.5))
		// formula = 0.5*0.8 + 0.1 + 0.1 = 0.6; blend = (0.6*0.6 + 1.0*0.4) / 1.0
		assert.InDelta(t, 0.76, result.Score, 1e-9)
		assert.Equal(t, MethodHybrid, result.Method)
	})

	t.Run("Should collapse to formula when the model branch fails", func(t *testing.T) {
		client := llm.NewMockClient().Fail(errors.New("unavailable"))
		scorer := NewScorer(config, client)
		result := scorer.Score(context.Background(), "q", "answer", contexts(0.5))
		assert.Equal(t, MethodFormula, result.Method)
	})
}

func TestDecide(t *testing.T) {
	t.Run("Should escalate below the threshold with a naming reason", func(t *testing.T) {
		verdict := Decide(0.62, 0.95, false, nil)
		assert.True(t, verdict.Escalated)
		assert.Equal(t, "confidence 0.62 below threshold 0.95", verdict.Reason)
	})

	t.Run("Should not escalate at the threshold boundary", func(t *testing.T) {
		verdict := Decide(0.95, 0.95, false, nil)
		assert.False(t, verdict.Escalated)
		assert.Empty(t, verdict.Reason)
	})

	t.Run("Should escalate on direct escalation routing regardless of score", func(t *testing.T) {
		verdict := Decide(1.0, 0.95, true, nil)
		assert.True(t, verdict.Escalated)
		assert.Contains(t, verdict.Reason, "direct escalation")
	})

	t.Run("Should escalate on upstream error regardless of score", func(t *testing.T) {
		verdict := Decide(1.0, 0.95, false, errors.New("generation failed"))
		assert.True(t, verdict.Escalated)
		assert.Contains(t, verdict.Reason, "generation failed")
	})
}
