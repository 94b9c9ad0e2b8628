package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/answergrid/answergrid/engine/analyzer"
	"github.com/answergrid/answergrid/engine/confidence"
	"github.com/answergrid/answergrid/engine/configstore"
	"github.com/answergrid/answergrid/engine/generator"
	"github.com/answergrid/answergrid/engine/llm"
	"github.com/answergrid/answergrid/engine/retrieval"
	"github.com/answergrid/answergrid/engine/tool"
)

type fakeAnalyzer struct {
	analysis *analyzer.Analysis
}

func (f *fakeAnalyzer) Analyze(context.Context, string, []llm.Message) *analyzer.Analysis {
	if f.analysis == nil {
		return analyzer.FallbackAnalysis()
	}
	return f.analysis
}

func routedAnalyzer(routing analyzer.Routing) *fakeAnalyzer {
	return &fakeAnalyzer{analysis: &analyzer.Analysis{
		Intent:     analyzer.IntentFactual,
		Complexity: analyzer.ComplexitySimple,
		Routing:    routing,
	}}
}

type fakeRetriever struct {
	contexts []retrieval.RetrievedContext
	calls    int
	panics   bool
}

func (f *fakeRetriever) Retrieve(context.Context, string, retrieval.Options) []retrieval.RetrievedContext {
	f.calls++
	if f.panics {
		panic("search client is nil")
	}
	return f.contexts
}

// echoGenerator composes a deterministic answer from whatever reached the
// generate stage, so tests can assert on data flow rather than model
// output. A non-empty answer field overrides the composed text.
type echoGenerator struct {
	err    error
	answer string
	calls  int
	last   *generator.Input
}

func (f *echoGenerator) Generate(_ context.Context, input *generator.Input) (*generator.Draft, error) {
	f.calls++
	f.last = input
	if f.err != nil {
		return nil, f.err
	}
	if f.answer != "" {
		return &generator.Draft{Answer: f.answer, Usage: &llm.Usage{TotalTokens: 42}}, nil
	}
	var b strings.Builder
	b.WriteString("Answer to: " + input.Query)
	for i := range input.ToolResults {
		if input.ToolResults[i].Success {
			b.WriteString(" | " + input.ToolResults[i].Content)
		}
	}
	return &generator.Draft{
		Answer: b.String(),
		Usage:  &llm.Usage{TotalTokens: 42},
	}, nil
}

type staticScorer struct {
	score float64
}

func (f *staticScorer) Score(context.Context, string, string, []retrieval.RetrievedContext) *confidence.Result {
	return &confidence.Result{Score: f.score, Method: confidence.MethodFormula}
}

func calculatorRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	registry := tool.NewRegistry(tool.RegistryConfig{})
	require.NoError(t, registry.Register(context.Background(), tool.NewCalculator()))
	return registry
}

func calculatorSelector(expression string) *llm.MockClient {
	args, _ := json.Marshal(map[string]any{"expression": expression})
	return llm.NewMockClient().Queue(&llm.Response{
		ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "calculator", Arguments: args}},
	})
}

func TestOrchestrator_Handle(t *testing.T) {
	t.Run("Should answer a percentage query through the calculator with empty citations", func(t *testing.T) {
		gen := &echoGenerator{}
		retr := &fakeRetriever{}
		orch := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteToolInvocation),
			Retriever: retr,
			Registry:  calculatorRegistry(t),
			Generator: gen,
			Scorer:    &staticScorer{score: 0.97},
			Selector:  calculatorSelector("17% of 4500"),
		}, Config{})

		resp := orch.Handle(context.Background(), &Request{Query: "What is 17% of 4500?"})
		assert.Contains(t, resp.Answer, "765")
		assert.Empty(t, resp.Citations)
		assert.False(t, resp.Escalated)
		assert.Equal(t, 0, retr.calls)
		assert.Equal(t, 42, resp.TokensUsed)
	})

	t.Run("Should escalate when retrieval finds nothing under the default threshold", func(t *testing.T) {
		orch := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteStandardRetrieval),
			Retriever: &fakeRetriever{},
			Generator: &echoGenerator{},
			Scorer:    confidence.NewScorer(confidence.DefaultScorerConfig(), nil),
		}, Config{})

		resp := orch.Handle(context.Background(), &Request{Query: "Something nobody documented"})
		assert.Less(t, resp.Confidence, 0.95)
		assert.True(t, resp.Escalated)
		assert.Contains(t, resp.EscalationReason, "below threshold 0.95")
		assert.Empty(t, resp.Citations)
	})

	t.Run("Should skip retrieval and tools on direct escalation routing", func(t *testing.T) {
		retr := &fakeRetriever{}
		gen := &echoGenerator{}
		orch := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteDirectEscalation),
			Retriever: retr,
			Generator: gen,
			Scorer:    &staticScorer{score: 1.0},
		}, Config{})

		resp := orch.Handle(context.Background(), &Request{Query: "I want to talk to a human"})
		assert.Equal(t, 0, retr.calls)
		assert.Equal(t, 1, gen.calls)
		assert.Nil(t, gen.last.Contexts)
		assert.True(t, resp.Escalated)
		assert.Contains(t, resp.EscalationReason, "direct escalation")
	})

	t.Run("Should retrieve on the analyzer fallback route", func(t *testing.T) {
		retr := &fakeRetriever{contexts: []retrieval.RetrievedContext{
			{Content: "Relevant passage.", Title: "Runbook", Similarity: 0.9, Relevance: 0.9},
		}}
		orch := New(Deps{
			Analyzer:  &fakeAnalyzer{},
			Retriever: retr,
			Generator: &echoGenerator{},
			Scorer:    &staticScorer{score: 0.97},
		}, Config{})

		resp := orch.Handle(context.Background(), &Request{Query: "anything"})
		assert.Equal(t, 1, retr.calls)
		require.Len(t, resp.Citations, 1)
		assert.Equal(t, "Runbook", resp.Citations[0].SourceName)
	})

	t.Run("Should return a degraded escalated response on generation failure", func(t *testing.T) {
		orch := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteStandardRetrieval),
			Retriever: &fakeRetriever{},
			Generator: &echoGenerator{err: errors.New("provider is down")},
			Scorer:    &staticScorer{score: 1.0},
		}, Config{})

		resp := orch.Handle(context.Background(), &Request{Query: "anything"})
		assert.Equal(t, apologeticFallback, resp.Answer)
		assert.True(t, resp.Escalated)
		assert.Contains(t, resp.EscalationReason, "provider is down")
		assert.Contains(t, resp.Error, "provider is down")
	})

	t.Run("Should contain a panicking stage and still respond", func(t *testing.T) {
		orch := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteStandardRetrieval),
			Retriever: &fakeRetriever{panics: true},
			Generator: &echoGenerator{},
			Scorer:    &staticScorer{score: 1.0},
		}, Config{})

		resp := orch.Handle(context.Background(), &Request{Query: "anything"})
		require.NotNil(t, resp)
		assert.True(t, resp.Escalated)
		assert.Contains(t, resp.Error, "panicked")
	})

	t.Run("Should serve a cached answer without generating", func(t *testing.T) {
		cache, err := NewResponseCache(time.Minute, 0)
		require.NoError(t, err)
		defer cache.Close()
		cache.Put("what is our refund policy?", cachedAnswer{
			Answer:     "Refunds within 30 days.",
			Citations:  []Citation{{SourceName: "Policy", Preview: "Refunds...", Relevance: "91%"}},
			Confidence: &confidence.Result{Score: 0.98, Method: confidence.MethodFormula},
		})

		gen := &echoGenerator{}
		retr := &fakeRetriever{}
		orch := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteCachedResponse),
			Retriever: retr,
			Generator: gen,
			Scorer:    &staticScorer{score: 0.97},
			Cache:     cache,
		}, Config{})

		resp := orch.Handle(context.Background(), &Request{Query: "What is our  refund policy?"})
		assert.Equal(t, "Refunds within 30 days.", resp.Answer)
		assert.Equal(t, 0, gen.calls)
		assert.Equal(t, 0, retr.calls)
		require.Len(t, resp.Citations, 1)
		assert.Equal(t, "Policy", resp.Citations[0].SourceName)
	})

	t.Run("Should fall back to retrieval on a cache miss", func(t *testing.T) {
		cache, err := NewResponseCache(time.Minute, 0)
		require.NoError(t, err)
		defer cache.Close()

		gen := &echoGenerator{}
		retr := &fakeRetriever{}
		orch := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteCachedResponse),
			Retriever: retr,
			Generator: gen,
			Scorer:    &staticScorer{score: 0.97},
			Cache:     cache,
		}, Config{})

		_ = orch.Handle(context.Background(), &Request{Query: "Never asked before"})
		assert.Equal(t, 1, retr.calls)
		assert.Equal(t, 1, gen.calls)

		// The clean answer is now cached for the next cached_response route.
		_, ok := cache.Get("Never asked before")
		assert.True(t, ok)
	})

	t.Run("Should replay the stored confidence on a cache hit instead of re-scoring", func(t *testing.T) {
		cache, err := NewResponseCache(time.Minute, 0)
		require.NoError(t, err)
		defer cache.Close()
		scorer := confidence.NewScorer(confidence.DefaultScorerConfig(), nil)
		contexts := []retrieval.RetrievedContext{
			{DocumentID: "a", Title: "Guide A", Content: "...", Similarity: 1.0, Relevance: 1.0},
			{DocumentID: "b", Title: "Guide B", Content: "...", Similarity: 1.0, Relevance: 1.0},
			{DocumentID: "c", Title: "Guide C", Content: "...", Similarity: 1.0, Relevance: 1.0},
		}
		longAnswer := strings.Repeat("The documented procedure applies here. ", 10)

		first := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteStandardRetrieval),
			Retriever: &fakeRetriever{contexts: contexts},
			Generator: &echoGenerator{answer: longAnswer},
			Scorer:    scorer,
			Cache:     cache,
		}, Config{})
		primed := first.Handle(context.Background(), &Request{Query: "How do I rotate credentials?"})
		require.False(t, primed.Escalated)
		require.GreaterOrEqual(t, primed.Confidence, 0.95)

		gen := &echoGenerator{}
		second := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteCachedResponse),
			Retriever: &fakeRetriever{},
			Generator: gen,
			Scorer:    scorer,
			Cache:     cache,
		}, Config{})
		resp := second.Handle(context.Background(), &Request{Query: "How do I rotate credentials?"})
		assert.Equal(t, longAnswer, resp.Answer)
		assert.Equal(t, 0, gen.calls)
		assert.False(t, resp.Escalated)
		assert.Equal(t, primed.Confidence, resp.Confidence)
	})

	t.Run("Should apply the active escalation threshold from agent config", func(t *testing.T) {
		store := configstore.NewMemoryStore()
		ctx := context.Background()
		_, err := store.CreateVersion(ctx, configstore.NameAgentConfig, "production",
			`{"escalation_threshold": 0.5}`)
		require.NoError(t, err)
		require.NoError(t, store.Activate(ctx, configstore.NameAgentConfig, "production", 1))

		orch := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteStandardRetrieval),
			Retriever: &fakeRetriever{},
			Generator: &echoGenerator{},
			Scorer:    &staticScorer{score: 0.6},
			Store:     store,
		}, Config{Environment: "production"})

		resp := orch.Handle(ctx, &Request{Query: "anything"})
		assert.False(t, resp.Escalated)
	})

	t.Run("Should escalate an empty query without running the pipeline", func(t *testing.T) {
		gen := &echoGenerator{}
		orch := New(Deps{
			Analyzer:  &fakeAnalyzer{},
			Retriever: &fakeRetriever{},
			Generator: gen,
			Scorer:    &staticScorer{score: 1.0},
		}, Config{})

		resp := orch.Handle(context.Background(), &Request{Query: "   "})
		assert.True(t, resp.Escalated)
		assert.Equal(t, 0, gen.calls)
		assert.Equal(t, apologeticFallback, resp.Answer)
	})
}

// orderedRegistry records invocation order and delays earlier calls so a
// sequential implementation would invert the result order.
type orderedRegistry struct {
	mu      sync.Mutex
	started []string
}

func (f *orderedRegistry) List(context.Context, bool) []tool.Descriptor {
	return []tool.Descriptor{
		{Name: "alpha", Enabled: true, Origin: tool.OriginLocal},
		{Name: "beta", Enabled: true, Origin: tool.OriginLocal},
		{Name: "gamma", Enabled: true, Origin: tool.OriginLocal},
	}
}

func (f *orderedRegistry) Invoke(_ context.Context, name string, args map[string]any) tool.InvocationResult {
	f.mu.Lock()
	f.started = append(f.started, name)
	f.mu.Unlock()
	if name == "alpha" {
		time.Sleep(30 * time.Millisecond)
	}
	return tool.InvocationResult{Name: name, Content: "result of " + name, Success: true}
}

func TestOrchestrator_ToolFanOut(t *testing.T) {
	t.Run("Should collect concurrent tool results in selection order", func(t *testing.T) {
		calls := make([]llm.ToolCall, 0, 3)
		for i, name := range []string{"alpha", "beta", "gamma"} {
			calls = append(calls, llm.ToolCall{
				ID: fmt.Sprintf("call-%d", i), Name: name, Arguments: json.RawMessage(`{}`),
			})
		}
		gen := &echoGenerator{}
		orch := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteToolInvocation),
			Retriever: &fakeRetriever{},
			Registry:  &orderedRegistry{},
			Generator: gen,
			Scorer:    &staticScorer{score: 0.97},
			Selector:  llm.NewMockClient().Queue(&llm.Response{ToolCalls: calls}),
		}, Config{MaxConcurrentTools: 3})

		resp := orch.Handle(context.Background(), &Request{Query: "run everything"})
		assert.False(t, resp.Escalated)
		require.Len(t, gen.last.ToolResults, 3)
		assert.Equal(t, "alpha", gen.last.ToolResults[0].Name)
		assert.Equal(t, "beta", gen.last.ToolResults[1].Name)
		assert.Equal(t, "gamma", gen.last.ToolResults[2].Name)
	})

	t.Run("Should proceed without tool results when the selector fails", func(t *testing.T) {
		gen := &echoGenerator{}
		orch := New(Deps{
			Analyzer:  routedAnalyzer(analyzer.RouteToolInvocation),
			Retriever: &fakeRetriever{},
			Registry:  &orderedRegistry{},
			Generator: gen,
			Scorer:    &staticScorer{score: 0.97},
			Selector:  llm.NewMockClient().Fail(errors.New("model offline")),
		}, Config{})

		resp := orch.Handle(context.Background(), &Request{Query: "run everything"})
		assert.False(t, resp.Escalated)
		assert.Empty(t, gen.last.ToolResults)
		assert.Empty(t, resp.Error)
	})
}
