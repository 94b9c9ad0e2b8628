package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/answergrid/answergrid/engine/analyzer"
	"github.com/answergrid/answergrid/engine/confidence"
	"github.com/answergrid/answergrid/engine/configstore"
	"github.com/answergrid/answergrid/engine/generator"
	"github.com/answergrid/answergrid/engine/llm"
	"github.com/answergrid/answergrid/engine/retrieval"
	"github.com/answergrid/answergrid/engine/tool"
	"github.com/answergrid/answergrid/pkg/logger"
)

// Analyzer classifies the query and picks the routing decision.
type Analyzer interface {
	Analyze(ctx context.Context, query string, history []llm.Message) *analyzer.Analysis
}

// Retriever produces ranked context passages for the query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) []retrieval.RetrievedContext
}

// ToolRegistry is the unified local+remote tool view.
type ToolRegistry interface {
	List(ctx context.Context, enabledOnly bool) []tool.Descriptor
	Invoke(ctx context.Context, name string, args map[string]any) tool.InvocationResult
}

// Generator drafts the answer from query, contexts, and tool results.
type Generator interface {
	Generate(ctx context.Context, input *generator.Input) (*generator.Draft, error)
}

// Scorer computes the confidence result for a drafted answer.
type Scorer interface {
	Score(ctx context.Context, query, answer string, contexts []retrieval.RetrievedContext) *confidence.Result
}

// Config tunes the graph. Zero values take the documented defaults.
type Config struct {
	Environment string
	// EscalationThreshold applies when no active agent config overrides it.
	EscalationThreshold  float64
	MaxConcurrentTools   int
	ToolSelectionTimeout time.Duration
}

// Deps are the collaborators the graph drives. Registry, store, cache,
// and selector may be nil; the corresponding behavior degrades instead
// of failing.
type Deps struct {
	Analyzer  Analyzer
	Retriever Retriever
	Registry  ToolRegistry
	Generator Generator
	Scorer    Scorer
	// Selector is the model that picks which tools to call and with what
	// arguments.
	Selector llm.Client
	Store    configstore.Store
	Cache    *ResponseCache
}

// Orchestrator executes the per-request state machine. Construct once at
// process start and share across requests; all per-request data lives in
// the RequestState.
type Orchestrator struct {
	deps   Deps
	config Config
}

func New(deps Deps, config Config) *Orchestrator {
	if config.EscalationThreshold <= 0 || config.EscalationThreshold > 1 {
		config.EscalationThreshold = 0.95
	}
	if config.MaxConcurrentTools <= 0 {
		config.MaxConcurrentTools = 4
	}
	if config.ToolSelectionTimeout <= 0 {
		config.ToolSelectionTimeout = 10 * time.Second
	}
	return &Orchestrator{deps: deps, config: config}
}

// Handle runs one request through analyze, the routed middle stage,
// generate, score, decide, and format. It always returns a response:
// stage failures and panics are recorded into the state and the pipeline
// continues to format with whatever it has.
func (o *Orchestrator) Handle(ctx context.Context, req *Request) *Response {
	state := newRequestState(req)
	log := logger.FromContext(ctx).With("request_id", state.ID.String())
	ctx = logger.ContextWithLogger(ctx, log)

	if strings.TrimSpace(state.Query) == "" {
		state.setError(fmt.Errorf("query is empty"))
		state.Verdict = confidence.Decide(0, o.threshold(ctx), false, state.Err)
		return buildResponse(state)
	}

	o.runStage(ctx, state, StageAnalyze, o.analyze)

	switch o.routing(state) {
	case analyzer.RouteToolInvocation:
		o.runStage(ctx, state, StageInvokeTools, o.invokeTools)
	case analyzer.RouteDirectEscalation:
		// Straight to generate; no retrieval, no tools.
	case analyzer.RouteCachedResponse:
		if !o.serveFromCache(ctx, state) {
			o.runStage(ctx, state, StageRetrieve, o.retrieve)
		}
	default:
		o.runStage(ctx, state, StageRetrieve, o.retrieve)
	}

	if !state.FromCache {
		o.runStage(ctx, state, StageGenerate, o.generate)
	}
	o.runStage(ctx, state, StageScore, o.score)
	o.runStage(ctx, state, StageDecide, o.decide)
	o.runStage(ctx, state, StageFormat, o.format)

	log.Info("request finished",
		"routing", o.routing(state),
		"escalated", state.Verdict.Escalated,
		"tokens", state.TokensUsed,
		"duration", time.Since(state.StartedAt))
	return buildResponse(state)
}

// runStage executes one stage with panic containment. A panic or error
// lands in the state's error slot; the graph keeps going so format can
// still produce a degraded response.
func (o *Orchestrator) runStage(ctx context.Context, state *RequestState, stage Stage, fn func(context.Context, *RequestState) error) {
	start := time.Now()
	defer func() {
		state.StageLatency[stage] = time.Since(start)
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("stage panicked", "stage", stage, "panic", r)
			state.setError(fmt.Errorf("stage %s panicked: %v", stage, r))
		}
	}()
	if err := fn(ctx, state); err != nil {
		logger.FromContext(ctx).Error("stage failed", "stage", stage, "error", err)
		state.setError(err)
	}
}

func (o *Orchestrator) routing(state *RequestState) analyzer.Routing {
	if state.Analysis == nil {
		return analyzer.RouteStandardRetrieval
	}
	return state.Analysis.Routing
}

func (o *Orchestrator) analyze(ctx context.Context, state *RequestState) error {
	state.Analysis = o.deps.Analyzer.Analyze(ctx, state.Query, state.History)
	return nil
}

func (o *Orchestrator) retrieve(ctx context.Context, state *RequestState) error {
	opts := retrieval.Options{Filters: state.Filters}
	if state.Analysis != nil {
		opts.SimilarityCutoff = state.Analysis.Requirements.SimilarityCutoff
		opts.MinDocuments = state.Analysis.Requirements.MinDocuments
	}
	state.Contexts = o.deps.Retriever.Retrieve(ctx, state.Query, opts)
	return nil
}

// invokeTools asks the selector model which tools to call, then fans the
// selected invocations out concurrently. Results land in selection order;
// per-tool failures are failed results, never stage errors.
func (o *Orchestrator) invokeTools(ctx context.Context, state *RequestState) error {
	log := logger.FromContext(ctx)
	if o.deps.Registry == nil {
		log.Warn("tool invocation routed but no registry configured")
		return nil
	}
	descriptors := o.deps.Registry.List(ctx, true)
	if len(descriptors) == 0 {
		log.Warn("tool invocation routed but no tools are enabled")
		return nil
	}
	invocations := o.selectInvocations(ctx, state.Query, descriptors)
	if len(invocations) == 0 {
		log.Info("selector chose no tools, proceeding without tool results")
		return nil
	}

	results := make([]tool.InvocationResult, len(invocations))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.config.MaxConcurrentTools)
	for i, inv := range invocations {
		eg.Go(func() error {
			results[i] = o.deps.Registry.Invoke(egCtx, inv.Name, inv.Arguments)
			return nil
		})
	}
	_ = eg.Wait()
	state.ToolResults = results
	return nil
}

// Invocation is one model-selected tool call.
type Invocation struct {
	Name      string
	Arguments map[string]any
}

// selectInvocations hands the enabled tool list to the model and reads
// back its tool calls. Selection failure means no tools run; the request
// continues without them.
func (o *Orchestrator) selectInvocations(ctx context.Context, query string, descriptors []tool.Descriptor) []Invocation {
	log := logger.FromContext(ctx)
	if o.deps.Selector == nil {
		log.Warn("no selector model configured, skipping tool selection")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.config.ToolSelectionTimeout)
	defer cancel()

	resp, err := o.deps.Selector.GenerateContent(ctx, &llm.Request{
		SystemPrompt: "Decide which of the available tools are needed to answer the question. " +
			"Call each needed tool with exact arguments. Do not answer the question yourself.",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: query}},
		Tools:    toolDefinitions(descriptors),
		Options:  llm.CallOptions{Temperature: 0.0, ToolChoice: "auto"},
	})
	if err != nil {
		log.Warn("tool selection call failed", "error", err)
		return nil
	}

	invocations := make([]Invocation, 0, len(resp.ToolCalls))
	for i := range resp.ToolCalls {
		call := &resp.ToolCalls[i]
		args := map[string]any{}
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				log.Warn("discarding tool call with malformed arguments",
					"tool", call.Name, "error", err)
				continue
			}
		}
		invocations = append(invocations, Invocation{Name: call.Name, Arguments: args})
	}
	return invocations
}

func toolDefinitions(descriptors []tool.Descriptor) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(descriptors))
	for i := range descriptors {
		d := &descriptors[i]
		def := llm.ToolDefinition{Name: d.Name, Description: d.Description}
		if d.Parameters != nil {
			def.Parameters = map[string]any(*d.Parameters)
		}
		defs = append(defs, def)
	}
	return defs
}

// generate drafts the answer. A generation failure is the one fatal
// stage: the error is recorded and the empty draft becomes the
// apologetic fallback at format time, escalated by the decide stage.
func (o *Orchestrator) generate(ctx context.Context, state *RequestState) error {
	draft, err := o.deps.Generator.Generate(ctx, &generator.Input{
		Query:       state.Query,
		History:     state.History,
		Contexts:    state.Contexts,
		ToolResults: state.ToolResults,
	})
	if err != nil {
		return err
	}
	state.Draft = draft.Answer
	if draft.Usage != nil {
		state.TokensUsed = draft.Usage.TotalTokens
	}
	return nil
}

func (o *Orchestrator) score(ctx context.Context, state *RequestState) error {
	// A cache hit replays the confidence computed when the answer was
	// stored; scoring the draft against the hit's empty context set would
	// zero the similarity and source components.
	if state.FromCache && state.Confidence != nil {
		return nil
	}
	state.Confidence = o.deps.Scorer.Score(ctx, state.Query, state.Draft, state.Contexts)
	return nil
}

func (o *Orchestrator) decide(ctx context.Context, state *RequestState) error {
	score := 0.0
	if state.Confidence != nil {
		score = state.Confidence.Score
	}
	direct := o.routing(state) == analyzer.RouteDirectEscalation
	state.Verdict = confidence.Decide(score, o.threshold(ctx), direct, state.Err)
	return nil
}

func (o *Orchestrator) format(ctx context.Context, state *RequestState) error {
	if !state.FromCache {
		state.Citations = FormatCitations(state.Contexts)
		o.fillCache(ctx, state)
	}
	return nil
}

// serveFromCache resolves a cached_response route. A hit replays the
// stored answer and citations and skips retrieval and generation.
func (o *Orchestrator) serveFromCache(ctx context.Context, state *RequestState) bool {
	if o.deps.Cache == nil {
		return false
	}
	cached, ok := o.deps.Cache.Get(state.Query)
	if !ok {
		logger.FromContext(ctx).Debug("cache miss, falling back to retrieval")
		return false
	}
	state.Draft = cached.Answer
	state.Citations = cached.Citations
	state.Confidence = cached.Confidence
	state.FromCache = true
	return true
}

// fillCache stores clean answers so later cached_response routes can hit.
func (o *Orchestrator) fillCache(_ context.Context, state *RequestState) {
	if o.deps.Cache == nil || state.Err != nil || state.Verdict.Escalated || state.Draft == "" {
		return
	}
	o.deps.Cache.Put(state.Query, cachedAnswer{
		Answer:     state.Draft,
		Citations:  state.Citations,
		Confidence: state.Confidence,
	})
}

// threshold resolves the escalation threshold from active agent config,
// falling back to the configured default.
func (o *Orchestrator) threshold(ctx context.Context) float64 {
	if o.deps.Store == nil {
		return o.config.EscalationThreshold
	}
	entry, err := o.deps.Store.GetActive(ctx, configstore.NameAgentConfig, o.config.Environment)
	if err != nil {
		return o.config.EscalationThreshold
	}
	var agentConfig struct {
		EscalationThreshold float64 `json:"escalation_threshold"`
	}
	if err := json.Unmarshal([]byte(entry.Content), &agentConfig); err != nil {
		logger.FromContext(ctx).Warn("active agent config is malformed, using default threshold", "error", err)
		return o.config.EscalationThreshold
	}
	if agentConfig.EscalationThreshold <= 0 || agentConfig.EscalationThreshold > 1 {
		return o.config.EscalationThreshold
	}
	return agentConfig.EscalationThreshold
}
