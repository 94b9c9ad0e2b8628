// Package generator produces the draft answer from the query, retrieved
// context, and tool results, using the actively configured system prompt
// and model settings.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/answergrid/answergrid/engine/configstore"
	"github.com/answergrid/answergrid/engine/core"
	"github.com/answergrid/answergrid/engine/llm"
	"github.com/answergrid/answergrid/engine/retrieval"
	"github.com/answergrid/answergrid/engine/tool"
	"github.com/answergrid/answergrid/pkg/logger"
)

// fallbackSystemPrompt is used when the configuration store has no active
// system prompt for the environment.
const fallbackSystemPrompt = `You are a helpful assistant answering questions from retrieved documentation and tool results.
Ground every claim in the provided context or tool results.
Cite sources as [1], [2], ... matching the numbered context items; never invent a citation.
When the context does not contain the answer, say so plainly instead of guessing.`

// maxHistoryTurns bounds how many prior conversation turns are replayed to
// the model. Older turns are dropped oldest-first.
const maxHistoryTurns = 6

// ModelSettings are the generation parameters sourced from active
// configuration.
type ModelSettings struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int32   `json:"max_tokens"`
}

// Input carries everything the generate stage reads.
type Input struct {
	Query       string
	History     []llm.Message
	Contexts    []retrieval.RetrievedContext
	ToolResults []tool.InvocationResult
}

// Draft is the stage's output: answer text plus usage telemetry.
type Draft struct {
	Answer string
	Usage  *llm.Usage
}

// Service renders the generation prompt and calls the model.
type Service struct {
	factory     llm.Factory
	store       configstore.Store
	environment string
	defaults    llm.ProviderConfig
	defaultOpts ModelSettings

	mu     sync.Mutex
	client llm.Client
	// clientKey identifies which provider/model the cached client serves.
	clientKey string
}

// NewService wires the generator. client is the startup default; the
// factory builds replacements when active configuration selects another
// provider or model.
func NewService(
	factory llm.Factory,
	client llm.Client,
	store configstore.Store,
	environment string,
	defaults llm.ProviderConfig,
	defaultOpts ModelSettings,
) *Service {
	return &Service{
		factory:     factory,
		store:       store,
		environment: environment,
		defaults:    defaults,
		defaultOpts: defaultOpts,
		client:      client,
		clientKey:   string(defaults.Provider) + "/" + defaults.Model,
	}
}

// Generate produces the draft answer. A failed model call is returned as
// an error; the orchestrator turns it into a degraded escalated response.
func (s *Service) Generate(ctx context.Context, input *Input) (*Draft, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, core.NewError(fmt.Errorf("query is empty"), "EMPTY_QUERY", nil)
	}
	settings := s.activeSettings(ctx)
	client, err := s.clientFor(ctx, settings)
	if err != nil {
		return nil, core.NewError(err, "MODEL_INIT_FAILED", map[string]any{
			"provider": settings.Provider,
			"model":    settings.Model,
		})
	}

	messages := compactHistory(input.History)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: renderUserPrompt(input)})

	resp, err := client.GenerateContent(ctx, &llm.Request{
		SystemPrompt: s.activePrompt(ctx),
		Messages:     messages,
		Options: llm.CallOptions{
			Temperature: settings.Temperature,
			MaxTokens:   settings.MaxTokens,
		},
	})
	if err != nil {
		return nil, core.NewError(err, "GENERATION_FAILED", nil)
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return nil, core.NewError(fmt.Errorf("model returned no content"), "GENERATION_FAILED", nil)
	}
	return &Draft{Answer: answer, Usage: resp.Usage}, nil
}

// activePrompt fetches the environment's active system prompt, falling
// back to the built-in one when the store has no active version.
func (s *Service) activePrompt(ctx context.Context) string {
	if s.store == nil {
		return fallbackSystemPrompt
	}
	entry, err := s.store.GetActive(ctx, configstore.NameSystemPrompt, s.environment)
	if err != nil {
		logger.FromContext(ctx).Debug("no active system prompt, using fallback", "error", err)
		return fallbackSystemPrompt
	}
	if strings.TrimSpace(entry.Content) == "" {
		return fallbackSystemPrompt
	}
	return entry.Content
}

func (s *Service) activeSettings(ctx context.Context) ModelSettings {
	settings := s.defaultOpts
	if s.store == nil {
		return settings
	}
	entry, err := s.store.GetActive(ctx, configstore.NameModelSettings, s.environment)
	if err != nil {
		return settings
	}
	if err := json.Unmarshal([]byte(entry.Content), &settings); err != nil {
		logger.FromContext(ctx).Warn("active model settings are malformed, using defaults", "error", err)
		return s.defaultOpts
	}
	return settings
}

// clientFor returns the cached client, creating a new one when active
// configuration names a different provider or model.
func (s *Service) clientFor(ctx context.Context, settings ModelSettings) (llm.Client, error) {
	provider := s.defaults.Provider
	model := s.defaults.Model
	if settings.Provider != "" {
		provider = llm.Provider(settings.Provider)
	}
	if settings.Model != "" {
		model = settings.Model
	}
	key := string(provider) + "/" + model

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.clientKey == key {
		return s.client, nil
	}
	config := s.defaults
	config.Provider = provider
	config.Model = model
	client, err := s.factory.CreateClient(ctx, &config)
	if err != nil {
		return nil, err
	}
	if s.client != nil {
		_ = s.client.Close()
	}
	s.client = client
	s.clientKey = key
	return client, nil
}

func compactHistory(history []llm.Message) []llm.Message {
	if len(history) <= maxHistoryTurns {
		return append([]llm.Message(nil), history...)
	}
	return append([]llm.Message(nil), history[len(history)-maxHistoryTurns:]...)
}

func renderUserPrompt(input *Input) string {
	var b strings.Builder
	if len(input.Contexts) > 0 {
		b.WriteString("Context:\n")
		for i := range input.Contexts {
			fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, contextTitle(&input.Contexts[i]), input.Contexts[i].Content)
		}
	}
	if len(input.ToolResults) > 0 {
		b.WriteString("Tool results:\n")
		for i := range input.ToolResults {
			result := &input.ToolResults[i]
			if result.Success {
				fmt.Fprintf(&b, "- %s: %s\n", result.Name, result.Content)
			} else {
				fmt.Fprintf(&b, "- %s failed: %s\n", result.Name, result.Error)
			}
		}
		b.WriteString("\n")
	}
	if len(input.Contexts) == 0 && len(input.ToolResults) == 0 {
		b.WriteString("No context or tool results are available for this question.\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(input.Query)
	return b.String()
}

func contextTitle(c *retrieval.RetrievedContext) string {
	if c.Title != "" {
		return c.Title
	}
	if c.DocumentID != "" {
		return c.DocumentID
	}
	return "Untitled source"
}
