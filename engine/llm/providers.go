package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// createModel builds the langchaingo model for the given provider config.
func createModel(ctx context.Context, config *ProviderConfig) (llms.Model, error) {
	switch config.Provider {
	case ProviderOpenAI:
		return createOpenAIModel(config)
	case ProviderAnthropic:
		return createAnthropicModel(config)
	case ProviderGroq:
		return createGroqModel(config)
	case ProviderOllama:
		return createOllamaModel(config)
	case ProviderGoogle:
		return createGoogleModel(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
}

func createOpenAIModel(p *ProviderConfig) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(p.Model),
	}
	if p.APIKey != "" {
		opts = append(opts, openai.WithToken(p.APIKey))
	}
	if p.APIURL != "" {
		opts = append(opts, openai.WithBaseURL(p.APIURL))
	}
	if p.Organization != "" {
		opts = append(opts, openai.WithOrganization(p.Organization))
	}
	return openai.New(opts...)
}

func createAnthropicModel(p *ProviderConfig) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithModel(p.Model),
	}
	if p.APIKey != "" {
		opts = append(opts, anthropic.WithToken(p.APIKey))
	}
	if p.Organization != "" {
		return nil, fmt.Errorf("anthropic does not support organization")
	}
	return anthropic.New(opts...)
}

// Groq exposes an OpenAI-compatible API, so it reuses the OpenAI client with
// a different base URL.
func createGroqModel(p *ProviderConfig) (llms.Model, error) {
	baseURL := "https://api.groq.com/openai/v1"
	if p.APIURL != "" {
		baseURL = p.APIURL
	}
	opts := []openai.Option{
		openai.WithModel(p.Model),
		openai.WithBaseURL(baseURL),
	}
	if p.APIKey != "" {
		opts = append(opts, openai.WithToken(p.APIKey))
	}
	return openai.New(opts...)
}

func createOllamaModel(p *ProviderConfig) (llms.Model, error) {
	opts := []ollama.Option{
		ollama.WithModel(p.Model),
	}
	if p.APIURL != "" {
		opts = append(opts, ollama.WithServerURL(p.APIURL))
	}
	return ollama.New(opts...)
}

func createGoogleModel(ctx context.Context, p *ProviderConfig) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithDefaultModel(p.Model),
	}
	if p.APIKey != "" {
		opts = append(opts, googleai.WithAPIKey(p.APIKey))
	}
	if p.APIURL != "" {
		return nil, fmt.Errorf("googleai does not support custom API URL")
	}
	return googleai.New(ctx, opts...)
}
