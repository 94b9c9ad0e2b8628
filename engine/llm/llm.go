// Package llm defines the provider-independent language-model contract used
// by the analyzer, generator, and confidence scorer.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role constants for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Provider enumerates supported model providers.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderGroq      Provider = "groq"
	ProviderOllama    Provider = "ollama"
	ProviderMock      Provider = "mock"
)

// ProviderConfig identifies a concrete model endpoint.
type ProviderConfig struct {
	Provider     Provider `json:"provider"`
	Model        string   `json:"model"`
	APIKey       string   `json:"api_key,omitempty"`
	APIURL       string   `json:"api_url,omitempty"`
	Organization string   `json:"organization,omitempty"`
}

// Request represents one call to the model, independent of provider.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Options      CallOptions
}

// Message represents a conversation message.
type Message struct {
	Role    string
	Content string
}

// ToolDefinition describes a tool advertised to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// CallOptions tunes a single model call.
type CallOptions struct {
	Temperature float64
	MaxTokens   int32
	UseJSONMode bool
	ToolChoice  string // "auto", "none", or a specific tool name
}

// Response is the model's reply: either content, or tool calls to run.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Usage captures token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates usage from another call.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Client is the main interface for model interactions.
type Client interface {
	GenerateContent(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// Factory creates Client instances for a provider configuration.
type Factory interface {
	CreateClient(ctx context.Context, config *ProviderConfig) (Client, error)
}

// ValidateConfig checks the minimum fields needed to construct a client.
func ValidateConfig(config *ProviderConfig) error {
	if config == nil {
		return fmt.Errorf("provider config is required")
	}
	if config.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if config.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}
