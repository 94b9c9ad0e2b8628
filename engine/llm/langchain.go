package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// langchainClient adapts a langchaingo model to the Client interface.
type langchainClient struct {
	model    llms.Model
	provider ProviderConfig
}

// NewLangchainClient wraps config's provider in a Client. The context is only
// used during construction (some providers dial on create).
func NewLangchainClient(ctx context.Context, config *ProviderConfig) (Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	model, err := createModel(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", config.Provider, err)
	}
	return &langchainClient{model: model, provider: *config}, nil
}

func (c *langchainClient) GenerateContent(ctx context.Context, req *Request) (*Response, error) {
	messages := convertMessages(req)
	options := buildCallOptions(req)
	response, err := c.model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}
	return convertResponse(response)
}

func (c *langchainClient) Close() error {
	return nil
}

func convertMessages(req *Request) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		messages = append(messages, llms.TextParts(mapMessageRole(msg.Role), msg.Content))
	}
	return messages
}

func mapMessageRole(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleUser:
		return llms.ChatMessageTypeHuman
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	case RoleTool:
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}

func buildCallOptions(req *Request) []llms.CallOption {
	var options []llms.CallOption
	if req.Options.Temperature > 0 {
		options = append(options, llms.WithTemperature(req.Options.Temperature))
	}
	if req.Options.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(int(req.Options.MaxTokens)))
	}
	if len(req.Tools) > 0 {
		options = append(options, llms.WithTools(convertTools(req.Tools)))
		if req.Options.ToolChoice != "" {
			options = append(options, llms.WithToolChoice(req.Options.ToolChoice))
		}
	}
	// JSON mode and tool calling are mutually exclusive on most providers.
	if req.Options.UseJSONMode && len(req.Tools) == 0 {
		options = append(options, llms.WithJSONMode())
	}
	return options
}

func convertTools(tools []ToolDefinition) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

func convertResponse(resp *llms.ContentResponse) (*Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from model")
	}
	choice := resp.Choices[0]
	response := &Response{
		Content: choice.Content,
		Usage:   extractUsage(choice.GenerationInfo),
	}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: json.RawMessage(tc.FunctionCall.Arguments),
		})
	}
	return response, nil
}

// extractUsage reads token counts from GenerationInfo when the provider
// reports them. Returns nil when nothing is available.
func extractUsage(info map[string]any) *Usage {
	if len(info) == 0 {
		return nil
	}
	usage := &Usage{
		PromptTokens:     intFromInfo(info, "PromptTokens", "input_tokens"),
		CompletionTokens: intFromInfo(info, "CompletionTokens", "output_tokens"),
		TotalTokens:      intFromInfo(info, "TotalTokens", "total_tokens"),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	if usage.TotalTokens == 0 {
		return nil
	}
	return usage
}

func intFromInfo(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
