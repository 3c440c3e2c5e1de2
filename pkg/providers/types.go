// Package providers abstracts the LLM backends the agent runtime can run
// on. Every provider speaks the same Chat contract; tool calls come back in
// a normalized form so the agent loop never sees provider wire formats.
package providers

import (
	"context"
	"fmt"
)

// Message is one conversation turn in provider-neutral form.
type Message struct {
	Role    string `json:"role"` // system | user | assistant | tool
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool-result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON schema
}

// LLMResponse is a normalized chat completion.
type LLMResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	TokensUsed   int        `json:"tokens_used,omitempty"`
}

// HasToolCalls reports whether the model requested tool execution.
func (r *LLMResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// LLMProvider is the contract all backends implement.
type LLMProvider interface {
	// Chat sends the conversation and returns the model's next message.
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	// GetDefaultModel returns the model used when none is configured.
	GetDefaultModel() string
}

// New constructs a provider by type name. apiBase and model may be empty.
func New(providerType, apiKey, apiBase string) (LLMProvider, error) {
	switch providerType {
	case "anthropic", "":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey, apiBase), nil
	case "moonshot":
		if apiBase != "" {
			return NewMoonshotProviderWithBase(apiKey, apiBase), nil
		}
		return NewMoonshotProvider(apiKey), nil
	case "openai-compatible":
		if apiBase == "" {
			return nil, fmt.Errorf("openai-compatible provider requires api_base")
		}
		return NewHTTPProvider(apiKey, apiBase), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", providerType)
	}
}
