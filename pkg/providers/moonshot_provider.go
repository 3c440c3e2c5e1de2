package providers

import (
	"context"
)

// MoonshotProvider targets the Moonshot AI API (https://www.moonshot.cn/),
// which is OpenAI-compatible, so it delegates to HTTPProvider.
type MoonshotProvider struct {
	httpProvider *HTTPProvider
}

// NewMoonshotProvider creates a Moonshot provider against the public API.
func NewMoonshotProvider(apiKey string) *MoonshotProvider {
	return &MoonshotProvider{
		httpProvider: NewHTTPProvider(apiKey, "https://api.moonshot.cn/v1"),
	}
}

// NewMoonshotProviderWithBase creates a Moonshot provider with a custom API base.
func NewMoonshotProviderWithBase(apiKey, apiBase string) *MoonshotProvider {
	return &MoonshotProvider{
		httpProvider: NewHTTPProvider(apiKey, apiBase),
	}
}

// Chat implements LLMProvider.
func (p *MoonshotProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	return p.httpProvider.Chat(ctx, messages, tools, model, options)
}

// GetDefaultModel returns the default Moonshot model.
func (p *MoonshotProvider) GetDefaultModel() string {
	return "moonshot-v1-32k"
}

var _ LLMProvider = (*MoonshotProvider)(nil)
