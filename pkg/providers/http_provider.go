package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider speaks the OpenAI-compatible chat completions protocol over
// plain HTTP. Several backends (Moonshot, vLLM, OpenRouter, local servers)
// expose this shape, so they all ride on this implementation.
type HTTPProvider struct {
	apiKey  string
	apiBase string
	client  *http.Client
}

// NewHTTPProvider creates a provider for an OpenAI-compatible endpoint.
// apiBase should include the version prefix, e.g. "https://api.moonshot.cn/v1".
func NewHTTPProvider(apiKey, apiBase string) *HTTPProvider {
	return &HTTPProvider{
		apiKey:  apiKey,
		apiBase: apiBase,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Wire types for the chat completions endpoint.

type httpToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type httpToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function httpToolCallFunction `json:"function"`
}

type httpMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []httpToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type httpTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type httpChatRequest struct {
	Model       string        `json:"model"`
	Messages    []httpMessage `json:"messages"`
	Tools       []httpTool    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type httpChatResponse struct {
	Choices []struct {
		Message      httpMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Chat implements LLMProvider.
func (p *HTTPProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	req := httpChatRequest{Model: model}

	for _, m := range messages {
		hm := httpMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			hm.ToolCalls = append(hm.ToolCalls, httpToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: httpToolCallFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		req.Messages = append(req.Messages, hm)
	}

	for _, t := range tools {
		ht := httpTool{Type: "function"}
		ht.Function.Name = t.Name
		ht.Function.Description = t.Description
		ht.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, ht)
	}

	if options != nil {
		if temp, ok := options["temperature"].(float64); ok {
			req.Temperature = &temp
		}
		if max, ok := options["max_tokens"].(int); ok {
			req.MaxTokens = &max
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}

	var parsed httpChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode chat response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("provider error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	choice := parsed.Choices[0]
	out := &LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		TokensUsed:   parsed.Usage.TotalTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// GetDefaultModel implements LLMProvider. Compatible endpoints vary, so an
// explicit model is expected in configuration.
func (p *HTTPProvider) GetDefaultModel() string { return "" }

var _ LLMProvider = (*HTTPProvider)(nil)
