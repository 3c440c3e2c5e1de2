package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewProviderFactory(t *testing.T) {
	tests := []struct {
		name         string
		providerType string
		apiBase      string
		wantError    bool
	}{
		{name: "anthropic", providerType: "anthropic"},
		{name: "default is anthropic", providerType: ""},
		{name: "openai", providerType: "openai"},
		{name: "moonshot", providerType: "moonshot"},
		{name: "compatible with base", providerType: "openai-compatible", apiBase: "http://localhost:8000/v1"},
		{name: "compatible without base", providerType: "openai-compatible", wantError: true},
		{name: "unknown", providerType: "palm", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.providerType, "sk-test", tt.apiBase)
			if (err != nil) != tt.wantError {
				t.Fatalf("New() error = %v, wantError %v", err, tt.wantError)
			}
			if !tt.wantError && p == nil {
				t.Fatal("expected non-nil provider")
			}
		})
	}
}

func TestMoonshotDefaultModel(t *testing.T) {
	provider := NewMoonshotProvider("sk-test")
	if got := provider.GetDefaultModel(); got != "moonshot-v1-32k" {
		t.Errorf("default model = %q, want moonshot-v1-32k", got)
	}
}

func TestHTTPProviderChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}

		var req httpChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "send_message" {
			t.Errorf("unexpected tools: %+v", req.Tools)
		}

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{{
				"finish_reason": "tool_calls",
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]interface{}{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]interface{}{
							"name":      "send_message",
							"arguments": `{"message":"hello"}`,
						},
					}},
				},
			}},
			"usage": map[string]interface{}{"total_tokens": 42},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewHTTPProvider("sk-test", srv.URL)
	resp, err := p.Chat(context.Background(),
		[]Message{
			{Role: "system", Content: "you are a bot"},
			{Role: "user", Content: "hi"},
		},
		[]ToolDefinition{{
			Name:        "send_message",
			Description: "send a reply",
			Parameters:  map[string]interface{}{"type": "object"},
		}},
		"test-model", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !resp.HasToolCalls() {
		t.Fatal("expected tool calls")
	}
	if resp.ToolCalls[0].Name != "send_message" || resp.ToolCalls[0].ID != "call_1" {
		t.Errorf("tool call = %+v", resp.ToolCalls[0])
	}
	if resp.TokensUsed != 42 {
		t.Errorf("tokens = %d, want 42", resp.TokensUsed)
	}
}

func TestHTTPProviderErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "bad key", "type": "auth_error"},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider("sk-bad", srv.URL)
	_, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "m", nil)
	if err == nil {
		t.Fatal("expected error from provider")
	}
}
