package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mochibot/mochi/pkg/logger"
	"github.com/mochibot/mochi/pkg/providers"
	"github.com/mochibot/mochi/pkg/tools"
)

// maxToolRounds bounds the provider round-trips within a single turn so a
// misbehaving model cannot loop forever.
const maxToolRounds = 16

// Loop is the provider-backed Runtime implementation.
type Loop struct {
	provider providers.LLMProvider
	model    string
	tools    *tools.Registry
}

// NewLoop creates a runtime on the given provider. An empty model selects
// the provider's default.
func NewLoop(provider providers.LLMProvider, model string) *Loop {
	if model == "" {
		model = provider.GetDefaultModel()
	}
	return &Loop{provider: provider, model: model}
}

// UseTools attaches extra tools offered to the model alongside the
// built-in messaging tools. Call before creating instances.
func (l *Loop) UseTools(reg *tools.Registry) {
	l.tools = reg
}

// CreateInstance implements Runtime.
func (l *Loop) CreateInstance(_ context.Context, cfg InstanceConfig) (Instance, error) {
	name := cfg.AgentName
	if name == "" {
		name = "Mochi"
	}
	inst := &instance{
		loop:      l,
		key:       cfg.SessionKey,
		approvals: make(map[string]chan bool),
	}
	inst.history = []providers.Message{{
		Role:    "system",
		Content: systemPrompt(name, cfg.Surface),
	}}
	return inst, nil
}

func systemPrompt(name, surface string) string {
	where := "You are accessible via instant messaging platforms."
	if surface == "terminal" {
		where = "You are running in a terminal interface."
	}
	return fmt.Sprintf(`Your name is %q. %s

You have persistent conversation history with each user: your session is preserved across messages. Never claim you cannot remember earlier messages.

You MUST use the send_message tool to reply to the user. Text outside send_message is not shown to anyone. Prefer several short send_message calls over one long message.`, name, where)
}

func (l *Loop) toolDefinitions() []providers.ToolDefinition {
	defs := builtinToolDefinitions()
	if l.tools != nil {
		defs = append(defs, l.tools.Definitions()...)
	}
	return defs
}

func builtinToolDefinitions() []providers.ToolDefinition {
	return []providers.ToolDefinition{
		{
			Name:        "send_message",
			Description: "Send a message to the user. This is the only way to reply; plain assistant text is discarded.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"message": map[string]interface{}{
						"type":        "string",
						"description": "The message to send to the user",
					},
				},
				"required": []string{"message"},
			},
		},
		{
			Name:        "reload_config",
			Description: "Apply configuration changes by scheduling a restart after this turn completes.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// instance is one live conversation run by the Loop.
type instance struct {
	loop *Loop
	key  string

	mu          sync.Mutex
	history     []providers.Message
	cancelTurn  context.CancelFunc
	interrupted bool
	closed      bool
	approvals   map[string]chan bool
}

// Run implements Instance.
func (in *instance) Run(ctx context.Context, prompt string, emit EmitFunc) error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return ErrClosed
	}
	turnCtx, cancel := context.WithCancel(ctx)
	in.cancelTurn = cancel
	in.interrupted = false
	in.history = append(in.history, providers.Message{Role: "user", Content: prompt})
	in.mu.Unlock()

	defer func() {
		cancel()
		in.mu.Lock()
		in.cancelTurn = nil
		in.mu.Unlock()
	}()

	for round := 0; round < maxToolRounds; round++ {
		in.mu.Lock()
		history := make([]providers.Message, len(in.history))
		copy(history, in.history)
		in.mu.Unlock()

		resp, err := in.loop.provider.Chat(turnCtx, history, in.loop.toolDefinitions(), in.loop.model, nil)
		if err != nil {
			if turnCtx.Err() != nil {
				return ErrInterrupted
			}
			return fmt.Errorf("agent turn: %w", err)
		}

		if resp.Content != "" {
			emit(Event{Type: EventContent, Content: resp.Content})
		}

		in.mu.Lock()
		in.history = append(in.history, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		in.mu.Unlock()

		if !resp.HasToolCalls() {
			return nil
		}

		for _, call := range resp.ToolCalls {
			result, err := in.executeTool(turnCtx, call, emit)
			if err != nil {
				if turnCtx.Err() != nil {
					return ErrInterrupted
				}
				result = "tool error: " + err.Error()
			}
			in.mu.Lock()
			in.history = append(in.history, providers.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
			in.mu.Unlock()
		}
	}

	logger.WarnCF("agent", "turn hit tool round limit", map[string]interface{}{
		"session": in.key,
		"rounds":  maxToolRounds,
	})
	return nil
}

// executeTool gates the call behind an approval request, then runs it.
func (in *instance) executeTool(ctx context.Context, call providers.ToolCall, emit EmitFunc) (string, error) {
	approvalID := uuid.NewString()
	decision := make(chan bool, 1)

	in.mu.Lock()
	in.approvals[approvalID] = decision
	in.mu.Unlock()
	defer func() {
		in.mu.Lock()
		delete(in.approvals, approvalID)
		in.mu.Unlock()
	}()

	emit(Event{Type: EventApproval, ApprovalID: approvalID, Tool: call.Name})

	select {
	case approved := <-decision:
		if !approved {
			return "Tool call was not approved.", nil
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}

	switch call.Name {
	case "send_message":
		var args struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", fmt.Errorf("send_message arguments: %w", err)
		}
		emit(Event{Type: EventSend, Content: args.Message})
		return "Message sent successfully.", nil
	case "reload_config":
		emit(Event{Type: EventReload})
		return "Reload scheduled; it will apply after this turn.", nil
	default:
		if in.loop.tools != nil {
			if t, ok := in.loop.tools.Get(call.Name); ok {
				var args map[string]interface{}
				if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
					return "", fmt.Errorf("%s arguments: %w", call.Name, err)
				}
				return t.Execute(ctx, args)
			}
		}
		return fmt.Sprintf("unknown tool %q", call.Name), nil
	}
}

// Approve implements Instance.
func (in *instance) Approve(approvalID string, approved bool) {
	in.mu.Lock()
	decision, ok := in.approvals[approvalID]
	in.mu.Unlock()
	if !ok {
		return
	}
	select {
	case decision <- approved:
	default:
	}
}

// Interrupt implements Instance.
func (in *instance) Interrupt() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.interrupted = true
	if in.cancelTurn != nil {
		in.cancelTurn()
	}
}

// Close implements Instance.
func (in *instance) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	if in.cancelTurn != nil {
		in.cancelTurn()
	}
	in.mu.Unlock()
	return nil
}

var (
	_ Runtime  = (*Loop)(nil)
	_ Instance = (*instance)(nil)
)
