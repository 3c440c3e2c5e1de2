package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mochibot/mochi/pkg/providers"
)

// scriptedProvider returns canned responses in order, then plain text.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*providers.LLMResponse
	calls     int
	block     chan struct{} // when set, Chat blocks until closed or ctx done
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.responses) == 0 {
		return &providers.LLMResponse{Content: "done"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "scripted" }

func TestRunSendsViaTool(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "send_message", Arguments: `{"message":"hello there"}`}}},
		{Content: "ok"},
	}}
	loop := NewLoop(provider, "")
	inst, err := loop.CreateInstance(context.Background(), InstanceConfig{SessionKey: "k", AgentName: "Mochi"})
	if err != nil {
		t.Fatal(err)
	}

	var sent []string
	emit := func(e Event) {
		switch e.Type {
		case EventApproval:
			inst.Approve(e.ApprovalID, true)
		case EventSend:
			sent = append(sent, e.Content)
		}
	}

	if err := inst.Run(context.Background(), "hi", emit); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sent) != 1 || sent[0] != "hello there" {
		t.Errorf("sent = %v, want [hello there]", sent)
	}
}

func TestRunDeniedApprovalSkipsTool(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "send_message", Arguments: `{"message":"secret"}`}}},
		{Content: "understood"},
	}}
	loop := NewLoop(provider, "")
	inst, _ := loop.CreateInstance(context.Background(), InstanceConfig{SessionKey: "k"})

	var sent int
	emit := func(e Event) {
		switch e.Type {
		case EventApproval:
			inst.Approve(e.ApprovalID, false)
		case EventSend:
			sent++
		}
	}
	if err := inst.Run(context.Background(), "hi", emit); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sent != 0 {
		t.Errorf("denied tool still sent %d messages", sent)
	}
}

func TestInterruptReturnsErrInterrupted(t *testing.T) {
	block := make(chan struct{})
	provider := &scriptedProvider{block: block}
	loop := NewLoop(provider, "")
	inst, _ := loop.CreateInstance(context.Background(), InstanceConfig{SessionKey: "k"})

	done := make(chan error, 1)
	go func() {
		done <- inst.Run(context.Background(), "long task", func(Event) {})
	}()

	// Let the turn reach the blocking provider call, then interrupt.
	time.Sleep(20 * time.Millisecond)
	inst.Interrupt()

	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("Run = %v, want ErrInterrupted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not unwind after Interrupt")
	}
	close(block)
}

func TestRunAfterCloseFails(t *testing.T) {
	loop := NewLoop(&scriptedProvider{}, "")
	inst, _ := loop.CreateInstance(context.Background(), InstanceConfig{SessionKey: "k"})
	if err := inst.Close(); err != nil {
		t.Fatal(err)
	}
	if err := inst.Close(); err != nil {
		t.Fatal("Close must be idempotent")
	}
	if err := inst.Run(context.Background(), "hi", func(Event) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Run after Close = %v, want ErrClosed", err)
	}
}

func TestHistoryPersistsAcrossRuns(t *testing.T) {
	provider := &scriptedProvider{}
	loop := NewLoop(provider, "")
	instIface, _ := loop.CreateInstance(context.Background(), InstanceConfig{SessionKey: "k"})
	inst := instIface.(*instance)

	noop := func(Event) {}
	if err := inst.Run(context.Background(), "first", noop); err != nil {
		t.Fatal(err)
	}
	if err := inst.Run(context.Background(), "second", noop); err != nil {
		t.Fatal(err)
	}

	// system + (user+assistant) x 2
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if len(inst.history) != 5 {
		t.Errorf("history length = %d, want 5", len(inst.history))
	}
	if inst.history[0].Role != "system" {
		t.Errorf("first message role = %s, want system", inst.history[0].Role)
	}
}

func TestReloadTool(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{{ID: "c1", Name: "reload_config", Arguments: `{}`}}},
		{Content: "El Psy Kongroo"},
	}}
	loop := NewLoop(provider, "")
	inst, _ := loop.CreateInstance(context.Background(), InstanceConfig{SessionKey: "k"})

	reloads := 0
	emit := func(e Event) {
		switch e.Type {
		case EventApproval:
			inst.Approve(e.ApprovalID, true)
		case EventReload:
			reloads++
		}
	}
	if err := inst.Run(context.Background(), "apply my config", emit); err != nil {
		t.Fatal(err)
	}
	if reloads != 1 {
		t.Errorf("reload events = %d, want 1", reloads)
	}
}
