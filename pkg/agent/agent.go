// Package agent defines the agent-runtime boundary the router talks to, and
// an implementation that runs turns on an LLM provider with a small tool set.
//
// The router only depends on the Runtime/Instance contract; tests and
// alternative backends plug in behind it.
package agent

import (
	"context"
	"errors"
)

// ErrInterrupted is returned by Run when the turn was cut short by
// Interrupt (or shutdown). It is a control-flow signal, not a failure:
// callers swallow it and move on to the pending message, if any.
var ErrInterrupted = errors.New("agent: turn interrupted")

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("agent: instance closed")

// EventType classifies events streamed during a turn.
type EventType string

const (
	// EventContent is raw model text. Informational only — replies reach
	// the user exclusively through EventSend.
	EventContent EventType = "content"

	// EventSend is a user-visible outgoing message produced by the
	// send_message tool.
	EventSend EventType = "send"

	// EventApproval asks the consumer to approve a tool invocation. The
	// turn blocks until Approve is called with the matching ID.
	EventApproval EventType = "approval_request"

	// EventReload signals that the agent asked for a configuration
	// reload once the current turn completes.
	EventReload EventType = "reload"
)

// Event is one item in a turn's event stream.
type Event struct {
	Type       EventType
	Content    string // text for content/send events
	ApprovalID string // set on approval_request
	Tool       string // tool name on approval_request
}

// EmitFunc consumes turn events. It is called synchronously from the turn
// goroutine and must not block for long.
type EmitFunc func(Event)

// InstanceConfig carries the identity settings for a new agent instance.
type InstanceConfig struct {
	SessionKey string
	AgentName  string
	// Surface describes where the conversation happens ("telegram",
	// "terminal", ...); it shapes the system prompt.
	Surface string
}

// Instance is one live conversation with the agent backend. Instances are
// stateful: the conversation history persists across Run calls.
type Instance interface {
	// Run executes one turn to completion, streaming events to emit.
	// Returns ErrInterrupted when the turn was interrupted.
	Run(ctx context.Context, prompt string, emit EmitFunc) error

	// Approve resolves a pending approval request.
	Approve(approvalID string, approved bool)

	// Interrupt signals the in-flight turn to stop. Safe to call when no
	// turn is running, and safe to call more than once.
	Interrupt()

	// Close interrupts any in-flight turn and releases the instance.
	// Idempotent.
	Close() error
}

// Runtime creates agent instances. One runtime serves all sessions.
type Runtime interface {
	CreateInstance(ctx context.Context, cfg InstanceConfig) (Instance, error)
}
