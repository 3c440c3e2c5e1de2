// Package events defines the typed event contracts for the whole system.
// Every event flowing through the WebSocket stream or the message bus MUST
// use one of these types. No ad-hoc map[string]interface{} events.
package events

import "time"

// --- Event Envelope ---

// Event is the universal envelope for all system events.
type Event struct {
	// Type identifies the event (e.g., "session.started", "bot.status")
	Type string `json:"type"`

	// Source identifies who emitted the event
	Source string `json:"source"`

	// Timestamp is when the event was emitted
	Timestamp time.Time `json:"timestamp"`

	// Data is the typed payload
	Data interface{} `json:"data"`
}

// New creates a timestamped event.
func New(eventType, source string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// --- Event Type Constants ---

const (
	// Session lifecycle events
	SessionStarted = "session.started"
	SessionEnded   = "session.ended"

	// Message flow events
	MessageReceived = "message.received"
	MessageSent     = "message.sent"
	MessageDropped  = "message.dropped"

	// Bot connection events
	BotStatus = "bot.status"

	// Turn events
	TurnStarted     = "turn.started"
	TurnInterrupted = "turn.interrupted"
	TurnCompleted   = "turn.completed"
	TurnFailed      = "turn.failed"

	// System events
	SystemStarted  = "system.started"
	SystemStopping = "system.stopping"
	SystemLog      = "system.log"
)

// --- Typed Payloads ---

// SessionEventData is the payload for session lifecycle events.
type SessionEventData struct {
	SessionKey string `json:"session_key"`
	Platform   string `json:"platform,omitempty"`
	BotID      string `json:"bot_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Reason     string `json:"reason,omitempty"` // "expired" or "shutdown" on end
}

// MessageEventData is the payload for message flow events.
type MessageEventData struct {
	SessionKey string    `json:"session_key"`
	Platform   string    `json:"platform,omitempty"`
	Preview    string    `json:"preview"` // truncated content
	Timestamp  time.Time `json:"timestamp"`
}

// BotStatusData is one entry of a bot status snapshot.
type BotStatusData struct {
	Account   string `json:"account"`
	Platform  string `json:"platform"`
	Status    string `json:"status"`
	BotID     string `json:"bot_id,omitempty"`
	BotName   string `json:"bot_name,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// TurnEventData is the payload for turn lifecycle events.
type TurnEventData struct {
	SessionKey string `json:"session_key"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// LogEventData mirrors a log line into the event stream.
type LogEventData struct {
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Preview truncates text for event payloads.
func Preview(text string, max int) string {
	if max <= 0 {
		max = 80
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
