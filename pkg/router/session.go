package router

import (
	"context"
	"sync"
	"time"

	"github.com/mochibot/mochi/pkg/agent"
	"github.com/mochibot/mochi/pkg/bus"
)

// SendFunc delivers reply text into a conversation. Bound to the
// originating adapter connection when the session is created.
type SendFunc func(ctx context.Context, chatID, text string) error

// ChatSession is the per-conversation routing record. It carries the turn
// serialization state: a processing flag and a single pending slot.
//
// The pending slot is deliberately lossy. A message that arrives while
// another is already queued overwrites it, so under rapid fire only the
// latest message survives the in-flight turn. This trades strict ordering
// for responsiveness and is intentional load shedding, not an oversight.
type ChatSession struct {
	Key      string
	Platform string
	Account  string
	BotID    string
	UserID   string

	send SendFunc

	mu           sync.Mutex
	chatID       string
	processing   bool
	pending      *bus.InboundMessage
	instance     agent.Instance
	lastActivity time.Time
}

func newChatSession(key string, msg bus.InboundMessage, send SendFunc) *ChatSession {
	return &ChatSession{
		Key:          key,
		Platform:     msg.Platform,
		Account:      msg.Account,
		BotID:        msg.BotID,
		UserID:       msg.UserID,
		send:         send,
		chatID:       msg.ChatID,
		lastActivity: time.Now(),
	}
}

// ChatID returns the most recent conversation id for replies. Some
// platforms (DingTalk session webhooks) rotate it per message.
func (s *ChatSession) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// LastActivity returns when the session last saw a message.
func (s *ChatSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Processing reports whether a turn is currently in flight.
func (s *ChatSession) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// begin claims the turn slot for msg. If no turn is in flight it marks the
// session processing and returns true: the caller must run the message and
// eventually drain. Otherwise it overwrites the pending slot and returns
// the in-flight instance (possibly nil) so the caller can interrupt it.
func (s *ChatSession) begin(msg bus.InboundMessage) (run bool, inflight agent.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatID = msg.ChatID
	s.lastActivity = time.Now()
	if s.processing {
		s.pending = &msg
		return false, s.instance
	}
	s.processing = true
	return true, nil
}

// next pops the pending message if one was queued during the turn just
// finished. When the slot is empty it clears the processing flag and ends
// the drain loop. Called only by the goroutine that owns the turn.
func (s *ChatSession) next() (bus.InboundMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		msg := *s.pending
		s.pending = nil
		s.chatID = msg.ChatID
		return msg, true
	}
	s.processing = false
	return bus.InboundMessage{}, false
}

// getInstance returns the agent handle, if one was created.
func (s *ChatSession) getInstance() agent.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance
}

// setInstance stores the lazily created agent handle.
func (s *ChatSession) setInstance(inst agent.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instance = inst
}
