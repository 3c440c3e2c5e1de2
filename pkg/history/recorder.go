package history

import (
	"context"

	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/logger"
	"github.com/mochibot/mochi/pkg/router"
)

// Recorder tails the message bus and appends direct-message traffic to the
// transcript store. It rides the fan-out taps, so it never steals messages
// from the router.
type Recorder struct {
	store *Store
	bus   *bus.MessageBus
}

// NewRecorder builds a recorder over an open store.
func NewRecorder(store *Store, b *bus.MessageBus) *Recorder {
	return &Recorder{store: store, bus: b}
}

// Run subscribes and records until ctx is cancelled. Call in a goroutine.
func (r *Recorder) Run(ctx context.Context) {
	inTap := r.bus.SubscribeInboundTap("history")
	outTap := r.bus.SubscribeOutboundTap("history")
	logger.InfoC("history", "Transcript recorder started")

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-inTap:
			if !ok {
				return
			}
			msg, ok := raw.(bus.InboundMessage)
			if !ok || !msg.IsDirect() || msg.Text == "" {
				continue
			}
			r.append(Entry{
				SessionKey: router.SessionKey(msg.Platform, msg.BotID, msg.UserID),
				Direction:  DirectionIn,
				Platform:   msg.Platform,
				Content:    msg.Text,
			})
		case raw, ok := <-outTap:
			if !ok {
				return
			}
			msg, ok := raw.(bus.OutboundMessage)
			if !ok || msg.SessionKey == "" {
				continue
			}
			r.append(Entry{
				SessionKey: msg.SessionKey,
				Direction:  DirectionOut,
				Platform:   msg.Platform,
				Content:    msg.Text,
			})
		}
	}
}

func (r *Recorder) append(e Entry) {
	if err := r.store.Append(e); err != nil {
		logger.WarnCF("history", "Transcript append failed", map[string]interface{}{
			"session": e.SessionKey,
			"error":   err.Error(),
		})
	}
}
