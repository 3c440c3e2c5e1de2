// Package channels contains the platform adapters and the connection
// supervisor that keeps them alive. Each adapter turns a platform SDK's
// event stream into uniform bus.InboundMessage values and exposes a plain
// Send primitive; the Manager owns lifecycle, health, and reconnects.
package channels

import (
	"context"
	"fmt"

	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/config"
)

// Status is the coarse health state of one bot connection.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusError      Status = "error"
)

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// HealthFunc is how adapters report health transitions to the Manager.
// Adapters only ever report connecting, active, or inactive; the error
// state is reserved for the aggregate start-failure boundary.
type HealthFunc func(account string, status Status, err error)

// Channel is one live bot connection to a messaging platform.
type Channel interface {
	// Account returns the configured account label.
	Account() string
	// Type returns the platform adapter type.
	Type() config.AccountType
	// BotID returns the resolved platform identity, empty until connected.
	BotID() string
	// BotName returns the resolved display name, empty until connected.
	BotName() string

	// Start establishes the connection and begins publishing inbound
	// messages to the bus. It returns once the connection is up (or
	// listening); subsequent health is reported through the HealthFunc.
	Start(ctx context.Context) error
	// Stop tears the connection down. Idempotent.
	Stop(ctx context.Context) error
	// Send delivers text to a conversation on this connection.
	Send(ctx context.Context, chatID, text string) error
}

// BotRecord is the supervisor's view of one configured bot connection.
type BotRecord struct {
	Account   string `json:"account"`
	Platform  string `json:"platform"`
	Status    Status `json:"status"`
	BotID     string `json:"bot_id,omitempty"`
	BotName   string `json:"bot_name,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Factory builds a Channel for an account. Injectable so the Manager can be
// tested without touching platform SDKs.
type Factory func(acct config.Account, b *bus.MessageBus, health HealthFunc) (Channel, error)

// NewChannel is the default Factory: a closed dispatch table keyed by
// account type. All platform-specific knowledge stays behind this door.
func NewChannel(acct config.Account, b *bus.MessageBus, health HealthFunc) (Channel, error) {
	switch acct.Type {
	case config.AccountTelegram:
		return newTelegramChannel(acct, b, health), nil
	case config.AccountSlack:
		return newSlackChannel(acct, b, health), nil
	case config.AccountFeishu:
		return newFeishuChannel(acct, b, health), nil
	case config.AccountDiscord:
		return newDiscordChannel(acct, b, health), nil
	case config.AccountDingTalk:
		return newDingTalkChannel(acct, b, health), nil
	default:
		return nil, fmt.Errorf("no adapter for account type %q", acct.Type)
	}
}
