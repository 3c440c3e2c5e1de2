package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/config"
	"github.com/mochibot/mochi/pkg/logger"
)

type slackChannel struct {
	account string
	cfg     config.SlackConfig
	bus     *bus.MessageBus
	health  HealthFunc

	mu      sync.Mutex
	api     *slack.Client
	sock    *socketmode.Client
	cancel  context.CancelFunc
	botID   string
	botName string
}

func newSlackChannel(acct config.Account, b *bus.MessageBus, health HealthFunc) Channel {
	return &slackChannel{
		account: acct.Label(),
		cfg:     *acct.Slack,
		bus:     b,
		health:  health,
	}
}

func (c *slackChannel) Account() string          { return c.account }
func (c *slackChannel) Type() config.AccountType { return config.AccountSlack }

func (c *slackChannel) BotID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botID
}

func (c *slackChannel) BotName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botName
}

func (c *slackChannel) Start(ctx context.Context) error {
	c.health(c.account, StatusConnecting, nil)

	api := slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	sock := socketmode.New(api)

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.api = api
	c.sock = sock
	c.cancel = cancel
	c.botID = auth.UserID
	c.botName = auth.User
	c.mu.Unlock()

	go c.consume(runCtx, sock)
	go func() {
		err := sock.RunContext(runCtx)
		if runCtx.Err() == nil {
			c.health(c.account, StatusInactive, fmt.Errorf("slack socket closed: %w", err))
		}
	}()
	return nil
}

func (c *slackChannel) consume(ctx context.Context, sock *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sock.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				c.health(c.account, StatusActive, nil)
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					sock.Ack(*evt.Request)
				}
				c.handleEvent(apiEvent)
			}
		}
	}
}

func (c *slackChannel) handleEvent(apiEvent slackevents.EventsAPIEvent) {
	msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Skip bot echoes, edits, and join/leave noise.
	if msg.BotID != "" || msg.SubType != "" || msg.User == c.BotID() || msg.Text == "" {
		return
	}
	groupID := ""
	if msg.ChannelType != "im" {
		groupID = msg.Channel
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Platform: string(config.AccountSlack),
		Account:  c.account,
		BotID:    c.BotID(),
		UserID:   msg.User,
		ChatID:   msg.Channel,
		GroupID:  groupID,
		Text:     msg.Text,
	})
}

func (c *slackChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.api = nil
	c.sock = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		logger.DebugCF("channels", "Slack socket stopped", map[string]interface{}{
			"account": c.account,
		})
	}
	return nil
}

func (c *slackChannel) Send(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return fmt.Errorf("slack account %s not connected", c.account)
	}
	if _, _, err := api.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

var _ Channel = (*slackChannel)(nil)
