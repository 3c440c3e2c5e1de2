package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"

	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/config"
	"github.com/mochibot/mochi/pkg/logger"
)

// dingTalkChannel bridges DingTalk stream mode. Replies go to the
// per-message session webhook, so the webhook URL doubles as the chat id.
type dingTalkChannel struct {
	account string
	cfg     config.DingTalkConfig
	bus     *bus.MessageBus
	health  HealthFunc

	mu      sync.Mutex
	client  *client.StreamClient
	replier *chatbot.ChatbotReplier
}

func newDingTalkChannel(acct config.Account, b *bus.MessageBus, health HealthFunc) Channel {
	return &dingTalkChannel{
		account: acct.Label(),
		cfg:     *acct.DingTalk,
		bus:     b,
		health:  health,
	}
}

func (c *dingTalkChannel) Account() string          { return c.account }
func (c *dingTalkChannel) Type() config.AccountType { return config.AccountDingTalk }

// The app client id is the stable bot identity; the stream API has no
// profile lookup.
func (c *dingTalkChannel) BotID() string   { return c.cfg.ClientID }
func (c *dingTalkChannel) BotName() string { return c.account }

func (c *dingTalkChannel) Start(ctx context.Context) error {
	c.health(c.account, StatusConnecting, nil)

	cli := client.NewStreamClient(
		client.WithAppCredential(client.NewAppCredentialConfig(c.cfg.ClientID, c.cfg.ClientSecret)),
	)
	cli.RegisterChatBotCallbackRouter(c.handleMessage)

	if err := cli.Start(ctx); err != nil {
		return fmt.Errorf("dingtalk stream start: %w", err)
	}

	c.mu.Lock()
	c.client = cli
	c.replier = chatbot.NewChatbotReplier()
	c.mu.Unlock()
	return nil
}

func (c *dingTalkChannel) handleMessage(_ context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
	if data == nil {
		return []byte(""), nil
	}
	text := strings.TrimSpace(data.Text.Content)
	if text == "" {
		return []byte(""), nil
	}
	groupID := ""
	if data.ConversationType != "1" { // "1" is one-on-one
		groupID = data.ConversationId
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Platform: string(config.AccountDingTalk),
		Account:  c.account,
		BotID:    c.cfg.ClientID,
		UserID:   data.SenderStaffId,
		ChatID:   data.SessionWebhook,
		GroupID:  groupID,
		Text:     text,
	})
	return []byte(""), nil
}

func (c *dingTalkChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cli := c.client
	c.client = nil
	c.replier = nil
	c.mu.Unlock()
	if cli != nil {
		cli.Close()
		logger.DebugCF("channels", "DingTalk stream closed", map[string]interface{}{
			"account": c.account,
		})
	}
	return nil
}

func (c *dingTalkChannel) Send(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	replier := c.replier
	c.mu.Unlock()
	if replier == nil {
		return fmt.Errorf("dingtalk account %s not connected", c.account)
	}
	if err := replier.SimpleReplyText(ctx, chatID, []byte(text)); err != nil {
		return fmt.Errorf("dingtalk send: %w", err)
	}
	return nil
}

var _ Channel = (*dingTalkChannel)(nil)
