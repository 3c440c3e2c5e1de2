package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/config"
	"github.com/mochibot/mochi/pkg/logger"
)

type feishuChannel struct {
	account string
	cfg     config.FeishuConfig
	bus     *bus.MessageBus
	health  HealthFunc

	mu     sync.Mutex
	client *lark.Client
	cancel context.CancelFunc
}

func newFeishuChannel(acct config.Account, b *bus.MessageBus, health HealthFunc) Channel {
	return &feishuChannel{
		account: acct.Label(),
		cfg:     *acct.Feishu,
		bus:     b,
		health:  health,
	}
}

func (c *feishuChannel) Account() string          { return c.account }
func (c *feishuChannel) Type() config.AccountType { return config.AccountFeishu }

// Feishu exposes no getMe equivalent over the app credential; the app id is
// the stable bot identity.
func (c *feishuChannel) BotID() string   { return c.cfg.AppID }
func (c *feishuChannel) BotName() string { return c.account }

func (c *feishuChannel) Start(ctx context.Context) error {
	c.health(c.account, StatusConnecting, nil)

	handler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(c.handleMessage)

	// Reconnection belongs to the supervisor, not the SDK.
	wsClient := larkws.NewClient(c.cfg.AppID, c.cfg.AppSecret,
		larkws.WithEventHandler(handler),
		larkws.WithAutoReconnect(false),
		larkws.WithLogLevel(larkcore.LogLevelWarn),
	)

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.client = lark.NewClient(c.cfg.AppID, c.cfg.AppSecret)
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		err := wsClient.Start(runCtx)
		if runCtx.Err() == nil {
			c.health(c.account, StatusInactive, fmt.Errorf("feishu websocket closed: %v", err))
		}
	}()
	return nil
}

func (c *feishuChannel) handleMessage(_ context.Context, event *larkim.P2MessageReceiveV1) error {
	if event == nil || event.Event == nil || event.Event.Message == nil || event.Event.Sender == nil {
		return nil
	}
	msg := event.Event.Message
	sender := event.Event.Sender
	if msg.MessageType == nil || *msg.MessageType != "text" || msg.Content == nil {
		return nil
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(*msg.Content), &payload); err != nil || payload.Text == "" {
		return nil
	}
	userID := ""
	if sender.SenderId != nil && sender.SenderId.OpenId != nil {
		userID = *sender.SenderId.OpenId
	}
	chatID := ""
	if msg.ChatId != nil {
		chatID = *msg.ChatId
	}
	groupID := ""
	if msg.ChatType != nil && *msg.ChatType != "p2p" {
		groupID = chatID
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Platform: string(config.AccountFeishu),
		Account:  c.account,
		BotID:    c.cfg.AppID,
		UserID:   userID,
		ChatID:   chatID,
		GroupID:  groupID,
		Text:     payload.Text,
	})
	return nil
}

func (c *feishuChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.client = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		logger.DebugCF("channels", "Feishu websocket stopped", map[string]interface{}{
			"account": c.account,
		})
	}
	return nil
}

func (c *feishuChannel) Send(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return fmt.Errorf("feishu account %s not connected", c.account)
	}
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode feishu message: %w", err)
	}
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()
	resp, err := client.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("feishu send: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("feishu send: %s", resp.CodeError.Error())
	}
	return nil
}

var _ Channel = (*feishuChannel)(nil)
