package channels

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/config"
	"github.com/mochibot/mochi/pkg/logger"
)

type telegramChannel struct {
	account string
	cfg     config.TelegramConfig
	bus     *bus.MessageBus
	health  HealthFunc

	mu      sync.Mutex
	bot     *telego.Bot
	cancel  context.CancelFunc
	botID   string
	botName string
}

func newTelegramChannel(acct config.Account, b *bus.MessageBus, health HealthFunc) Channel {
	return &telegramChannel{
		account: acct.Label(),
		cfg:     *acct.Telegram,
		bus:     b,
		health:  health,
	}
}

func (c *telegramChannel) Account() string          { return c.account }
func (c *telegramChannel) Type() config.AccountType { return config.AccountTelegram }

func (c *telegramChannel) BotID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botID
}

func (c *telegramChannel) BotName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botName
}

func (c *telegramChannel) Start(ctx context.Context) error {
	c.health(c.account, StatusConnecting, nil)

	bot, err := telego.NewBot(c.cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	updates, err := bot.UpdatesViaLongPolling(runCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}

	c.mu.Lock()
	c.bot = bot
	c.cancel = cancel
	c.botID = strconv.FormatInt(me.ID, 10)
	c.botName = me.Username
	c.mu.Unlock()

	go c.consume(runCtx, updates)
	return nil
}

func (c *telegramChannel) consume(ctx context.Context, updates <-chan telego.Update) {
	for update := range updates {
		msg := update.Message
		if msg == nil || msg.From == nil {
			continue
		}
		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		if text == "" {
			continue
		}
		groupID := ""
		if msg.Chat.Type != telego.ChatTypePrivate {
			groupID = strconv.FormatInt(msg.Chat.ID, 10)
		}
		c.bus.PublishInbound(bus.InboundMessage{
			Platform: string(config.AccountTelegram),
			Account:  c.account,
			BotID:    c.BotID(),
			UserID:   strconv.FormatInt(msg.From.ID, 10),
			ChatID:   strconv.FormatInt(msg.Chat.ID, 10),
			GroupID:  groupID,
			Text:     text,
		})
	}
	// The update stream closes on Stop (context cancel) or on a polling
	// fault; only the latter is a runtime drop.
	if ctx.Err() == nil {
		c.health(c.account, StatusInactive, fmt.Errorf("telegram update stream closed"))
	}
}

func (c *telegramChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.bot = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		logger.DebugCF("channels", "Telegram polling stopped", map[string]interface{}{
			"account": c.account,
		})
	}
	return nil
}

func (c *telegramChannel) Send(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	bot := c.bot
	c.mu.Unlock()
	if bot == nil {
		return fmt.Errorf("telegram account %s not connected", c.account)
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram chat id %q: %w", chatID, err)
	}
	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(id), text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

var _ Channel = (*telegramChannel)(nil)
