package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/config"
	"github.com/mochibot/mochi/pkg/logger"
)

type discordChannel struct {
	account string
	cfg     config.DiscordConfig
	bus     *bus.MessageBus
	health  HealthFunc

	mu      sync.Mutex
	session *discordgo.Session
	botID   string
	botName string
}

func newDiscordChannel(acct config.Account, b *bus.MessageBus, health HealthFunc) Channel {
	return &discordChannel{
		account: acct.Label(),
		cfg:     *acct.Discord,
		bus:     b,
		health:  health,
	}
}

func (c *discordChannel) Account() string          { return c.account }
func (c *discordChannel) Type() config.AccountType { return config.AccountDiscord }

func (c *discordChannel) BotID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botID
}

func (c *discordChannel) BotName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botName
}

func (c *discordChannel) Start(ctx context.Context) error {
	c.health(c.account, StatusConnecting, nil)

	s, err := discordgo.New(normalizeDiscordToken(c.cfg.Token))
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	// Reconnection belongs to the supervisor.
	s.ShouldReconnectOnError = false

	s.AddHandler(c.handleMessage)
	s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		c.health(c.account, StatusInactive, fmt.Errorf("discord gateway disconnected"))
	})

	if err := s.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	c.mu.Lock()
	c.session = s
	if s.State != nil && s.State.User != nil {
		c.botID = s.State.User.ID
		c.botName = s.State.User.Username
	}
	c.mu.Unlock()
	return nil
}

func (c *discordChannel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if m.Author.Bot || m.Content == "" {
		return
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Platform: string(config.AccountDiscord),
		Account:  c.account,
		BotID:    c.BotID(),
		UserID:   m.Author.ID,
		ChatID:   m.ChannelID,
		GroupID:  m.GuildID, // empty for direct messages
		Text:     m.Content,
	})
}

func (c *discordChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	logger.DebugCF("channels", "Discord session closed", map[string]interface{}{
		"account": c.account,
	})
	return nil
}

func (c *discordChannel) Send(ctx context.Context, chatID, text string) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return fmt.Errorf("discord account %s not connected", c.account)
	}
	if _, err := s.ChannelMessageSend(chatID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func normalizeDiscordToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}

var _ Channel = (*discordChannel)(nil)
