// Package config owns the on-disk configuration for mochi.
// The file lives at ~/.mochi/config.yaml; a handful of secrets can be
// overridden through MOCHI_* environment variables after the file loads.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// AccountType identifies which platform adapter an account uses.
type AccountType string

const (
	AccountTelegram AccountType = "telegram"
	AccountSlack    AccountType = "slack"
	AccountFeishu   AccountType = "feishu"
	AccountDiscord  AccountType = "discord"
	AccountDingTalk AccountType = "dingtalk"
)

// AllAccountTypes returns every supported account type.
func AllAccountTypes() []AccountType {
	return []AccountType{
		AccountTelegram, AccountSlack, AccountFeishu, AccountDiscord, AccountDingTalk,
	}
}

// Valid returns true if the account type is recognized.
func (at AccountType) Valid() bool {
	for _, t := range AllAccountTypes() {
		if t == at {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (at AccountType) String() string { return string(at) }

// TelegramConfig holds Telegram Bot API credentials.
type TelegramConfig struct {
	Token string `yaml:"token" json:"-"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token" json:"-"` // xapp-...
	BotToken string `yaml:"bot_token" json:"-"` // xoxb-...
}

// FeishuConfig holds Feishu/Lark open-platform credentials.
type FeishuConfig struct {
	AppID     string `yaml:"app_id" json:"app_id"`
	AppSecret string `yaml:"app_secret" json:"-"`
}

// DiscordConfig holds a Discord bot token.
type DiscordConfig struct {
	Token string `yaml:"token" json:"-"`
}

// DingTalkConfig holds DingTalk stream-mode app credentials.
type DingTalkConfig struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"`
}

// Account describes one configured bot connection. Exactly one of the
// platform sections should be set, matching Type.
type Account struct {
	Name string      `yaml:"name,omitempty" json:"name,omitempty"`
	Type AccountType `yaml:"type" json:"type"`

	Telegram *TelegramConfig `yaml:"telegram,omitempty" json:"telegram,omitempty"`
	Slack    *SlackConfig    `yaml:"slack,omitempty" json:"slack,omitempty"`
	Feishu   *FeishuConfig   `yaml:"feishu,omitempty" json:"feishu,omitempty"`
	Discord  *DiscordConfig  `yaml:"discord,omitempty" json:"discord,omitempty"`
	DingTalk *DingTalkConfig `yaml:"dingtalk,omitempty" json:"dingtalk,omitempty"`
}

// Label returns a stable display identifier for the account.
func (a Account) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return string(a.Type)
}

// Validate checks that the account carries credentials for its type.
func (a Account) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("unknown account type %q", a.Type)
	}
	switch a.Type {
	case AccountTelegram:
		if a.Telegram == nil || a.Telegram.Token == "" {
			return fmt.Errorf("account %s: missing telegram.token", a.Label())
		}
	case AccountSlack:
		if a.Slack == nil || a.Slack.AppToken == "" || a.Slack.BotToken == "" {
			return fmt.Errorf("account %s: missing slack.app_token / slack.bot_token", a.Label())
		}
	case AccountFeishu:
		if a.Feishu == nil || a.Feishu.AppID == "" || a.Feishu.AppSecret == "" {
			return fmt.Errorf("account %s: missing feishu.app_id / feishu.app_secret", a.Label())
		}
	case AccountDiscord:
		if a.Discord == nil || a.Discord.Token == "" {
			return fmt.Errorf("account %s: missing discord.token", a.Label())
		}
	case AccountDingTalk:
		if a.DingTalk == nil || a.DingTalk.ClientID == "" || a.DingTalk.ClientSecret == "" {
			return fmt.Errorf("account %s: missing dingtalk.client_id / dingtalk.client_secret", a.Label())
		}
	}
	return nil
}

// ProviderConfig selects and configures the LLM backend.
type ProviderConfig struct {
	Type    string `yaml:"type" json:"type" env:"MOCHI_PROVIDER"`
	APIKey  string `yaml:"api_key" json:"-" env:"MOCHI_API_KEY"`
	APIBase string `yaml:"api_base,omitempty" json:"api_base,omitempty" env:"MOCHI_API_BASE"`
	Model   string `yaml:"model,omitempty" json:"model,omitempty" env:"MOCHI_MODEL"`
}

// GatewayConfig configures the optional status dashboard.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host" env:"MOCHI_GATEWAY_HOST"`
	Port    int    `yaml:"port" json:"port" env:"MOCHI_GATEWAY_PORT"`
	APIKey  string `yaml:"api_key,omitempty" json:"-" env:"MOCHI_GATEWAY_API_KEY"`
}

// SessionConfig tunes the routing engine.
type SessionConfig struct {
	TTLMinutes  int `yaml:"ttl_minutes" json:"ttl_minutes"`
	SendRetries int `yaml:"send_retries" json:"send_retries"`
}

// TTL returns the session idle window.
func (s SessionConfig) TTL() time.Duration {
	if s.TTLMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.TTLMinutes) * time.Minute
}

// Retries returns the bounded outbound send attempt count.
func (s SessionConfig) Retries() int {
	if s.SendRetries <= 0 {
		return 10
	}
	return s.SendRetries
}

// HistoryConfig configures the transcript store.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// CronJob is a scheduled prompt injected into a conversation. The prompt
// flows through normal routing, so the reply lands in the given chat on
// the named account.
type CronJob struct {
	Name     string `yaml:"name" json:"name"`
	Schedule string `yaml:"schedule" json:"schedule"` // cron expression
	Account  string `yaml:"account" json:"account"`
	UserID   string `yaml:"user_id" json:"user_id"`
	ChatID   string `yaml:"chat_id" json:"chat_id"`
	Prompt   string `yaml:"prompt" json:"prompt"`
}

// Config is the root configuration object.
type Config struct {
	AgentName string         `yaml:"agent_name,omitempty" json:"agent_name,omitempty"`
	Provider  ProviderConfig `yaml:"provider" json:"provider"`
	Accounts  []Account      `yaml:"accounts" json:"accounts"`
	Session   SessionConfig  `yaml:"session,omitempty" json:"session"`
	Gateway   GatewayConfig  `yaml:"gateway,omitempty" json:"gateway"`
	History   HistoryConfig  `yaml:"history,omitempty" json:"history"`
	CronJobs  []CronJob      `yaml:"cron_jobs,omitempty" json:"cron_jobs,omitempty"`

	// Workspace overrides the default ~/.mochi working directory.
	Workspace string `yaml:"workspace,omitempty" json:"workspace,omitempty" env:"MOCHI_WORKSPACE"`
}

// DefaultConfig returns a config with sensible defaults and no accounts.
func DefaultConfig() *Config {
	return &Config{
		AgentName: "Mochi",
		Provider:  ProviderConfig{Type: "anthropic"},
		Session:   SessionConfig{TTLMinutes: 5, SendRetries: 10},
		Gateway:   GatewayConfig{Host: "127.0.0.1", Port: 7171},
	}
}

// Name returns the configured assistant display name.
func (c *Config) Name() string {
	if c.AgentName == "" {
		return "Mochi"
	}
	return c.AgentName
}

// WorkspacePath returns the working directory, creating nothing.
func (c *Config) WorkspacePath() string {
	if c.Workspace != "" {
		return c.Workspace
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mochi"
	}
	return filepath.Join(home, ".mochi")
}

// HistoryPath resolves the transcript database location.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.WorkspacePath(), "history.db")
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".mochi", "config.yaml")
	}
	return filepath.Join(home, ".mochi", "config.yaml")
}

// Load reads the config file, applies env overrides, and validates accounts.
// A missing file yields the defaults (zero accounts), not an error; the
// router reports "no accounts configured" as a structured start failure.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	for _, acct := range cfg.Accounts {
		if err := acct.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Save writes the config back to disk, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
