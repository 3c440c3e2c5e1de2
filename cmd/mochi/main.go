// Command mochi runs the multi-platform chat gateway: it connects the
// configured bot accounts, routes direct messages into agent sessions, and
// serves the local status dashboard.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mochibot/mochi/pkg/agent"
	"github.com/mochibot/mochi/pkg/api"
	"github.com/mochibot/mochi/pkg/auth"
	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/config"
	"github.com/mochibot/mochi/pkg/console"
	"github.com/mochibot/mochi/pkg/cron"
	"github.com/mochibot/mochi/pkg/history"
	"github.com/mochibot/mochi/pkg/logger"
	"github.com/mochibot/mochi/pkg/providers"
	"github.com/mochibot/mochi/pkg/router"
	"github.com/mochibot/mochi/pkg/tools"
)

var version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultPath(), "config file path")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Usage = usage
	flag.Parse()

	logger.SetLevel(parseLevel(*logLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "run"
	}

	var err error
	switch cmd {
	case "run":
		err = runGateway(ctx, *configPath)
	case "chat":
		err = runChat(ctx, *configPath)
	case "login":
		err = runLogin(ctx, *configPath)
	case "logout":
		err = runLogout(*configPath)
	case "version":
		fmt.Println("mochi", version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mochi: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: mochi [flags] [command]

Commands:
  run      Start the gateway (default)
  chat     Interactive terminal chat
  login    OAuth login for the LLM provider
  logout   Remove stored credentials
  version  Print version

Flags:
`)
	flag.PrintDefaults()
}

func parseLevel(s string) logger.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}

// runGateway starts the full service: bot connections, session routing,
// history recording, cron, and the dashboard API.
func runGateway(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	runtime, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	rtr := router.New(cfg, msgBus, runtime, router.Options{
		ReloadConfig: func() (*config.Config, error) { return config.Load(configPath) },
	})

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.HistoryPath())
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()
		go history.NewRecorder(store, msgBus).Run(ctx)
	}

	cronSvc := cron.New(msgBus, cfg.CronJobs, func(account string) (string, string, bool) {
		ch, ok := rtr.Manager().Channel(account)
		if !ok {
			return "", "", false
		}
		return string(ch.Type()), ch.BotID(), true
	})

	if err := rtr.Start(ctx); err != nil {
		if err == router.ErrNoAccounts {
			return fmt.Errorf("%w; add accounts to %s or use `mochi chat`", err, configPath)
		}
		return err
	}
	cronSvc.Start()

	var server *api.Server
	if cfg.Gateway.Enabled {
		server = api.NewServer(cfg, rtr, cronSvc, store, msgBus)
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("start dashboard: %w", err)
		}
	}

	logger.InfoCF("main", "Gateway running", map[string]interface{}{
		"version":  version,
		"accounts": len(cfg.Accounts),
	})

	<-ctx.Done()

	logger.InfoC("main", "Shutting down")
	cronSvc.Stop()
	if server != nil {
		server.Stop()
	}
	rtr.Stop()
	return nil
}

// runChat starts the terminal chat without connecting any bot accounts.
func runChat(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Keep log noise off the terminal while chatting.
	logger.SetStderr(false)

	runtime, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}

	var store *history.Store
	if cfg.History.Enabled {
		if store, err = history.Open(cfg.HistoryPath()); err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()
	}

	c := console.New(cfg, runtime, nil, store)
	defer c.Close()
	return c.Run(ctx)
}

func runLogin(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flow, err := auth.NewFlow(cfg.Provider.Type)
	if err != nil {
		return err
	}

	fmt.Println("Open this URL in your browser and authorize:")
	fmt.Println()
	fmt.Println("  " + flow.URL())
	fmt.Println()
	fmt.Print("Paste the code shown after authorizing: ")

	reader := bufio.NewReader(os.Stdin)
	pasted, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read code: %w", err)
	}

	creds, err := flow.Exchange(ctx, pasted)
	if err != nil {
		return err
	}
	if err := auth.SaveCredentials(cfg.WorkspacePath(), creds); err != nil {
		return err
	}

	fmt.Println("Logged in. Credentials stored in", auth.CredentialsPath(cfg.WorkspacePath()))
	return nil
}

func runLogout(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := auth.ClearCredentials(cfg.WorkspacePath()); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

// buildRuntime resolves credentials and constructs the agent runtime.
func buildRuntime(ctx context.Context, cfg *config.Config) (agent.Runtime, error) {
	apiKey, err := auth.ResolveAPIKey(ctx, cfg.Provider.Type, cfg.Provider.APIKey, cfg.WorkspacePath())
	if err != nil {
		return nil, err
	}

	provider, err := providers.New(cfg.Provider.Type, apiKey, cfg.Provider.APIBase)
	if err != nil {
		return nil, err
	}

	model := cfg.Provider.Model
	if model == "" {
		model = provider.GetDefaultModel()
	}

	loop := agent.NewLoop(provider, model)

	reg := tools.NewRegistry()
	for _, t := range tools.Filesystem(cfg.WorkspacePath()) {
		reg.Register(t)
	}
	loop.UseTools(reg)

	return loop, nil
}
