// Package console provides the interactive terminal chat. It talks to the
// agent runtime directly, bypassing the routing engine, so the terminal
// works even with zero bot accounts configured.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/mochibot/mochi/pkg/agent"
	"github.com/mochibot/mochi/pkg/config"
	"github.com/mochibot/mochi/pkg/history"
	"github.com/mochibot/mochi/pkg/router"
)

const consoleSessionKey = "console-local-terminal"

// Console is an interactive readline chat session.
type Console struct {
	cfg     *config.Config
	runtime agent.Runtime
	router  *router.Router // optional, for /status
	store   *history.Store // optional, for /sessions

	instance agent.Instance
}

// New creates a console. Router and store may be nil when the routing
// engine is not running.
func New(cfg *config.Config, rt agent.Runtime, r *router.Router, store *history.Store) *Console {
	return &Console{cfg: cfg, runtime: rt, router: r, store: store}
}

// Run blocks reading lines until EOF, /quit, or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     filepath.Join(c.cfg.WorkspacePath(), ".console_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("%s terminal chat. /help for commands, /quit to exit.\n\n", c.cfg.Name())

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := c.command(line); quit {
				return nil
			}
			continue
		}

		if err := c.turn(ctx, line); err != nil {
			if errors.Is(err, agent.ErrInterrupted) || errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Printf("[error] %v\n", err)
		}
		fmt.Println()
	}
}

// Close releases the console's agent instance.
func (c *Console) Close() error {
	if c.instance != nil {
		return c.instance.Close()
	}
	return nil
}

// command dispatches a slash command; it returns true to quit.
func (c *Console) command(line string) bool {
	switch cmd, _ := splitCommand(line); cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		printHelp()
	case "/status":
		c.printStatus()
	case "/sessions":
		c.printSessions()
	case "/new":
		if c.instance != nil {
			c.instance.Close()
			c.instance = nil
		}
		fmt.Println("Started a fresh conversation.")
	default:
		fmt.Printf("Unknown command %s. /help for commands.\n", line)
	}
	return false
}

// turn runs one prompt against the console's agent instance, streaming
// replies to stdout. Approval requests are granted automatically, same as
// the routing engine does for chat surfaces.
func (c *Console) turn(ctx context.Context, prompt string) error {
	inst, err := c.ensureInstance(ctx)
	if err != nil {
		return err
	}

	var replied bool
	err = inst.Run(ctx, prompt, func(ev agent.Event) {
		switch ev.Type {
		case agent.EventSend, agent.EventContent:
			if ev.Content != "" {
				fmt.Println(ev.Content)
				replied = true
			}
		case agent.EventApproval:
			fmt.Printf("[approved] %s\n", ev.Tool)
			inst.Approve(ev.ApprovalID, true)
		}
	})
	if err != nil {
		return err
	}
	if !replied {
		fmt.Println("(no reply)")
	}
	return nil
}

func (c *Console) ensureInstance(ctx context.Context) (agent.Instance, error) {
	if c.instance != nil {
		return c.instance, nil
	}
	inst, err := c.runtime.CreateInstance(ctx, agent.InstanceConfig{
		SessionKey: consoleSessionKey,
		AgentName:  c.cfg.Name(),
		Surface:    "terminal",
	})
	if err != nil {
		return nil, fmt.Errorf("create agent instance: %w", err)
	}
	c.instance = inst
	return inst, nil
}

func (c *Console) printStatus() {
	if c.router == nil || !c.router.Running() {
		fmt.Println("Routing engine not running.")
		return
	}
	bots := c.router.Snapshot()
	if len(bots) == 0 {
		fmt.Println("No bot accounts configured.")
		return
	}
	fmt.Printf("Active sessions: %d\n", c.router.ActiveSessions())
	for _, b := range bots {
		line := fmt.Sprintf("  %-20s %-10s %s", b.Account, b.Platform, b.Status)
		if b.LastError != "" {
			line += "  (" + b.LastError + ")"
		}
		fmt.Println(line)
	}
}

func (c *Console) printSessions() {
	if c.store == nil {
		fmt.Println("History disabled.")
		return
	}
	sums, err := c.store.Sessions()
	if err != nil {
		fmt.Printf("[error] %v\n", err)
		return
	}
	if len(sums) == 0 {
		fmt.Println("No recorded sessions.")
		return
	}
	for _, s := range sums {
		fmt.Printf("  %-40s %4d msgs  last %s\n", s.SessionKey, s.Messages, s.LastAt.Format("2006-01-02 15:04"))
	}
}

func splitCommand(line string) (cmd, args string) {
	parts := strings.SplitN(line, " ", 2)
	cmd = parts[0]
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return cmd, args
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /status     Show bot connection status")
	fmt.Println("  /sessions   List recorded conversations")
	fmt.Println("  /new        Start a fresh conversation")
	fmt.Println("  /help       Show this help")
	fmt.Println("  /quit       Exit")
}
