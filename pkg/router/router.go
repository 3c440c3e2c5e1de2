// Package router is the orchestrator of the routing engine. It consumes
// inbound messages from the bus, resolves each to a conversation session,
// serializes agent turns per session, and aggregates bot connection status
// for observers.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mochibot/mochi/pkg/agent"
	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/channels"
	"github.com/mochibot/mochi/pkg/config"
	"github.com/mochibot/mochi/pkg/events"
	"github.com/mochibot/mochi/pkg/logger"
	"github.com/mochibot/mochi/pkg/sessions"
)

// ErrNoAccounts is the structured Start failure when nothing is configured.
var ErrNoAccounts = errors.New("no accounts configured")

const (
	defaultSendBackoff    = 3 * time.Second
	defaultSendBackoffCap = 30 * time.Second
	defaultRePromptLimit  = 3

	apologyText = "Sorry, something went wrong while handling that. Please try again."

	rePromptText = "You have not replied to the user yet. Use the send_message " +
		"tool now to answer their last message."
)

// SessionKey derives the cache key for a conversation.
func SessionKey(platform, botID, userID string) string {
	return platform + "-" + botID + "-" + userID
}

// Observers is the callback surface the console and dashboard hang off.
// All callbacks are optional and must return quickly.
type Observers struct {
	OnSessionStart    func(sess *ChatSession)
	OnSessionEnd      func(sessionKey string)
	OnMessage         func(sessionKey, text string)
	OnBotStatusChange func(snapshot []events.BotStatusData)
	OnLog             func(line string)
}

// Options tunes router behavior. Zero values take defaults.
type Options struct {
	SendBackoff    time.Duration
	SendBackoffCap time.Duration
	RePromptLimit  int

	// SessionTTL overrides the configured idle window when positive.
	SessionTTL time.Duration

	// Channels is passed through to the connection manager; tests inject
	// a fake channel factory here.
	Channels channels.ManagerOptions

	// ReloadConfig, when set, is consulted by Restart to pick up
	// configuration changes.
	ReloadConfig func() (*config.Config, error)
}

// Router wires the session cache, the per-session turn serializer, the
// connection manager, and the agent runtime together.
type Router struct {
	bus     *bus.MessageBus
	runtime agent.Runtime
	manager *channels.Manager
	opts    Options

	observers Observers

	mu            sync.Mutex
	cfg           *config.Config
	cache         *sessions.Cache[*ChatSession]
	runCtx        context.Context
	cancel        context.CancelFunc
	removeLogSink func()
	running       bool
	stopping      bool

	wg sync.WaitGroup
}

// New builds an idle router. Call SetObservers before Start if callbacks
// are wanted from the first event on.
func New(cfg *config.Config, b *bus.MessageBus, runtime agent.Runtime, opts Options) *Router {
	if opts.SendBackoff <= 0 {
		opts.SendBackoff = defaultSendBackoff
	}
	if opts.SendBackoffCap <= 0 {
		opts.SendBackoffCap = defaultSendBackoffCap
	}
	if opts.RePromptLimit <= 0 {
		opts.RePromptLimit = defaultRePromptLimit
	}
	r := &Router{
		bus:     b,
		runtime: runtime,
		manager: channels.NewManager(b, opts.Channels),
		opts:    opts,
		cfg:     cfg,
	}
	r.manager.OnStatusChange(r.handleStatusChange)
	return r
}

// mirrorLog fans a log entry out to the OnLog observer and the system event
// stream. Attached as a logger sink for the lifetime of a Start/Stop cycle.
func (r *Router) mirrorLog(e logger.Entry) {
	if r.observers.OnLog != nil {
		r.observers.OnLog(e.Format())
	}
	r.bus.PublishSystem(bus.SystemEvent{
		Type:   events.SystemLog,
		Source: "logger",
		Data: events.LogEventData{
			Level:     e.Level.String(),
			Component: e.Component,
			Message:   e.Message,
		},
	})
}

// SetObservers installs the observer callbacks. Not safe to call after
// Start.
func (r *Router) SetObservers(obs Observers) {
	r.observers = obs
}

// Manager exposes the connection supervisor for status queries.
func (r *Router) Manager() *channels.Manager { return r.manager }

// --- Control surface ---

// Start brings up the configured connections and begins routing. Failures
// come back as error values, never panics: no accounts is ErrNoAccounts,
// exhausted connection attempts wrap the causing error.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("router already running")
	}
	accounts := r.cfg.Accounts
	if len(accounts) == 0 {
		r.mu.Unlock()
		return ErrNoAccounts
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r.runCtx = runCtx
	r.cancel = cancel
	ttl := r.cfg.Session.TTL()
	if r.opts.SessionTTL > 0 {
		ttl = r.opts.SessionTTL
	}
	r.cache = sessions.NewCache[*ChatSession](ttl, r.evictSession)
	r.removeLogSink = logger.AddSink(r.mirrorLog)
	r.mu.Unlock()

	if err := r.manager.Start(ctx, accounts); err != nil {
		cancel()
		r.detachLogSink()
		return fmt.Errorf("start connections: %w", err)
	}

	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.consume(runCtx)

	r.emit(events.SystemStarted, nil)
	logger.InfoCF("router", "Router started", map[string]interface{}{
		"accounts": len(accounts),
	})
	return nil
}

// Stop interrupts in-flight turns, tears down every session and
// connection, and returns once all routing goroutines have unwound.
// Idempotent.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	cancel := r.cancel
	cache := r.cache
	r.mu.Unlock()

	r.emit(events.SystemStopping, nil)
	cancel()
	cache.Clear()
	r.wg.Wait()
	r.manager.Stop(context.Background())

	r.mu.Lock()
	r.running = false
	r.stopping = false
	r.mu.Unlock()
	logger.InfoC("router", "Router stopped")
	r.detachLogSink()
}

// detachLogSink unhooks mirrorLog from the process logger so a stopped
// router stops feeding its bus and observers.
func (r *Router) detachLogSink() {
	r.mu.Lock()
	remove := r.removeLogSink
	r.removeLogSink = nil
	r.mu.Unlock()
	if remove != nil {
		remove()
	}
}

// Restart is Stop then Start, reloading configuration when a loader was
// provided. Used when the agent requests a config reload.
func (r *Router) Restart(ctx context.Context) error {
	r.Stop()
	if r.opts.ReloadConfig != nil {
		cfg, err := r.opts.ReloadConfig()
		if err != nil {
			logger.WarnCF("router", "Config reload failed, keeping previous", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			r.mu.Lock()
			r.cfg = cfg
			r.mu.Unlock()
		}
	}
	return r.Start(ctx)
}

// Running reports whether the router is routing.
func (r *Router) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ActiveSessions returns the live conversation count.
func (r *Router) ActiveSessions() int {
	r.mu.Lock()
	cache := r.cache
	r.mu.Unlock()
	if cache == nil {
		return 0
	}
	return cache.Len()
}

// Snapshot returns the current bot status set.
func (r *Router) Snapshot() []events.BotStatusData {
	return toStatusData(r.manager.Snapshot())
}

// SessionInfo describes one live conversation for status surfaces.
type SessionInfo struct {
	SessionKey   string    `json:"session_key"`
	Platform     string    `json:"platform"`
	Account      string    `json:"account"`
	UserID       string    `json:"user_id"`
	Processing   bool      `json:"processing"`
	LastActivity time.Time `json:"last_activity"`
}

// Sessions returns the live conversation set, sorted by session key.
func (r *Router) Sessions() []SessionInfo {
	r.mu.Lock()
	cache := r.cache
	r.mu.Unlock()
	if cache == nil {
		return nil
	}
	out := make([]SessionInfo, 0, cache.Len())
	for _, sess := range cache.Values() {
		out = append(out, SessionInfo{
			SessionKey:   sess.Key,
			Platform:     sess.Platform,
			Account:      sess.Account,
			UserID:       sess.UserID,
			Processing:   sess.Processing(),
			LastActivity: sess.LastActivity(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionKey < out[j].SessionKey })
	return out
}

// --- Inbound path ---

func (r *Router) consume(ctx context.Context) {
	defer r.wg.Done()
	for {
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		r.dispatch(ctx, msg)
	}
}

// dispatch filters, resolves the session, and hands the message to the
// turn serializer. Only direct messages qualify; group traffic is dropped
// before session resolution.
func (r *Router) dispatch(ctx context.Context, msg bus.InboundMessage) {
	if !msg.IsDirect() {
		logger.DebugCF("router", "Ignoring group message", map[string]interface{}{
			"platform": msg.Platform,
			"group_id": msg.GroupID,
		})
		return
	}
	if msg.Text == "" {
		return
	}

	r.mu.Lock()
	cache := r.cache
	r.mu.Unlock()
	if cache == nil {
		return
	}

	key := SessionKey(msg.Platform, msg.BotID, msg.UserID)
	sess, ok := cache.Get(key)
	if !ok {
		account := msg.Account
		sess = newChatSession(key, msg, func(sendCtx context.Context, chatID, text string) error {
			return r.manager.Send(sendCtx, account, chatID, text)
		})
		cache.Set(key, sess)
		logger.InfoCF("router", "Session started", map[string]interface{}{
			"session": key,
		})
		if r.observers.OnSessionStart != nil {
			r.observers.OnSessionStart(sess)
		}
		r.emit(events.SessionStarted, events.SessionEventData{
			SessionKey: key,
			Platform:   msg.Platform,
			BotID:      msg.BotID,
			UserID:     msg.UserID,
		})
	}

	if r.observers.OnMessage != nil {
		r.observers.OnMessage(key, msg.Text)
	}
	r.emit(events.MessageReceived, events.MessageEventData{
		SessionKey: key,
		Platform:   msg.Platform,
		Preview:    events.Preview(msg.Text, 80),
		Timestamp:  time.Now(),
	})

	r.submit(ctx, sess, msg)
}

// submit is the turn serializer entry point. A free session claims the
// turn and spawns the drain loop; a busy one queues the message into the
// pending slot and interrupts the in-flight turn.
func (r *Router) submit(ctx context.Context, sess *ChatSession, msg bus.InboundMessage) {
	run, inflight := sess.begin(msg)
	if !run {
		logger.DebugCF("router", "Turn in flight, queueing latest message", map[string]interface{}{
			"session": sess.Key,
		})
		if inflight != nil {
			inflight.Interrupt()
		}
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		current := msg
		for {
			r.runTurn(ctx, sess, current)
			next, ok := sess.next()
			if !ok {
				return
			}
			current = next
		}
	}()
}

// runTurn executes one message through the agent. Interruption is normal
// control flow and is swallowed; genuine failures are logged and answered
// with a generic apology so the session stays usable.
func (r *Router) runTurn(ctx context.Context, sess *ChatSession, msg bus.InboundMessage) {
	inst, err := r.ensureInstance(ctx, sess)
	if err != nil {
		logger.ErrorCF("router", "Agent instance creation failed", map[string]interface{}{
			"session": sess.Key,
			"error":   err.Error(),
		})
		r.deliver(ctx, sess, apologyText)
		return
	}

	start := time.Now()
	r.emit(events.TurnStarted, events.TurnEventData{SessionKey: sess.Key})

	var sent, reload bool
	emit := func(ev agent.Event) {
		switch ev.Type {
		case agent.EventSend:
			sent = true
			r.deliver(ctx, sess, ev.Content)
		case agent.EventApproval:
			// No interactive gate at this layer.
			inst.Approve(ev.ApprovalID, true)
		case agent.EventReload:
			reload = true
		case agent.EventContent:
			logger.DebugCF("router", "Agent content", map[string]interface{}{
				"session": sess.Key,
				"preview": events.Preview(ev.Content, 80),
			})
		}
	}

	prompt := msg.Text
	for attempt := 0; ; attempt++ {
		err = inst.Run(ctx, prompt, emit)
		if err != nil || sent || attempt >= r.opts.RePromptLimit {
			break
		}
		// Completed without messaging the user: nudge and retry.
		prompt = rePromptText
	}

	elapsed := time.Since(start).Milliseconds()
	switch {
	case err == nil:
		if !sent {
			r.deliver(ctx, sess, apologyText)
		}
		r.emit(events.TurnCompleted, events.TurnEventData{
			SessionKey: sess.Key,
			DurationMs: elapsed,
		})
	case errors.Is(err, agent.ErrInterrupted) || errors.Is(err, context.Canceled):
		logger.DebugCF("router", "Turn interrupted", map[string]interface{}{
			"session": sess.Key,
		})
		r.emit(events.TurnInterrupted, events.TurnEventData{SessionKey: sess.Key})
	default:
		logger.ErrorCF("router", "Turn failed", map[string]interface{}{
			"session": sess.Key,
			"error":   err.Error(),
		})
		r.emit(events.TurnFailed, events.TurnEventData{
			SessionKey: sess.Key,
			DurationMs: elapsed,
			Error:      err.Error(),
		})
		r.deliver(ctx, sess, apologyText)
	}

	if reload {
		r.requestReload()
	}
}

// ensureInstance lazily creates the agent instance for a session. Only the
// turn goroutine calls this, so creation happens at most once per session.
func (r *Router) ensureInstance(ctx context.Context, sess *ChatSession) (agent.Instance, error) {
	if inst := sess.getInstance(); inst != nil {
		return inst, nil
	}
	r.mu.Lock()
	name := r.cfg.Name()
	r.mu.Unlock()
	inst, err := r.runtime.CreateInstance(ctx, agent.InstanceConfig{
		SessionKey: sess.Key,
		AgentName:  name,
		Surface:    sess.Platform,
	})
	if err != nil {
		return nil, err
	}
	sess.setInstance(inst)
	return inst, nil
}

// deliver sends reply text with bounded linear-backoff retry. Exhausting
// the attempts drops the message with a log line; delivery is best-effort
// and never propagates failure to the turn.
func (r *Router) deliver(ctx context.Context, sess *ChatSession, text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	retries := r.cfg.Session.Retries()
	r.mu.Unlock()

	for attempt := 1; attempt <= retries; attempt++ {
		err := sess.send(ctx, sess.ChatID(), text)
		if err == nil {
			r.bus.PublishOutbound(bus.OutboundMessage{
				Platform:   sess.Platform,
				Account:    sess.Account,
				SessionKey: sess.Key,
				ChatID:     sess.ChatID(),
				Text:       text,
			})
			r.emit(events.MessageSent, events.MessageEventData{
				SessionKey: sess.Key,
				Platform:   sess.Platform,
				Preview:    events.Preview(text, 80),
				Timestamp:  time.Now(),
			})
			return
		}
		logger.WarnCF("router", "Send failed", map[string]interface{}{
			"session": sess.Key,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt == retries {
			break
		}
		delay := r.opts.SendBackoff * time.Duration(attempt)
		if delay > r.opts.SendBackoffCap {
			delay = r.opts.SendBackoffCap
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
	logger.ErrorCF("router", "Dropping undeliverable message", map[string]interface{}{
		"session": sess.Key,
		"retries": retries,
	})
	r.emit(events.MessageDropped, events.MessageEventData{
		SessionKey: sess.Key,
		Platform:   sess.Platform,
		Preview:    events.Preview(text, 80),
		Timestamp:  time.Now(),
	})
}

// requestReload restarts the router in the background once the current
// turn has unwound. Triggered by the agent's reload tool.
func (r *Router) requestReload() {
	logger.InfoC("router", "Reload requested, restarting after current turn")
	go func() {
		if err := r.Restart(context.Background()); err != nil {
			logger.ErrorCF("router", "Restart failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
}

// --- Lifecycle hooks ---

// evictSession is the cache eviction callback: close the agent, notify
// observers. The cache has already detached the entry, so no new lookups
// can observe the dying session.
func (r *Router) evictSession(key string, sess *ChatSession) {
	if inst := sess.getInstance(); inst != nil {
		inst.Interrupt()
		if err := inst.Close(); err != nil {
			logger.WarnCF("router", "Agent close failed", map[string]interface{}{
				"session": key,
				"error":   err.Error(),
			})
		}
	}
	r.mu.Lock()
	reason := "expired"
	if r.stopping {
		reason = "shutdown"
	}
	r.mu.Unlock()
	logger.InfoCF("router", "Session ended", map[string]interface{}{
		"session": key,
		"reason":  reason,
	})
	if r.observers.OnSessionEnd != nil {
		r.observers.OnSessionEnd(key)
	}
	r.emit(events.SessionEnded, events.SessionEventData{
		SessionKey: key,
		Platform:   sess.Platform,
		Reason:     reason,
	})
}

// handleStatusChange republishes the full connection snapshot. Observers
// always get the whole picture, never deltas.
func (r *Router) handleStatusChange(records []channels.BotRecord) {
	snapshot := toStatusData(records)
	if r.observers.OnBotStatusChange != nil {
		r.observers.OnBotStatusChange(snapshot)
	}
	r.emit(events.BotStatus, snapshot)
}

func toStatusData(records []channels.BotRecord) []events.BotStatusData {
	out := make([]events.BotStatusData, 0, len(records))
	for _, rec := range records {
		out = append(out, events.BotStatusData{
			Account:   rec.Account,
			Platform:  rec.Platform,
			Status:    string(rec.Status),
			BotID:     rec.BotID,
			BotName:   rec.BotName,
			LastError: rec.LastError,
		})
	}
	return out
}

func (r *Router) emit(eventType string, data interface{}) {
	r.bus.PublishSystem(bus.SystemEvent{
		Type:   eventType,
		Source: "router",
		Data:   data,
	})
}
