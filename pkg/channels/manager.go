package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/config"
	"github.com/mochibot/mochi/pkg/logger"
)

const (
	defaultStartAttempts  = 5
	defaultStartBackoff   = 5 * time.Second
	defaultStartCap       = 30 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// ManagerOptions tunes supervisor timing. Zero values take defaults.
type ManagerOptions struct {
	StartAttempts  int
	StartBackoff   time.Duration
	StartCap       time.Duration
	ReconnectDelay time.Duration

	// Factory overrides the adapter constructor, used by tests.
	Factory Factory
}

// Manager supervises the configured bot connections: it starts them with
// bounded retry, watches adapter health, schedules debounced reconnects for
// connections that drop at runtime, and keeps the per-bot status records
// that the snapshot reports are built from.
type Manager struct {
	bus  *bus.MessageBus
	opts ManagerOptions

	// onStatusChange receives the full record set after every transition.
	onStatusChange func([]BotRecord)

	mu       sync.Mutex
	channels map[string]Channel
	records  map[string]*BotRecord
	timers   map[string]*time.Timer
	started  map[string]bool
	running  bool
	stopping bool
}

// NewManager builds an idle supervisor. Connections are created by Start.
func NewManager(b *bus.MessageBus, opts ManagerOptions) *Manager {
	if opts.StartAttempts <= 0 {
		opts.StartAttempts = defaultStartAttempts
	}
	if opts.StartBackoff <= 0 {
		opts.StartBackoff = defaultStartBackoff
	}
	if opts.StartCap <= 0 {
		opts.StartCap = defaultStartCap
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Factory == nil {
		opts.Factory = NewChannel
	}
	return &Manager{
		bus:      b,
		opts:     opts,
		channels: make(map[string]Channel),
		records:  make(map[string]*BotRecord),
		timers:   make(map[string]*time.Timer),
		started:  make(map[string]bool),
	}
}

// OnStatusChange registers the snapshot observer. Must be called before
// Start; the callback runs without the manager lock held.
func (m *Manager) OnStatusChange(fn func([]BotRecord)) {
	m.onStatusChange = fn
}

// Start builds a channel per account and brings the whole set up, retrying
// the not-yet-started remainder with linear backoff. If the set is still
// incomplete after the attempt budget, every record is marked error with
// its causing message and the last failure is returned.
func (m *Manager) Start(ctx context.Context, accounts []config.Account) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("channel manager already running")
	}
	m.stopping = false
	// Fresh slate: a restart with a modified account set must not carry
	// records or channels for accounts that no longer exist.
	m.channels = make(map[string]Channel)
	m.records = make(map[string]*BotRecord)
	m.started = make(map[string]bool)
	for _, acct := range accounts {
		label := acct.Label()
		ch, err := m.opts.Factory(acct, m.bus, m.handleHealth)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("account %s: %w", label, err)
		}
		m.channels[label] = ch
		m.records[label] = &BotRecord{
			Account:  label,
			Platform: string(acct.Type),
			Status:   StatusConnecting,
		}
	}
	m.mu.Unlock()
	m.notify()

	var lastErr error
	for attempt := 1; attempt <= m.opts.StartAttempts; attempt++ {
		lastErr = nil
		for label, ch := range m.snapshotChannels() {
			if m.hasStarted(label) {
				continue
			}
			if err := ch.Start(ctx); err != nil {
				lastErr = fmt.Errorf("account %s: %w", label, err)
				logger.WarnCF("channels", "Connection start failed", map[string]interface{}{
					"account": label,
					"attempt": attempt,
					"error":   err.Error(),
				})
				m.setStatus(label, StatusConnecting, err)
				continue
			}
			m.markActive(label, ch)
		}
		if lastErr == nil {
			m.mu.Lock()
			m.running = true
			count := len(m.started)
			m.mu.Unlock()
			logger.InfoCF("channels", "All connections up", map[string]interface{}{
				"count": count,
			})
			return nil
		}
		if attempt < m.opts.StartAttempts {
			delay := m.opts.StartBackoff * time.Duration(attempt)
			if delay > m.opts.StartCap {
				delay = m.opts.StartCap
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = m.opts.StartAttempts // give up
			}
		}
	}

	// Exhausted: cancel reconnect timers armed by drops during the start
	// window, stop whatever came up, and flag the whole set.
	m.mu.Lock()
	m.stopping = true
	for label, t := range m.timers {
		t.Stop()
		delete(m.timers, label)
	}
	startedLabels := make([]string, 0, len(m.started))
	for label := range m.started {
		startedLabels = append(startedLabels, label)
	}
	m.mu.Unlock()
	for _, label := range startedLabels {
		m.stopChannel(ctx, label)
	}
	m.mu.Lock()
	for _, rec := range m.records {
		rec.Status = StatusError
		rec.LastError = lastErr.Error()
	}
	m.started = make(map[string]bool)
	m.stopping = false
	m.mu.Unlock()
	m.notify()
	return lastErr
}

// Stop tears every connection down and marks all records inactive. Runtime
// reconnect timers are cancelled first so nothing is revived mid-stop.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	m.stopping = true
	for label, t := range m.timers {
		t.Stop()
		delete(m.timers, label)
	}
	labels := make([]string, 0, len(m.channels))
	for label := range m.channels {
		labels = append(labels, label)
	}
	m.mu.Unlock()

	for _, label := range labels {
		m.stopChannel(ctx, label)
	}

	m.mu.Lock()
	for _, rec := range m.records {
		rec.Status = StatusInactive
		rec.LastError = ""
	}
	m.running = false
	m.stopping = false
	m.channels = make(map[string]Channel)
	m.started = make(map[string]bool)
	m.mu.Unlock()
	m.notify()
	logger.InfoC("channels", "All connections stopped")
}

// Running reports whether the connection set is up.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Snapshot returns the full record set, sorted by account label.
func (m *Manager) Snapshot() []BotRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Send delivers escaped text through the named account's connection.
func (m *Manager) Send(ctx context.Context, account, chatID, text string) error {
	m.mu.Lock()
	ch, ok := m.channels[account]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no connection for account %q", account)
	}
	return ch.Send(ctx, chatID, EscapeText(ch.Type(), text))
}

// Channel returns the live channel for an account, if any.
func (m *Manager) Channel(account string) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[account]
	return ch, ok
}

// --- Health handling ---

// handleHealth is the HealthFunc handed to every adapter. A runtime drop
// is recorded as inactive and answered with a debounced reconnect; it is
// never escalated to the error state.
func (m *Manager) handleHealth(account string, status Status, err error) {
	m.mu.Lock()
	rec, ok := m.records[account]
	if !ok || m.stopping {
		m.mu.Unlock()
		return
	}
	rec.Status = status
	if err != nil {
		rec.LastError = err.Error()
	} else {
		rec.LastError = ""
	}
	if status == StatusActive {
		if ch, ok := m.channels[account]; ok {
			rec.BotID = ch.BotID()
			rec.BotName = ch.BotName()
		}
	}
	// Per-connection, not the aggregate running flag: a connection that
	// came up and then dropped while Start is still retrying its siblings
	// must get its reconnect scheduled all the same.
	wasStarted := m.started[account]
	lastErr := rec.LastError
	m.mu.Unlock()
	m.notify()

	if status == StatusInactive && wasStarted {
		logger.WarnCF("channels", "Connection dropped", map[string]interface{}{
			"account": account,
			"error":   lastErr,
		})
		m.scheduleReconnect(account)
	}
}

// scheduleReconnect arms (or re-arms) the per-connection reconnect timer.
// Re-arming on every drop debounces flapping connections down to one
// pending attempt.
func (m *Manager) scheduleReconnect(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		return
	}
	if t, ok := m.timers[account]; ok {
		t.Stop()
	}
	m.timers[account] = time.AfterFunc(m.opts.ReconnectDelay, func() {
		m.reconnect(account)
	})
}

// reconnect runs one revival attempt; failure re-arms the timer, so a dead
// connection is retried indefinitely until it comes back or Stop is called.
func (m *Manager) reconnect(account string) {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return
	}
	delete(m.timers, account)
	ch, ok := m.channels[account]
	m.mu.Unlock()
	if !ok {
		return
	}

	logger.InfoCF("channels", "Reconnecting", map[string]interface{}{
		"account": account,
	})
	m.setStatus(account, StatusConnecting, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	_ = ch.Stop(ctx)
	if err := ch.Start(ctx); err != nil {
		logger.WarnCF("channels", "Reconnect failed", map[string]interface{}{
			"account": account,
			"error":   err.Error(),
		})
		m.setStatus(account, StatusInactive, err)
		m.scheduleReconnect(account)
		return
	}
	m.markActive(account, ch)
}

// --- Internals ---

func (m *Manager) hasStarted(account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started[account]
}

func (m *Manager) snapshotChannels() map[string]Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Channel, len(m.channels))
	for label, ch := range m.channels {
		out[label] = ch
	}
	return out
}

func (m *Manager) snapshotLocked() []BotRecord {
	out := make([]BotRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

func (m *Manager) setStatus(account string, status Status, err error) {
	m.mu.Lock()
	rec, ok := m.records[account]
	if ok {
		rec.Status = status
		if err != nil {
			rec.LastError = err.Error()
		} else {
			rec.LastError = ""
		}
	}
	m.mu.Unlock()
	if ok {
		m.notify()
	}
}

func (m *Manager) markActive(account string, ch Channel) {
	m.mu.Lock()
	m.started[account] = true
	if rec, ok := m.records[account]; ok {
		rec.Status = StatusActive
		rec.LastError = ""
		rec.BotID = ch.BotID()
		rec.BotName = ch.BotName()
	}
	m.mu.Unlock()
	m.notify()
	logger.InfoCF("channels", "Connection active", map[string]interface{}{
		"account": account,
		"bot_id":  ch.BotID(),
	})
}

func (m *Manager) stopChannel(ctx context.Context, label string) {
	m.mu.Lock()
	ch, ok := m.channels[label]
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := ch.Stop(ctx); err != nil {
		logger.WarnCF("channels", "Stop failed", map[string]interface{}{
			"account": label,
			"error":   err.Error(),
		})
	}
}

func (m *Manager) notify() {
	if m.onStatusChange == nil {
		return
	}
	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.onStatusChange(snap)
}
