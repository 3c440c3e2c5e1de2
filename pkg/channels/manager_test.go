package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mochibot/mochi/pkg/bus"
	"github.com/mochibot/mochi/pkg/config"
)

type fakeChannel struct {
	mu         sync.Mutex
	account    string
	health     HealthFunc
	failStarts int
	starts     int
	stops      int
	started    chan struct{}
}

func (f *fakeChannel) Account() string          { return f.account }
func (f *fakeChannel) Type() config.AccountType { return config.AccountTelegram }
func (f *fakeChannel) BotID() string            { return "bot-" + f.account }
func (f *fakeChannel) BotName() string          { return f.account }

func (f *fakeChannel) Start(ctx context.Context) error {
	f.mu.Lock()
	f.starts++
	fail := f.starts <= f.failStarts
	started := f.started
	f.mu.Unlock()
	if fail {
		return errors.New("dial refused")
	}
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *fakeChannel) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, chatID, text string) error { return nil }

func (f *fakeChannel) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// Drop simulates a runtime connection fault.
func (f *fakeChannel) Drop() {
	f.health(f.account, StatusInactive, errors.New("stream closed"))
}

func fakeFactory(fakes map[string]*fakeChannel) Factory {
	return func(acct config.Account, b *bus.MessageBus, health HealthFunc) (Channel, error) {
		f, ok := fakes[acct.Label()]
		if !ok {
			f = &fakeChannel{account: acct.Label()}
			fakes[acct.Label()] = f
		}
		f.account = acct.Label()
		f.health = health
		return f, nil
	}
}

func testAccounts(names ...string) []config.Account {
	out := make([]config.Account, 0, len(names))
	for _, n := range names {
		out = append(out, config.Account{
			Name:     n,
			Type:     config.AccountTelegram,
			Telegram: &config.TelegramConfig{Token: "t"},
		})
	}
	return out
}

func newTestManager(t *testing.T, fakes map[string]*fakeChannel) (*Manager, *bus.MessageBus) {
	t.Helper()
	b := bus.NewMessageBus()
	t.Cleanup(b.Close)
	m := NewManager(b, ManagerOptions{
		StartAttempts:  3,
		StartBackoff:   time.Millisecond,
		StartCap:       5 * time.Millisecond,
		ReconnectDelay: 20 * time.Millisecond,
		Factory:        fakeFactory(fakes),
	})
	return m, b
}

func recordByAccount(t *testing.T, m *Manager, account string) BotRecord {
	t.Helper()
	for _, rec := range m.Snapshot() {
		if rec.Account == account {
			return rec
		}
	}
	t.Fatalf("no record for account %s", account)
	return BotRecord{}
}

func TestManagerStartAllActive(t *testing.T) {
	fakes := map[string]*fakeChannel{}
	m, _ := newTestManager(t, fakes)

	if err := m.Start(context.Background(), testAccounts("alpha", "beta")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop(context.Background())

	if !m.Running() {
		t.Fatal("Running() = false after successful start")
	}
	for _, name := range []string{"alpha", "beta"} {
		rec := recordByAccount(t, m, name)
		if rec.Status != StatusActive {
			t.Errorf("%s status = %s, want active", name, rec.Status)
		}
		if rec.BotID != "bot-"+name {
			t.Errorf("%s bot id = %q, want bot-%s", name, rec.BotID, name)
		}
	}
}

func TestManagerStartRetriesThenSucceeds(t *testing.T) {
	fakes := map[string]*fakeChannel{
		"alpha": {failStarts: 2},
	}
	m, _ := newTestManager(t, fakes)

	if err := m.Start(context.Background(), testAccounts("alpha")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop(context.Background())

	if got := fakes["alpha"].startCount(); got != 3 {
		t.Errorf("start attempts = %d, want 3", got)
	}
	if rec := recordByAccount(t, m, "alpha"); rec.Status != StatusActive {
		t.Errorf("status = %s, want active", rec.Status)
	}
}

func TestManagerStartExhaustionMarksError(t *testing.T) {
	fakes := map[string]*fakeChannel{
		"alpha": {failStarts: 100},
		"beta":  {},
	}
	m, _ := newTestManager(t, fakes)

	err := m.Start(context.Background(), testAccounts("alpha", "beta"))
	if err == nil {
		t.Fatal("Start() error = nil, want failure after exhausted attempts")
	}
	if m.Running() {
		t.Fatal("Running() = true after failed start")
	}
	for _, name := range []string{"alpha", "beta"} {
		rec := recordByAccount(t, m, name)
		if rec.Status != StatusError {
			t.Errorf("%s status = %s, want error", name, rec.Status)
		}
		if rec.LastError == "" {
			t.Errorf("%s last error empty, want causing message", name)
		}
	}
	// The healthy channel that came up during attempts must be torn down.
	if fakes["beta"].stops == 0 {
		t.Error("surviving channel was not stopped after start failure")
	}
}

func TestManagerRuntimeDropReconnects(t *testing.T) {
	started := make(chan struct{}, 4)
	fakes := map[string]*fakeChannel{
		"alpha": {started: started},
	}
	m, _ := newTestManager(t, fakes)

	if err := m.Start(context.Background(), testAccounts("alpha")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop(context.Background())
	<-started

	fakes["alpha"].Drop()
	if rec := recordByAccount(t, m, "alpha"); rec.Status != StatusInactive {
		t.Fatalf("status after drop = %s, want inactive", rec.Status)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never restarted the channel")
	}

	deadline := time.Now().Add(time.Second)
	for recordByAccount(t, m, "alpha").Status != StatusActive {
		if time.Now().After(deadline) {
			t.Fatal("record never returned to active after reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerDropDuringStartWindowReconnects(t *testing.T) {
	alphaStarted := make(chan struct{}, 4)
	fakes := map[string]*fakeChannel{
		"alpha": {started: alphaStarted},
		"beta":  {failStarts: 1},
	}
	b := bus.NewMessageBus()
	t.Cleanup(b.Close)
	m := NewManager(b, ManagerOptions{
		StartAttempts:  3,
		StartBackoff:   100 * time.Millisecond,
		StartCap:       100 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
		Factory:        fakeFactory(fakes),
	})

	// alpha comes up on the first attempt and drops while Start is still
	// in its backoff window retrying beta.
	go func() {
		<-alphaStarted
		for {
			for _, rec := range m.Snapshot() {
				if rec.Account == "alpha" && rec.Status == StatusActive {
					fakes["alpha"].Drop()
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	if err := m.Start(context.Background(), testAccounts("alpha", "beta")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop(context.Background())

	select {
	case <-alphaStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("connection dropped during the start window was never reconnected")
	}
	deadline := time.Now().Add(time.Second)
	for recordByAccount(t, m, "alpha").Status != StatusActive {
		if time.Now().After(deadline) {
			t.Fatal("record never returned to active after reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := fakes["alpha"].startCount(); got < 2 {
		t.Errorf("start count = %d, want at least 2 (initial + reconnect)", got)
	}
}

func TestManagerRestartPrunesRemovedAccounts(t *testing.T) {
	fakes := map[string]*fakeChannel{}
	m, _ := newTestManager(t, fakes)

	if err := m.Start(context.Background(), testAccounts("alpha", "beta")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	m.Stop(context.Background())

	if err := m.Start(context.Background(), testAccounts("alpha")); err != nil {
		t.Fatalf("Start() after config change error = %v", err)
	}
	defer m.Stop(context.Background())

	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].Account != "alpha" {
		t.Fatalf("snapshot = %v, want only the alpha record", snap)
	}
	if _, ok := m.Channel("beta"); ok {
		t.Error("removed account still has a live channel")
	}
}

func TestManagerDropDebounce(t *testing.T) {
	started := make(chan struct{}, 4)
	fakes := map[string]*fakeChannel{
		"alpha": {started: started},
	}
	m, _ := newTestManager(t, fakes)

	if err := m.Start(context.Background(), testAccounts("alpha")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop(context.Background())
	<-started

	// Three drops inside the debounce window collapse to one reconnect.
	fakes["alpha"].Drop()
	fakes["alpha"].Drop()
	fakes["alpha"].Drop()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never fired")
	}
	time.Sleep(60 * time.Millisecond)

	if got := fakes["alpha"].startCount(); got != 2 {
		t.Errorf("start count = %d, want 2 (initial + one debounced reconnect)", got)
	}
}

func TestManagerStopMarksAllInactive(t *testing.T) {
	fakes := map[string]*fakeChannel{}
	m, _ := newTestManager(t, fakes)

	if err := m.Start(context.Background(), testAccounts("alpha", "beta")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	m.Stop(context.Background())

	if m.Running() {
		t.Fatal("Running() = true after Stop")
	}
	for _, rec := range m.Snapshot() {
		if rec.Status != StatusInactive {
			t.Errorf("%s status = %s, want inactive", rec.Account, rec.Status)
		}
	}
	for name, f := range fakes {
		if f.stops == 0 {
			t.Errorf("channel %s was not stopped", name)
		}
	}
}

func TestManagerStatusChangeObserver(t *testing.T) {
	fakes := map[string]*fakeChannel{}
	m, _ := newTestManager(t, fakes)

	var mu sync.Mutex
	var last []BotRecord
	m.OnStatusChange(func(records []BotRecord) {
		mu.Lock()
		last = records
		mu.Unlock()
	})

	if err := m.Start(context.Background(), testAccounts("alpha")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(last) != 1 {
		t.Fatalf("observer snapshot has %d records, want 1", len(last))
	}
	if last[0].Status != StatusActive {
		t.Errorf("observer saw status %s, want active", last[0].Status)
	}
}

func TestManagerSendUnknownAccount(t *testing.T) {
	m, _ := newTestManager(t, map[string]*fakeChannel{})
	if err := m.Send(context.Background(), "ghost", "c1", "hi"); err == nil {
		t.Fatal("Send() to unknown account succeeded, want error")
	}
}
