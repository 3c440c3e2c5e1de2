package logger

import (
	"strings"
	"sync"
	"testing"
)

func TestSinkReceivesEntries(t *testing.T) {
	var mu sync.Mutex
	var got []Entry
	remove := AddSink(func(e Entry) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	t.Cleanup(remove)
	SetStderr(false)
	SetLevel(LevelInfo)

	InfoCF("router", "session started", map[string]interface{}{"key": "telegram-bot1-user1"})
	DebugC("router", "should be filtered at info level")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].Component != "router" {
		t.Errorf("component = %q, want router", got[0].Component)
	}
	if got[0].Fields["key"] != "telegram-bot1-user1" {
		t.Errorf("missing structured field, got %v", got[0].Fields)
	}
}

func TestRemovedSinkStopsReceiving(t *testing.T) {
	var mu sync.Mutex
	var count int
	remove := AddSink(func(Entry) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	SetStderr(false)
	SetLevel(LevelInfo)

	InfoC("router", "before detach")
	remove()
	InfoC("router", "after detach")
	remove() // detaching twice is harmless

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("sink saw %d entries, want 1 (none after remove)", count)
	}
}

func TestEntryFormat(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  []string
	}{
		{
			name:  "component and message",
			entry: Entry{Level: LevelWarn, Component: "channels", Message: "reconnecting"},
			want:  []string{"[WARN]", "channels:", "reconnecting"},
		},
		{
			name: "fields sorted",
			entry: Entry{Level: LevelInfo, Component: "api", Message: "ready",
				Fields: map[string]interface{}{"port": 8080, "host": "127.0.0.1"}},
			want: []string{"host=127.0.0.1 port=8080"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := tt.entry.Format()
			for _, w := range tt.want {
				if !strings.Contains(line, w) {
					t.Errorf("formatted line %q missing %q", line, w)
				}
			}
		})
	}
}
