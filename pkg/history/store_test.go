package history

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndReadBack(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []Entry{
		{SessionKey: "telegram-b1-u1", Direction: DirectionIn, Platform: "telegram", Content: "hi", CreatedAt: base},
		{SessionKey: "telegram-b1-u1", Direction: DirectionOut, Platform: "telegram", Content: "hello!", CreatedAt: base.Add(time.Second)},
		{SessionKey: "slack-b2-u2", Direction: DirectionIn, Platform: "slack", Content: "yo", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := s.Append(e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := s.Session("telegram-b1-u1", 0)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Session() returned %d entries, want 2", len(got))
	}
	if got[0].Content != "hi" || got[0].Direction != DirectionIn {
		t.Errorf("first entry = %+v, want inbound hi", got[0])
	}
	if got[1].Content != "hello!" || got[1].Direction != DirectionOut {
		t.Errorf("second entry = %+v, want outbound hello!", got[1])
	}
	if got[0].ID == "" {
		t.Error("entry ID not assigned on append")
	}
}

func TestSessionsSummary(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, key := range []string{"a", "a", "b"} {
		err := s.Append(Entry{
			SessionKey: key,
			Direction:  DirectionIn,
			Content:    "m",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	sums, err := s.Sessions()
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("Sessions() returned %d summaries, want 2", len(sums))
	}
	// "b" has the most recent entry, so it sorts first.
	if sums[0].SessionKey != "b" || sums[0].Messages != 1 {
		t.Errorf("first summary = %+v, want b with 1 message", sums[0])
	}
	if sums[1].SessionKey != "a" || sums[1].Messages != 2 {
		t.Errorf("second summary = %+v, want a with 2 messages", sums[1])
	}
}

func TestPurge(t *testing.T) {
	s := openTestStore(t)
	if err := s.Append(Entry{SessionKey: "a", Direction: DirectionIn, Content: "m"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Purge("a"); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	got, err := s.Session("a", 0)
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Session() after purge returned %d entries, want 0", len(got))
	}
}
