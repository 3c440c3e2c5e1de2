package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCredentialsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	creds := &Credentials{
		Provider:     "anthropic",
		AccessToken:  "at-123",
		RefreshToken: "rt-456",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}

	if err := SaveCredentials(dir, creds); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadCredentials(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected credentials, got nil")
	}
	if loaded.AccessToken != creds.AccessToken || loaded.RefreshToken != creds.RefreshToken {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	creds, err := LoadCredentials(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds != nil {
		t.Fatalf("expected nil for missing file, got %+v", creds)
	}
}

func TestClearCredentials(t *testing.T) {
	dir := t.TempDir()
	if err := SaveCredentials(dir, &Credentials{AccessToken: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := ClearCredentials(dir); err != nil {
		t.Fatalf("clear: %v", err)
	}
	creds, err := LoadCredentials(dir)
	if err != nil || creds != nil {
		t.Fatalf("expected cleared credentials, got %+v, %v", creds, err)
	}
	// Clearing twice is fine.
	if err := ClearCredentials(dir); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestExpired(t *testing.T) {
	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"zero expiry never expires", time.Time{}, false},
		{"future", time.Now().Add(time.Hour), false},
		{"inside refresh window", time.Now().Add(30 * time.Second), true},
		{"past", time.Now().Add(-time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credentials{Expiry: tt.expiry}
			if got := c.Expired(); got != tt.want {
				t.Fatalf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitPastedCode(t *testing.T) {
	tests := []struct {
		in, code, state string
	}{
		{"abc#xyz", "abc", "xyz"},
		{"abc", "abc", ""},
		{"  abc#xyz \n", "abc", "xyz"},
		{"abc#", "abc", ""},
	}
	for _, tt := range tests {
		code, state := splitPastedCode(tt.in)
		if code != tt.code || state != tt.state {
			t.Fatalf("splitPastedCode(%q) = %q, %q; want %q, %q", tt.in, code, state, tt.code, tt.state)
		}
	}
}

func TestNewFlowRejectsAPIKeyProviders(t *testing.T) {
	for _, p := range []string{"openai", "moonshot", "openai-compatible"} {
		if _, err := NewFlow(p); err == nil {
			t.Fatalf("expected error for provider %q", p)
		}
	}
}

func TestFlowURLCarriesChallenge(t *testing.T) {
	f, err := NewFlow("anthropic")
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}
	u := f.URL()
	for _, want := range []string{"code_challenge=", "code_challenge_method=S256", "client_id="} {
		if !strings.Contains(u, want) {
			t.Fatalf("URL missing %q: %s", want, u)
		}
	}
}

func TestResolveAPIKeyPrefersConfigured(t *testing.T) {
	key, err := ResolveAPIKey(context.Background(), "anthropic", "sk-configured", t.TempDir())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "sk-configured" {
		t.Fatalf("expected configured key, got %q", key)
	}
}

func TestResolveAPIKeyNotLoggedIn(t *testing.T) {
	if _, err := ResolveAPIKey(context.Background(), "anthropic", "", t.TempDir()); err == nil {
		t.Fatal("expected error when no key and no credentials")
	}
}

func TestResolveAPIKeyFromStoredCredentials(t *testing.T) {
	dir := t.TempDir()
	creds := &Credentials{
		Provider:    "anthropic",
		AccessToken: "at-stored",
		Expiry:      time.Now().Add(time.Hour),
	}
	if err := SaveCredentials(dir, creds); err != nil {
		t.Fatalf("save: %v", err)
	}

	key, err := ResolveAPIKey(context.Background(), "anthropic", "", dir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != "at-stored" {
		t.Fatalf("expected stored token, got %q", key)
	}
}
