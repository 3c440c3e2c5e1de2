// Package auth implements the OAuth login flow for the LLM provider and
// manages stored credentials. An explicit provider.api_key in config always
// wins; OAuth credentials are the fallback for accounts without one.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// Credentials is the persisted OAuth token set.
type Credentials struct {
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Token converts the stored credentials into an oauth2 token.
func (c *Credentials) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// Expired reports whether the access token needs a refresh.
func (c *Credentials) Expired() bool {
	if c.Expiry.IsZero() {
		return false
	}
	// Refresh a minute early so in-flight requests don't race the deadline.
	return time.Now().After(c.Expiry.Add(-time.Minute))
}

// CredentialsPath returns the credential file location inside the workspace.
func CredentialsPath(workspace string) string {
	return filepath.Join(workspace, "credentials.json")
}

// LoadCredentials reads stored credentials. A missing file returns
// (nil, nil) so callers can distinguish "not logged in" from real errors.
func LoadCredentials(workspace string) (*Credentials, error) {
	data, err := os.ReadFile(CredentialsPath(workspace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &creds, nil
}

// SaveCredentials writes credentials with owner-only permissions.
func SaveCredentials(workspace string, creds *Credentials) error {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(CredentialsPath(workspace), data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// ClearCredentials removes stored credentials, for logout.
func ClearCredentials(workspace string) error {
	err := os.Remove(CredentialsPath(workspace))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
