package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mochibot/mochi/pkg/logger"
)

// Anthropic OAuth endpoints. The authorize page shows the user a code to
// paste back into the terminal, so no local callback server is needed.
const (
	anthropicClientID  = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	anthropicAuthURL   = "https://claude.ai/oauth/authorize"
	anthropicTokenURL  = "https://console.anthropic.com/v1/oauth/token"
	anthropicRedirect  = "https://console.anthropic.com/oauth/code/callback"
	anthropicScopes    = "org:create_api_key user:profile user:inference"
	anthropicStateSalt = "mochi-login"
)

// Flow is an in-progress PKCE authorization. Create one with NewFlow, send
// the user to URL(), then call Exchange with the code they paste back.
type Flow struct {
	conf     *oauth2.Config
	verifier string
	state    string
}

// NewFlow starts a PKCE login flow for the given provider type.
// Only the anthropic provider supports OAuth login; API-key providers
// (openai, moonshot, openai-compatible) get an error.
func NewFlow(providerType string) (*Flow, error) {
	switch providerType {
	case "anthropic", "":
	default:
		return nil, fmt.Errorf("provider %q does not support OAuth login; set provider.api_key instead", providerType)
	}

	verifier := oauth2.GenerateVerifier()
	return &Flow{
		conf: &oauth2.Config{
			ClientID:    anthropicClientID,
			RedirectURL: anthropicRedirect,
			Scopes:      strings.Fields(anthropicScopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:  anthropicAuthURL,
				TokenURL: anthropicTokenURL,
			},
		},
		verifier: verifier,
		// The authorize page echoes state back appended to the code, so a
		// static salt plus the verifier is enough to pair code and flow.
		state: anthropicStateSalt,
	}, nil
}

// URL returns the browser URL the user must visit to authorize.
func (f *Flow) URL() string {
	return f.conf.AuthCodeURL(f.state,
		oauth2.S256ChallengeOption(f.verifier),
		oauth2.SetAuthURLParam("code", "true"),
	)
}

// Exchange trades the pasted authorization code for credentials.
// The paste format is "code#state"; a bare code is accepted too.
func (f *Flow) Exchange(ctx context.Context, pasted string) (*Credentials, error) {
	code, state := splitPastedCode(pasted)
	if code == "" {
		return nil, fmt.Errorf("empty authorization code")
	}
	if state != "" && state != f.state {
		return nil, fmt.Errorf("authorization state mismatch")
	}

	tok, err := f.conf.Exchange(ctx, code,
		oauth2.VerifierOption(f.verifier),
		oauth2.SetAuthURLParam("state", f.state),
	)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	return &Credentials{
		Provider:     "anthropic",
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}, nil
}

// splitPastedCode handles the "code#state" paste format.
func splitPastedCode(pasted string) (code, state string) {
	pasted = strings.TrimSpace(pasted)
	if i := strings.IndexByte(pasted, '#'); i >= 0 {
		return pasted[:i], pasted[i+1:]
	}
	return pasted, ""
}

// ResolveAPIKey returns the credential the provider should authenticate
// with. Configured API keys take precedence; otherwise stored OAuth
// credentials are used, refreshing them when expired.
func ResolveAPIKey(ctx context.Context, providerType, configuredKey, workspace string) (string, error) {
	if configuredKey != "" {
		return configuredKey, nil
	}

	creds, err := LoadCredentials(workspace)
	if err != nil {
		return "", err
	}
	if creds == nil {
		return "", fmt.Errorf("no API key configured and not logged in; run `mochi login` or set provider.api_key")
	}

	if creds.Expired() && creds.RefreshToken != "" {
		refreshed, err := refresh(ctx, creds)
		if err != nil {
			return "", fmt.Errorf("refresh expired credentials: %w", err)
		}
		if err := SaveCredentials(workspace, refreshed); err != nil {
			logger.WarnCF("auth", "Failed to persist refreshed credentials", map[string]interface{}{
				"error": err.Error(),
			})
		}
		creds = refreshed
	}

	return creds.AccessToken, nil
}

func refresh(ctx context.Context, creds *Credentials) (*Credentials, error) {
	conf := &oauth2.Config{
		ClientID: anthropicClientID,
		Endpoint: oauth2.Endpoint{TokenURL: anthropicTokenURL},
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tok, err := conf.TokenSource(ctx, creds.Token()).Token()
	if err != nil {
		return nil, err
	}

	out := &Credentials{
		Provider:     creds.Provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if out.RefreshToken == "" {
		out.RefreshToken = creds.RefreshToken
	}
	return out, nil
}
