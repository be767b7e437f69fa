package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ProviderGoogle is the provider name stored on linked accounts.
const ProviderGoogle = "google"

// GoogleScopes are requested at login so the tools can read contacts and mail.
var GoogleScopes = []string{
	"openid",
	"email",
	"profile",
	"https://www.googleapis.com/auth/contacts.readonly",
	"https://www.googleapis.com/auth/gmail.readonly",
}

// UserInfo represents user identity data returned by the provider.
type UserInfo struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
}

// GoogleConfig configures the Google OAuth provider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint and UserInfoURL default to Google's when empty.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

// GoogleProvider implements the Google OAuth flow and token refresh.
type GoogleProvider struct {
	config      oauth2.Config
	userInfoURL string
}

// NewGoogleProvider creates the provider.
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = endpoints.Google
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	}
	return &GoogleProvider{
		config: oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
			Scopes:       GoogleScopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
	}
}

// Configured reports whether client credentials are present.
func (p *GoogleProvider) Configured() bool {
	return p != nil && p.config.ClientID != "" && p.config.ClientSecret != ""
}

// AuthURL returns the consent URL with the given state.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange exchanges an auth code for a token.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.config.Exchange(ctx, code)
}

// Refresh obtains a new access token from a refresh token.
func (p *GoogleProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// UserInfo fetches the identity of the token's owner.
func (p *GoogleProvider) UserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("user info request: %w", err)
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("user info read: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("user info status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("user info decode: %w", err)
	}
	if payload.Sub == "" || payload.Email == "" {
		return nil, errors.New("user info missing subject or email")
	}
	return &UserInfo{ID: payload.Sub, Email: payload.Email, Name: payload.Name, AvatarURL: payload.Picture}, nil
}
