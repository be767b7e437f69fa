package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// AccountStore reads and refreshes linked accounts.
type AccountStore interface {
	GetLatestAccount(ctx context.Context, userID, provider string) (*domain.Account, error)
	UpdateAccountToken(ctx context.Context, accountID, accessToken, refreshToken string, expiresAt *time.Time) error
}

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// CredentialResolver finds the credential tools use on behalf of a user.
type CredentialResolver struct {
	accounts  AccountStore
	refresher TokenRefresher
	provider  string
	now       func() time.Time
	skew      time.Duration
}

// NewCredentialResolver creates a resolver. refresher may be nil.
func NewCredentialResolver(accounts AccountStore, refresher TokenRefresher, provider string) *CredentialResolver {
	return &CredentialResolver{
		accounts:  accounts,
		refresher: refresher,
		provider:  provider,
		now:       time.Now,
		skew:      time.Minute,
	}
}

// Resolve returns the most recently linked credential of the user, or nil
// when none is linked. An expired token with a refresh token is refreshed
// and written back; a failed refresh returns the stale token.
func (r *CredentialResolver) Resolve(ctx context.Context, userID string) (*domain.Credential, error) {
	account, err := r.accounts.GetLatestAccount(ctx, userID, r.provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, nil
	}

	cred := &domain.Credential{
		Provider:    account.Provider,
		AccessToken: account.AccessToken,
		ExpiresAt:   account.ExpiresAt,
	}
	if !r.expired(account) || account.RefreshToken == "" || r.refresher == nil {
		return cred, nil
	}

	token, err := r.refresher.Refresh(ctx, account.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("provider", r.provider).Msg("token refresh failed")
		return cred, nil
	}

	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		e := token.Expiry
		expiresAt = &e
	}
	if err := r.accounts.UpdateAccountToken(ctx, account.ID, token.AccessToken, token.RefreshToken, expiresAt); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to store refreshed token")
	}
	cred.AccessToken = token.AccessToken
	cred.ExpiresAt = expiresAt
	return cred, nil
}

func (r *CredentialResolver) expired(account *domain.Account) bool {
	if account.ExpiresAt == nil {
		return false
	}
	return !r.now().Add(r.skew).Before(*account.ExpiresAt)
}
