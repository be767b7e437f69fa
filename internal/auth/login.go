package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// OAuthProvider implements the OAuth flow for a provider.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error)
}

// UserStore resolves and persists users and their linked accounts.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	UpsertAccount(ctx context.Context, account *domain.Account) error
}

// Authenticator completes OAuth logins and issues session tokens.
type Authenticator struct {
	provider OAuthProvider
	users    UserStore
	sessions *SessionManager
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(provider OAuthProvider, users UserStore, sessions *SessionManager) *Authenticator {
	return &Authenticator{provider: provider, users: users, sessions: sessions}
}

// LoginURL returns the provider consent URL carrying state.
func (a *Authenticator) LoginURL(state string) string {
	return a.provider.AuthURL(state)
}

// CompleteLogin exchanges the code, links the account and returns the user
// together with a signed session token.
func (a *Authenticator) CompleteLogin(ctx context.Context, code string) (*domain.User, string, error) {
	if strings.TrimSpace(code) == "" {
		return nil, "", errors.New("authorization code required")
	}
	token, err := a.provider.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("failed to exchange code: %w", err)
	}
	info, err := a.provider.UserInfo(ctx, token)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch user info: %w", err)
	}

	user, err := a.users.GetUserByEmail(ctx, info.Email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get user: %w", err)
	}
	now := time.Now()
	if user == nil {
		user = &domain.User{
			ID:        uuid.NewString(),
			Email:     info.Email,
			Name:      info.Name,
			AvatarURL: info.AvatarURL,
			CreatedAt: now,
		}
		if err := a.users.CreateUser(ctx, user); err != nil {
			return nil, "", fmt.Errorf("failed to create user: %w", err)
		}
	}

	account := &domain.Account{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		Provider:          ProviderGoogle,
		ProviderAccountID: info.ID,
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		TokenType:         token.TokenType,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		account.Scope = scope
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		account.ExpiresAt = &expiry
	}
	if err := a.users.UpsertAccount(ctx, account); err != nil {
		return nil, "", fmt.Errorf("failed to link account: %w", err)
	}

	session, err := a.sessions.Issue(user)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue session: %w", err)
	}
	return user, session, nil
}

// Profile returns the stored user for a session, falling back to the claims.
func (a *Authenticator) Profile(ctx context.Context, session *domain.User) (*domain.User, error) {
	user, err := a.users.GetUser(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return session, nil
	}
	return user, nil
}
