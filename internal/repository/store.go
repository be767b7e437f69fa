// Package repository persists users, threads, messages and trace spans.
package repository

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// Store defines the persistence operations used by the assistant.
type Store interface {
	// Users and linked accounts
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpsertAccount(ctx context.Context, account *domain.Account) error
	GetLatestAccount(ctx context.Context, userID, provider string) (*domain.Account, error)
	UpdateAccountToken(ctx context.Context, accountID, accessToken, refreshToken string, expiresAt *time.Time) error

	// Threads
	CreateThread(ctx context.Context, thread *domain.Thread) error
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)
	ListThreads(ctx context.Context, userID string) ([]domain.Thread, error)
	TouchThread(ctx context.Context, threadID string, at time.Time) error
	DeleteThread(ctx context.Context, threadID string) error

	// Messages
	CreateMessage(ctx context.Context, message *domain.Message) error
	ListMessages(ctx context.Context, threadID string) ([]domain.Message, error)
	RecentMessages(ctx context.Context, threadID string, limit int) ([]domain.Message, error)
	SearchMessages(ctx context.Context, userID, excludeThreadID string, keywords []string, limit int) ([]domain.Message, error)

	// Spans
	UpsertSpan(ctx context.Context, span *domain.Span) error
	GetTraceSpans(ctx context.Context, traceID string) ([]domain.Span, error)
	ListRootSpansByThread(ctx context.Context, userID, threadID string) ([]domain.Span, error)
	ListSpans(ctx context.Context, userID string, limit, offset int) ([]domain.Span, error)

	Close() error
}

// Ensure SQLStore implements Store interface.
var _ Store = (*SQLStore)(nil)
