package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

const defaultThreadTitle = "New Chat"

// DefaultThreadID is the thread used when a history request names none.
func DefaultThreadID(userID string) string {
	return "default-" + userID
}

// ListThreads returns the user's threads, most recently updated first.
func (s *Service) ListThreads(ctx context.Context, userID string) ([]domain.Thread, error) {
	threads, err := s.store.ListThreads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return threads, nil
}

// CreateThread creates an empty thread.
func (s *Service) CreateThread(ctx context.Context, userID, title string) (*domain.Thread, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultThreadTitle
	}
	now := s.now().UTC()
	thread := &domain.Thread{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return thread, nil
}

// DeleteThread deletes a thread and its messages. Threads that do not exist
// or belong to someone else are reported as not found.
func (s *Service) DeleteThread(ctx context.Context, userID, threadID string) error {
	thread, err := s.ownedThread(ctx, userID, threadID)
	if err != nil {
		return err
	}
	if thread == nil {
		return domain.ErrNotFound
	}
	if err := s.store.DeleteThread(ctx, thread.ID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	s.logger.Info().Str("thread_id", threadID).Str("user_id", userID).Msg("thread deleted")
	return nil
}

// History returns the messages of a thread in chronological order. An
// unknown thread has an empty history.
func (s *Service) History(ctx context.Context, userID, threadID string) ([]domain.HistoryMessage, error) {
	if threadID == "" {
		threadID = DefaultThreadID(userID)
	}
	thread, err := s.ownedThread(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	out := []domain.HistoryMessage{}
	if thread == nil {
		return out, nil
	}

	messages, err := s.store.ListMessages(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	for _, m := range messages {
		out = append(out, domain.HistoryMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return out, nil
}

// ownedThread returns the thread when it exists and belongs to userID, nil
// when it does not exist, and ErrNotFound when another user owns it.
func (s *Service) ownedThread(ctx context.Context, userID, threadID string) (*domain.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	if thread == nil {
		return nil, nil
	}
	if thread.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return thread, nil
}
