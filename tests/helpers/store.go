package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *repository.SQLStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedThread creates a thread owned by userID with the given messages, one
// second apart starting at start.
func SeedThread(t *testing.T, s repository.Store, threadID, userID string, start time.Time, contents ...string) {
	t.Helper()
	ctx := context.Background()

	if err := s.CreateThread(ctx, &domain.Thread{ID: threadID, UserID: userID, Title: threadID, CreatedAt: start, UpdatedAt: start}); err != nil {
		t.Fatalf("failed to create thread: %v", err)
	}
	for i, content := range contents {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msg := &domain.Message{
			ID:        threadID + "-m" + string(rune('a'+i)),
			ThreadID:  threadID,
			UserID:    userID,
			Role:      role,
			Content:   content,
			CreatedAt: start.Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("failed to create message: %v", err)
		}
	}
}
