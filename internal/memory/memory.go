// Package memory provides conversation history and keyword recall.
package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// MessageStore is the subset of the repository memory reads from.
type MessageStore interface {
	RecentMessages(ctx context.Context, threadID string, limit int) ([]domain.Message, error)
	SearchMessages(ctx context.Context, userID, excludeThreadID string, keywords []string, limit int) ([]domain.Message, error)
}

// Store answers history and recall queries for the turn builder.
type Store struct {
	messages    MessageStore
	maxKeywords int
}

// NewStore creates a memory store over messages.
func NewStore(messages MessageStore) *Store {
	return &Store{messages: messages, maxKeywords: 8}
}

// History returns the most recent limit messages of a thread, oldest first.
func (s *Store) History(ctx context.Context, threadID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	messages, err := s.messages.RecentMessages(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return messages, nil
}

// Recall finds up to k messages from the user's other threads that share
// keywords with query.
func (s *Store) Recall(ctx context.Context, userID, threadID, query string, k int) ([]domain.Message, error) {
	if k <= 0 {
		return nil, nil
	}
	keywords := Keywords(query, s.maxKeywords)
	if len(keywords) == 0 {
		return nil, nil
	}
	messages, err := s.messages.SearchMessages(ctx, userID, threadID, keywords, k)
	if err != nil {
		return nil, fmt.Errorf("failed to recall messages: %w", err)
	}
	return messages, nil
}

// Note renders recalled messages as a single system note, or "" when empty.
func Note(recalled []domain.Message) string {
	if len(recalled) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant notes from earlier conversations:")
	for _, m := range recalled {
		b.WriteString("\n- ")
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(clip(strings.TrimSpace(m.Content), 200))
	}
	return b.String()
}

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "been": {}, "before": {},
	"being": {}, "could": {}, "does": {}, "from": {}, "have": {}, "here": {},
	"into": {}, "just": {}, "like": {}, "more": {}, "most": {}, "please": {},
	"should": {}, "some": {}, "than": {}, "that": {}, "their": {}, "them": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "while": {}, "with": {}, "would": {},
	"your": {}, "yours": {},
}

// Keywords extracts up to max distinct lower-case words of at least four
// letters, skipping common stopwords, in order of first appearance.
func Keywords(text string, max int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 4 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
