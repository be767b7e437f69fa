package domain

import (
	"encoding/json"
	"time"
)

// User is an authenticated account holder.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Account is an OAuth link between a user and a provider.
type Account struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	Provider          string     `json:"provider"`
	ProviderAccountID string     `json:"providerAccountId"`
	AccessToken       string     `json:"-"`
	RefreshToken      string     `json:"-"`
	TokenType         string     `json:"tokenType,omitempty"`
	Scope             string     `json:"scope,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Credential is the bearer token a tool presents to an upstream API.
type Credential struct {
	Provider    string
	AccessToken string
	ExpiresAt   *time.Time
}

// Thread is a conversation owned by one user.
type Thread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one entry of a thread.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Span is one timed unit of work inside a trace.
type Span struct {
	ID           string          `json:"id"`
	TraceID      string          `json:"traceId"`
	ParentSpanID *string         `json:"parentSpanId"`
	Type         SpanType        `json:"type"`
	Name         string          `json:"name"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	ThreadID     string          `json:"threadId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	StartTime    time.Time       `json:"startTime"`
	EndTime      *time.Time      `json:"endTime"`
	Error        *string         `json:"error"`
}

// IsRoot reports whether the span has no parent.
func (s *Span) IsRoot() bool {
	return s.ParentSpanID == nil || *s.ParentSpanID == ""
}

// Trace is the set of spans sharing a trace id.
type Trace struct {
	TraceID   string          `json:"traceId"`
	Spans     []Span          `json:"spans"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime"`
	Duration  int64           `json:"duration"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// TraceSummary is a trace listing entry built from its root span.
type TraceSummary struct {
	TraceID   string     `json:"traceId"`
	Name      string     `json:"name"`
	ThreadID  string     `json:"threadId,omitempty"`
	SpanCount int        `json:"spanCount,omitempty"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Duration  int64      `json:"duration"`
	Error     *string    `json:"error,omitempty"`
}

// ConversationTraces groups the root traces of one thread.
type ConversationTraces struct {
	ThreadID   string         `json:"threadId"`
	Title      string         `json:"title"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	TraceCount int            `json:"traceCount"`
	Traces     []TraceSummary `json:"traces"`
}

// SpanMetadata is the metadata carried by every recorded span.
type SpanMetadata struct {
	ThreadID string `json:"threadId"`
	UserID   string `json:"userId,omitempty"`
	Model    string `json:"model,omitempty"`
	Round    int    `json:"round,omitempty"`
}
