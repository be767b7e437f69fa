package domain

import (
	"encoding/json"
	"time"
)

// Turn is one user message and the assistant reply it produced.
type Turn struct {
	ThreadID  string
	UserID    string
	TraceID   string
	Input     string
	Output    string
	StartedAt time.Time
	EndedAt   *time.Time
	State     TurnState
}

// TurnContext carries the per-turn values tools and the model need.
type TurnContext struct {
	UserID     string
	ThreadID   string
	Credential *Credential
}

// TurnEvent is an internal event emitted while a turn runs.
type TurnEvent struct {
	Type     EventType
	TraceID  string
	Text     string
	ToolCall *ToolCallEvent
	Error    string
}

// ToolCallEvent describes a tool dispatch or its outcome.
type ToolCallEvent struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args,omitempty"`
	Status ToolCallStatus  `json:"status,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ToolError is the structured error fed back to the model.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
