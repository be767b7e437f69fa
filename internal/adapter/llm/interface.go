// Package llm provides an abstraction over the language model.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles understood by the generators.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the prompt.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is one generation request.
type Request struct {
	Model    string
	Messages []Message
	Tools    []ToolDefinition
}

// DecisionKind tags what the model decided to do next.
type DecisionKind int

const (
	// DecisionText carries one output token.
	DecisionText DecisionKind = iota
	// DecisionToolCall requests a tool invocation.
	DecisionToolCall
)

// Decision is one step of a generation.
type Decision struct {
	Kind     DecisionKind
	Text     string
	ToolCall *ToolCall
}

// Usage reports token consumption of a generation.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// EmitFunc receives decisions in model order. Returning an error aborts the generation.
type EmitFunc func(Decision) error

// Generator defines the interface for language model generation.
type Generator interface {
	// Generate streams the model's decisions for req to emit.
	Generate(ctx context.Context, req *Request, emit EmitFunc) (*Usage, error)
}

// Ensure the generators implement Generator interface.
var (
	_ Generator = (*OpenAIClient)(nil)
	_ Generator = (*MockClient)(nil)
)
