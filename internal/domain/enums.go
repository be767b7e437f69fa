// Package domain defines the core domain models for the assistant.
package domain

// Role tags a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SpanType tags the unit of work a span records.
type SpanType string

const (
	SpanTypeAgentRun        SpanType = "agent_run"
	SpanTypeModelGeneration SpanType = "model_generation"
	SpanTypeToolCall        SpanType = "tool_call"
	SpanTypeWorkflowRun     SpanType = "workflow_run"
)

// TurnState is the orchestrator state of a single turn.
type TurnState string

const (
	TurnStateIdle             TurnState = "IDLE"
	TurnStateResolvingContext TurnState = "RESOLVING_CONTEXT"
	TurnStateGenerating       TurnState = "GENERATING"
	TurnStateToolDispatch     TurnState = "TOOL_DISPATCH"
	TurnStateSealing          TurnState = "SEALING"
	TurnStateDone             TurnState = "DONE"
	TurnStateErrored          TurnState = "ERRORED"
)

// EventType represents the type of a turn event.
type EventType string

const (
	EventTypeTraceID        EventType = "trace_id"
	EventTypeText           EventType = "text"
	EventTypeToolDispatched EventType = "tool_dispatched"
	EventTypeToolResult     EventType = "tool_result"
	EventTypeError          EventType = "error"
	EventTypeDone           EventType = "done"
)

// ToolCallStatus is the outcome of one tool dispatch.
type ToolCallStatus string

const (
	ToolCallStatusSucceeded ToolCallStatus = "SUCCEEDED"
	ToolCallStatusFailed    ToolCallStatus = "FAILED"
	ToolCallStatusBlocked   ToolCallStatus = "BLOCKED"
	ToolCallStatusTimeout   ToolCallStatus = "TIMEOUT"
)

// TraceGrouping selects how trace listings are grouped.
type TraceGrouping string

const (
	TraceGroupingConversation TraceGrouping = "conversation"
	TraceGroupingTrace        TraceGrouping = "trace"
)
