package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/assistant/internal/adapter/llm"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/memory"
	"github.com/xiaot623/gogo/assistant/internal/policy"
	"github.com/xiaot623/gogo/assistant/internal/tracing"
)

const (
	// FallbackMessage replaces an empty reply when a turn fails.
	FallbackMessage = "Sorry, something went wrong."

	systemPrompt = "You are a helpful personal assistant. You can look up the user's Google contacts " +
		"and search their Gmail inbox with the available tools. If a tool reports an error, " +
		"explain the limitation to the user in plain language."

	threadTitleLength = 50
)

// EmitFunc delivers turn events to the client. A returned error means the
// client is gone; no further events are emitted.
type EmitFunc func(domain.TurnEvent) error

var errStreamClosed = errors.New("stream closed")

// PreparedTurn is a validated turn with its context resolved.
type PreparedTurn struct {
	Context   domain.TurnContext
	Thread    *domain.Thread
	Input     string
	StartedAt time.Time

	prompt      []llm.Message
	userMessage *domain.Message
}

// PrepareTurn validates the request, resolves the thread, history and
// credential, and stores the user message. Errors returned here happen
// before any stream is opened.
func (s *Service) PrepareTurn(ctx context.Context, userID string, req domain.ChatRequest) (*PreparedTurn, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, &domain.ValidationError{Message: "Message is required"}
	}
	startedAt := s.now().UTC()

	thread, err := s.resolveThread(ctx, userID, req.ThreadID, req.Message, startedAt)
	if err != nil {
		return nil, err
	}

	history, err := s.memory.History(ctx, thread.ID, s.config.HistoryLimit)
	if err != nil {
		s.logger.Warn().Err(err).Str("thread_id", thread.ID).Msg("failed to load history")
		history = nil
	}
	recalled, err := s.memory.Recall(ctx, userID, thread.ID, req.Message, s.config.RecallLimit)
	if err != nil {
		s.logger.Warn().Err(err).Str("thread_id", thread.ID).Msg("failed to recall memory")
		recalled = nil
	}

	var cred *domain.Credential
	if s.credentials != nil {
		cred, err = s.credentials.Resolve(ctx, userID)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to resolve credential")
			cred = nil
		}
	}

	userMsg := &domain.Message{
		ID:        uuid.NewString(),
		ThreadID:  thread.ID,
		UserID:    userID,
		Role:      domain.RoleUser,
		Content:   req.Message,
		CreatedAt: startedAt,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	return &PreparedTurn{
		Context:     domain.TurnContext{UserID: userID, ThreadID: thread.ID, Credential: cred},
		Thread:      thread,
		Input:       req.Message,
		StartedAt:   startedAt,
		prompt:      buildPrompt(history, memory.Note(recalled), req.Message),
		userMessage: userMsg,
	}, nil
}

func (s *Service) resolveThread(ctx context.Context, userID, threadID, input string, now time.Time) (*domain.Thread, error) {
	if threadID != "" {
		thread, err := s.store.GetThread(ctx, threadID)
		if err != nil {
			return nil, fmt.Errorf("failed to get thread: %w", err)
		}
		if thread != nil {
			if thread.UserID != userID {
				return nil, domain.ErrNotFound
			}
			return thread, nil
		}
	} else {
		threadID = uuid.NewString()
	}

	thread := &domain.Thread{
		ID:        threadID,
		UserID:    userID,
		Title:     ThreadTitle(input),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return thread, nil
}

// ThreadTitle derives a thread title from the first message.
func ThreadTitle(input string) string {
	title := strings.Join(strings.Fields(input), " ")
	runes := []rune(title)
	if len(runes) <= threadTitleLength {
		return title
	}
	return string(runes[:threadTitleLength]) + "..."
}

func buildPrompt(history []domain.Message, note, input string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	if note != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: note})
	}
	for _, m := range history {
		role := llm.RoleUser
		switch m.Role {
		case domain.RoleAssistant:
			role = llm.RoleAssistant
		case domain.RoleSystem:
			role = llm.RoleSystem
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: input})
}

// turnRun holds the mutable state of one running turn.
type turnRun struct {
	svc    *Service
	turn   *domain.Turn
	tc     domain.TurnContext
	root   *tracing.Span
	emit   EmitFunc
	buf    strings.Builder
	closed bool
}

// send forwards an event unless the client has gone away.
func (r *turnRun) send(ev domain.TurnEvent) error {
	if r.closed {
		return errStreamClosed
	}
	if err := r.emit(ev); err != nil {
		r.closed = true
		return fmt.Errorf("%w: %v", errStreamClosed, err)
	}
	return nil
}

func (r *turnRun) setState(state domain.TurnState) {
	r.turn.State = state
	r.svc.logger.Debug().
		Str("thread_id", r.turn.ThreadID).
		Str("trace_id", r.turn.TraceID).
		Str("state", string(state)).
		Msg("turn state")
}

// RunTurn runs a prepared turn, emitting its events in order. The reply is
// sealed and stored even when the client disconnects or the model fails;
// the returned error is informational since the stream has already been
// closed with a terminal event when possible.
func (s *Service) RunTurn(ctx context.Context, p *PreparedTurn, emit EmitFunc) error {
	root := s.recorder.StartTrace(ctx, p.Context.ThreadID, p.Context.UserID, tracing.SpanOptions{
		Type:     domain.SpanTypeAgentRun,
		Name:     "assistant",
		Input:    map[string]string{"message": p.Input},
		Metadata: domain.SpanMetadata{Model: s.config.LLMModel},
	})
	run := &turnRun{
		svc: s,
		turn: &domain.Turn{
			ThreadID:  p.Context.ThreadID,
			UserID:    p.Context.UserID,
			TraceID:   root.TraceID(),
			Input:     p.Input,
			StartedAt: p.StartedAt,
			State:     domain.TurnStateResolvingContext,
		},
		tc:   p.Context,
		root: root,
		emit: emit,
	}

	turnErr := run.send(domain.TurnEvent{Type: domain.EventTypeTraceID, TraceID: root.TraceID()})
	if turnErr == nil {
		turnErr = run.loop(ctx, p.prompt)
	}
	return s.seal(ctx, run, p, turnErr)
}

func (r *turnRun) loop(ctx context.Context, prompt []llm.Message) error {
	s := r.svc
	defs := s.toolDefinitions()
	messages := append([]llm.Message(nil), prompt...)

	for round := 1; ; round++ {
		r.setState(domain.TurnStateGenerating)
		withTools := len(defs) > 0 && round <= s.config.MaxToolRounds
		req := &llm.Request{Model: s.config.LLMModel, Messages: messages}
		if withTools {
			req.Tools = defs
		}

		text, calls, err := r.generate(ctx, round, req)
		if err != nil {
			return err
		}
		if len(calls) == 0 || !withTools {
			return nil
		}

		r.setState(domain.TurnStateToolDispatch)
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls})
		for _, call := range calls {
			result, err := r.dispatch(ctx, call)
			if err != nil {
				return err
			}
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: string(result), ToolCallID: call.ID})
		}
	}
}

// generate runs one model call under its own span and streams its text.
func (r *turnRun) generate(ctx context.Context, round int, req *llm.Request) (string, []llm.ToolCall, error) {
	s := r.svc
	span := r.root.StartChild(ctx, tracing.SpanOptions{
		Type:     domain.SpanTypeModelGeneration,
		Name:     req.Model,
		Input:    map[string]any{"messages": len(req.Messages), "tools": toolNamesOf(req.Tools)},
		Metadata: domain.SpanMetadata{Model: req.Model, Round: round},
	})

	var text strings.Builder
	var calls []llm.ToolCall
	genCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.config.ModelTimeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, s.config.ModelTimeout)
	}
	defer cancel()

	started := time.Now()
	usage, err := s.generator.Generate(genCtx, req, func(d llm.Decision) error {
		switch d.Kind {
		case llm.DecisionText:
			if d.Text == "" {
				return nil
			}
			text.WriteString(d.Text)
			r.buf.WriteString(d.Text)
			return r.send(domain.TurnEvent{Type: domain.EventTypeText, Text: d.Text})
		case llm.DecisionToolCall:
			if d.ToolCall != nil {
				calls = append(calls, *d.ToolCall)
			}
		}
		return nil
	})
	s.metrics.ModelObserved(req.Model, time.Since(started).Seconds())
	if err != nil && ctx.Err() == nil && errors.Is(genCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, errStreamClosed) {
		err = fmt.Errorf("%w: model call exceeded %s", domain.ErrUpstreamTimeout, s.config.ModelTimeout)
	}

	output := map[string]any{"text": text.String()}
	if len(calls) > 0 {
		output["toolCalls"] = calls
	}
	if usage != nil {
		output["usage"] = usage
	}
	span.End(ctx, output, err)
	return text.String(), calls, err
}

// dispatch runs one tool call under its own span. Tool failures become a
// structured result for the model; only a closed stream aborts the turn.
func (r *turnRun) dispatch(ctx context.Context, call llm.ToolCall) (json.RawMessage, error) {
	s := r.svc
	span := r.root.StartChild(ctx, tracing.SpanOptions{
		Type:  domain.SpanTypeToolCall,
		Name:  call.Name,
		Input: call.Arguments,
	})

	if err := r.send(domain.TurnEvent{
		Type:     domain.EventTypeToolDispatched,
		ToolCall: &domain.ToolCallEvent{ID: call.ID, Name: call.Name, Args: call.Arguments},
	}); err != nil {
		span.End(ctx, nil, err)
		return nil, err
	}

	result, err := s.executeTool(ctx, r.tc, call)
	status := toolStatus(err)
	if err != nil {
		result = toolErrorResult(err)
		s.logger.Warn().Err(err).
			Str("trace_id", r.turn.TraceID).
			Str("tool", call.Name).
			Str("status", string(status)).
			Msg("tool call failed")
	}
	s.metrics.ToolCalled(call.Name, string(status))
	span.End(ctx, result, err)

	if err := r.send(domain.TurnEvent{
		Type:     domain.EventTypeToolResult,
		ToolCall: &domain.ToolCallEvent{ID: call.ID, Name: call.Name, Status: status, Result: result},
	}); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) executeTool(ctx context.Context, tc domain.TurnContext, call llm.ToolCall) (json.RawMessage, error) {
	if s.policy != nil {
		var args map[string]any
		_ = json.Unmarshal(call.Arguments, &args)
		decision, err := s.policy.Evaluate(ctx, policyInput(call.Name, tc, args, s.config.DisabledTools))
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		if !decision.Allowed() {
			return nil, fmt.Errorf("%w: %s", domain.ErrToolBlocked, decision.Reason)
		}
	}
	return s.tools.Execute(ctx, call.Name, call.Arguments, tc.Credential)
}

// seal stores the reply, closes the root span and writes the terminal events.
func (s *Service) seal(ctx context.Context, r *turnRun, p *PreparedTurn, turnErr error) error {
	r.setState(domain.TurnStateSealing)
	sealCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.SealTimeout)
	defer cancel()

	disconnected := r.closed || errors.Is(turnErr, errStreamClosed) || (turnErr != nil && ctx.Err() != nil)
	outcome := "completed"
	switch {
	case disconnected:
		outcome = "disconnected"
	case turnErr != nil:
		outcome = "errored"
		s.logger.Error().Err(turnErr).
			Str("thread_id", r.turn.ThreadID).
			Str("trace_id", r.turn.TraceID).
			Msg("turn failed")
		if r.buf.Len() == 0 {
			r.buf.WriteString(FallbackMessage)
			_ = r.send(domain.TurnEvent{Type: domain.EventTypeText, Text: FallbackMessage})
		}
	}

	output := r.buf.String()
	r.turn.Output = output
	if output != "" {
		at := s.now().UTC()
		if !at.After(p.userMessage.CreatedAt) {
			at = p.userMessage.CreatedAt.Add(time.Millisecond)
		}
		reply := &domain.Message{
			ID:        uuid.NewString(),
			ThreadID:  r.turn.ThreadID,
			UserID:    r.turn.UserID,
			Role:      domain.RoleAssistant,
			Content:   output,
			CreatedAt: at,
		}
		if err := s.store.CreateMessage(sealCtx, reply); err != nil {
			s.logger.Error().Err(err).Str("thread_id", r.turn.ThreadID).Msg("failed to save assistant message")
			if turnErr == nil {
				turnErr = fmt.Errorf("failed to save assistant message: %w", err)
				outcome = "errored"
			}
		}
		if err := s.store.TouchThread(sealCtx, r.turn.ThreadID, at); err != nil {
			s.logger.Warn().Err(err).Str("thread_id", r.turn.ThreadID).Msg("failed to touch thread")
		}
		r.turn.EndedAt = &at
	}

	var spanErr error
	if outcome == "errored" {
		spanErr = turnErr
	}
	r.root.End(sealCtx, map[string]string{"text": output, "outcome": outcome}, spanErr)
	s.metrics.TurnFinished(outcome)

	if outcome == "errored" {
		r.setState(domain.TurnStateErrored)
		_ = r.send(domain.TurnEvent{Type: domain.EventTypeError, Error: publicError(turnErr)})
	} else {
		r.setState(domain.TurnStateDone)
	}
	_ = r.send(domain.TurnEvent{Type: domain.EventTypeDone})

	if outcome == "completed" {
		return nil
	}
	return turnErr
}

func (s *Service) toolDefinitions() []llm.ToolDefinition {
	if s.tools == nil {
		return nil
	}
	list := s.tools.List()
	defs := make([]llm.ToolDefinition, 0, len(list))
	for _, t := range list {
		defs = append(defs, llm.ToolDefinition{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return defs
}

func policyInput(name string, tc domain.TurnContext, args map[string]any, disabled []string) policy.Input {
	if disabled == nil {
		disabled = []string{}
	}
	return policy.Input{
		ToolName:      name,
		UserID:        tc.UserID,
		ThreadID:      tc.ThreadID,
		Args:          args,
		DisabledTools: disabled,
	}
}

func toolNamesOf(defs []llm.ToolDefinition) []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}

func toolStatus(err error) domain.ToolCallStatus {
	switch {
	case err == nil:
		return domain.ToolCallStatusSucceeded
	case errors.Is(err, domain.ErrToolBlocked):
		return domain.ToolCallStatusBlocked
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.ToolCallStatusTimeout
	default:
		return domain.ToolCallStatusFailed
	}
}

func toolErrorResult(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]domain.ToolError{
		"error": {Code: domain.ErrorCode(err), Message: err.Error()},
	})
	return data
}

func publicError(err error) string {
	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "The assistant took too long to respond"
	default:
		return "Failed to generate a response"
	}
}
