package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// OpenAIClient streams chat completions from an OpenAI-compatible API.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a client for baseURL authenticated with apiKey.
func NewOpenAIClient(baseURL, apiKey string, httpClient *http.Client) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// Generate streams text tokens as they arrive and emits tool calls once
// their arguments are complete.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request, emit EmitFunc) (*Usage, error) {
	names := newToolNames(req.Tools)
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      toOpenAIMessages(req.Messages, names),
		Tools:         toOpenAITools(req.Tools, names),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, mapError(err)
	}
	defer stream.Close()

	pending := map[int]*ToolCall{}
	var usage *Usage

	flush := func() error {
		indexes := make([]int, 0, len(pending))
		for i := range pending {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			tc := pending[i]
			if tc.Name == "" {
				continue
			}
			if len(tc.Arguments) == 0 {
				tc.Arguments = json.RawMessage(`{}`)
			}
			if err := emit(Decision{Kind: DecisionToolCall, ToolCall: tc}); err != nil {
				return err
			}
		}
		pending = map[int]*ToolCall{}
		return nil
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if err := flush(); err != nil {
				return usage, err
			}
			return usage, nil
		}
		if err != nil {
			return usage, mapError(err)
		}

		if resp.Usage != nil {
			usage = &Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			if err := emit(Decision{Kind: DecisionText, Text: choice.Delta.Content}); err != nil {
				return usage, err
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := pending[index]
			if call == nil {
				call = &ToolCall{}
				pending[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = names.internal(tc.Function.Name)
			}
			if tc.Function.Arguments != "" {
				call.Arguments = append(call.Arguments, tc.Function.Arguments...)
			}
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			if err := flush(); err != nil {
				return usage, err
			}
		}
	}
}

func toOpenAIMessages(messages []Message, names toolNames) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      names.external(tc.Name),
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []ToolDefinition, names toolNames) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		delete(schema, "$schema")
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        names.external(tool.Name),
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

// toolNames maps tool names to identifiers the OpenAI API accepts
// (letters, digits, underscore and dash only).
type toolNames map[string]string

func newToolNames(tools []ToolDefinition) toolNames {
	n := toolNames{}
	for _, t := range tools {
		n[n.external(t.Name)] = t.Name
	}
	return n
}

func (n toolNames) external(name string) string {
	return strings.ReplaceAll(name, ".", "__")
}

func (n toolNames) internal(name string) string {
	if original, ok := n[name]; ok {
		return original
	}
	return name
}

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.UpstreamError{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := string(reqErr.Body)
		if body == "" && reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &domain.UpstreamError{Status: reqErr.HTTPStatusCode, Body: body}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	return err
}
