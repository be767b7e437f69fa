package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

func sseServer(t *testing.T, chunks []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if captured != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collect(t *testing.T, g Generator, req *Request) ([]Decision, *Usage, error) {
	t.Helper()
	var decisions []Decision
	usage, err := g.Generate(context.Background(), req, func(d Decision) error {
		decisions = append(decisions, d)
		return nil
	})
	return decisions, usage, err
}

func TestOpenAIStreamsText(t *testing.T) {
	server := sseServer(t, []string{
		`{"id":"c1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{"content":"lo!"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"m","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
	}, nil)
	defer server.Close()

	client := NewOpenAIClient(server.URL+"/v1", "key", nil)
	decisions, usage, err := collect(t, client, &Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "Hi"}}})
	require.NoError(t, err)

	require.Len(t, decisions, 2)
	assert.Equal(t, DecisionText, decisions[0].Kind)
	assert.Equal(t, "Hel", decisions[0].Text)
	assert.Equal(t, "lo!", decisions[1].Text)
	require.NotNil(t, usage)
	assert.Equal(t, 7, usage.TotalTokens)
}

func TestOpenAIAccumulatesToolCalls(t *testing.T) {
	var body map[string]any
	server := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"contacts__list","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"mail__search","arguments":"{\"query\""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"invoice\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}, &body)
	defer server.Close()

	client := NewOpenAIClient(server.URL+"/v1", "key", nil)
	req := &Request{
		Model:    "m",
		Messages: []Message{{Role: RoleUser, Content: "find invoice mail"}},
		Tools: []ToolDefinition{
			{Name: "mail.search", Description: "search", Parameters: json.RawMessage(`{"$schema":"https://json-schema.org/draft/2020-12/schema","type":"object"}`)},
			{Name: "contacts.list", Description: "contacts", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	}
	decisions, _, err := collect(t, client, req)
	require.NoError(t, err)

	require.Len(t, decisions, 2)
	assert.Equal(t, DecisionToolCall, decisions[0].Kind)
	assert.Equal(t, "call_a", decisions[0].ToolCall.ID)
	assert.Equal(t, "mail.search", decisions[0].ToolCall.Name)
	assert.JSONEq(t, `{"query":"invoice"}`, string(decisions[0].ToolCall.Arguments))
	assert.Equal(t, "contacts.list", decisions[1].ToolCall.Name)
	assert.JSONEq(t, `{}`, string(decisions[1].ToolCall.Arguments))

	tools := body["tools"].([]any)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "mail__search", fn["name"])
	assert.NotContains(t, fn["parameters"].(map[string]any), "$schema")
}

func TestOpenAIReplaysToolMessages(t *testing.T) {
	var body map[string]any
	server := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"content":"done"},"finish_reason":"stop"}]}`,
	}, &body)
	defer server.Close()

	client := NewOpenAIClient(server.URL+"/v1", "key", nil)
	req := &Request{
		Model: "m",
		Messages: []Message{
			{Role: RoleUser, Content: "contacts?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "contacts.list", Arguments: json.RawMessage(`{}`)}}},
			{Role: RoleTool, ToolCallID: "call_1", Content: `{"contacts":[]}`},
		},
		Tools: []ToolDefinition{{Name: "contacts.list", Parameters: json.RawMessage(`{"type":"object"}`)}},
	}
	_, _, err := collect(t, client, req)
	require.NoError(t, err)

	messages := body["messages"].([]any)
	require.Len(t, messages, 3)
	assistant := messages[1].(map[string]any)
	call := assistant["tool_calls"].([]any)[0].(map[string]any)
	assert.Equal(t, "contacts__list", call["function"].(map[string]any)["name"])
	assert.Equal(t, "call_1", messages[2].(map[string]any)["tool_call_id"])
}

func TestOpenAIMapsUpstreamErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL+"/v1", "key", nil)
	_, _, err := collect(t, client, &Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "Hi"}}})

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, upstream.Status)
	assert.Equal(t, "bad key", upstream.Body)
}

func TestOpenAIStopsWhenEmitFails(t *testing.T) {
	server := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"b"}}]}`,
	}, nil)
	defer server.Close()

	stop := errors.New("client gone")
	client := NewOpenAIClient(server.URL+"/v1", "key", nil)
	calls := 0
	_, err := client.Generate(context.Background(), &Request{Model: "m"}, func(d Decision) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
