package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockClient is a deterministic Generator used when GOGO_MODE=MOCK.
type MockClient struct {
	chunkSize int
}

// NewMockClient creates a new mock generator.
func NewMockClient() *MockClient {
	return &MockClient{chunkSize: 10}
}

// Generate answers a tool result with a summary, asks for a tool when the
// user mentions contacts or mail and one is available, and echoes otherwise.
func (m *MockClient) Generate(ctx context.Context, req *Request, emit EmitFunc) (*Usage, error) {
	if call := m.toolCallFor(req); call != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := emit(Decision{Kind: DecisionToolCall, ToolCall: call}); err != nil {
			return nil, err
		}
		return m.usage(req, ""), nil
	}

	responseContent := m.generateMockResponse(req)
	for _, chunk := range m.splitIntoChunks(responseContent, m.chunkSize) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := emit(Decision{Kind: DecisionText, Text: chunk}); err != nil {
			return nil, err
		}
	}
	return m.usage(req, responseContent), nil
}

func (m *MockClient) toolCallFor(req *Request) *ToolCall {
	if len(req.Messages) == 0 || len(req.Tools) == 0 {
		return nil
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != RoleUser {
		return nil
	}
	text := strings.ToLower(last.Content)
	available := map[string]bool{}
	for _, t := range req.Tools {
		available[t.Name] = true
	}

	switch {
	case available["contacts.list"] && strings.Contains(text, "contact"):
		return &ToolCall{ID: "mock-call-contacts", Name: "contacts.list", Arguments: json.RawMessage(`{}`)}
	case available["mail.search"] && (strings.Contains(text, "mail") || strings.Contains(text, "inbox")):
		args, _ := json.Marshal(map[string]any{"query": last.Content, "maxResults": 5})
		return &ToolCall{ID: "mock-call-mail", Name: "mail.search", Arguments: args}
	}
	return nil
}

// generateMockResponse generates a mock response based on the request.
func (m *MockClient) generateMockResponse(req *Request) string {
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == RoleTool {
		result := req.Messages[n-1]
		return fmt.Sprintf("[MOCK] Tool %s returned: %s", m.toolNameFor(req, result.ToolCallID), truncate(result.Content, 200))
	}

	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}

	if lastUserMessage == "" {
		return "[MOCK] This is a mock response from the LLM client."
	}

	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

func (m *MockClient) toolNameFor(req *Request, callID string) string {
	for _, msg := range req.Messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == callID {
				return tc.Name
			}
		}
	}
	return "unknown"
}

func (m *MockClient) usage(req *Request, completion string) *Usage {
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(msg.Content) / 4
	}
	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: len(completion) / 4,
		TotalTokens:      prompt + len(completion)/4,
	}
}

// splitIntoChunks splits a string into chunks of at most chunkSize runes.
func (m *MockClient) splitIntoChunks(s string, chunkSize int) []string {
	runes := []rune(s)
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
