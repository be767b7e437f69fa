package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

func turnEvents() []domain.TurnEvent {
	return []domain.TurnEvent{
		{Type: domain.EventTypeTraceID, TraceID: "trace-1"},
		{Type: domain.EventTypeText, Text: "Hello"},
		{Type: domain.EventTypeText, Text: " wor\nld \"quoted\""},
		{Type: domain.EventTypeToolDispatched, ToolCall: &domain.ToolCallEvent{ID: "c1", Name: "contacts.list", Args: json.RawMessage(`{}`)}},
		{Type: domain.EventTypeToolResult, ToolCall: &domain.ToolCallEvent{ID: "c1", Name: "contacts.list", Status: domain.ToolCallStatusSucceeded, Result: json.RawMessage(`{"contacts":[]}`)}},
		{Type: domain.EventTypeError, Error: "Failed to generate a response"},
		{Type: domain.EventTypeDone},
	}
}

func TestEncodeSSEFrames(t *testing.T) {
	cases := []struct {
		ev   domain.TurnEvent
		want string
	}{
		{domain.TurnEvent{Type: domain.EventTypeTraceID, TraceID: "abc"}, "event: traceId\ndata: \"abc\"\n\n"},
		{domain.TurnEvent{Type: domain.EventTypeText, Text: "Hi"}, "data: \"Hi\"\n\n"},
		{domain.TurnEvent{Type: domain.EventTypeError, Error: "boom"}, "event: error\ndata: {\"error\":\"boom\"}\n\n"},
		{domain.TurnEvent{Type: domain.EventTypeDone}, "data: [DONE]\n\n"},
	}
	for _, tc := range cases {
		got, err := EncodeSSE(tc.ev)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(got))
	}

	_, err := EncodeSSE(domain.TurnEvent{Type: "bogus"})
	assert.Error(t, err)
}

func TestSSEWriterRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)
	for _, ev := range turnEvents() {
		require.NoError(t, w.Write(ev))
	}
	assert.True(t, rec.Flushed)

	var frames []Frame
	require.NoError(t, ReadSSE(strings.NewReader(rec.Body.String()), func(f Frame) error {
		frames = append(frames, f)
		return nil
	}))
	require.Len(t, frames, 7)

	assert.Equal(t, EventTraceID, frames[0].Event)
	var text string
	for _, f := range frames[1:3] {
		assert.Empty(t, f.Event)
		var chunk string
		require.NoError(t, json.Unmarshal([]byte(f.Data), &chunk), "each text frame is one JSON value")
		text += chunk
	}
	assert.Equal(t, "Hello wor\nld \"quoted\"", text)

	var tool map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[4].Data), &tool))
	assert.Equal(t, EventTool, frames[4].Event)
	assert.Equal(t, "tool_result", tool["type"])
	assert.Equal(t, "SUCCEEDED", tool["status"])

	assert.Equal(t, EventError, frames[5].Event)
	assert.True(t, frames[6].Done())
	for _, f := range frames[:6] {
		assert.False(t, f.Done())
	}
}

func TestEncodeWS(t *testing.T) {
	msg, err := EncodeWS(domain.TurnEvent{Type: domain.EventTypeText, Text: "tok"})
	require.NoError(t, err)
	assert.Equal(t, TypeText, msg.Type)
	assert.JSONEq(t, `"tok"`, string(msg.Data))

	msg, err = EncodeWS(domain.TurnEvent{Type: domain.EventTypeDone})
	require.NoError(t, err)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"done"}`, string(data))
}

func TestWSWriterSendsMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		writer := NewWSWriter(conn, time.Second)
		for _, ev := range turnEvents() {
			if err := writer.Write(ev); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var types []string
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
		if msg.Type == TypeDone {
			break
		}
	}
	assert.Equal(t, []string{TypeTraceID, TypeText, TypeText, TypeTool, TypeTool, TypeError, TypeDone}, types)
}
