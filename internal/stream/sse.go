// Package stream frames turn events for SSE and WebSocket clients.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// SSE event names. Text frames carry no event name.
const (
	EventTraceID = "traceId"
	EventTool    = "tool"
	EventError   = "error"

	// DoneData is the payload of the terminal frame.
	DoneData = "[DONE]"
)

// ToolFrame is the payload of a tool frame.
type ToolFrame struct {
	Type string `json:"type"`
	*domain.ToolCallEvent
}

// ErrorFrame is the payload of an error frame.
type ErrorFrame struct {
	Error string `json:"error"`
}

// SSEWriter writes one flushed frame per turn event.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// SetSSEHeaders prepares a response for event streaming.
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// NewSSEWriter wraps w. Frames are flushed when w implements http.Flusher.
func NewSSEWriter(w io.Writer) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

// Write frames ev and flushes it.
func (s *SSEWriter) Write(ev domain.TurnEvent) error {
	frame, err := EncodeSSE(ev)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// EncodeSSE renders ev as a complete SSE frame.
func EncodeSSE(ev domain.TurnEvent) ([]byte, error) {
	var event string
	var data []byte
	var err error

	switch ev.Type {
	case domain.EventTypeTraceID:
		event = EventTraceID
		data, err = json.Marshal(ev.TraceID)
	case domain.EventTypeText:
		data, err = json.Marshal(ev.Text)
	case domain.EventTypeToolDispatched, domain.EventTypeToolResult:
		event = EventTool
		data, err = json.Marshal(ToolFrame{Type: string(ev.Type), ToolCallEvent: ev.ToolCall})
	case domain.EventTypeError:
		event = EventError
		data, err = json.Marshal(ErrorFrame{Error: ev.Error})
	case domain.EventTypeDone:
		data = []byte(DoneData)
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", ev.Type, err)
	}

	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
