package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// WebSocket message types.
const (
	TypeTraceID = "traceId"
	TypeText    = "text"
	TypeTool    = "tool"
	TypeError   = "error"
	TypeDone    = "done"
)

// WSMessage is one server-to-client WebSocket message.
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WSWriter writes turn events as JSON WebSocket messages.
type WSWriter struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWSWriter wraps conn.
func NewWSWriter(conn *websocket.Conn, writeTimeout time.Duration) *WSWriter {
	return &WSWriter{conn: conn, writeTimeout: writeTimeout}
}

// Write sends ev as one message.
func (w *WSWriter) Write(ev domain.TurnEvent) error {
	msg, err := EncodeWS(ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// EncodeWS converts ev to its WebSocket message.
func EncodeWS(ev domain.TurnEvent) (WSMessage, error) {
	var (
		typ  string
		data any
	)
	switch ev.Type {
	case domain.EventTypeTraceID:
		typ, data = TypeTraceID, ev.TraceID
	case domain.EventTypeText:
		typ, data = TypeText, ev.Text
	case domain.EventTypeToolDispatched, domain.EventTypeToolResult:
		typ, data = TypeTool, ToolFrame{Type: string(ev.Type), ToolCallEvent: ev.ToolCall}
	case domain.EventTypeError:
		typ, data = TypeError, ErrorFrame{Error: ev.Error}
	case domain.EventTypeDone:
		return WSMessage{Type: TypeDone}, nil
	default:
		return WSMessage{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return WSMessage{}, fmt.Errorf("failed to encode %s message: %w", ev.Type, err)
	}
	return WSMessage{Type: typ, Data: raw}, nil
}
