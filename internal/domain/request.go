package domain

// ChatRequest is the body of POST /chat/stream and of WebSocket turns.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId,omitempty"`
}

// CreateThreadRequest is the body of POST /chat/threads.
type CreateThreadRequest struct {
	Title string `json:"title,omitempty"`
}

// HistoryMessage is a message as returned by /chat/history.
type HistoryMessage struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// TraceListOptions selects and paginates trace listings.
type TraceListOptions struct {
	GroupBy TraceGrouping
	Limit   int
	Page    int
}
