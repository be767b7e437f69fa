package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/xiaot623/gogo/assistant/internal/adapter/llm"
	"github.com/xiaot623/gogo/assistant/internal/auth"
	"github.com/xiaot623/gogo/assistant/internal/config"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/observability"
	"github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/internal/service"
	"github.com/xiaot623/gogo/assistant/internal/stream"
	"github.com/xiaot623/gogo/assistant/internal/tools"
	"github.com/xiaot623/gogo/assistant/internal/tracing"
	"github.com/xiaot623/gogo/assistant/tests/helpers"
)

type testServer struct {
	e        *echo.Echo
	h        *Handler
	store    *repository.SQLStore
	sessions *auth.SessionManager
}

func newTestServer(t *testing.T, authenticator *auth.Authenticator) *testServer {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)
	cfg := &config.Config{
		LLMModel:      "mock",
		ModelTimeout:  5 * time.Second,
		ToolTimeout:   time.Second,
		SealTimeout:   time.Second,
		MaxToolRounds: 3,
		HistoryLimit:  20,
		RecallLimit:   3,
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	recorder := tracing.NewRecorder(store, tracing.WithMetrics(metrics))
	svc := service.New(store, llm.NewMockClient(), tools.NewRegistry(cfg.ToolTimeout), nil, nil, recorder, metrics, cfg)

	sessions := auth.NewSessionManager("test-secret", time.Hour)
	h := NewHandler(svc, Options{
		Authenticator: authenticator,
		Sessions:      sessions,
		Metrics:       metrics,
		Gatherer:      reg,
	})
	return &testServer{
		e:        NewServer(h, metrics, []string{"http://localhost:3000"}),
		h:        h,
		store:    store,
		sessions: sessions,
	}
}

func (s *testServer) cookie(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	token, err := s.sessions.Issue(&domain.User{ID: userID, Email: userID + "@example.com"})
	require.NoError(t, err)
	return &http.Cookie{Name: auth.SessionCookie, Value: token}
}

func (s *testServer) do(t *testing.T, method, target, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if userID != "" {
		req.AddCookie(s.cookie(t, userID))
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t, nil)

	routes := []struct{ method, path, body string }{
		{http.MethodPost, "/chat/stream", `{"message":"Hello"}`},
		{http.MethodGet, "/chat/history", ""},
		{http.MethodGet, "/chat/threads", ""},
		{http.MethodPost, "/chat/threads", `{}`},
		{http.MethodDelete, "/chat/threads/t1", ""},
		{http.MethodGet, "/chat/ws", ""},
		{http.MethodGet, "/traces", ""},
		{http.MethodGet, "/traces/conversation/t1", ""},
		{http.MethodGet, "/traces/abc", ""},
		{http.MethodGet, "/auth/me", ""},
	}
	for _, r := range routes {
		rec := s.do(t, r.method, r.path, r.body, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", r.method, r.path)
		assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	}

	threads, err := s.store.ListThreads(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, threads)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", "").Code)
}

func TestStreamChatRejectsBlankMessage(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/chat/stream", `{"message":"   "}`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Message is required"}`, rec.Body.String())
}

func TestStreamChatRejectsNonStringMessage(t *testing.T) {
	s := newTestServer(t, nil)

	for _, body := range []string{`{"message":123}`, `{"message":null}`, `{"message":["Hello"]}`, `{"message":`} {
		rec := s.do(t, http.MethodPost, "/chat/stream", body, "u1")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"Message is required"}`, rec.Body.String(), body)
	}

	threads, err := s.store.ListThreads(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestListTracesHasMore(t *testing.T) {
	s := newTestServer(t, nil)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/chat/stream", `{"message":"Hello"}`, "u1").Code)
	}

	var page struct {
		Traces  []domain.TraceSummary `json:"traces"`
		Page    int                   `json:"page"`
		HasMore bool                  `json:"hasMore"`
	}
	rec := s.do(t, http.MethodGet, "/traces?groupBy=trace&limit=2&page=1", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Page)
	assert.NotEmpty(t, page.Traces)
	assert.True(t, page.HasMore)

	rec = s.do(t, http.MethodGet, "/traces?groupBy=trace", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	page.HasMore = true
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Traces, 3)
	assert.False(t, page.HasMore)
}

func TestStreamChatHelloEndToEnd(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/chat/stream", `{"message":"Hello"}`, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	var frames []stream.Frame
	require.NoError(t, stream.ReadSSE(strings.NewReader(rec.Body.String()), func(f stream.Frame) error {
		frames = append(frames, f)
		return nil
	}))
	require.GreaterOrEqual(t, len(frames), 3)
	assert.Equal(t, stream.EventTraceID, frames[0].Event)
	var traceID string
	require.NoError(t, json.Unmarshal([]byte(frames[0].Data), &traceID))
	assert.True(t, frames[len(frames)-1].Done())

	var reply strings.Builder
	for _, f := range frames[1 : len(frames)-1] {
		assert.Empty(t, f.Event)
		var chunk string
		require.NoError(t, json.Unmarshal([]byte(f.Data), &chunk))
		reply.WriteString(chunk)
	}
	assert.Equal(t, `[MOCK] Received your message: "Hello". This is a mock response.`, reply.String())

	rec = s.do(t, http.MethodGet, "/chat/threads", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var threads struct {
		Threads []domain.Thread `json:"threads"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &threads))
	require.Len(t, threads.Threads, 1)
	assert.Equal(t, "Hello", threads.Threads[0].Title)

	rec = s.do(t, http.MethodGet, "/chat/history?threadId="+threads.Threads[0].ID, "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Messages []domain.HistoryMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Messages, 2)
	assert.Equal(t, domain.RoleUser, history.Messages[0].Role)
	assert.Equal(t, "Hello", history.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, history.Messages[1].Role)
	assert.Equal(t, reply.String(), history.Messages[1].Content)

	rec = s.do(t, http.MethodGet, "/traces/"+traceID, "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Trace domain.Trace `json:"trace"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, traceID, detail.Trace.TraceID)
	assert.Len(t, detail.Trace.Spans, 2)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/traces/"+traceID, "", "u2").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/traces/missing", "", "u1").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/traces?groupBy=bogus", "", "u1").Code)

	rec = s.do(t, http.MethodGet, "/traces?groupBy=trace&limit=5", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), traceID)

	rec = s.do(t, http.MethodGet, "/traces", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"traceCount":1`)

	rec = s.do(t, http.MethodGet, "/traces/conversation/"+threads.Threads[0].ID, "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), traceID)

	rec = s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `assistant_turns_total{outcome="completed"} 1`)
}

func TestDeleteThreadOfAnotherUser(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/chat/threads", `{}`, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var created struct {
		Thread domain.Thread `json:"thread"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "New Chat", created.Thread.Title)

	rec = s.do(t, http.MethodDelete, "/chat/threads/"+created.Thread.ID, "", "u2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Thread not found"}`, rec.Body.String())

	thread, err := s.store.GetThread(context.Background(), created.Thread.ID)
	require.NoError(t, err)
	require.NotNil(t, thread, "foreign delete leaves the thread intact")

	rec = s.do(t, http.MethodDelete, "/chat/threads/"+created.Thread.ID, "", "u1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestCreateThreadHandler(t *testing.T) {
	e := echo.New()
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat/threads", strings.NewReader(`{"title":"Planning"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	auth.SetUser(c, &domain.User{ID: "u1"})

	if err := s.h.CreateThread(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Thread domain.Thread `json:"thread"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Thread.Title != "Planning" || resp.Thread.UserID != "u1" {
		t.Fatalf("unexpected thread: %+v", resp.Thread)
	}
}

func TestGetHistoryDefaultThread(t *testing.T) {
	e := echo.New()
	s := newTestServer(t, nil)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	helpers.SeedThread(t, s.store, service.DefaultThreadID("u1"), "u1", start, "hi", "hello there")

	req := httptest.NewRequest(http.MethodGet, "/chat/history", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	auth.SetUser(c, &domain.User{ID: "u1"})

	if err := s.h.GetHistory(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp struct {
		Messages []domain.HistoryMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 2 || resp.Messages[0].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", resp.Messages)
	}
	if resp.Messages[0].CreatedAt != "2026-03-01T09:00:00Z" {
		t.Fatalf("unexpected createdAt: %s", resp.Messages[0].CreatedAt)
	}
}

func TestLoginFlow(t *testing.T) {
	disabled := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, disabled.do(t, http.MethodGet, "/auth/google/login", "", "").Code)

	provider := auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: "http://idp.test/auth", TokenURL: "http://idp.test/token"},
	})
	s := newTestServer(t, nil)
	s.h.authenticator = auth.NewAuthenticator(provider, s.store, s.sessions)

	rec := s.do(t, http.MethodGet, "/auth/google/login", "", "")
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	location := rec.Header().Get(echo.HeaderLocation)
	assert.True(t, strings.HasPrefix(location, "http://idp.test/auth?"))

	var state *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == stateCookie {
			state = ck
		}
	}
	require.NotNil(t, state)
	assert.Contains(t, location, "state="+state.Value)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=x&state=wrong", nil)
	req.AddCookie(state)
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/auth/me", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"u1"`)

	rec = s.do(t, http.MethodPost, "/auth/logout", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), auth.SessionCookie+"=;")
}

func TestChatWebSocket(t *testing.T) {
	s := newTestServer(t, nil)
	server := httptest.NewServer(s.e)
	defer server.Close()

	header := http.Header{}
	header.Set("Cookie", s.cookie(t, "u1").String())
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/chat/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	readTurn := func() []stream.WSMessage {
		var msgs []stream.WSMessage
		for {
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
			var msg stream.WSMessage
			require.NoError(t, conn.ReadJSON(&msg))
			msgs = append(msgs, msg)
			if msg.Type == stream.TypeDone {
				return msgs
			}
		}
	}

	require.NoError(t, conn.WriteJSON(domain.ChatRequest{Message: "Hello"}))
	msgs := readTurn()
	assert.Equal(t, stream.TypeTraceID, msgs[0].Type)
	assert.Equal(t, stream.TypeText, msgs[1].Type)

	require.NoError(t, conn.WriteJSON(domain.ChatRequest{Message: " "}))
	msgs = readTurn()
	require.Len(t, msgs, 2)
	assert.Equal(t, stream.TypeError, msgs[0].Type)
	assert.JSONEq(t, `{"error":"Message is required"}`, string(msgs[0].Data))

	for _, body := range []string{`{"message":123}`, `{"message":null}`, `not json`} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(body)))
		msgs = readTurn()
		require.Len(t, msgs, 2, body)
		assert.Equal(t, stream.TypeError, msgs[0].Type, body)
		assert.JSONEq(t, `{"error":"Message is required"}`, string(msgs[0].Data), body)
	}

	require.NoError(t, conn.WriteJSON(domain.ChatRequest{Message: "Hello again"}))
	msgs = readTurn()
	assert.Equal(t, stream.TypeTraceID, msgs[0].Type, "connection stays usable after a bad message")
}
