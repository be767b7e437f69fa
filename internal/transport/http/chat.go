package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/assistant/internal/auth"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/service"
	"github.com/xiaot623/gogo/assistant/internal/stream"
)

const maxWSMessageSize = 64 * 1024

// StreamChat runs one turn and streams it as server-sent events.
// POST /chat/stream
func (h *Handler) StreamChat(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Message is required"})
	}

	ctx := c.Request().Context()
	prepared, err := h.service.PrepareTurn(ctx, auth.UserID(c), req)
	if err != nil {
		return h.respondError(c, err, "Thread not found")
	}

	stream.SetSSEHeaders(c.Response().Header())
	c.Response().WriteHeader(http.StatusOK)
	release := h.metrics.StreamOpened("sse")
	defer release()

	writer := stream.NewSSEWriter(c.Response())
	if err := h.service.RunTurn(ctx, prepared, writer.Write); err != nil {
		// Status is already sent.
		h.logger.Warn().Err(err).Str("thread_id", prepared.Thread.ID).Msg("turn ended with error")
	}
	return nil
}

// ChatWebSocket runs turns over a WebSocket, one per client message.
// GET /chat/ws
func (h *Handler) ChatWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(maxWSMessageSize)

	release := h.metrics.StreamOpened("ws")
	defer release()

	ctx := c.Request().Context()
	userID := auth.UserID(c)
	writer := stream.NewWSWriter(conn, h.wsTimeout)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("websocket read failed")
			}
			return nil
		}

		prepared, err := h.prepareWSTurn(ctx, userID, payload)
		if err != nil {
			if writeErr := writer.Write(domain.TurnEvent{Type: domain.EventTypeError, Error: wsErrorMessage(err)}); writeErr != nil {
				return nil
			}
			if writeErr := writer.Write(domain.TurnEvent{Type: domain.EventTypeDone}); writeErr != nil {
				return nil
			}
			continue
		}
		if err := h.service.RunTurn(ctx, prepared, writer.Write); err != nil {
			h.logger.Warn().Err(err).Str("thread_id", prepared.Thread.ID).Msg("turn ended with error")
		}
	}
}

// GetHistory returns the messages of a thread.
// GET /chat/history?threadId=
func (h *Handler) GetHistory(c echo.Context) error {
	messages, err := h.service.History(c.Request().Context(), auth.UserID(c), c.QueryParam("threadId"))
	if err != nil {
		return h.respondError(c, err, "Thread not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": messages})
}

// ListThreads lists the user's threads.
// GET /chat/threads
func (h *Handler) ListThreads(c echo.Context) error {
	threads, err := h.service.ListThreads(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return h.respondError(c, err, "Thread not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"threads": threads})
}

// CreateThread creates an empty thread.
// POST /chat/threads
func (h *Handler) CreateThread(c echo.Context) error {
	var req domain.CreateThreadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	thread, err := h.service.CreateThread(c.Request().Context(), auth.UserID(c), req.Title)
	if err != nil {
		return h.respondError(c, err, "Thread not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"thread": thread})
}

// DeleteThread deletes one of the user's threads.
// DELETE /chat/threads/:id
func (h *Handler) DeleteThread(c echo.Context) error {
	if err := h.service.DeleteThread(c.Request().Context(), auth.UserID(c), c.Param("id")); err != nil {
		return h.respondError(c, err, "Thread not found")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// prepareWSTurn decodes one client message and prepares its turn. A body
// that is not a chat request fails validation like a missing message.
func (h *Handler) prepareWSTurn(ctx context.Context, userID string, payload []byte) (*service.PreparedTurn, error) {
	var req domain.ChatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &domain.ValidationError{Message: "Message is required"}
	}
	return h.service.PrepareTurn(ctx, userID, req)
}

func wsErrorMessage(err error) string {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return validation.Message
	}
	if errors.Is(err, domain.ErrNotFound) {
		return "Thread not found"
	}
	return "Internal server error"
}
