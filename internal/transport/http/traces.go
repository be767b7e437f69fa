package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/assistant/internal/auth"
	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// ListTraces lists traces grouped by conversation or as a flat page.
// GET /traces?groupBy=conversation|trace&limit=&page=
func (h *Handler) ListTraces(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserID(c)

	opts := domain.TraceListOptions{GroupBy: domain.TraceGrouping(c.QueryParam("groupBy"))}
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			opts.Limit = val
		}
	}
	if p := c.QueryParam("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil {
			opts.Page = val
		}
	}

	switch opts.GroupBy {
	case "", domain.TraceGroupingConversation:
		conversations, err := h.service.ConversationTraces(ctx, userID)
		if err != nil {
			return h.respondError(c, err, "Trace not found")
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"conversations": conversations})
	case domain.TraceGroupingTrace:
		traces, hasMore, err := h.service.TraceSummaries(ctx, userID, opts.Limit, opts.Page)
		if err != nil {
			return h.respondError(c, err, "Trace not found")
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"traces":  traces,
			"page":    max(opts.Page, 1),
			"hasMore": hasMore,
		})
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "groupBy must be conversation or trace"})
	}
}

// GetConversationTraces lists the traces of one thread.
// GET /traces/conversation/:threadId
func (h *Handler) GetConversationTraces(c echo.Context) error {
	traces, err := h.service.ThreadTraces(c.Request().Context(), auth.UserID(c), c.Param("threadId"))
	if err != nil {
		return h.respondError(c, err, "Conversation not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"traces": traces})
}

// GetTrace returns one trace with all of its spans.
// GET /traces/:traceId
func (h *Handler) GetTrace(c echo.Context) error {
	trace, err := h.service.GetTrace(c.Request().Context(), auth.UserID(c), c.Param("traceId"))
	if err != nil {
		return h.respondError(c, err, "Trace not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"trace": trace})
}
