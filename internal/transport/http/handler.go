package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/assistant/internal/auth"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/observability"
	"github.com/xiaot623/gogo/assistant/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service       *service.Service
	authenticator *auth.Authenticator
	sessions      *auth.SessionManager
	metrics       *observability.Metrics
	gatherer      prometheus.Gatherer
	cookieSecure  bool
	upgrader      websocket.Upgrader
	wsTimeout     time.Duration
	logger        zerolog.Logger
}

// Options configures a Handler. Authenticator may be nil when OAuth is not configured.
type Options struct {
	Authenticator *auth.Authenticator
	Sessions      *auth.SessionManager
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	CookieSecure  bool
	AllowOrigin   func(r *http.Request) bool
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, opts Options) *Handler {
	checkOrigin := opts.AllowOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		service:       svc,
		authenticator: opts.Authenticator,
		sessions:      opts.Sessions,
		metrics:       opts.Metrics,
		gatherer:      gatherer,
		cookieSecure:  opts.CookieSecure,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		wsTimeout: 10 * time.Second,
		logger:    observability.Component("http"),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	requireSession := auth.RequireSession(h.sessions)

	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	// OAuth handshake
	e.GET("/auth/google/login", h.Login)
	e.GET("/auth/google/callback", h.Callback)
	e.POST("/auth/logout", h.Logout)
	e.GET("/auth/me", h.Me, requireSession)

	// Chat API
	e.POST("/chat/stream", h.StreamChat, requireSession)
	e.GET("/chat/ws", h.ChatWebSocket, requireSession)
	e.GET("/chat/history", h.GetHistory, requireSession)
	e.GET("/chat/threads", h.ListThreads, requireSession)
	e.POST("/chat/threads", h.CreateThread, requireSession)
	e.DELETE("/chat/threads/:id", h.DeleteThread, requireSession)

	// Trace API
	e.GET("/traces", h.ListTraces, requireSession)
	e.GET("/traces/conversation/:threadId", h.GetConversationTraces, requireSession)
	e.GET("/traces/:traceId", h.GetTrace, requireSession)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// respondError maps a service error to its HTTP response.
func (h *Handler) respondError(c echo.Context, err error, notFound string) error {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": validation.Message})
	case errors.Is(err, domain.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": notFound})
	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}
