package http

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/assistant/internal/auth"
)

const stateCookie = "oauth_state"

// Login redirects to the provider consent page.
// GET /auth/google/login
func (h *Handler) Login(c echo.Context) error {
	if h.authenticator == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "OAuth is not configured"})
	}
	state := uuid.NewString()
	c.SetCookie(&http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusTemporaryRedirect, h.authenticator.LoginURL(state))
}

// Callback completes the login and sets the session cookie.
// GET /auth/google/callback
func (h *Handler) Callback(c echo.Context) error {
	if h.authenticator == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "OAuth is not configured"})
	}
	if errParam := c.QueryParam("error"); errParam != "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Login was cancelled"})
	}
	cookie, err := c.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != c.QueryParam("state") {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid OAuth state"})
	}

	user, session, err := h.authenticator.CompleteLogin(c.Request().Context(), c.QueryParam("code"))
	if err != nil {
		h.logger.Warn().Err(err).Msg("login failed")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Login failed"})
	}

	c.SetCookie(&http.Cookie{Name: stateCookie, Path: "/auth", MaxAge: -1})
	c.SetCookie(h.sessionCookie(session, int(h.sessions.TTL().Seconds())))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":  user,
		"token": session,
	})
}

// Me returns the authenticated user.
// GET /auth/me
func (h *Handler) Me(c echo.Context) error {
	user := auth.CurrentUser(c)
	if h.authenticator != nil {
		profile, err := h.authenticator.Profile(c.Request().Context(), user)
		if err != nil {
			return h.respondError(c, err, "User not found")
		}
		user = profile
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"user": user})
}

// Logout clears the session cookie.
// POST /auth/logout
func (h *Handler) Logout(c echo.Context) error {
	c.SetCookie(h.sessionCookie("", -1))
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
