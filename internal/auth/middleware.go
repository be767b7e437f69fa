package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	// SessionCookie is the name of the session cookie.
	SessionCookie = "session"

	contextUserKey = "auth.user"
)

// RequireSession rejects requests without a valid session with 401.
// The token is read from the session cookie or an Authorization bearer header.
func RequireSession(sessions *SessionManager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := tokenFromRequest(c)
			if token == "" {
				return unauthorized(c)
			}
			user, err := sessions.Verify(token)
			if err != nil {
				return unauthorized(c)
			}
			c.Set(contextUserKey, user)
			return next(c)
		}
	}
}

func tokenFromRequest(c echo.Context) string {
	if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}
