package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// CurrentUser returns the user set by RequireSession, or nil.
func CurrentUser(c echo.Context) *domain.User {
	user, _ := c.Get(contextUserKey).(*domain.User)
	return user
}

// UserID returns the id of the authenticated user, or "".
func UserID(c echo.Context) string {
	if user := CurrentUser(c); user != nil {
		return user.ID
	}
	return ""
}

// SetUser marks a request as authenticated as user.
func SetUser(c echo.Context, user *domain.User) {
	c.Set(contextUserKey, user)
}
