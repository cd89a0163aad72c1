package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/httpx"
)

// AdminGuard ensures only admin users can access admin routes
func AdminGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if httpx.Role(c) != auth.RoleAdmin {
			return httpx.Error(c, apperr.Forbidden("admin access only"))
		}
		return next(c)
	}
}
