package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/httpx"
)

// RequireRoles ensures the caller's role is one of the allowed roles.
// Usage: route(..., RequireRoles("fulfiller"))
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := httpx.Role(c)
			if role == "" {
				return httpx.Error(c, apperr.Forbidden("role missing"))
			}
			for _, r := range roles {
				if role == r {
					return next(c)
				}
			}
			return httpx.Error(c, apperr.Forbidden("access denied"))
		}
	}
}
