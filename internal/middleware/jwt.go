package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/httpx"
)

// JWTMiddleware resolves the bearer token and stores user_id and role on the
// echo context.
func JWTMiddleware(p auth.Provider) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			const prefix = "Bearer "
			if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
				return httpx.Error(c, apperr.New(apperr.CodeUnauthenticated, "missing or malformed Authorization header"))
			}
			id, err := p.Resolve(c.Request().Context(), header[len(prefix):])
			if err != nil {
				return httpx.Error(c, err)
			}
			c.Set("user_id", id.UserID)
			c.Set("role", id.Role)
			return next(c)
		}
	}
}
