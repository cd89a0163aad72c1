package admin

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/httpx"
	"github.com/sudo-init-do/farmhand/internal/user"
)

// GET /admin/users?role=
func (h *Handler) ListUsers(c echo.Context) error {
	limit := 100
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	profiles, err := h.users.List(c.Request().Context(), c.QueryParam("role"), limit)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"users": profiles})
}

// POST /admin/users/:id/suspend
func (h *Handler) SuspendUser(c echo.Context) error {
	return h.setStatus(c, user.StatusBanned, "user suspended")
}

// POST /admin/users/:id/activate
func (h *Handler) ActivateUser(c echo.Context) error {
	return h.setStatus(c, user.StatusActive, "user activated")
}

func (h *Handler) setStatus(c echo.Context, status user.Status, message string) error {
	userID := c.Param("id")
	if _, err := h.users.SetStatus(c.Request().Context(), userID, status); err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": message, "user_id": userID})
}
