package wallet

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/httpx"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(l *Ledger) *Handler {
	return &Handler{ledger: l}
}

// Balance returns the authenticated user's wallet balance
func (h *Handler) Balance(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	return h.balanceOf(c, userID)
}

// GetUserTransactions returns the authenticated user's credit entries
func (h *Handler) GetUserTransactions(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	return h.entriesOf(c, userID)
}

// AdminGetUserWallet returns any user's balance and entries for support
func (h *Handler) AdminGetUserWallet(c echo.Context) error {
	userID := c.Param("id")
	balance, err := h.ledger.Balance(c.Request().Context(), userID)
	if err != nil {
		return httpx.Error(c, err)
	}
	entries, err := h.ledger.Entries(c.Request().Context(), userID, 100)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user_id": userID, "balance": balance, "entries": entries})
}

func (h *Handler) balanceOf(c echo.Context, userID string) error {
	balance, err := h.ledger.Balance(c.Request().Context(), userID)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id": userID,
		"balance": balance,
	})
}

func (h *Handler) entriesOf(c echo.Context, userID string) error {
	limit := 50
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	entries, err := h.ledger.Entries(c.Request().Context(), userID, limit)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}
