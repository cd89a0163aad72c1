package payment

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/httpx"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// POST /orders/:id/payment
func (h *Handler) CreatePayment(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	p, err := h.svc.Create(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"paymentId":    p.ID,
		"amount":       p.Amount,
		"status":       p.Status,
		"clientParams": p.ClientParams,
	})
}

// GET /payments/:id
func (h *Handler) GetPayment(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, p)
}
