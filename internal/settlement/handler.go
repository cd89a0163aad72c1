package settlement

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/httpx"
	"github.com/sudo-init-do/farmhand/internal/payment"
)

const maxCallbackBody = 64 << 10

type Handler struct {
	engine     *Engine
	reconciler *Reconciler
}

func NewHandler(engine *Engine, reconciler *Reconciler) *Handler {
	return &Handler{engine: engine, reconciler: reconciler}
}

// POST /payments/callback
// Answers in the processor's {code, message} shape; a non-2xx status asks
// for redelivery.
func (h *Handler) PaymentCallback(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"code": "FAIL", "message": "unreadable body"})
	}
	raw := payment.RawCallback{Header: c.Request().Header.Clone(), Body: body}
	if err := h.reconciler.Reconcile(c.Request().Context(), raw); err != nil {
		return c.JSON(apperr.CodeOf(err).HTTPStatus(), echo.Map{"code": "FAIL", "message": string(apperr.CodeOf(err))})
	}
	return c.JSON(http.StatusOK, echo.Map{"code": "SUCCESS", "message": "OK"})
}

// GET /admin/orders/:id/settlement
func (h *Handler) GetSettlement(c echo.Context) error {
	s, err := h.engine.ForOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// POST /admin/orders/:id/settle
func (h *Handler) RetrySettlement(c echo.Context) error {
	s, err := h.engine.Settle(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// POST /admin/orders/:id/settlement/payout
func (h *Handler) RetryPayout(c echo.Context) error {
	s, err := h.engine.RetryPayout(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// GET /admin/settlements/failed
func (h *Handler) ListFailed(c echo.Context) error {
	items, err := h.engine.ListFailed(c.Request().Context(), 100)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"settlements": items})
}
