package marketplace

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/httpx"
	"github.com/sudo-init-do/farmhand/internal/order"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func identity(c echo.Context) (auth.Identity, error) {
	userID, err := httpx.UserID(c)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{UserID: userID, Role: httpx.Role(c)}, nil
}

func limitParam(c echo.Context) int {
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 100 {
		return v
	}
	return 20
}

// =========================
// CreateOrder - Requester posts a job
// =========================
func (h *Handler) CreateOrder(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	var req CreateOrderRequest
	if err := httpx.Bind(c, &req); err != nil {
		return httpx.Error(c, err)
	}
	o, err := h.svc.Create(c.Request().Context(), userID, req)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusCreated, o)
}

// =========================
// BidOrder - Fulfiller quotes a price on a pending order
// =========================
func (h *Handler) BidOrder(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	var req BidRequest
	if err := httpx.Bind(c, &req); err != nil {
		return httpx.Error(c, err)
	}
	o, err := h.svc.Bid(c.Request().Context(), c.Param("id"), id, req.Price)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// =========================
// AcceptOrder - Requester accepts the bid
// =========================
func (h *Handler) AcceptOrder(c echo.Context) error {
	return h.simple(c, h.svc.Accept)
}

// =========================
// StartOrder - Fulfiller starts work
// =========================
func (h *Handler) StartOrder(c echo.Context) error {
	return h.simple(c, h.svc.Start)
}

// =========================
// CompleteOrder - Fulfiller finishes work
// =========================
func (h *Handler) CompleteOrder(c echo.Context) error {
	return h.simple(c, h.svc.Complete)
}

// =========================
// CancelOrder - Either party cancels
// =========================
func (h *Handler) CancelOrder(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	var req CancelRequest
	if err := httpx.Bind(c, &req); err != nil {
		return httpx.Error(c, err)
	}
	o, err := h.svc.Cancel(c.Request().Context(), c.Param("id"), userID, req.Reason)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// =========================
// ConfirmWorkload - Either party confirms the actual workload
// =========================
func (h *Handler) ConfirmWorkload(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	var req ConfirmWorkloadRequest
	if err := httpx.Bind(c, &req); err != nil {
		return httpx.Error(c, err)
	}
	res, err := h.svc.ConfirmWorkload(c.Request().Context(), c.Param("id"), userID, req.workload())
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// =========================
// UpdateProgress - Fulfiller reports progress on running work
// =========================
func (h *Handler) UpdateProgress(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	var req ProgressRequest
	if err := httpx.Bind(c, &req); err != nil {
		return httpx.Error(c, err)
	}
	o, err := h.svc.UpdateProgress(c.Request().Context(), c.Param("id"), userID, req)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"orderId": o.ID, "progress": o.Progress, "order": o})
}

// GET /referrals/stats
func (h *Handler) CommissionStats(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	stats, err := h.svc.CommissionStats(c.Request().Context(), userID)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"stats": stats})
}

// GET /orders/:id
func (h *Handler) GetOrder(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	o, err := h.svc.Get(c.Request().Context(), c.Param("id"), id)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"order":   o,
		"allowed": order.AllowedTransitions(o.Status),
	})
}

// GET /orders/mine?status=&limit=
func (h *Handler) ListMyOrders(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	orders, err := h.svc.ListMine(c.Request().Context(), id, order.Status(c.QueryParam("status")), limitParam(c))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": orders})
}

// GET /orders/open?jobKind=&limit=
func (h *Handler) ListOpenOrders(c echo.Context) error {
	orders, err := h.svc.ListOpen(c.Request().Context(), order.JobKind(c.QueryParam("jobKind")), limitParam(c))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": orders})
}

type transitionFunc func(ctx context.Context, orderID, callerID string) (*order.Order, error)

func (h *Handler) simple(c echo.Context, op transitionFunc) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	o, err := op(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, o)
}
