package user

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/httpx"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GET /me
func (h *Handler) Me(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	p, err := h.svc.Ensure(c.Request().Context(), auth.Identity{UserID: userID, Role: httpx.Role(c)})
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// GET /users/:id/profile
func (h *Handler) PublicProfile(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, p.Public())
}

// PUT /me/payout-account
func (h *Handler) BindPayoutAccount(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	var req PayoutAccount
	if err := httpx.Bind(c, &req); err != nil {
		return httpx.Error(c, err)
	}
	ctx := c.Request().Context()
	if _, err := h.svc.Ensure(ctx, auth.Identity{UserID: userID, Role: httpx.Role(c)}); err != nil {
		return httpx.Error(c, err)
	}
	p, err := h.svc.BindPayout(ctx, userID, req)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

type payerRequest struct {
	PayerID string `json:"payerId" validate:"required,max=128"`
}

// PUT /me/payer
func (h *Handler) SetPayer(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	var req payerRequest
	if err := httpx.Bind(c, &req); err != nil {
		return httpx.Error(c, err)
	}
	ctx := c.Request().Context()
	if _, err := h.svc.Ensure(ctx, auth.Identity{UserID: userID, Role: httpx.Role(c)}); err != nil {
		return httpx.Error(c, err)
	}
	p, err := h.svc.SetPayerID(ctx, userID, req.PayerID)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

type certifyRequest struct {
	Certification Certification `json:"certification" validate:"required,oneof=pending approved rejected"`
}

// POST /admin/users/:id/certification
func (h *Handler) Certify(c echo.Context) error {
	var req certifyRequest
	if err := httpx.Bind(c, &req); err != nil {
		return httpx.Error(c, err)
	}
	p, err := h.svc.Certify(c.Request().Context(), c.Param("id"), req.Certification)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, p)
}
