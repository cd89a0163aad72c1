// Package admin serves operator views over users, orders and settlements.
package admin

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/docstore"
	"github.com/sudo-init-do/farmhand/internal/httpx"
	"github.com/sudo-init-do/farmhand/internal/order"
	"github.com/sudo-init-do/farmhand/internal/settlement"
	"github.com/sudo-init-do/farmhand/internal/user"
)

type Handler struct {
	store docstore.Store
	users *user.Service
}

func NewHandler(store docstore.Store, users *user.Service) *Handler {
	return &Handler{store: store, users: users}
}

var orderStatuses = []order.Status{
	order.StatusPending,
	order.StatusBid,
	order.StatusAccepted,
	order.StatusInProgress,
	order.StatusCompleted,
	order.StatusCancelled,
}

// GET /admin/stats
func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	orders := make(map[order.Status]int, len(orderStatuses))
	for _, s := range orderStatuses {
		n, err := h.count(ctx, order.Collection, docstore.Filter{Field: "status", Value: string(s)})
		if err != nil {
			return httpx.Error(c, err)
		}
		orders[s] = n
	}
	users, err := h.count(ctx, user.Collection)
	if err != nil {
		return httpx.Error(c, err)
	}
	settled, err := h.count(ctx, settlement.Collection)
	if err != nil {
		return httpx.Error(c, err)
	}
	failed, err := h.count(ctx, settlement.Collection, docstore.Filter{Field: "status", Value: string(settlement.StatusPayoutFailed)})
	if err != nil {
		return httpx.Error(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"users":          users,
		"orders":         orders,
		"settlements":    settled,
		"payouts_failed": failed,
	})
}

func (h *Handler) count(ctx context.Context, collection string, where ...docstore.Filter) (int, error) {
	docs, err := h.store.Query(ctx, collection, docstore.Query{Where: where})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}
