package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sudo-init-do/farmhand/internal/admin"
	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/httpx"
	"github.com/sudo-init-do/farmhand/internal/marketplace"
	mware "github.com/sudo-init-do/farmhand/internal/middleware"
	"github.com/sudo-init-do/farmhand/internal/payment"
	"github.com/sudo-init-do/farmhand/internal/settlement"
	"github.com/sudo-init-do/farmhand/internal/user"
	"github.com/sudo-init-do/farmhand/internal/wallet"
)

// NewEcho returns an echo instance with every route registered.
func (a *App) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = httpx.NewValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())

	a.Register(e)
	return e
}

// Register mounts the health, public, authenticated and admin routes.
func (a *App) Register(e *echo.Echo) {
	users := user.NewHandler(a.Users)
	wallets := wallet.NewHandler(a.Ledger)
	orders := marketplace.NewHandler(a.Orders)
	payments := payment.NewHandler(a.Payments)
	settlements := settlement.NewHandler(a.Settlements, a.Reconciler)
	ops := admin.NewHandler(a.Store, a.Users)

	// Health
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "service": "farmhand"})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := a.Store.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "store unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})

	// Public routes
	e.POST("/payments/callback", settlements.PaymentCallback)
	e.GET("/users/:id/profile", users.PublicProfile)

	// Protected routes
	api := e.Group("")
	api.Use(mware.JWTMiddleware(a.Auth))

	api.GET("/me", users.Me)
	api.PUT("/me/payout-account", users.BindPayoutAccount)
	api.PUT("/me/payer", users.SetPayer)

	api.GET("/wallet/balance", wallets.Balance)
	api.GET("/wallet/transactions", wallets.GetUserTransactions)

	api.GET("/notifications", a.Inbox.ListNotifications)
	api.POST("/notifications/:id/read", a.Inbox.MarkNotificationRead)

	api.POST("/orders", orders.CreateOrder, mware.RequireRoles(auth.RoleRequester))
	api.GET("/orders/open", orders.ListOpenOrders, mware.RequireRoles(auth.RoleFulfiller, auth.RoleAdmin))
	api.GET("/orders/mine", orders.ListMyOrders)
	api.GET("/orders/:id", orders.GetOrder)
	api.POST("/orders/:id/bid", orders.BidOrder, mware.RequireRoles(auth.RoleFulfiller))
	api.POST("/orders/:id/accept", orders.AcceptOrder, mware.RequireRoles(auth.RoleRequester))
	api.POST("/orders/:id/start", orders.StartOrder, mware.RequireRoles(auth.RoleFulfiller))
	api.POST("/orders/:id/complete", orders.CompleteOrder, mware.RequireRoles(auth.RoleFulfiller))
	api.POST("/orders/:id/cancel", orders.CancelOrder, mware.RequireRoles(auth.RoleRequester, auth.RoleFulfiller))
	api.POST("/orders/:id/confirm-workload", orders.ConfirmWorkload, mware.RequireRoles(auth.RoleRequester, auth.RoleFulfiller))
	api.POST("/orders/:id/progress", orders.UpdateProgress, mware.RequireRoles(auth.RoleFulfiller))

	api.GET("/referrals/stats", orders.CommissionStats, mware.RequireRoles(auth.RoleReferrer))

	api.POST("/orders/:id/payment", payments.CreatePayment, mware.RequireRoles(auth.RoleRequester))
	api.GET("/payments/:id", payments.GetPayment)

	// Admin routes
	adminGroup := e.Group("/admin")
	adminGroup.Use(mware.JWTMiddleware(a.Auth))
	adminGroup.Use(mware.AdminGuard)

	adminGroup.GET("/stats", ops.Stats)
	adminGroup.GET("/users", ops.ListUsers)
	adminGroup.POST("/users/:id/suspend", ops.SuspendUser)
	adminGroup.POST("/users/:id/activate", ops.ActivateUser)
	adminGroup.POST("/users/:id/certification", users.Certify)
	adminGroup.GET("/users/:id/wallet", wallets.AdminGetUserWallet)
	adminGroup.GET("/orders/:id/settlement", settlements.GetSettlement)
	adminGroup.POST("/orders/:id/settle", settlements.RetrySettlement)
	adminGroup.POST("/orders/:id/settlement/payout", settlements.RetryPayout)
	adminGroup.GET("/settlements/failed", settlements.ListFailed)
}
