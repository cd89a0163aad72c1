// Package app assembles the services from configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/farmhand/internal/alerts"
	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/config"
	"github.com/sudo-init-do/farmhand/internal/docstore"
	"github.com/sudo-init-do/farmhand/internal/docstore/postgres"
	"github.com/sudo-init-do/farmhand/internal/docstore/sqlite"
	"github.com/sudo-init-do/farmhand/internal/marketplace"
	"github.com/sudo-init-do/farmhand/internal/payment"
	"github.com/sudo-init-do/farmhand/internal/payment/mockpay"
	"github.com/sudo-init-do/farmhand/internal/payment/wechat"
	"github.com/sudo-init-do/farmhand/internal/pricing"
	"github.com/sudo-init-do/farmhand/internal/settlement"
	"github.com/sudo-init-do/farmhand/internal/user"
	"github.com/sudo-init-do/farmhand/internal/wallet"
)

type App struct {
	Config config.Config
	Log    logrus.FieldLogger

	Store    docstore.Store
	Gateway  payment.Gateway
	Notifier alerts.Notifier
	Auth     *auth.JWTProvider

	Inbox       *alerts.Inbox
	Users       *user.Service
	Ledger      *wallet.Ledger
	Pricing     *pricing.Engine
	Payments    *payment.Service
	Settlements *settlement.Engine
	Reconciler  *settlement.Reconciler
	Orders      *marketplace.Service

	closers []io.Closer
}

// New opens the configured store, gateway and notifier and wires the
// services over them.
func New(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*App, error) {
	store, err := OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, Store: store, closers: []io.Closer{store}}

	gw, err := NewGateway(cfg.Payment)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Gateway = gw

	policy := cfg.Optimistic.Policy()
	a.Inbox = alerts.NewInbox(store, policy)
	if err := a.openNotifier(); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Auth = auth.NewJWTProvider(cfg.JWTSecret)
	a.Pricing = pricing.NewEngine(cfg.Pricing.Rates())
	a.Users = user.NewService(store, policy)
	a.Ledger = wallet.NewLedger(store)
	a.Payments = payment.NewService(store, policy, a.Pricing, gw, a.Users)
	a.Settlements = settlement.NewEngine(settlement.Deps{
		Store:        store,
		Policy:       policy,
		Pricing:      a.Pricing,
		Payments:     a.Payments,
		Gateway:      gw,
		Destinations: a.Users,
		Ledger:       a.Ledger,
		Notifier:     a.Notifier,
		Log:          log.WithField("component", "settlement"),
	})
	a.Reconciler = settlement.NewReconciler(gw, a.Payments, a.Settlements, a.Notifier, log.WithField("component", "reconciler"))
	a.Orders = marketplace.NewService(marketplace.Deps{
		Store:    store,
		Policy:   policy,
		Pricing:  a.Pricing,
		Profiles: a.Users,
		Payments: a.Payments,
		Settler:  a.Settlements,
		Notifier: a.Notifier,
		Log:      log.WithField("component", "orders"),
	})
	return a, nil
}

func (a *App) openNotifier() error {
	switch strings.ToLower(a.Config.Notify.Backend) {
	case "asynq":
		n := alerts.NewAsynqNotifier(a.Config.Notify.RedisAddr)
		a.Notifier = n
		a.closers = append(a.closers, n)
	case "amqp":
		n, err := alerts.DialAMQP(a.Config.Notify.AMQPURL)
		if err != nil {
			return err
		}
		a.Notifier = n
		a.closers = append(a.closers, n)
	default:
		// deliver straight into the inbox
		a.Notifier = alerts.NewProcessor(a.Inbox, a.Log.WithField("component", "alerts"))
	}
	a.Log.WithField("backend", a.Config.Notify.Backend).Info("notifier ready")
	return nil
}

// OpenStore opens the document store named by s.Driver.
func OpenStore(ctx context.Context, s config.Storage, log logrus.FieldLogger) (docstore.Store, error) {
	switch strings.ToLower(s.Driver) {
	case "postgres":
		store, err := postgres.Open(ctx, s.Postgres().DSN(), log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(s.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.WithField("path", s.SQLitePath).Info("sqlite store opened")
		return store, nil
	case "memory":
		log.Warn("using in-memory store; data is lost on exit")
		return docstore.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", s.Driver)
}

// NewGateway builds the payment gateway named by p.Provider.
func NewGateway(p config.Payment) (payment.Gateway, error) {
	switch strings.ToLower(p.Provider) {
	case "mock":
		return mockpay.New(p.MockSecret), nil
	case "wechat":
		gw, err := wechat.New(wechat.Config{
			AppID:        p.WechatAppID,
			MchID:        p.WechatMchID,
			MchSerial:    p.WechatSerial,
			PrivateKey:   p.WechatKey,
			APIv3Key:     p.WechatAPIv3,
			PlatformCert: p.WechatCert,
			NotifyURL:    p.NotifyURL,
			BaseURL:      p.WechatBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("wechat gateway: %w", err)
		}
		return gw, nil
	}
	return nil, fmt.Errorf("unknown payment provider %q", p.Provider)
}

// Close releases everything New opened, last opened first.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
