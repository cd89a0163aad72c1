package main

import (
	"context"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sudo-init-do/farmhand/internal/alerts"
	"github.com/sudo-init-do/farmhand/internal/app"
	"github.com/sudo-init-do/farmhand/internal/config"
)

// worker delivers queued notifications into the inbox. It consumes asynq
// tasks or the AMQP fanout depending on NOTIFY_BACKEND.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	defer store.Close()

	processor := alerts.NewProcessor(alerts.NewInbox(store, cfg.Optimistic.Policy()), logger.WithField("component", "worker"))

	switch strings.ToLower(cfg.Notify.Backend) {
	case "asynq":
		srv := alerts.NewServer(cfg.Notify.RedisAddr, 10, logger)
		if err := srv.Start(processor.NewServeMux()); err != nil {
			logger.WithError(err).Fatal("asynq server")
		}
		logger.WithField("redis", cfg.Notify.RedisAddr).Info("worker consuming asynq tasks")
		<-ctx.Done()
		srv.Shutdown()
	case "amqp":
		consumer, err := alerts.DialAMQP(cfg.Notify.AMQPURL)
		if err != nil {
			logger.WithError(err).Fatal("amqp")
		}
		defer consumer.Close()
		logger.WithField("queue", alerts.QueueInbox).Info("worker consuming amqp notifications")
		if err := consumer.Consume(ctx, alerts.QueueInbox, processor.Notify, logger); err != nil {
			logger.WithError(err).Error("amqp consumer stopped")
		}
	default:
		logger.Info("NOTIFY_BACKEND=log delivers inline; nothing to consume")
	}
}
