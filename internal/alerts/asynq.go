package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	QueueNotifications = "notifications"
	QueueAlerts        = "alerts"
)

// AsynqNotifier enqueues notifications on Redis for cmd/worker.
type AsynqNotifier struct {
	client *asynq.Client
}

func NewAsynqNotifier(redisAddr string) *AsynqNotifier {
	return &AsynqNotifier{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

func (a *AsynqNotifier) Notify(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	task := asynq.NewTask(n.Type, b)
	_, err = a.client.EnqueueContext(ctx, task, asynq.Queue(queueFor(n.Type)), asynq.MaxRetry(5))
	return err
}

// Close releases the Redis connection.
func (a *AsynqNotifier) Close() error {
	return a.client.Close()
}

// Money movements go to the alerts queue so they are processed first.
func queueFor(taskType string) string {
	switch taskType {
	case TaskPaymentConfirmed, TaskSettlementCompleted:
		return QueueAlerts
	}
	return QueueNotifications
}
