package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Processor delivers notifications into the inbox. cmd/worker runs it
// behind asynq; with the log backend the API calls it inline.
type Processor struct {
	inbox *Inbox
	log   logrus.FieldLogger
}

func NewProcessor(inbox *Inbox, log logrus.FieldLogger) *Processor {
	return &Processor{inbox: inbox, log: log}
}

// Notify delivers n immediately.
func (p *Processor) Notify(ctx context.Context, n Notification) error {
	item, err := p.inbox.Record(ctx, n)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	p.log.WithFields(logrus.Fields{
		"type":      n.Type,
		"recipient": item.Recipient,
		"order_id":  n.OrderID,
	}).Info("[notify] " + item.Title)
	return nil
}

// HandleTask decodes an asynq task and delivers it.
func (p *Processor) HandleTask(ctx context.Context, t *asynq.Task) error {
	var n Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		// malformed payloads never succeed on retry
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if n.Type == "" {
		n.Type = t.Type()
	}
	return p.Notify(ctx, n)
}

// NewServeMux routes every notification task to p.
func (p *Processor) NewServeMux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for _, task := range AllTasks {
		mux.HandleFunc(task, p.HandleTask)
	}
	return mux
}

// NewServer builds the asynq server cmd/worker runs.
func NewServer(redisAddr string, concurrency int, log logrus.FieldLogger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 5
	}
	return asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueAlerts:        10,
			QueueNotifications: 5,
		},
		Logger: log,
	})
}
