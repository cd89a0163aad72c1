package alerts

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Notifier delivers a notification to whatever backend is configured.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Dispatch sends n through notifier and only logs a failure. Notifications
// never fail the operation that produced them.
func Dispatch(ctx context.Context, notifier Notifier, log logrus.FieldLogger, n Notification) {
	if notifier == nil {
		return
	}
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}
	if err := notifier.Notify(ctx, n); err != nil && log != nil {
		log.WithFields(logrus.Fields{
			"type":      n.Type,
			"recipient": n.Recipient(),
			"order_id":  n.OrderID,
		}).WithError(err).Warn("notification not delivered")
	}
}
