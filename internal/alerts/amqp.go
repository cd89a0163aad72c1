package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ExchangeNotifications is the fanout exchange every notification is
// published to; consumers bind their own queues.
const ExchangeNotifications = "notifications_fanout"

// QueueInbox is the durable queue cmd/worker binds to the exchange.
const QueueInbox = "notifications_inbox"

// AMQPNotifier publishes notifications to RabbitMQ.
type AMQPNotifier struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex
}

func DialAMQP(url string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(ExchangeNotifications, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", ExchangeNotifications, err)
	}
	return &AMQPNotifier{conn: conn, ch: ch}, nil
}

func (a *AMQPNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ch.PublishWithContext(ctx, ExchangeNotifications, n.Type, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		ContentType:  "application/json",
		Type:         n.Type,
		Body:         body,
	})
}

// Consume binds queue to the notification exchange and hands each delivery
// to handle until ctx is done. A failed delivery is requeued once.
func (a *AMQPNotifier) Consume(ctx context.Context, queue string, handle func(context.Context, Notification) error, log logrus.FieldLogger) error {
	a.mu.Lock()
	deliveries, err := a.subscribe(queue)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp: delivery channel closed")
			}
			var n Notification
			if err := json.Unmarshal(d.Body, &n); err != nil {
				log.WithError(err).Warn("dropping malformed notification")
				_ = d.Nack(false, false)
				continue
			}
			if err := handle(ctx, n); err != nil {
				log.WithError(err).WithField("type", n.Type).Warn("notification delivery failed")
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (a *AMQPNotifier) subscribe(queue string) (<-chan amqp.Delivery, error) {
	if _, err := a.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare %s: %w", queue, err)
	}
	if err := a.ch.QueueBind(queue, "", ExchangeNotifications, false, nil); err != nil {
		return nil, fmt.Errorf("bind %s: %w", queue, err)
	}
	if err := a.ch.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("qos: %w", err)
	}
	return a.ch.Consume(queue, "farmhand-worker", false, false, false, false, nil)
}

func (a *AMQPNotifier) Close() error {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
