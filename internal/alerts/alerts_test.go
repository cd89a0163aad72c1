package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/docstore"
)

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Notification) error {
	f.calls++
	return errors.New("broker down")
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newProcessor() (*Processor, *Inbox) {
	inbox := NewInbox(docstore.NewMemoryStore(), docstore.Policy{MaxRetries: 3})
	return NewProcessor(inbox, quietLogger()), inbox
}

func TestDispatchSwallowsErrors(t *testing.T) {
	f := &failingNotifier{}
	Dispatch(context.Background(), f, quietLogger(), Notification{Type: TaskNewBid, Target: "r1"})
	if f.calls != 1 {
		t.Fatalf("calls = %d, want 1", f.calls)
	}
	Dispatch(context.Background(), nil, quietLogger(), Notification{Type: TaskNewBid})
}

func TestInboxListIncludesGroup(t *testing.T) {
	p, inbox := newProcessor()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	_ = p.Notify(ctx, Notification{Type: TaskNewDemand, Group: GroupFulfillers, OrderID: "o1", SentAt: base})
	_ = p.Notify(ctx, Notification{Type: TaskBidAccepted, Target: "f1", OrderID: "o1", SentAt: base.Add(time.Minute)})
	_ = p.Notify(ctx, Notification{Type: TaskNewBid, Target: "r1", OrderID: "o1", SentAt: base.Add(2 * time.Minute)})

	items, err := inbox.List(ctx, "f1", auth.RoleFulfiller, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Type != TaskBidAccepted || items[1].Type != TaskNewDemand {
		t.Fatalf("order = %s, %s", items[0].Type, items[1].Type)
	}

	items, _ = inbox.List(ctx, "r1", auth.RoleRequester, 10)
	if len(items) != 1 || items[0].Title != "A fulfiller bid on your order" {
		t.Fatalf("requester items = %+v", items)
	}
}

func TestMarkRead(t *testing.T) {
	_, inbox := newProcessor()
	ctx := context.Background()
	item, err := inbox.Record(ctx, Notification{Type: TaskWorkStarted, Target: "r1"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, err := inbox.MarkRead(ctx, "someone", item.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("other user = %v, want not found", err)
	}
	read, err := inbox.MarkRead(ctx, "r1", item.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if read.ReadAt == nil {
		t.Fatal("ReadAt not set")
	}
	if _, err := inbox.MarkRead(ctx, "r1", item.ID); !errors.Is(err, apperr.ErrStateConflict) {
		t.Fatalf("second mark = %v, want state conflict", err)
	}
}

func TestHandleTask(t *testing.T) {
	p, inbox := newProcessor()
	ctx := context.Background()

	b, _ := json.Marshal(Notification{Target: "r1", OrderID: "o9"})
	if err := p.HandleTask(ctx, asynq.NewTask(TaskPaymentConfirmed, b)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	items, _ := inbox.List(ctx, "r1", auth.RoleRequester, 10)
	if len(items) != 1 || items[0].Type != TaskPaymentConfirmed || items[0].OrderID != "o9" {
		t.Fatalf("items = %+v", items)
	}

	err := p.HandleTask(ctx, asynq.NewTask(TaskPaymentConfirmed, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("malformed = %v, want SkipRetry", err)
	}
}

func TestQueueFor(t *testing.T) {
	if got := queueFor(TaskSettlementCompleted); got != QueueAlerts {
		t.Fatalf("settlement queue = %q", got)
	}
	if got := queueFor(TaskNewBid); got != QueueNotifications {
		t.Fatalf("bid queue = %q", got)
	}
}
