package alerts

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/docstore"
	"github.com/sudo-init-do/farmhand/internal/httpx"
)

// InboxCollection holds delivered notifications.
const InboxCollection = "notifications"

// Item is one delivered notification as a user sees it.
type Item struct {
	ID        string         `json:"id"`
	Recipient string         `json:"recipient"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	OrderID   string         `json:"orderId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ReadAt    *time.Time     `json:"readAt"`
	Version   int64          `json:"version"`
}

func (i *Item) SetVersion(v int64) { i.Version = v }

// Inbox stores notifications so users can list them later.
type Inbox struct {
	store  docstore.Store
	policy docstore.Policy
}

func NewInbox(store docstore.Store, policy docstore.Policy) *Inbox {
	return &Inbox{store: store, policy: policy}
}

// Record files n under its recipient.
func (b *Inbox) Record(ctx context.Context, n Notification) (*Item, error) {
	created := n.SentAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	item := &Item{
		ID:        uuid.NewString(),
		Recipient: n.Recipient(),
		Type:      n.Type,
		Title:     titleFor(n.Type),
		OrderID:   n.OrderID,
		Payload:   n.Payload,
		CreatedAt: created,
	}
	if err := docstore.Create(ctx, b.store, InboxCollection, item.ID, item); err != nil {
		return nil, err
	}
	return item, nil
}

// List returns the user's notifications, newest first. Fulfillers also see
// broadcasts to their group.
func (b *Inbox) List(ctx context.Context, userID, role string, limit int) ([]*Item, error) {
	recipients := []string{userID}
	if role == auth.RoleFulfiller {
		recipients = append(recipients, GroupFulfillers)
	}
	var items []*Item
	for _, r := range recipients {
		found, err := docstore.Find[Item](ctx, b.store, InboxCollection, docstore.Query{
			Where:  []docstore.Filter{{Field: "recipient", Value: r}},
			Limit:  limit,
			Newest: true,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, found...)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// MarkRead stamps a personal notification as read.
func (b *Inbox) MarkRead(ctx context.Context, userID, id string) (*Item, error) {
	return docstore.Update[Item](ctx, b.store, b.policy, InboxCollection, id, func(it *Item) error {
		if it.Recipient != userID {
			return apperr.NotFound("notification")
		}
		if it.ReadAt != nil {
			return apperr.Conflict("notification already read")
		}
		now := time.Now().UTC()
		it.ReadAt = &now
		return nil
	})
}

// ListNotifications returns current user's notifications, newest first
func (b *Inbox) ListNotifications(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	items, err := b.List(c.Request().Context(), userID, httpx.Role(c), 100)
	if err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"notifications": items})
}

// MarkNotificationRead marks specific notification as read
func (b *Inbox) MarkNotificationRead(c echo.Context) error {
	userID, err := httpx.UserID(c)
	if err != nil {
		return httpx.Error(c, err)
	}
	nid := c.Param("id")
	if nid == "" {
		return httpx.Error(c, apperr.Validation("missing notification id"))
	}
	if _, err := b.MarkRead(c.Request().Context(), userID, nid); err != nil {
		return httpx.Error(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ok"})
}
