package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/docstore"
	"github.com/sudo-init-do/farmhand/internal/order"
	"github.com/sudo-init-do/farmhand/internal/user"
)

func newHandler(t *testing.T) (*Handler, *user.Service, docstore.Store) {
	t.Helper()
	store := docstore.NewMemoryStore()
	users := user.NewService(store, docstore.Policy{MaxRetries: 3, Backoff: time.Millisecond})
	return NewHandler(store, users), users, store
}

func call(t *testing.T, h echo.HandlerFunc, method, id string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "a1")
	c.Set("role", auth.RoleAdmin)
	if id != "" {
		c.SetParamNames("id")
		c.SetParamValues(id)
	}
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func TestStats(t *testing.T) {
	h, users, store := newHandler(t)
	ctx := context.Background()
	for i, s := range []order.Status{order.StatusPending, order.StatusPending, order.StatusCompleted} {
		o := &order.Order{ID: string(rune('a' + i)), RequesterID: "r1", Status: s}
		if err := docstore.Create(ctx, store, order.Collection, o.ID, o); err != nil {
			t.Fatalf("seed order: %v", err)
		}
	}
	if err := users.Register(ctx, &user.Profile{ID: "r1", Role: auth.RoleRequester, Status: user.StatusActive}); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := call(t, h.Stats, http.MethodGet, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Users  int            `json:"users"`
		Orders map[string]int `json:"orders"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Users != 1 || out.Orders["pending"] != 2 || out.Orders["completed"] != 1 || out.Orders["bid"] != 0 {
		t.Fatalf("stats = %+v", out)
	}
}

func TestSuspendAndActivate(t *testing.T) {
	h, users, _ := newHandler(t)
	ctx := context.Background()
	if err := users.Register(ctx, &user.Profile{ID: "f1", Role: auth.RoleFulfiller, Status: user.StatusActive, Certification: user.CertificationApproved}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if rec := call(t, h.SuspendUser, http.MethodPost, "f1"); rec.Code != http.StatusOK {
		t.Fatalf("suspend = %d", rec.Code)
	}
	p, _ := users.Get(ctx, "f1")
	if p.Status != user.StatusBanned {
		t.Fatalf("status = %s, want banned", p.Status)
	}
	if rec := call(t, h.ActivateUser, http.MethodPost, "f1"); rec.Code != http.StatusOK {
		t.Fatalf("activate = %d", rec.Code)
	}
	p, _ = users.Get(ctx, "f1")
	if !p.Verified() {
		t.Fatalf("profile = %+v, want verified again", p)
	}
	if rec := call(t, h.SuspendUser, http.MethodPost, "ghost"); rec.Code != http.StatusNotFound {
		t.Fatalf("suspend ghost = %d, want 404", rec.Code)
	}
}
