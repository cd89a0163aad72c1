package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/config"
	"github.com/sudo-init-do/farmhand/internal/payment/mockpay"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret: "test-secret",
		Storage:   config.Storage{Driver: "memory"},
		Pricing: config.Pricing{
			PlatformFeeRate:        decimal.RequireFromString("0.05"),
			ReferrerCommissionRate: decimal.RequireFromString("0.02"),
			OvertimeMultiplier:     decimal.RequireFromString("1.5"),
			StandardDailyHours:     decimal.NewFromInt(8),
			StandardMonthlyHours:   decimal.NewFromInt(208),
		},
		Payment:    config.Payment{Provider: "mock", MockSecret: "mock-secret"},
		Notify:     config.Notify{Backend: "log"},
		Optimistic: config.Optimistic{MaxRetries: 3, Backoff: time.Millisecond},
	}
}

type client struct {
	t     *testing.T
	e     *echo.Echo
	token string
}

func (c client) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	c.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	if c.token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.e.ServeHTTP(rec, req)
	return rec
}

// must performs the request and fails unless the status matches.
func (c client) must(want int, method, path string, body any) map[string]any {
	c.t.Helper()
	rec := c.do(method, path, body, nil)
	if rec.Code != want {
		c.t.Fatalf("%s %s = %d, want %d: %s", method, path, rec.Code, want, rec.Body.String())
	}
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return out
}

func newTestApp(t *testing.T) (*App, *echo.Echo) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	a, err := New(context.Background(), testConfig(), log)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	e := a.NewEcho()
	e.Logger.SetOutput(io.Discard)
	return a, e
}

func (a *App) clientFor(t *testing.T, e *echo.Echo, userID, role string) client {
	t.Helper()
	token, err := a.Auth.Issue(auth.Identity{UserID: userID, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return client{t: t, e: e, token: token}
}

func TestOrderToSettlementOverHTTP(t *testing.T) {
	a, e := newTestApp(t)
	admin := a.clientFor(t, e, "a1", auth.RoleAdmin)
	requester := a.clientFor(t, e, "r1", auth.RoleRequester)
	fulfiller := a.clientFor(t, e, "f1", auth.RoleFulfiller)
	referrer := a.clientFor(t, e, "ref1", auth.RoleReferrer)

	fulfiller.must(http.StatusOK, http.MethodPut, "/me/payout-account", map[string]string{"type": "MERCHANT_ID", "account": "1900000109"})
	referrer.must(http.StatusOK, http.MethodPut, "/me/payout-account", map[string]string{"type": "PERSONAL_OPENID", "account": "openid-ref"})
	requester.must(http.StatusOK, http.MethodPut, "/me/payer", map[string]string{"payerId": "openid-r1"})

	created := requester.must(http.StatusCreated, http.MethodPost, "/orders", map[string]any{
		"referrerId":  "ref1",
		"jobKind":     "harvest",
		"pricingMode": "unitRate",
		"unitRate":    map[string]any{"unit": "mu", "unitPrice": 5000, "estimatedQuantity": 10},
	})
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("created order has no id: %v", created)
	}
	base := "/orders/" + id

	// bidding needs certification
	fulfiller.must(http.StatusForbidden, http.MethodPost, base+"/bid", map[string]any{"price": 5000})
	admin.must(http.StatusOK, http.MethodPost, "/admin/users/f1/certification", map[string]string{"certification": "approved"})

	fulfiller.must(http.StatusOK, http.MethodPost, base+"/bid", map[string]any{"price": 5000})
	requester.must(http.StatusOK, http.MethodPost, base+"/accept", nil)
	fulfiller.must(http.StatusOK, http.MethodPost, base+"/start", nil)
	fulfiller.must(http.StatusOK, http.MethodPost, base+"/progress", map[string]any{"percent": 50, "description": "half harvested"})
	fulfiller.must(http.StatusOK, http.MethodPost, base+"/complete", nil)

	requester.must(http.StatusConflict, http.MethodPost, base+"/payment", nil)
	requester.must(http.StatusOK, http.MethodPost, base+"/confirm-workload", map[string]any{})
	res := fulfiller.must(http.StatusOK, http.MethodPost, base+"/confirm-workload", map[string]any{})
	if res["bothConfirmed"] != true {
		t.Fatalf("confirm result = %v", res)
	}

	pay := requester.must(http.StatusOK, http.MethodPost, base+"/payment", nil)
	// labor 50000 plus the 2% referrer commission
	if pay["amount"] != float64(51000) {
		t.Fatalf("payment amount = %v, want 51000", pay["amount"])
	}
	paymentID, _ := pay["paymentId"].(string)
	full := requester.must(http.StatusOK, http.MethodGet, "/payments/"+paymentID, nil)
	chargeRef, _ := full["externalChargeRef"].(string)

	gw := a.Gateway.(*mockpay.Gateway)
	cb := gw.Callback(chargeRef, 51000, "TX-HTTP")
	public := client{t: t, e: e}
	rec := public.do(http.MethodPost, "/payments/callback", cb.Body, cb.Header)
	if rec.Code != http.StatusOK {
		t.Fatalf("callback = %d: %s", rec.Code, rec.Body.String())
	}

	s := admin.must(http.StatusOK, http.MethodGet, "/admin/orders/"+id+"/settlement", nil)
	if s["status"] != "completed" {
		t.Fatalf("settlement = %v", s)
	}
	bal := fulfiller.must(http.StatusOK, http.MethodGet, "/wallet/balance", nil)
	if bal["balance"] != float64(47500) {
		t.Fatalf("fulfiller balance = %v, want 47500", bal["balance"])
	}
	bal = referrer.must(http.StatusOK, http.MethodGet, "/wallet/balance", nil)
	if bal["balance"] != float64(1000) {
		t.Fatalf("referrer balance = %v, want 1000", bal["balance"])
	}

	stats := referrer.must(http.StatusOK, http.MethodGet, "/referrals/stats", nil)
	if st, _ := stats["stats"].(map[string]any); st["settledCommission"] != float64(1000) {
		t.Fatalf("referral stats = %v", stats)
	}

	inbox := requester.must(http.StatusOK, http.MethodGet, "/notifications", nil)
	if items, _ := inbox["notifications"].([]any); len(items) == 0 {
		t.Fatalf("requester inbox is empty")
	}
}

func TestRouteGuards(t *testing.T) {
	a, e := newTestApp(t)
	requester := a.clientFor(t, e, "r1", auth.RoleRequester)

	anon := client{t: t, e: e}
	if rec := anon.do(http.MethodGet, "/me", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous /me = %d, want 401", rec.Code)
	}
	requester.must(http.StatusForbidden, http.MethodPost, "/orders/x/bid", map[string]any{"price": 1})
	requester.must(http.StatusForbidden, http.MethodGet, "/admin/settlements/failed", nil)
	requester.must(http.StatusForbidden, http.MethodGet, "/referrals/stats", nil)
	requester.must(http.StatusForbidden, http.MethodPost, "/orders/x/progress", map[string]any{"percent": 10})
	requester.must(http.StatusBadRequest, http.MethodPost, "/orders", map[string]any{"jobKind": "mining"})

	bad := client{t: t, e: e}
	rec := bad.do(http.MethodPost, "/payments/callback", []byte(`{"chargeRef":"x","amount":1,"transactionId":"t"}`),
		http.Header{mockpay.SignatureHeader: []string{"00"}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged callback = %d, want 401", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	_, e := newTestApp(t)
	c := client{t: t, e: e}
	if rec := c.do(http.MethodGet, "/ready", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("/ready = %d", rec.Code)
	}
}
