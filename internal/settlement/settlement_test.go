package settlement

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/farmhand/internal/alerts"
	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/docstore"
	"github.com/sudo-init-do/farmhand/internal/order"
	"github.com/sudo-init-do/farmhand/internal/payment"
	"github.com/sudo-init-do/farmhand/internal/payment/mockpay"
	"github.com/sudo-init-do/farmhand/internal/pricing"
	"github.com/sudo-init-do/farmhand/internal/user"
	"github.com/sudo-init-do/farmhand/internal/wallet"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []alerts.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerts.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count(taskType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Type == taskType {
			n++
		}
	}
	return n
}

type harness struct {
	store      docstore.Store
	gw         *mockpay.Gateway
	users      *user.Service
	ledger     *wallet.Ledger
	payments   *payment.Service
	engine     *Engine
	reconciler *Reconciler
	notifier   *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, docstore.NewMemoryStore())
}

func newHarnessOn(t *testing.T, store docstore.Store) *harness {
	t.Helper()
	policy := docstore.Policy{MaxRetries: 5, Backoff: time.Millisecond}
	log := logrus.New()
	log.SetOutput(io.Discard)

	h := &harness{
		store:    store,
		gw:       mockpay.New("secret"),
		users:    user.NewService(store, policy),
		ledger:   wallet.NewLedger(store),
		notifier: &recordingNotifier{},
	}
	engine := pricing.NewEngine(pricing.DefaultRates())
	h.payments = payment.NewService(store, policy, engine, h.gw, h.users)
	h.engine = NewEngine(Deps{
		Store:        store,
		Policy:       policy,
		Pricing:      engine,
		Payments:     h.payments,
		Gateway:      h.gw,
		Destinations: h.users,
		Ledger:       h.ledger,
		Notifier:     h.notifier,
		Log:          log,
	})
	h.reconciler = NewReconciler(h.gw, h.payments, h.engine, h.notifier, log)
	return h
}

// seed stores a completed, confirmed unit-rate order for 10 × 5000 with a
// referrer, plus profiles for each party. Referrer payout binding is
// optional.
func (h *harness) seed(t *testing.T, bindReferrer bool) {
	t.Helper()
	ctx := context.Background()
	o := &order.Order{
		ID:                   "o1",
		RequesterID:          "r1",
		FulfillerID:          "f1",
		ReferrerID:           "ref1",
		JobKind:              order.JobHarvest,
		PricingMode:          order.ModeUnitRate,
		UnitRate:             &order.UnitRate{Unit: "mu", UnitPrice: 5000, EstimatedQuantity: 10},
		Status:               order.StatusCompleted,
		Timeline:             order.Timeline{CreatedAt: time.Now().UTC()},
		ConfirmedByRequester: true,
		ConfirmedByFulfiller: true,
	}
	if err := docstore.Create(ctx, h.store, order.Collection, o.ID, o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	for _, p := range []*user.Profile{
		{ID: "r1", Role: auth.RoleRequester, Status: user.StatusActive},
		{ID: "f1", Role: auth.RoleFulfiller, Status: user.StatusActive, Certification: user.CertificationApproved},
		{ID: "ref1", Role: auth.RoleReferrer, Status: user.StatusActive},
	} {
		if err := h.users.Register(ctx, p); err != nil {
			t.Fatalf("register %s: %v", p.ID, err)
		}
	}
	if _, err := h.users.BindPayout(ctx, "f1", user.PayoutAccount{Type: user.PayoutMerchantID, Account: "1900000109"}); err != nil {
		t.Fatalf("bind f1: %v", err)
	}
	if bindReferrer {
		if _, err := h.users.BindPayout(ctx, "ref1", user.PayoutAccount{Type: user.PayoutPersonalOpenID, Account: "openid-ref"}); err != nil {
			t.Fatalf("bind ref1: %v", err)
		}
	}
}

func (h *harness) pay(t *testing.T) *payment.Payment {
	t.Helper()
	p, err := h.payments.Create(context.Background(), "o1", "r1")
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return p
}

func (h *harness) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance %s: %v", userID, err)
	}
	return b
}

func TestReconcileSettlesOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	p := h.pay(t)
	ctx := context.Background()

	if err := h.reconciler.Reconcile(ctx, h.gw.Callback(p.ExternalChargeRef, p.Amount, "TX1")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	first, err := h.engine.ForOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("settlement: %v", err)
	}
	if first.Status != StatusCompleted || first.FulfillerAmount != 47500 || first.ReferrerAmount != 1000 || first.PlatformFee != 2500 {
		t.Fatalf("settlement = %+v", first)
	}

	again, err := h.engine.Settle(ctx, "o1")
	if err != nil {
		t.Fatalf("settle again: %v", err)
	}
	if again.ID != first.ID || again.Version != first.Version || !again.SettledAt.Equal(first.SettledAt) {
		t.Fatalf("second settle = %+v, want %+v", again, first)
	}
	if err := h.reconciler.Reconcile(ctx, h.gw.Callback(p.ExternalChargeRef, p.Amount, "TX1")); err != nil {
		t.Fatalf("duplicate reconcile: %v", err)
	}

	if got := h.balance(t, "f1"); got != 47500 {
		t.Fatalf("fulfiller balance = %d, want 47500", got)
	}
	if got := h.balance(t, "ref1"); got != 1000 {
		t.Fatalf("referrer balance = %d, want 1000", got)
	}
	if got := h.gw.Payouts(); got != 1 {
		t.Fatalf("payouts = %d, want 1", got)
	}
	req, _ := h.gw.PayoutFor(first.ID)
	if len(req.Receivers) != 2 || req.ExternalTxnID != "TX1" {
		t.Fatalf("payout request = %+v", req)
	}
	if got := h.notifier.count(alerts.TaskPaymentConfirmed); got != 1 {
		t.Fatalf("payment_confirmed sent %d times, want 1", got)
	}
	if got := h.notifier.count(alerts.TaskSettlementCompleted); got != 2 {
		t.Fatalf("settlement_completed sent %d times, want 2", got)
	}
}

func TestReconcileRejections(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	p := h.pay(t)
	ctx := context.Background()

	forged := mockpay.New("other").Callback(p.ExternalChargeRef, p.Amount, "TX1")
	if err := h.reconciler.Reconcile(ctx, forged); !errors.Is(err, apperr.ErrInvalidSignature) {
		t.Fatalf("forged = %v, want invalid signature", err)
	}
	if err := h.reconciler.Reconcile(ctx, h.gw.Callback("ORDER_unknown", p.Amount, "TX1")); !errors.Is(err, apperr.ErrPaymentNotFound) {
		t.Fatalf("unknown charge = %v, want payment not found", err)
	}
	if err := h.reconciler.Reconcile(ctx, h.gw.Callback(p.ExternalChargeRef, p.Amount-1, "TX1")); !errors.Is(err, apperr.ErrAmountMismatch) {
		t.Fatalf("short amount = %v, want amount mismatch", err)
	}

	got, _ := h.payments.ForOrder(ctx, "o1")
	if got.Paid() {
		t.Fatal("payment marked paid after rejected callbacks")
	}
	if _, err := h.engine.ForOrder(ctx, "o1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("settlement = %v, want none", err)
	}
}

func TestSettleRequiresPaidPayment(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	ctx := context.Background()

	if _, err := h.engine.Settle(ctx, "o1"); !errors.Is(err, apperr.ErrPaymentNotConfirmed) {
		t.Fatalf("no payment = %v, want payment not confirmed", err)
	}
	h.pay(t)
	if _, err := h.engine.Settle(ctx, "o1"); !errors.Is(err, apperr.ErrPaymentNotConfirmed) {
		t.Fatalf("pending payment = %v, want payment not confirmed", err)
	}
	if _, err := h.engine.Settle(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing order = %v, want not found", err)
	}
}

func TestMissingDestinationKeepsPaymentPaid(t *testing.T) {
	h := newHarness(t)
	h.seed(t, false)
	p := h.pay(t)
	ctx := context.Background()

	if err := h.reconciler.Reconcile(ctx, h.gw.Callback(p.ExternalChargeRef, p.Amount, "TX1")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	got, _ := h.payments.ForOrder(ctx, "o1")
	if !got.Paid() {
		t.Fatal("payment not paid")
	}
	if _, err := h.engine.Settle(ctx, "o1"); !errors.Is(err, apperr.ErrPayoutDestinationMissing) {
		t.Fatalf("settle = %v, want payout destination missing", err)
	}
	if h.gw.Payouts() != 0 || h.balance(t, "f1") != 0 {
		t.Fatal("money moved without a complete receiver list")
	}

	if _, err := h.users.BindPayout(ctx, "ref1", user.PayoutAccount{Type: user.PayoutPersonalOpenID, Account: "openid-ref"}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	s, err := h.engine.Settle(ctx, "o1")
	if err != nil {
		t.Fatalf("settle after binding: %v", err)
	}
	if s.Status != StatusCompleted || h.balance(t, "ref1") != 1000 {
		t.Fatalf("settlement = %+v", s)
	}
}

func TestPayoutFailureRecordedAndRetried(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	p := h.pay(t)
	ctx := context.Background()
	h.gw.FailPayouts(errors.New("processor unavailable"))

	if err := h.reconciler.Reconcile(ctx, h.gw.Callback(p.ExternalChargeRef, p.Amount, "TX1")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	s, err := h.engine.ForOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("settlement: %v", err)
	}
	if s.Status != StatusPayoutFailed || s.PayoutError != "processor unavailable" {
		t.Fatalf("settlement = %+v, want payout_failed", s)
	}
	failed, _ := h.engine.ListFailed(ctx, 10)
	if len(failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(failed))
	}
	if h.notifier.count(alerts.TaskSettlementCompleted) != 0 {
		t.Fatal("completion announced for a failed payout")
	}

	if _, err := h.engine.RetryPayout(ctx, "o1"); !errors.Is(err, apperr.ErrExternalService) {
		t.Fatalf("retry while down = %v, want external service error", err)
	}

	h.gw.FailPayouts(nil)
	s, err = h.engine.RetryPayout(ctx, "o1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.Status != StatusCompleted || s.PayoutError != "" || s.PayoutAttempts != 3 {
		t.Fatalf("settlement = %+v", s)
	}
	if h.balance(t, "f1") != 47500 || h.balance(t, "ref1") != 1000 {
		t.Fatal("balances changed by payout retry")
	}
	if h.gw.Payouts() != 1 {
		t.Fatalf("payouts = %d, want 1", h.gw.Payouts())
	}
}

func TestConcurrentSettleCreditsOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	p := h.pay(t)
	ctx := context.Background()
	if _, _, err := h.payments.MarkPaid(ctx, p.ID, payment.CallbackEvent{Amount: p.Amount, ExternalTxnID: "TX1"}); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := h.engine.Settle(ctx, "o1")
			if err != nil {
				t.Errorf("settle %d: %v", i, err)
				return
			}
			ids[i] = s.ID
		}(i)
	}
	wg.Wait()

	for i, id := range ids {
		if id != IDFor("o1") {
			t.Fatalf("settle %d returned %q", i, id)
		}
	}
	if got := h.balance(t, "f1"); got != 47500 {
		t.Fatalf("fulfiller balance = %d, want 47500", got)
	}
	if got := h.balance(t, "ref1"); got != 1000 {
		t.Fatalf("referrer balance = %d, want 1000", got)
	}
}

func TestReferrerWhoFulfillsGetsBothCredits(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	ctx := context.Background()
	if _, err := docstore.Update[order.Order](ctx, h.store, docstore.DefaultPolicy(), order.Collection, "o1", func(o *order.Order) error {
		o.ReferrerID = "f1"
		return nil
	}); err != nil {
		t.Fatalf("set referrer: %v", err)
	}
	p := h.pay(t)

	if err := h.reconciler.Reconcile(ctx, h.gw.Callback(p.ExternalChargeRef, p.Amount, "TX1")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	s, err := h.engine.ForOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("settlement: %v", err)
	}
	if s.FulfillerAmount != 47500 || s.ReferrerAmount != 1000 || len(s.Receivers) != 2 {
		t.Fatalf("settlement = %+v", s)
	}
	if got := h.balance(t, "f1"); got != 48500 {
		t.Fatalf("balance = %d, want 48500", got)
	}
	if _, err := h.engine.Settle(ctx, "o1"); err != nil {
		t.Fatalf("settle again: %v", err)
	}
	if got := h.balance(t, "f1"); got != 48500 {
		t.Fatalf("balance after repeat = %d, want 48500", got)
	}
}

// failingCredits fails the first `failures` balance credits without writing.
type failingCredits struct {
	*docstore.MemoryStore
	mu       sync.Mutex
	failures int
}

func (s *failingCredits) IncrementOnce(ctx context.Context, collection, id, field string, delta int64, marker docstore.Marker) error {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.MemoryStore.IncrementOnce(ctx, collection, id, field, delta, marker)
}

func TestFailedCreditIsReappliedBySettle(t *testing.T) {
	h := newHarnessOn(t, &failingCredits{MemoryStore: docstore.NewMemoryStore(), failures: 1})
	h.seed(t, true)
	p := h.pay(t)
	ctx := context.Background()
	if _, _, err := h.payments.MarkPaid(ctx, p.ID, payment.CallbackEvent{Amount: p.Amount, ExternalTxnID: "TX1"}); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	if _, err := h.engine.Settle(ctx, "o1"); err == nil {
		t.Fatal("first settle should report the failed credit")
	}
	if got := h.balance(t, "f1"); got != 0 {
		t.Fatalf("balance after failure = %d, want 0", got)
	}

	s, err := h.engine.Settle(ctx, "o1")
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if s.Status != StatusCompleted {
		t.Fatalf("settlement = %+v", s)
	}
	if got := h.balance(t, "f1"); got != 47500 {
		t.Fatalf("fulfiller balance = %d, want 47500", got)
	}
	if got := h.balance(t, "ref1"); got != 1000 {
		t.Fatalf("referrer balance = %d, want 1000", got)
	}
	if got := h.gw.Payouts(); got != 1 {
		t.Fatalf("payouts = %d, want 1", got)
	}
}

func TestCancelledOrderIsNotSettled(t *testing.T) {
	h := newHarness(t)
	h.seed(t, true)
	p := h.pay(t)
	ctx := context.Background()
	if _, err := docstore.Update[order.Order](ctx, h.store, docstore.DefaultPolicy(), order.Collection, "o1", func(o *order.Order) error {
		return o.Apply(order.StatusCancelled, order.PartyRequester, time.Now().UTC())
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := h.reconciler.Reconcile(ctx, h.gw.Callback(p.ExternalChargeRef, p.Amount, "TX1")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	got, _ := h.payments.ForOrder(ctx, "o1")
	if !got.Paid() {
		t.Fatal("late payment not recorded")
	}
	if _, err := h.engine.Settle(ctx, "o1"); apperr.CodeOf(err) != apperr.CodeStateConflict {
		t.Fatalf("settle cancelled = %v, want state conflict", err)
	}
	if h.gw.Payouts() != 0 || h.balance(t, "f1") != 0 {
		t.Fatal("cancelled order paid out")
	}
}
