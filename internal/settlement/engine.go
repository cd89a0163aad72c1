// Package settlement turns a paid order into a payout to its fulfiller and
// referrer and credits their balances exactly once.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/farmhand/internal/alerts"
	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/docstore"
	"github.com/sudo-init-do/farmhand/internal/order"
	"github.com/sudo-init-do/farmhand/internal/payment"
	"github.com/sudo-init-do/farmhand/internal/pricing"
	"github.com/sudo-init-do/farmhand/internal/user"
)

// Destinations resolves where a user is paid.
type Destinations interface {
	PayoutDestination(ctx context.Context, userID string) (user.PayoutAccount, error)
}

// Creditor credits balances. Repeating a credit with the same user, kind and
// reference is a no-op; a failed credit writes nothing.
type Creditor interface {
	Credit(ctx context.Context, userID string, amount int64, kind, reference string) error
}

// Payments reads the payment behind an order.
type Payments interface {
	ForOrder(ctx context.Context, orderID string) (*payment.Payment, error)
}

type Engine struct {
	store        docstore.Store
	policy       docstore.Policy
	pricing      *pricing.Engine
	payments     Payments
	gateway      payment.Gateway
	destinations Destinations
	ledger       Creditor
	notifier     alerts.Notifier
	log          logrus.FieldLogger
	now          func() time.Time
}

type Deps struct {
	Store        docstore.Store
	Policy       docstore.Policy
	Pricing      *pricing.Engine
	Payments     Payments
	Gateway      payment.Gateway
	Destinations Destinations
	Ledger       Creditor
	Notifier     alerts.Notifier
	Log          logrus.FieldLogger
}

func NewEngine(d Deps) *Engine {
	return &Engine{
		store:        d.Store,
		policy:       d.Policy,
		pricing:      d.Pricing,
		payments:     d.Payments,
		gateway:      d.Gateway,
		destinations: d.Destinations,
		ledger:       d.Ledger,
		notifier:     d.Notifier,
		log:          d.Log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Settle settles a paid order. An order already settled returns its
// settlement without repeating the payout; its credits are re-applied, which
// only writes the ones an earlier call failed to record. A cancelled order
// is not settled: its payment is held for a manual refund. A failed payout
// is recorded as payout_failed rather than returned as an error.
func (e *Engine) Settle(ctx context.Context, orderID string) (*Settlement, error) {
	o, err := docstore.Get[order.Order](ctx, e.store, order.Collection, orderID)
	if err != nil {
		return nil, err
	}
	if o.Financials == nil {
		o, err = docstore.Update[order.Order](ctx, e.store, e.policy, order.Collection, orderID, func(cur *order.Order) error {
			return e.pricing.Ensure(cur, e.now())
		})
		if err != nil {
			return nil, err
		}
	}
	f := o.Financials

	p, err := e.payments.ForOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Wrap(apperr.CodePaymentNotConfirmed, "order "+orderID+" has no payment", err)
		}
		return nil, err
	}
	if !p.Paid() {
		return nil, apperr.New(apperr.CodePaymentNotConfirmed, fmt.Sprintf("payment %s is %s", p.ID, p.Status))
	}
	if p.Amount != f.TotalAmount {
		return nil, apperr.New(apperr.CodePaymentNotConfirmed,
			fmt.Sprintf("paid amount %d does not match order total %d", p.Amount, f.TotalAmount))
	}

	id := IDFor(orderID)
	if existing, err := e.Get(ctx, id); err == nil {
		if err := e.credit(ctx, existing); err != nil {
			return existing, err
		}
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if o.Status == order.StatusCancelled {
		e.log.WithFields(logrus.Fields{"order_id": orderID, "payment_id": p.ID, "amount": p.Amount}).
			Warn("paid order was cancelled; payment held for refund")
		return nil, apperr.Conflict("order " + orderID + " is cancelled; payment " + p.ID + " needs a refund")
	}

	receivers, err := e.receivers(ctx, o)
	if err != nil {
		return nil, err
	}

	s := &Settlement{
		ID:              id,
		OrderID:         orderID,
		PaymentID:       p.ID,
		FulfillerID:     o.FulfillerID,
		ReferrerID:      o.ReferrerID,
		FulfillerAmount: f.FulfillerIncome,
		ReferrerAmount:  f.ReferrerCommission,
		PlatformFee:     f.PlatformFee,
		Receivers:       receivers,
		Status:          StatusCompleted,
		SettledAt:       e.now(),
	}
	if len(receivers) > 0 {
		e.payout(ctx, s, p)
	}

	if err := docstore.Create(ctx, e.store, Collection, id, s); err != nil {
		if errors.Is(err, docstore.ErrDuplicate) {
			// a concurrent caller settled first; its credits are idempotent
			existing, err := e.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			return existing, e.credit(ctx, existing)
		}
		return nil, fmt.Errorf("store settlement: %w", err)
	}

	if err := e.credit(ctx, s); err != nil {
		return s, err
	}

	log := e.log.WithFields(logrus.Fields{"order_id": orderID, "settlement_id": id, "status": s.Status})
	if s.Status == StatusPayoutFailed {
		log.WithField("payout_error", s.PayoutError).Error("settlement recorded but payout failed")
	} else {
		log.Info("order settled")
	}
	e.notify(ctx, s)
	return s, nil
}

// RetryPayout repeats the payout of a payout_failed settlement with the
// same out order number and receivers. Balances are not credited again.
func (e *Engine) RetryPayout(ctx context.Context, orderID string) (*Settlement, error) {
	id := IDFor(orderID)
	s, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusCompleted {
		return s, nil
	}
	p, err := e.payments.ForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	attempt := *s
	e.payout(ctx, &attempt, p)

	s, err = docstore.Update[Settlement](ctx, e.store, e.policy, Collection, id, func(cur *Settlement) error {
		if cur.Status == StatusCompleted {
			return nil
		}
		cur.PayoutAttempts++
		cur.Status = attempt.Status
		cur.PayoutError = attempt.PayoutError
		cur.PayoutRef = attempt.PayoutRef
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Status != StatusCompleted {
		return s, apperr.External("payout failed again: "+s.PayoutError, nil)
	}
	e.log.WithFields(logrus.Fields{"order_id": orderID, "settlement_id": id}).Info("payout retried")
	e.notify(ctx, s)
	return s, nil
}

func (e *Engine) Get(ctx context.Context, settlementID string) (*Settlement, error) {
	return docstore.Get[Settlement](ctx, e.store, Collection, settlementID)
}

// ForOrder returns the settlement of orderID.
func (e *Engine) ForOrder(ctx context.Context, orderID string) (*Settlement, error) {
	return e.Get(ctx, IDFor(orderID))
}

// ListFailed returns settlements waiting for a payout retry.
func (e *Engine) ListFailed(ctx context.Context, limit int) ([]*Settlement, error) {
	return docstore.Find[Settlement](ctx, e.store, Collection, docstore.Query{
		Where: []docstore.Filter{{Field: "status", Value: string(StatusPayoutFailed)}},
		Limit: limit,
	})
}

func (e *Engine) receivers(ctx context.Context, o *order.Order) ([]payment.Receiver, error) {
	f := o.Financials
	var out []payment.Receiver
	if f.FulfillerIncome > 0 {
		acct, err := e.destinations.PayoutDestination(ctx, o.FulfillerID)
		if err != nil {
			return nil, err
		}
		out = append(out, payment.Receiver{
			Type:        string(acct.Type),
			Account:     acct.Account,
			Name:        acct.Name,
			Amount:      f.FulfillerIncome,
			Description: "labor income for order " + o.ID,
		})
	}
	if f.ReferrerCommission > 0 && o.ReferrerID != "" {
		acct, err := e.destinations.PayoutDestination(ctx, o.ReferrerID)
		if err != nil {
			return nil, err
		}
		out = append(out, payment.Receiver{
			Type:        string(acct.Type),
			Account:     acct.Account,
			Name:        acct.Name,
			Amount:      f.ReferrerCommission,
			Description: "referral commission for order " + o.ID,
		})
	}
	return out, nil
}

// payout calls the gateway and records the outcome on s.
func (e *Engine) payout(ctx context.Context, s *Settlement, p *payment.Payment) {
	res, err := e.gateway.Payout(ctx, payment.PayoutRequest{
		ChargeRef:     p.ExternalChargeRef,
		ExternalTxnID: p.ExternalTxnID,
		OutOrderNo:    s.ID,
		Receivers:     s.Receivers,
	})
	s.PayoutAttempts++
	switch {
	case err != nil:
		s.Status = StatusPayoutFailed
		s.PayoutError = err.Error()
	case !res.Success:
		s.Status = StatusPayoutFailed
		s.PayoutError = "payout rejected by processor"
	default:
		s.Status = StatusCompleted
		s.PayoutError = ""
		s.PayoutRef = res.Reference
	}
}

func (e *Engine) credit(ctx context.Context, s *Settlement) error {
	if s.FulfillerAmount > 0 {
		if err := e.ledger.Credit(ctx, s.FulfillerID, s.FulfillerAmount, KindFulfillerIncome, s.ID); err != nil {
			return fmt.Errorf("credit fulfiller: %w", err)
		}
	}
	if s.ReferrerAmount > 0 && s.ReferrerID != "" {
		if err := e.ledger.Credit(ctx, s.ReferrerID, s.ReferrerAmount, KindReferrerCommission, s.ID); err != nil {
			return fmt.Errorf("credit referrer: %w", err)
		}
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, s *Settlement) {
	if s.Status != StatusCompleted {
		return
	}
	for _, target := range []string{s.FulfillerID, s.ReferrerID} {
		if target == "" {
			continue
		}
		alerts.Dispatch(ctx, e.notifier, e.log, alerts.Notification{
			Type:    alerts.TaskSettlementCompleted,
			Target:  target,
			OrderID: s.OrderID,
			Payload: map[string]any{"settlementId": s.ID},
		})
	}
}
