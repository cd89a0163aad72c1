package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/farmhand/internal/alerts"
	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/payment"
)

// PaymentLedger is the part of the payment service the reconciler drives.
type PaymentLedger interface {
	ByChargeRef(ctx context.Context, chargeRef string) (*payment.Payment, error)
	MarkPaid(ctx context.Context, paymentID string, ev payment.CallbackEvent) (*payment.Payment, bool, error)
}

// Settler settles an order once its payment is confirmed.
type Settler interface {
	Settle(ctx context.Context, orderID string) (*Settlement, error)
}

// Reconciler applies payment confirmations delivered by the gateway.
type Reconciler struct {
	gateway  payment.Gateway
	payments PaymentLedger
	settler  Settler
	notifier alerts.Notifier
	log      logrus.FieldLogger
}

func NewReconciler(gw payment.Gateway, payments PaymentLedger, settler Settler, notifier alerts.Notifier, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{gateway: gw, payments: payments, settler: settler, notifier: notifier, log: log}
}

// Reconcile marks the confirmed payment paid and then settles its order.
// Redelivered confirmations succeed without effect. Settlement failures are
// logged only: the payment stays paid and settlement can be retried.
func (r *Reconciler) Reconcile(ctx context.Context, raw payment.RawCallback) error {
	ev, err := r.gateway.VerifyCallback(ctx, raw)
	if err != nil {
		return apperr.Wrap(apperr.CodeInvalidSignature, "callback verification failed", err)
	}
	if ev == nil || !ev.Authentic {
		return apperr.ErrInvalidSignature
	}
	log := r.log.WithFields(logrus.Fields{"charge_ref": ev.ChargeRef, "txn_id": ev.ExternalTxnID})

	p, err := r.payments.ByChargeRef(ctx, ev.ChargeRef)
	if err != nil {
		log.WithError(err).Warn("payment confirmation for unknown charge")
		return err
	}
	if p.Paid() {
		log.Debug("duplicate payment confirmation ignored")
		return nil
	}
	if ev.Amount != p.Amount {
		log.WithFields(logrus.Fields{"confirmed": ev.Amount, "expected": p.Amount}).Error("payment amount mismatch")
		return apperr.New(apperr.CodeAmountMismatch,
			fmt.Sprintf("confirmed amount %d does not match payment amount %d", ev.Amount, p.Amount))
	}

	p, already, err := r.payments.MarkPaid(ctx, p.ID, *ev)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	log = log.WithField("order_id", p.OrderID)
	log.Info("payment confirmed")
	alerts.Dispatch(ctx, r.notifier, r.log, alerts.Notification{
		Type:    alerts.TaskPaymentConfirmed,
		Target:  p.PayerID,
		OrderID: p.OrderID,
		Payload: map[string]any{"paymentId": p.ID, "amount": p.Amount},
	})

	if _, err := r.settler.Settle(ctx, p.OrderID); err != nil {
		entry := log.WithError(err)
		if errors.Is(err, apperr.ErrPayoutDestinationMissing) {
			entry.Warn("settlement deferred: payout destination missing")
		} else {
			entry.Error("settlement after payment failed")
		}
	}
	return nil
}
