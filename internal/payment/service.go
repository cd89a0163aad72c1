package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/docstore"
	"github.com/sudo-init-do/farmhand/internal/order"
	"github.com/sudo-init-do/farmhand/internal/pricing"
	"github.com/sudo-init-do/farmhand/internal/user"
)

var paymentNamespace = uuid.MustParse("6f1c2f3e-5b0a-4b52-9a57-1d0f4e8c2a10")

// IDFor is the payment id of an order. One order never has two payments.
func IDFor(orderID string) string {
	return uuid.NewSHA1(paymentNamespace, []byte(orderID)).String()
}

// ProfileReader resolves the payer identity the gateway charges.
type ProfileReader interface {
	Get(ctx context.Context, userID string) (*user.Profile, error)
}

type Service struct {
	store    docstore.Store
	policy   docstore.Policy
	pricing  *pricing.Engine
	gateway  Gateway
	profiles ProfileReader
	now      func() time.Time
}

func NewService(store docstore.Store, policy docstore.Policy, engine *pricing.Engine, gw Gateway, profiles ProfileReader) *Service {
	return &Service{
		store:    store,
		policy:   policy,
		pricing:  engine,
		gateway:  gw,
		profiles: profiles,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create opens the charge for a completed order. Only the requester may pay,
// and only once both parties confirmed the workload. Repeated calls return
// the existing payment with its cached client parameters.
func (s *Service) Create(ctx context.Context, orderID, callerID string) (*Payment, error) {
	o, err := docstore.Get[order.Order](ctx, s.store, order.Collection, orderID)
	if err != nil {
		return nil, err
	}
	if party, ok := o.PartyOf(callerID); !ok || party != order.PartyRequester {
		return nil, apperr.Forbidden("only the requester can pay for this order")
	}
	if o.Status != order.StatusCompleted {
		return nil, apperr.Conflict(fmt.Sprintf("order is %s, payment needs completed", o.Status))
	}
	if !o.BothConfirmed() {
		return nil, apperr.Conflict("workload not confirmed by both parties")
	}

	id := IDFor(orderID)
	if existing, err := docstore.Get[Payment](ctx, s.store, Collection, id); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if o.Financials == nil {
		o, err = docstore.Update[order.Order](ctx, s.store, s.policy, order.Collection, orderID, func(cur *order.Order) error {
			return s.pricing.Ensure(cur, s.now())
		})
		if err != nil {
			return nil, err
		}
	}

	payer := ""
	if p, err := s.profiles.Get(ctx, callerID); err == nil {
		payer = p.PayerID
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	charge, err := s.gateway.CreateCharge(ctx, ChargeRequest{
		OrderRef:      fmt.Sprintf("ORDER_%s_%d", orderID, now.UnixMilli()),
		Amount:        o.Financials.TotalAmount,
		PayerIdentity: payer,
		Description:   string(o.JobKind) + " order " + orderID,
	})
	if err != nil {
		return nil, apperr.External("create charge", err)
	}

	p := &Payment{
		ID:                id,
		OrderID:           orderID,
		PayerID:           callerID,
		ExternalChargeRef: charge.ChargeRef,
		Amount:            o.Financials.TotalAmount,
		Status:            StatusPending,
		ClientParams:      charge.ClientParams,
		CreatedAt:         now,
	}
	if err := docstore.Create(ctx, s.store, Collection, id, p); err != nil {
		if errors.Is(err, docstore.ErrDuplicate) {
			return docstore.Get[Payment](ctx, s.store, Collection, id)
		}
		return nil, fmt.Errorf("store payment: %w", err)
	}
	return p, nil
}

// Get returns a payment to a party of its order.
func (s *Service) Get(ctx context.Context, paymentID, callerID string) (*Payment, error) {
	p, err := docstore.Get[Payment](ctx, s.store, Collection, paymentID)
	if err != nil {
		return nil, err
	}
	o, err := docstore.Get[order.Order](ctx, s.store, order.Collection, p.OrderID)
	if err != nil {
		return nil, err
	}
	if _, ok := o.PartyOf(callerID); !ok {
		return nil, apperr.Forbidden("not a party of this order")
	}
	return p, nil
}

// ForOrder returns the payment of orderID.
func (s *Service) ForOrder(ctx context.Context, orderID string) (*Payment, error) {
	return docstore.Get[Payment](ctx, s.store, Collection, IDFor(orderID))
}

// ByChargeRef finds the payment a gateway callback refers to.
func (s *Service) ByChargeRef(ctx context.Context, chargeRef string) (*Payment, error) {
	p, err := docstore.FindOne[Payment](ctx, s.store, Collection, docstore.Query{
		Where: []docstore.Filter{{Field: "externalChargeRef", Value: chargeRef}},
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Wrap(apperr.CodePaymentNotFound, "no payment for charge "+chargeRef, err)
		}
		return nil, err
	}
	return p, nil
}

// MarkPaid records the confirmed transaction. A payment found already paid
// is returned with alreadyPaid set and is not touched.
func (s *Service) MarkPaid(ctx context.Context, paymentID string, ev CallbackEvent) (p *Payment, alreadyPaid bool, err error) {
	p, err = docstore.Update[Payment](ctx, s.store, s.policy, Collection, paymentID, func(cur *Payment) error {
		if cur.Paid() {
			alreadyPaid = true
			return errAlreadyPaid
		}
		if cur.Amount != ev.Amount {
			return apperr.New(apperr.CodeAmountMismatch,
				fmt.Sprintf("confirmed amount %d does not match payment amount %d", ev.Amount, cur.Amount))
		}
		now := s.now()
		cur.Status = StatusPaid
		cur.ExternalTxnID = ev.ExternalTxnID
		cur.PaidAt = &now
		return nil
	})
	if errors.Is(err, errAlreadyPaid) {
		p, err = docstore.Get[Payment](ctx, s.store, Collection, paymentID)
		return p, true, err
	}
	return p, alreadyPaid, err
}

var errAlreadyPaid = errors.New("payment already paid")
