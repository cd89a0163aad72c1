// Package marketplace runs the order lifecycle: posting, bidding, execution,
// workload confirmation and cancellation.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/farmhand/internal/alerts"
	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/docstore"
	"github.com/sudo-init-do/farmhand/internal/order"
	"github.com/sudo-init-do/farmhand/internal/payment"
	"github.com/sudo-init-do/farmhand/internal/pricing"
	"github.com/sudo-init-do/farmhand/internal/settlement"
	"github.com/sudo-init-do/farmhand/internal/user"
)

const (
	maxCancelReason     = 200
	defaultCancelReason = "user cancelled"
)

type ProfileReader interface {
	Get(ctx context.Context, userID string) (*user.Profile, error)
}

type PaymentReader interface {
	ForOrder(ctx context.Context, orderID string) (*payment.Payment, error)
}

type Service struct {
	store    docstore.Store
	policy   docstore.Policy
	pricing  *pricing.Engine
	profiles ProfileReader
	payments PaymentReader
	settler  settlement.Settler
	notifier alerts.Notifier
	log      logrus.FieldLogger
	now      func() time.Time
}

type Deps struct {
	Store    docstore.Store
	Policy   docstore.Policy
	Pricing  *pricing.Engine
	Profiles ProfileReader
	Payments PaymentReader
	Settler  settlement.Settler
	Notifier alerts.Notifier
	Log      logrus.FieldLogger
}

func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		policy:   d.Policy,
		pricing:  d.Pricing,
		profiles: d.Profiles,
		payments: d.Payments,
		settler:  d.Settler,
		notifier: d.Notifier,
		log:      d.Log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create posts a new pending order for requesterID and announces it to
// fulfillers.
func (s *Service) Create(ctx context.Context, requesterID string, req CreateOrderRequest) (*order.Order, error) {
	if req.ReferrerID == requesterID {
		return nil, apperr.Validation("requester cannot refer their own order")
	}
	o := &order.Order{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		ReferrerID:  req.ReferrerID,
		JobKind:     req.JobKind,
		PricingMode: req.PricingMode,
		Description: strings.TrimSpace(req.Description),
		Location:    strings.TrimSpace(req.Location),
		Status:      order.StatusPending,
		Timeline:    order.Timeline{CreatedAt: s.now()},
	}
	// keep only the block the mode uses
	switch req.PricingMode {
	case order.ModeUnitRate:
		o.UnitRate = req.UnitRate
	case order.ModeDailyRate:
		o.DailyRate = req.DailyRate
	case order.ModeMonthlyRate:
		o.MonthlyRate = req.MonthlyRate
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := docstore.Create(ctx, s.store, order.Collection, o.ID, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.log.WithFields(logrus.Fields{"order_id": o.ID, "requester_id": requesterID, "mode": o.PricingMode}).Info("order created")
	s.notify(ctx, alerts.TaskNewDemand, "", alerts.GroupFulfillers, o, map[string]any{
		"jobKind":  o.JobKind,
		"location": o.Location,
	})
	return o, nil
}

// Bid places a fulfiller's quote on a pending order. Only certified, active
// fulfillers may bid, never on their own order, and only one bid can win
// the pending order.
func (s *Service) Bid(ctx context.Context, orderID string, caller auth.Identity, price int64) (*order.Order, error) {
	if caller.Role != auth.RoleFulfiller {
		return nil, apperr.Forbidden("only fulfillers can bid")
	}
	if price <= 0 {
		return nil, apperr.Validation("quote price must be positive")
	}
	profile, err := s.profiles.Get(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.New(apperr.CodeNotVerified, "fulfiller profile not found")
		}
		return nil, err
	}
	if profile.Role != auth.RoleFulfiller {
		return nil, apperr.Forbidden("profile is not a fulfiller")
	}
	if !profile.Verified() {
		return nil, apperr.New(apperr.CodeNotVerified, "fulfiller is not certified or not active")
	}

	o, err := docstore.Update[order.Order](ctx, s.store, s.policy, order.Collection, orderID, func(o *order.Order) error {
		if o.RequesterID == caller.UserID {
			return apperr.Forbidden("cannot bid on your own order")
		}
		if err := order.Transition(o.Status, order.StatusBid, order.PartyFulfiller); err != nil {
			return err
		}
		if o.FulfillerID != "" && o.FulfillerID != caller.UserID {
			return apperr.Conflict("order already has a bid from another fulfiller")
		}
		if err := o.ApplyQuote(price); err != nil {
			return err
		}
		o.FulfillerID = caller.UserID
		return o.Apply(order.StatusBid, order.PartyFulfiller, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"order_id": orderID, "fulfiller_id": caller.UserID, "price": price}).Info("bid placed")
	s.notify(ctx, alerts.TaskNewBid, o.RequesterID, "", o, map[string]any{"price": price, "fulfillerId": caller.UserID})
	return o, nil
}

// Accept is the requester taking the current bid.
func (s *Service) Accept(ctx context.Context, orderID, callerID string) (*order.Order, error) {
	o, err := s.transition(ctx, orderID, callerID, order.StatusAccepted, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, alerts.TaskBidAccepted, o.FulfillerID, "", o, nil)
	return o, nil
}

// Start marks work as begun by the fulfiller.
func (s *Service) Start(ctx context.Context, orderID, callerID string) (*order.Order, error) {
	o, err := s.transition(ctx, orderID, callerID, order.StatusInProgress, nil)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, alerts.TaskWorkStarted, o.RequesterID, "", o, nil)
	return o, nil
}

// Complete marks the work finished and computes the financials from the
// workload recorded so far.
func (s *Service) Complete(ctx context.Context, orderID, callerID string) (*order.Order, error) {
	o, err := s.transition(ctx, orderID, callerID, order.StatusCompleted, func(o *order.Order) error {
		return s.pricing.Ensure(o, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, alerts.TaskOrderCompleted, o.RequesterID, "", o, nil)
	return o, nil
}

// Cancel cancels the order on behalf of either party the table allows.
func (s *Service) Cancel(ctx context.Context, orderID, callerID, reason string) (*order.Order, error) {
	reason = sanitizeReason(reason)
	o, err := s.transition(ctx, orderID, callerID, order.StatusCancelled, func(o *order.Order) error {
		o.CancelReason = reason
		o.CancelledBy = callerID
		return nil
	})
	if err != nil {
		return nil, err
	}
	other := o.FulfillerID
	if callerID == o.FulfillerID {
		other = o.RequesterID
	}
	if other != "" {
		s.notify(ctx, alerts.TaskOrderCancelled, other, "", o, map[string]any{"reason": reason})
	}
	return o, nil
}

// ConfirmWorkload records the caller's view of the actual workload and
// their confirmation. When both parties have confirmed, the financials are
// computed, an in-progress order becomes completed and, if the order is
// already paid, settlement is attempted.
func (s *Service) ConfirmWorkload(ctx context.Context, orderID, callerID string, w order.Workload) (*ConfirmResult, error) {
	if w.Overtime() < 0 {
		return nil, apperr.Validation("overtime hours must not be negative")
	}
	for _, v := range []*float64{w.Quantity, w.Days, w.Months, w.Workers} {
		if v != nil && *v < 0 {
			return nil, apperr.Validation("workload figures must not be negative")
		}
	}

	o, err := docstore.Update[order.Order](ctx, s.store, s.policy, order.Collection, orderID, func(o *order.Order) error {
		party, ok := o.PartyOf(callerID)
		if !ok {
			return apperr.Forbidden("not a party of this order")
		}
		if o.Status != order.StatusInProgress && o.Status != order.StatusCompleted {
			return apperr.New(apperr.CodeIllegalTransition,
				fmt.Sprintf("workload cannot be confirmed while order is %s", o.Status))
		}
		if o.BothConfirmed() {
			return apperr.Conflict("workload already confirmed by both parties")
		}
		o.ActualWorkload.Merge(w)
		if party == order.PartyRequester {
			o.ConfirmedByRequester = true
		} else {
			o.ConfirmedByFulfiller = true
		}
		if !o.BothConfirmed() {
			return nil
		}
		now := s.now()
		f, err := s.pricing.Calculate(o)
		if err != nil {
			return err
		}
		f.CalculatedAt = now
		o.Financials = &f
		if o.Status == order.StatusInProgress {
			// mutual confirmation completes the work on the fulfiller's behalf
			return o.Apply(order.StatusCompleted, order.PartyFulfiller, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	both := o.BothConfirmed()
	other := o.FulfillerID
	if callerID == o.FulfillerID {
		other = o.RequesterID
	}
	s.notify(ctx, alerts.TaskWorkloadConfirmed, other, "", o, map[string]any{"bothConfirmed": both})
	if both {
		s.settleIfPaid(ctx, o.ID)
	}
	return &ConfirmResult{Order: o, BothConfirmed: both}, nil
}

// Get returns an order to its parties and admins. Fulfillers may also read
// orders still open for bidding.
func (s *Service) Get(ctx context.Context, orderID string, caller auth.Identity) (*order.Order, error) {
	o, err := docstore.Get[order.Order](ctx, s.store, order.Collection, orderID)
	if err != nil {
		return nil, err
	}
	if caller.Role == auth.RoleAdmin || caller.UserID == o.ReferrerID {
		return o, nil
	}
	if _, ok := o.PartyOf(caller.UserID); ok {
		return o, nil
	}
	if caller.Role == auth.RoleFulfiller && o.Status == order.StatusPending {
		return o, nil
	}
	return nil, apperr.Forbidden("not a party of this order")
}

// ListMine returns the caller's orders, newest first, optionally filtered
// by status.
func (s *Service) ListMine(ctx context.Context, caller auth.Identity, status order.Status, limit int) ([]*order.Order, error) {
	field := "requesterId"
	switch caller.Role {
	case auth.RoleFulfiller:
		field = "fulfillerId"
	case auth.RoleReferrer:
		field = "referrerId"
	}
	where := []docstore.Filter{{Field: field, Value: caller.UserID}}
	if status != "" {
		if !status.Valid() {
			return nil, apperr.Validation(fmt.Sprintf("unknown status %q", status))
		}
		where = append(where, docstore.Filter{Field: "status", Value: string(status)})
	}
	return docstore.Find[order.Order](ctx, s.store, order.Collection, docstore.Query{Where: where, Limit: limit, Newest: true})
}

// ListOpen returns pending orders fulfillers can bid on, newest first.
func (s *Service) ListOpen(ctx context.Context, jobKind order.JobKind, limit int) ([]*order.Order, error) {
	where := []docstore.Filter{{Field: "status", Value: string(order.StatusPending)}}
	if jobKind != "" {
		where = append(where, docstore.Filter{Field: "jobKind", Value: string(jobKind)})
	}
	return docstore.Find[order.Order](ctx, s.store, order.Collection, docstore.Query{Where: where, Limit: limit, Newest: true})
}

// transition applies target on behalf of callerID through an optimistic
// update, running extra inside the same mutation.
func (s *Service) transition(ctx context.Context, orderID, callerID string, target order.Status, extra func(*order.Order) error) (*order.Order, error) {
	o, err := docstore.Update[order.Order](ctx, s.store, s.policy, order.Collection, orderID, func(o *order.Order) error {
		party, ok := o.PartyOf(callerID)
		if !ok {
			return apperr.Forbidden("not a party of this order")
		}
		if err := o.Apply(target, party, s.now()); err != nil {
			return err
		}
		if extra != nil {
			return extra(o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"order_id": orderID, "status": o.Status, "by": callerID, "version": o.Version}).Info("order transitioned")
	return o, nil
}

func (s *Service) settleIfPaid(ctx context.Context, orderID string) {
	if s.payments == nil || s.settler == nil {
		return
	}
	p, err := s.payments.ForOrder(ctx, orderID)
	if err != nil || !p.Paid() {
		return
	}
	if _, err := s.settler.Settle(ctx, orderID); err != nil {
		s.log.WithField("order_id", orderID).WithError(err).Warn("settlement after confirmation failed")
	}
}

func (s *Service) notify(ctx context.Context, taskType, target, group string, o *order.Order, payload map[string]any) {
	alerts.Dispatch(ctx, s.notifier, s.log, alerts.Notification{
		Type:    taskType,
		Target:  target,
		Group:   group,
		OrderID: o.ID,
		Payload: payload,
	})
}

// sanitizeReason strips control characters and bounds the length of a
// cancellation reason.
func sanitizeReason(reason string) string {
	cleaned := strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '<' || r == '>' {
			return -1
		}
		return r
	}, reason))
	if cleaned == "" {
		return defaultCancelReason
	}
	if runes := []rune(cleaned); len(runes) > maxCancelReason {
		cleaned = string(runes[:maxCancelReason])
	}
	return cleaned
}
