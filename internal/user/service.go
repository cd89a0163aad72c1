package user

import (
	"context"
	"errors"
	"time"

	"github.com/sudo-init-do/farmhand/internal/apperr"
	"github.com/sudo-init-do/farmhand/internal/auth"
	"github.com/sudo-init-do/farmhand/internal/docstore"
)

type Service struct {
	store  docstore.Store
	policy docstore.Policy
	now    func() time.Time
}

func NewService(store docstore.Store, policy docstore.Policy) *Service {
	return &Service{store: store, policy: policy, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	return docstore.Get[Profile](ctx, s.store, Collection, userID)
}

// Ensure returns the profile of id, creating a pending one on first sight.
func (s *Service) Ensure(ctx context.Context, id auth.Identity) (*Profile, error) {
	p, err := s.Get(ctx, id.UserID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	p = &Profile{
		ID:            id.UserID,
		Role:          id.Role,
		Status:        StatusActive,
		Certification: CertificationPending,
		CreatedAt:     s.now(),
	}
	if err := s.Register(ctx, p); err != nil && !errors.Is(err, docstore.ErrDuplicate) {
		return nil, err
	}
	return s.Get(ctx, id.UserID)
}

// Register stores a new profile. An existing id returns docstore.ErrDuplicate.
func (s *Service) Register(ctx context.Context, p *Profile) error {
	if p.ID == "" {
		return apperr.Validation("profile id is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	return docstore.Create(ctx, s.store, Collection, p.ID, p)
}

// BindPayout sets the caller's payout destination.
func (s *Service) BindPayout(ctx context.Context, userID string, acct PayoutAccount) (*Profile, error) {
	return docstore.Update[Profile](ctx, s.store, s.policy, Collection, userID, func(p *Profile) error {
		if p.Status == StatusBanned {
			return apperr.Forbidden("account is banned")
		}
		a := acct
		p.Payout = &a
		return nil
	})
}

// SetPayerID records the gateway payer identity used when charging the user.
func (s *Service) SetPayerID(ctx context.Context, userID, payerID string) (*Profile, error) {
	return docstore.Update[Profile](ctx, s.store, s.policy, Collection, userID, func(p *Profile) error {
		p.PayerID = payerID
		return nil
	})
}

// Certify records an operator's certification decision and activates
// approved accounts.
func (s *Service) Certify(ctx context.Context, userID string, cert Certification) (*Profile, error) {
	if !cert.Valid() {
		return nil, apperr.Validation("unknown certification status")
	}
	return docstore.Update[Profile](ctx, s.store, s.policy, Collection, userID, func(p *Profile) error {
		p.Certification = cert
		if cert == CertificationApproved && p.Status == StatusPending {
			p.Status = StatusActive
		}
		return nil
	})
}

// PayoutDestination resolves where userID receives funds.
func (s *Service) PayoutDestination(ctx context.Context, userID string) (PayoutAccount, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return PayoutAccount{}, apperr.Wrap(apperr.CodePayoutDestinationMissing, "no profile for "+userID, err)
		}
		return PayoutAccount{}, err
	}
	if p.Payout == nil || p.Payout.Account == "" {
		return PayoutAccount{}, apperr.New(apperr.CodePayoutDestinationMissing, "no payout account bound for "+userID)
	}
	return *p.Payout, nil
}

// SetStatus activates or bans an account. Banned fulfillers can no longer
// bid.
func (s *Service) SetStatus(ctx context.Context, userID string, status Status) (*Profile, error) {
	switch status {
	case StatusActive, StatusBanned:
	default:
		return nil, apperr.Validation("status must be active or banned")
	}
	return docstore.Update[Profile](ctx, s.store, s.policy, Collection, userID, func(p *Profile) error {
		p.Status = status
		return nil
	})
}

// List returns profiles newest first, optionally only those with role.
func (s *Service) List(ctx context.Context, role string, limit int) ([]*Profile, error) {
	var where []docstore.Filter
	if role != "" {
		where = append(where, docstore.Filter{Field: "role", Value: role})
	}
	return docstore.Find[Profile](ctx, s.store, Collection, docstore.Query{Where: where, Limit: limit, Newest: true})
}
