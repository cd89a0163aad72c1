package user

import "time"

// Collection is the document collection holding profiles.
const Collection = "users"

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusBanned  Status = "banned"
)

type Certification string

const (
	CertificationPending  Certification = "pending"
	CertificationApproved Certification = "approved"
	CertificationRejected Certification = "rejected"
)

func (c Certification) Valid() bool {
	return c == CertificationPending || c == CertificationApproved || c == CertificationRejected
}

type PayoutType string

const (
	PayoutMerchantID     PayoutType = "MERCHANT_ID"
	PayoutPersonalOpenID PayoutType = "PERSONAL_OPENID"
)

// PayoutAccount is where a beneficiary receives settlement funds.
type PayoutAccount struct {
	Type    PayoutType `json:"type" validate:"required,oneof=MERCHANT_ID PERSONAL_OPENID"`
	Account string     `json:"account" validate:"required,max=64"`
	Name    string     `json:"name,omitempty" validate:"max=64"`
}

type Profile struct {
	ID            string         `json:"id"`
	Role          string         `json:"role"`
	Name          string         `json:"name,omitempty"`
	Status        Status         `json:"status"`
	Certification Certification  `json:"certification"`
	PayerID       string         `json:"payerId,omitempty"` // gateway payer identity, e.g. an openid
	Payout        *PayoutAccount `json:"payoutAccount,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	Version       int64          `json:"version"`
}

func (p *Profile) SetVersion(v int64) { p.Version = v }

// Verified reports whether the account may take work: active and certified.
func (p *Profile) Verified() bool {
	return p.Status == StatusActive && p.Certification == CertificationApproved
}

// PublicView is the subset of a profile visible to other users.
type PublicView struct {
	ID            string        `json:"id"`
	Role          string        `json:"role"`
	Name          string        `json:"name,omitempty"`
	Certification Certification `json:"certification"`
	CreatedAt     time.Time     `json:"createdAt"`
}

func (p *Profile) Public() PublicView {
	return PublicView{ID: p.ID, Role: p.Role, Name: p.Name, Certification: p.Certification, CreatedAt: p.CreatedAt}
}
