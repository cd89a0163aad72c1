package payment

import "time"

// Collection holds one payment per order.
const Collection = "payments"

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// Payment is the requester's charge for a completed order. Amount is fixed
// at creation.
type Payment struct {
	ID                string         `json:"id"`
	OrderID           string         `json:"orderId"`
	PayerID           string         `json:"payerId"`
	ExternalChargeRef string         `json:"externalChargeRef"`
	Amount            int64          `json:"amount"`
	Status            Status         `json:"status"`
	ExternalTxnID     string         `json:"externalTxnId,omitempty"`
	PaidAt            *time.Time     `json:"paidAt,omitempty"`
	ClientParams      map[string]any `json:"clientParams,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	Version           int64          `json:"version"`
}

func (p *Payment) SetVersion(v int64) { p.Version = v }

func (p *Payment) Paid() bool { return p.Status == StatusPaid }
