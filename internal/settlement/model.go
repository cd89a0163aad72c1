package settlement

import (
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/farmhand/internal/payment"
)

// Collection holds at most one settlement per order.
const Collection = "settlements"

type Status string

const (
	StatusCompleted    Status = "completed"
	StatusPayoutFailed Status = "payout_failed"
)

// Wallet entry kinds credited by a settlement.
const (
	KindFulfillerIncome    = "fulfiller_income"
	KindReferrerCommission = "referrer_commission"
)

// Settlement splits a paid order between fulfiller, platform and referrer.
// FulfillerAmount + PlatformFee equals the order's labor cost.
type Settlement struct {
	ID              string             `json:"id"`
	OrderID         string             `json:"orderId"`
	PaymentID       string             `json:"paymentId"`
	FulfillerID     string             `json:"fulfillerId"`
	ReferrerID      string             `json:"referrerId,omitempty"`
	FulfillerAmount int64              `json:"fulfillerAmount"`
	ReferrerAmount  int64              `json:"referrerAmount"`
	PlatformFee     int64              `json:"platformFee"`
	Receivers       []payment.Receiver `json:"receivers"`
	Status          Status             `json:"status"`
	PayoutError     string             `json:"payoutError,omitempty"`
	PayoutAttempts  int                `json:"payoutAttempts"`
	PayoutRef       string             `json:"payoutRef,omitempty"`
	SettledAt       time.Time          `json:"settledAt"`
	Version         int64              `json:"version"`
}

func (s *Settlement) SetVersion(v int64) { s.Version = v }

var settlementNamespace = uuid.MustParse("b8e3d1a4-27c9-4f0e-8d6b-5a9c3e71f402")

// IDFor is the settlement id of an order. It is also the out order number
// sent with the payout, so a repeated payout is recognised by the processor.
func IDFor(orderID string) string {
	return uuid.NewSHA1(settlementNamespace, []byte(orderID)).String()
}
