package payment

import (
	"context"
	"net/http"
)

// Gateway is the payment processor: it opens charges, authenticates their
// confirmation callbacks and splits settled funds to receivers.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
	// VerifyCallback returns an error or a non-authentic event when the
	// callback cannot be trusted.
	VerifyCallback(ctx context.Context, raw RawCallback) (*CallbackEvent, error)
	Payout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
}

type ChargeRequest struct {
	OrderRef      string
	Amount        int64
	PayerIdentity string
	Description   string
}

type Charge struct {
	ChargeRef    string
	ClientParams map[string]any
}

// RawCallback is the inbound confirmation exactly as received.
type RawCallback struct {
	Header http.Header
	Body   []byte
}

type CallbackEvent struct {
	Authentic     bool
	ChargeRef     string
	Amount        int64
	ExternalTxnID string
}

// Receiver is one payee of a payout.
type Receiver struct {
	Type        string `json:"type"`
	Account     string `json:"account"`
	Name        string `json:"name,omitempty"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type PayoutRequest struct {
	ChargeRef     string
	ExternalTxnID string
	// OutOrderNo identifies the payout to the processor; repeating it does
	// not move money twice.
	OutOrderNo string
	Receivers  []Receiver
}

type PayoutResult struct {
	Success   bool
	Reference string
}
