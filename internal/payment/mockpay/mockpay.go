// Package mockpay is a local payment gateway for development and tests.
// Callbacks are JSON bodies authenticated with an HMAC-SHA256 header.
package mockpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/sudo-init-do/farmhand/internal/payment"
)

// SignatureHeader carries the hex HMAC of the callback body.
const SignatureHeader = "X-Mockpay-Signature"

type callbackBody struct {
	ChargeRef     string `json:"chargeRef"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transactionId"`
}

type Gateway struct {
	secret []byte

	mu        sync.Mutex
	payouts   map[string]payment.PayoutRequest
	payoutErr error
}

func New(secret string) *Gateway {
	return &Gateway{secret: []byte(secret), payouts: make(map[string]payment.PayoutRequest)}
}

// FailPayouts makes every later payout return err; nil restores success.
func (g *Gateway) FailPayouts(err error) {
	g.mu.Lock()
	g.payoutErr = err
	g.mu.Unlock()
}

func (g *Gateway) CreateCharge(_ context.Context, req payment.ChargeRequest) (payment.Charge, error) {
	if req.Amount <= 0 {
		return payment.Charge{}, fmt.Errorf("mockpay: amount must be positive")
	}
	return payment.Charge{
		ChargeRef: req.OrderRef,
		ClientParams: map[string]any{
			"provider":  "mockpay",
			"chargeRef": req.OrderRef,
			"amount":    req.Amount,
		},
	}, nil
}

func (g *Gateway) VerifyCallback(_ context.Context, raw payment.RawCallback) (*payment.CallbackEvent, error) {
	sig, err := hex.DecodeString(raw.Header.Get(SignatureHeader))
	if err != nil || len(sig) == 0 {
		return nil, errors.New("mockpay: missing signature")
	}
	if !hmac.Equal(sig, g.mac(raw.Body)) {
		return &payment.CallbackEvent{Authentic: false}, nil
	}
	var body callbackBody
	if err := json.Unmarshal(raw.Body, &body); err != nil {
		return nil, fmt.Errorf("mockpay: decode callback: %w", err)
	}
	return &payment.CallbackEvent{
		Authentic:     true,
		ChargeRef:     body.ChargeRef,
		Amount:        body.Amount,
		ExternalTxnID: body.TransactionID,
	}, nil
}

// Payout records the split. A repeated OutOrderNo is acknowledged without
// recording a second payout.
func (g *Gateway) Payout(_ context.Context, req payment.PayoutRequest) (payment.PayoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.payoutErr != nil {
		return payment.PayoutResult{}, g.payoutErr
	}
	if req.OutOrderNo == "" {
		return payment.PayoutResult{}, errors.New("mockpay: out order number required")
	}
	if _, ok := g.payouts[req.OutOrderNo]; !ok {
		g.payouts[req.OutOrderNo] = req
	}
	return payment.PayoutResult{Success: true, Reference: req.OutOrderNo}, nil
}

// Payouts returns how many distinct payouts were executed.
func (g *Gateway) Payouts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.payouts)
}

// PayoutFor returns the recorded payout for outOrderNo.
func (g *Gateway) PayoutFor(outOrderNo string) (payment.PayoutRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.payouts[outOrderNo]
	return req, ok
}

// Callback builds a signed confirmation for chargeRef as the processor
// would deliver it. An empty txnID gets a random one.
func (g *Gateway) Callback(chargeRef string, amount int64, txnID string) payment.RawCallback {
	if txnID == "" {
		txnID = "MOCK" + uuid.NewString()
	}
	body, _ := json.Marshal(callbackBody{ChargeRef: chargeRef, Amount: amount, TransactionID: txnID})
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(SignatureHeader, hex.EncodeToString(g.mac(body)))
	return payment.RawCallback{Header: h, Body: body}
}

func (g *Gateway) mac(body []byte) []byte {
	m := hmac.New(sha256.New, g.secret)
	m.Write(body)
	return m.Sum(nil)
}
