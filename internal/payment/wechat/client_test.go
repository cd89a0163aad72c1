package wechat

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sudo-init-do/farmhand/internal/payment"
)

const testAPIv3Key = "0123456789abcdef0123456789abcdef"

type fixture struct {
	gw  *Gateway
	key *rsa.PrivateKey
}

func newFixture(t *testing.T, handler http.HandlerFunc) fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0x5A17),
		Subject:      pkix.Name{CommonName: "platform"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	base := "https://example.invalid"
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		base = srv.URL
	}
	gw, err := New(Config{
		AppID:        "wxapp",
		MchID:        "1900000001",
		MchSerial:    "MCHSERIAL",
		PrivateKey:   string(keyPEM),
		APIv3Key:     testAPIv3Key,
		PlatformCert: string(certPEM),
		NotifyURL:    "https://farmhand.test/payments/callback",
		BaseURL:      base,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return fixture{gw: gw, key: key}
}

func verify(t *testing.T, key *rsa.PrivateKey, message, signature string) {
	t.Helper()
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	h := sha256.Sum256([]byte(message))
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, h[:], sig); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	if _, err := New(Config{AppID: "wx"}); err == nil {
		t.Fatal("expected incomplete config error")
	}
}

func TestCreateCharge(t *testing.T) {
	var got jsapiPrepayReq
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/pay/transactions/jsapi" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "WECHATPAY2-SHA256-RSA2048 mchid=\"1900000001\"") {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"prepay_id":"wx201410272009395522657a690389285100"}`))
	})

	charge, err := f.gw.CreateCharge(context.Background(), payment.ChargeRequest{
		OrderRef:      "ORDER_o1_1",
		Amount:        51000,
		PayerIdentity: "openid-1",
	})
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if got.OutTradeNo != "ORDER_o1_1" || got.Amount.Total != 51000 || got.Payer.OpenID != "openid-1" || !got.SettleInfo.ProfitSharing {
		t.Fatalf("request = %+v", got)
	}
	if charge.ChargeRef != "ORDER_o1_1" {
		t.Fatalf("charge ref = %q", charge.ChargeRef)
	}
	p := charge.ClientParams
	msg := p["appId"].(string) + "\n" + p["timeStamp"].(string) + "\n" + p["nonceStr"].(string) + "\n" + p["package"].(string) + "\n"
	verify(t, f.key, msg, p["paySign"].(string))

	if _, err := f.gw.CreateCharge(context.Background(), payment.ChargeRequest{OrderRef: "x", Amount: 1}); err == nil {
		t.Fatal("expected missing openid error")
	}
}

func notification(t *testing.T, key *rsa.PrivateKey, tx string) payment.RawCallback {
	t.Helper()
	block, _ := aes.NewCipher([]byte(testAPIv3Key))
	gcm, _ := cipher.NewGCM(block)
	nonce := "abcdefghijkl"
	sealed := gcm.Seal(nil, []byte(nonce), []byte(tx), []byte("transaction"))
	body, _ := json.Marshal(notifyEnvelope{
		ID:        "evt-1",
		EventType: "TRANSACTION.SUCCESS",
		Resource: NotifyResource{
			Algorithm:      "AEAD_AES_256_GCM",
			Ciphertext:     base64.StdEncoding.EncodeToString(sealed),
			Nonce:          nonce,
			AssociatedData: "transaction",
		},
	})
	ts, hdrNonce := "1700000000", "n0nce"
	h := sha256.Sum256([]byte(ts + "\n" + hdrNonce + "\n" + string(body) + "\n"))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, h[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	hdr := http.Header{}
	hdr.Set("Wechatpay-Timestamp", ts)
	hdr.Set("Wechatpay-Nonce", hdrNonce)
	hdr.Set("Wechatpay-Signature", base64.StdEncoding.EncodeToString(sig))
	hdr.Set("Wechatpay-Serial", "5A17")
	return payment.RawCallback{Header: hdr, Body: body}
}

func TestVerifyCallback(t *testing.T) {
	f := newFixture(t, nil)
	raw := notification(t, f.key, `{"out_trade_no":"ORDER_o1_1","transaction_id":"4200000001","trade_state":"SUCCESS","amount":{"total":51000}}`)

	ev, err := f.gw.VerifyCallback(context.Background(), raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	want := payment.CallbackEvent{Authentic: true, ChargeRef: "ORDER_o1_1", Amount: 51000, ExternalTxnID: "4200000001"}
	if *ev != want {
		t.Fatalf("event = %+v, want %+v", *ev, want)
	}

	raw.Body = append([]byte(nil), raw.Body...)
	raw.Body[len(raw.Body)-2] = ' '
	ev, err = f.gw.VerifyCallback(context.Background(), raw)
	if err != nil || ev.Authentic {
		t.Fatalf("tampered = %+v, %v; want non-authentic", ev, err)
	}
}

func TestVerifyCallbackRejectsUnpaidTrade(t *testing.T) {
	f := newFixture(t, nil)
	raw := notification(t, f.key, `{"out_trade_no":"ORDER_o1_1","transaction_id":"4200000001","trade_state":"CLOSED","amount":{"total":51000}}`)
	if _, err := f.gw.VerifyCallback(context.Background(), raw); err == nil {
		t.Fatal("expected closed trade to be rejected")
	}
}

func TestPayout(t *testing.T) {
	var got profitSharingReq
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/profitsharing/orders" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"order_id":"3008450740201411110007820472","state":"PROCESSING"}`))
	})

	res, err := f.gw.Payout(context.Background(), payment.PayoutRequest{
		ChargeRef:     "ORDER_o1_1",
		ExternalTxnID: "4200000001",
		OutOrderNo:    "settle-1",
		Receivers: []payment.Receiver{
			{Type: "MERCHANT_ID", Account: "190001", Amount: 47500, Description: "labor"},
			{Type: "PERSONAL_OPENID", Account: "openid-r", Amount: 1000, Description: "commission"},
		},
	})
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if !res.Success || res.Reference != "3008450740201411110007820472" {
		t.Fatalf("result = %+v", res)
	}
	if got.TransactionID != "4200000001" || got.OutOrderNo != "settle-1" || len(got.Receivers) != 2 || got.Receivers[0].Amount != 47500 {
		t.Fatalf("request = %+v", got)
	}
}

func TestPayoutHTTPError(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"PARAM_ERROR"}`))
	})
	_, err := f.gw.Payout(context.Background(), payment.PayoutRequest{ExternalTxnID: "t", OutOrderNo: "s"})
	if err == nil || !strings.Contains(err.Error(), "PARAM_ERROR") {
		t.Fatalf("err = %v, want PARAM_ERROR", err)
	}
}
