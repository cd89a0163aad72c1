// Package wechat implements payment.Gateway on WeChat Pay API v3: JSAPI
// prepay for charges, signed and encrypted notifications for callbacks and
// profit sharing for payouts.
package wechat

import (
	"bytes"
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sudo-init-do/farmhand/internal/payment"
)

const defaultBaseURL = "https://api.mch.weixin.qq.com"

type Config struct {
	AppID        string
	MchID        string
	MchSerial    string
	PrivateKey   string // PEM text or a path to it
	APIv3Key     string
	PlatformCert string // PEM text or a path to it
	NotifyURL    string
	BaseURL      string
	HTTP         *http.Client
}

type Gateway struct {
	appID          string
	mchID          string
	mchSerial      string
	privateKey     *rsa.PrivateKey
	apiV3Key       string
	platformCert   *x509.Certificate
	platformSerial string
	notifyURL      string
	baseURL        string
	http           *http.Client
	now            func() time.Time
}

func New(cfg Config) (*Gateway, error) {
	for name, v := range map[string]string{
		"app id":        cfg.AppID,
		"merchant id":   cfg.MchID,
		"serial":        cfg.MchSerial,
		"private key":   cfg.PrivateKey,
		"api v3 key":    cfg.APIv3Key,
		"platform cert": cfg.PlatformCert,
		"notify url":    cfg.NotifyURL,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("wechat pay config incomplete: %s missing", name)
		}
	}
	pemKey, err := loadPEM(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	priv, err := parsePrivateKey(pemKey)
	if err != nil {
		return nil, err
	}
	pemCert, err := loadPEM(cfg.PlatformCert)
	if err != nil {
		return nil, err
	}
	cert, err := parseCert(pemCert)
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Gateway{
		appID:          cfg.AppID,
		mchID:          cfg.MchID,
		mchSerial:      cfg.MchSerial,
		privateKey:     priv,
		apiV3Key:       cfg.APIv3Key,
		platformCert:   cert,
		platformSerial: strings.ToUpper(cert.SerialNumber.Text(16)),
		notifyURL:      cfg.NotifyURL,
		baseURL:        base,
		http:           hc,
		now:            time.Now,
	}, nil
}

type jsapiPrepayReq struct {
	AppID       string      `json:"appid"`
	MchID       string      `json:"mchid"`
	Description string      `json:"description"`
	OutTradeNo  string      `json:"out_trade_no"`
	NotifyURL   string      `json:"notify_url"`
	Amount      jsapiAmount `json:"amount"`
	Payer       jsapiPayer  `json:"payer"`
	SettleInfo  settleInfo  `json:"settle_info"`
}

type jsapiAmount struct {
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

type jsapiPayer struct {
	OpenID string `json:"openid"`
}

// settleInfo marks the transaction for later profit sharing.
type settleInfo struct {
	ProfitSharing bool `json:"profit_sharing"`
}

type jsapiPrepayResp struct {
	PrepayID string `json:"prepay_id"`
}

// CreateCharge opens a JSAPI transaction and returns the parameters the
// mini program passes to wx.requestPayment.
func (g *Gateway) CreateCharge(ctx context.Context, req payment.ChargeRequest) (payment.Charge, error) {
	if strings.TrimSpace(req.PayerIdentity) == "" {
		return payment.Charge{}, fmt.Errorf("openid required")
	}
	description := req.Description
	if strings.TrimSpace(description) == "" {
		description = "labor order"
	}
	body := jsapiPrepayReq{
		AppID:       g.appID,
		MchID:       g.mchID,
		Description: description,
		OutTradeNo:  req.OrderRef,
		NotifyURL:   g.notifyURL,
		Amount:      jsapiAmount{Total: req.Amount, Currency: "CNY"},
		Payer:       jsapiPayer{OpenID: req.PayerIdentity},
		SettleInfo:  settleInfo{ProfitSharing: true},
	}
	var out jsapiPrepayResp
	if err := g.do(ctx, http.MethodPost, "/v3/pay/transactions/jsapi", body, &out); err != nil {
		return payment.Charge{}, err
	}
	if strings.TrimSpace(out.PrepayID) == "" {
		return payment.Charge{}, fmt.Errorf("missing prepay_id")
	}
	params, err := g.buildPayParams(out.PrepayID)
	if err != nil {
		return payment.Charge{}, err
	}
	return payment.Charge{ChargeRef: req.OrderRef, ClientParams: params}, nil
}

type notifyEnvelope struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Resource  NotifyResource `json:"resource"`
}

type NotifyResource struct {
	Algorithm      string `json:"algorithm"`
	Ciphertext     string `json:"ciphertext"`
	Nonce          string `json:"nonce"`
	AssociatedData string `json:"associated_data"`
}

type transaction struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	Amount        struct {
		Total int64 `json:"total"`
	} `json:"amount"`
}

// VerifyCallback checks the platform signature on a payment notification
// and decrypts its transaction. Only successful transactions are reported.
func (g *Gateway) VerifyCallback(_ context.Context, raw payment.RawCallback) (*payment.CallbackEvent, error) {
	err := g.VerifySignature(
		raw.Header.Get("Wechatpay-Timestamp"),
		raw.Header.Get("Wechatpay-Nonce"),
		string(raw.Body),
		raw.Header.Get("Wechatpay-Signature"),
		raw.Header.Get("Wechatpay-Serial"),
	)
	if err != nil {
		return &payment.CallbackEvent{Authentic: false}, nil
	}
	var env notifyEnvelope
	if err := json.Unmarshal(raw.Body, &env); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	plain, err := g.DecryptResource(env.Resource)
	if err != nil {
		return nil, fmt.Errorf("decrypt notification: %w", err)
	}
	var tx transaction
	if err := json.Unmarshal(plain, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	if tx.TradeState != "SUCCESS" {
		return nil, fmt.Errorf("trade %s in state %s", tx.OutTradeNo, tx.TradeState)
	}
	return &payment.CallbackEvent{
		Authentic:     true,
		ChargeRef:     tx.OutTradeNo,
		Amount:        tx.Amount.Total,
		ExternalTxnID: tx.TransactionID,
	}, nil
}

func (g *Gateway) VerifySignature(timestamp, nonce, body, signature, serial string) error {
	if strings.TrimSpace(timestamp) == "" || strings.TrimSpace(nonce) == "" || strings.TrimSpace(signature) == "" {
		return fmt.Errorf("signature headers required")
	}
	if strings.TrimSpace(serial) != "" && strings.ToUpper(serial) != g.platformSerial {
		return fmt.Errorf("platform cert serial mismatch")
	}
	pub, ok := g.platformCert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("platform cert is not RSA")
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return err
	}
	h := sha256.Sum256([]byte(timestamp + "\n" + nonce + "\n" + body + "\n"))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig)
}

func (g *Gateway) DecryptResource(resource NotifyResource) ([]byte, error) {
	key := []byte(g.apiV3Key)
	if len(key) != 32 {
		return nil, fmt.Errorf("api v3 key length invalid")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := []byte(resource.Nonce)
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce length invalid")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(resource.Ciphertext)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, []byte(resource.AssociatedData))
}

type profitSharingReq struct {
	AppID           string               `json:"appid"`
	TransactionID   string               `json:"transaction_id"`
	OutOrderNo      string               `json:"out_order_no"`
	Receivers       []profitSharingPayee `json:"receivers"`
	UnfreezeUnsplit bool                 `json:"unfreeze_unsplit"`
}

type profitSharingPayee struct {
	Type        string `json:"type"`
	Account     string `json:"account"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type profitSharingResp struct {
	OrderID string `json:"order_id"`
	State   string `json:"state"`
}

// Payout requests a profit-sharing order splitting the transaction among
// the receivers. The processor rejects a reused out_order_no with different
// contents and returns the original order for an identical one.
func (g *Gateway) Payout(ctx context.Context, req payment.PayoutRequest) (payment.PayoutResult, error) {
	if strings.TrimSpace(req.ExternalTxnID) == "" {
		return payment.PayoutResult{}, fmt.Errorf("transaction id required")
	}
	body := profitSharingReq{
		AppID:           g.appID,
		TransactionID:   req.ExternalTxnID,
		OutOrderNo:      req.OutOrderNo,
		UnfreezeUnsplit: true,
	}
	for _, r := range req.Receivers {
		body.Receivers = append(body.Receivers, profitSharingPayee{
			Type:        r.Type,
			Account:     r.Account,
			Amount:      r.Amount,
			Description: r.Description,
		})
	}
	var out profitSharingResp
	if err := g.do(ctx, http.MethodPost, "/v3/profitsharing/orders", body, &out); err != nil {
		return payment.PayoutResult{}, err
	}
	return payment.PayoutResult{Success: out.State != "CLOSED", Reference: out.OrderID}, nil
}

func (g *Gateway) do(ctx context.Context, method, path string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	u := g.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	auth, err := g.buildAuthorization(method, u, raw)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth)
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("wechat pay error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (g *Gateway) buildAuthorization(method, rawURL string, body []byte) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	timestamp := strconv.FormatInt(g.now().Unix(), 10)
	nonce := randomString(32)
	message := method + "\n" + u.RequestURI() + "\n" + timestamp + "\n" + nonce + "\n" + string(body) + "\n"
	signature, err := g.sign(message)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`WECHATPAY2-SHA256-RSA2048 mchid="%s",nonce_str="%s",timestamp="%s",serial_no="%s",signature="%s"`,
		g.mchID, nonce, timestamp, g.mchSerial, signature), nil
}

func (g *Gateway) buildPayParams(prepayID string) (map[string]any, error) {
	timestamp := strconv.FormatInt(g.now().Unix(), 10)
	nonce := randomString(32)
	pkg := "prepay_id=" + prepayID
	signature, err := g.sign(g.appID + "\n" + timestamp + "\n" + nonce + "\n" + pkg + "\n")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"appId":     g.appID,
		"timeStamp": timestamp,
		"nonceStr":  nonce,
		"package":   pkg,
		"signType":  "RSA",
		"paySign":   signature,
	}, nil
}

func (g *Gateway) sign(message string) (string, error) {
	h := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, g.privateKey, crypto.SHA256, h[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func loadPEM(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("empty pem")
	}
	if strings.Contains(v, "BEGIN") {
		return []byte(v), nil
	}
	return os.ReadFile(v)
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("invalid private key")
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if k, ok := key.(*rsa.PrivateKey); ok {
			return k, nil
		}
		return nil, fmt.Errorf("private key type invalid")
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	return nil, fmt.Errorf("unsupported private key")
}

func parseCert(pemBytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("invalid cert")
	}
	return x509.ParseCertificate(block.Bytes)
}

func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	const letters = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b)
}
