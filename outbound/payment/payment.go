// Package payment talks to the external payment provider and owns both
// sides of the HMAC contract: signing initiate requests and verifying the
// signature the provider attaches to its callbacks.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const HeaderSignature = "X-Ticketbox-Signature"

type Provider interface {
	Initiate(ctx context.Context, req InitiateRequest) (string, error)
}

type InitiateRequest struct {
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

type Client struct {
	http   *resty.Client
	secret []byte
}

func NewClient(cfg *viper.Viper) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.GetString("payment.base_url")).
		SetTimeout(cfg.GetDuration("payment.timeout")).
		SetRetryCount(cfg.GetInt("payment.retry_count")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:   httpClient,
		secret: []byte(cfg.GetString("payment.api_secret")),
	}
}

type initiateBody struct {
	Amount   string            `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type initiateResponse struct {
	PaymentReference string `json:"payment_reference"`
}

// Initiate registers the charge with the provider and returns the opaque
// payment reference that the eventual callback will be keyed by. Amounts
// are held as integer minor units internally and rendered as a fixed-point
// string on the wire.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	amount := decimal.NewFromInt(req.AmountCents).Div(decimal.NewFromInt(100))

	body, err := json.Marshal(initiateBody{
		Amount:   amount.StringFixed(2),
		Currency: req.Currency,
		Metadata: req.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("marshal initiate request: %w", err)
	}

	var out initiateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetHeader(HeaderSignature, Sign(body, c.secret)).
		SetResult(&out).
		Post("/v1/payments")
	if err != nil {
		return "", fmt.Errorf("initiate payment: %w", err)
	}

	if resp.IsError() {
		return "", fmt.Errorf("payment provider returned %s", resp.Status())
	}

	if out.PaymentReference == "" {
		return "", errors.New("payment provider returned empty reference")
	}

	return out.PaymentReference, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a callback signature against the raw body. The
// comparison is constant time; callers must treat a false result as
// untrusted input and never fall through to processing.
func VerifySignature(body []byte, signature string, secret []byte) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)

	return hmac.Equal(got, mac.Sum(nil))
}
