package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := viper.New()
	cfg.Set("payment.base_url", srv.URL)
	cfg.Set("payment.timeout", "5s")
	cfg.Set("payment.retry_count", 0)
	cfg.Set("payment.api_secret", "api-secret")

	return NewClient(cfg)
}

func TestInitiate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		assert.True(t, VerifySignature(body, r.Header.Get(HeaderSignature), []byte("api-secret")))

		var req initiateBody
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "150.00", req.Amount)
		assert.Equal(t, "USD", req.Currency)
		assert.Equal(t, "42", req.Metadata["ticket_type_id"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(initiateResponse{PaymentReference: "pay_123"})
	})

	ref, err := client.Initiate(context.Background(), InitiateRequest{
		AmountCents: 15_000,
		Currency:    "USD",
		Metadata:    map[string]string{"ticket_type_id": "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pay_123", ref)
}

func TestInitiateProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Initiate(context.Background(), InitiateRequest{AmountCents: 100, Currency: "USD"})
	assert.ErrorContains(t, err, "502")
}

func TestInitiateEmptyReference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})

	_, err := client.Initiate(context.Background(), InitiateRequest{AmountCents: 100, Currency: "USD"})
	assert.ErrorContains(t, err, "empty reference")
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"payment_reference":"pay_123","outcome":"confirmed"}`)

	sig := Sign(body, secret)

	assert.True(t, VerifySignature(body, sig, secret))
	assert.False(t, VerifySignature(body, sig, []byte("other-secret")))
	assert.False(t, VerifySignature([]byte(`{"outcome":"confirmed"}`), sig, secret))
	assert.False(t, VerifySignature(body, "not-hex", secret))
	assert.False(t, VerifySignature(body, "", secret))
}
