package razorpay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw, err := NewFactory().NewAdapter(domain.AdapterConfig{
		KeyID:         "rzp_test_key",
		KeySecret:     "secret",
		WebhookSecret: "whsec",
		BaseURL:       srv.URL,
	})
	require.NoError(t, err)
	return gw.(*Adapter)
}

func TestCreateOrder(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "secret", pass)

		body, _ := io.ReadAll(r.Body)
		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, float64(4500), got["amount"])
		assert.Equal(t, "INR", got["currency"])
		assert.Equal(t, "ORD-1", got["receipt"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_1","amount":4500,"currency":"INR","status":"created"}`))
	})

	order, err := adapter.CreateOrder(context.Background(), domain.CreateOrderRequest{
		AmountMinor: 4500,
		Currency:    "inr",
		Receipt:     "ORD-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_1", order.ID)
	assert.Equal(t, int64(4500), order.Amount)
	assert.Equal(t, "created", order.Raw["status"])
}

func TestAPIErrorMapsToGatewayError(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
	})

	_, err := adapter.FetchPayment(context.Background(), "pay_missing")
	var gerr *domain.GatewayError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusBadRequest, gerr.StatusCode)
	assert.Equal(t, "BAD_REQUEST_ERROR", gerr.Code)
	assert.Equal(t, "fetch_payment", gerr.Op)
}

func TestRefundPostsToPaymentPath(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/pay_1/refund", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"rfnd_1","payment_id":"pay_1","amount":1000,"status":"processed"}`))
	})

	refund, err := adapter.Refund(context.Background(), domain.RefundRequest{PaymentID: "pay_1", AmountMinor: 1000})
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", refund.ID)
	assert.Equal(t, int64(1000), refund.Amount)
}

func TestSignatures(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})

	sig := signature.Sign("secret", []byte("order_1|pay_1"))
	assert.True(t, adapter.VerifyPaymentSignature("order_1", "pay_1", sig))
	assert.False(t, adapter.VerifyPaymentSignature("order_1", "pay_2", sig))

	payload := []byte(`{"event":"payment.captured"}`)
	assert.True(t, adapter.VerifyWebhookSignature(payload, signature.Sign("whsec", payload)))
	assert.False(t, adapter.VerifyWebhookSignature(payload, sig))
}

func TestParseWebhook(t *testing.T) {
	event, err := ParseWebhook([]byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","status":"captured","method":"card"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventPaymentCaptured, event.Type)
	require.NotNil(t, event.Payment)
	assert.Equal(t, "order_1", event.Payment.OrderID)
	assert.Equal(t, "card", event.Payment.Raw["method"])

	event, err = ParseWebhook([]byte(`{"event":"refund.created","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_1","amount":4500}}}}`))
	require.NoError(t, err)
	require.NotNil(t, event.Refund)
	assert.Equal(t, int64(4500), event.Refund.Amount)

	event, err = ParseWebhook([]byte(`{"event":"order.paid","payload":{}}`))
	require.NoError(t, err)
	assert.Nil(t, event.Payment)

	_, err = ParseWebhook([]byte(`{"event":"payment.captured","payload":{}}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = ParseWebhook([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
