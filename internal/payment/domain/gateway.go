package domain

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Gateway is the hosted-checkout provider boundary. Amounts are minor units.
type Gateway interface {
	Provider() string
	PublicKey() string
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error)
	FetchOrder(ctx context.Context, remoteOrderID string) (*RemoteOrder, error)
	FetchPayment(ctx context.Context, remotePaymentID string) (*RemotePayment, error)
	Refund(ctx context.Context, req RefundRequest) (*RemoteRefund, error)
	VerifyPaymentSignature(remoteOrderID, remotePaymentID, signature string) bool
	VerifyWebhookSignature(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

type CreateOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

type RemoteOrder struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
	Raw      map[string]any
}

type RemotePayment struct {
	ID       string
	OrderID  string
	Amount   int64
	Currency string
	Status   string
	Method   string
	Email    string
	Contact  string
	Raw      map[string]any
}

type RefundRequest struct {
	PaymentID string
	// AmountMinor of zero refunds the full captured amount.
	AmountMinor int64
	Notes       map[string]string
}

type RemoteRefund struct {
	ID        string
	PaymentID string
	Amount    int64
	Status    string
	Raw       map[string]any
}

type WebhookEvent struct {
	Type    string
	Payment *WebhookPayment
	Refund  *WebhookRefund
}

type WebhookPayment struct {
	ID      string
	OrderID string
	Status  string
	Raw     map[string]any
}

type WebhookRefund struct {
	ID        string
	PaymentID string
	Amount    int64
	Raw       map[string]any
}

// GatewayError is the single error kind surfaced for provider failures.
type GatewayError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("gateway %s failed: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("gateway %s failed with status %d", e.Op, e.StatusCode)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

type AdapterConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Gateway, error)
}
