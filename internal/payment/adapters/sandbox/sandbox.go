// Package sandbox is an offline gateway for local development and tests.
// It issues Razorpay-shaped ids and signs with the same HMAC scheme, so
// checkout callbacks can be produced with Sign.
package sandbox

import (
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/storefront/internal/payment/adapters/razorpay"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/signature"
)

const ProviderName = "sandbox"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keySecret == "" {
		return nil, domain.ErrInvalidConfig
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		keyID = "rzp_test_sandbox"
	}
	return &Adapter{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		orders:        map[string]*domain.RemoteOrder{},
		payments:      map[string]*domain.RemotePayment{},
	}, nil
}

type Adapter struct {
	keyID         string
	keySecret     string
	webhookSecret string

	mu       sync.Mutex
	orders   map[string]*domain.RemoteOrder
	payments map[string]*domain.RemotePayment
}

func (a *Adapter) Provider() string  { return ProviderName }
func (a *Adapter) PublicKey() string { return a.keyID }

func (a *Adapter) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.RemoteOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.AmountMinor <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	order := &domain.RemoteOrder{
		ID:       "order_" + ulid.Make().String(),
		Amount:   req.AmountMinor,
		Currency: strings.ToUpper(req.Currency),
		Status:   "created",
	}
	order.Raw = map[string]any{
		"id":       order.ID,
		"amount":   order.Amount,
		"currency": order.Currency,
		"status":   order.Status,
		"receipt":  req.Receipt,
	}

	a.mu.Lock()
	a.orders[order.ID] = order
	a.mu.Unlock()
	return order, nil
}

func (a *Adapter) FetchOrder(ctx context.Context, remoteOrderID string) (*domain.RemoteOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	order, ok := a.orders[remoteOrderID]
	if !ok {
		return nil, &domain.GatewayError{Op: "fetch_order", StatusCode: 404, Code: "BAD_REQUEST_ERROR", Message: "order not found"}
	}
	return order, nil
}

// Capture simulates the customer completing checkout and returns the
// payment id with a valid callback signature.
func (a *Adapter) Capture(remoteOrderID, method string) (paymentID, sig string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	order, ok := a.orders[remoteOrderID]
	if !ok {
		return "", "", &domain.GatewayError{Op: "capture", StatusCode: 404, Message: "order not found"}
	}
	payment := &domain.RemotePayment{
		ID:       "pay_" + ulid.Make().String(),
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   "captured",
		Method:   method,
	}
	payment.Raw = map[string]any{"id": payment.ID, "order_id": payment.OrderID, "status": payment.Status, "method": method}
	a.payments[payment.ID] = payment
	order.Status = "paid"
	return payment.ID, signature.Sign(a.keySecret, signature.PaymentMessage(order.ID, payment.ID)), nil
}

func (a *Adapter) FetchPayment(ctx context.Context, remotePaymentID string) (*domain.RemotePayment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	payment, ok := a.payments[remotePaymentID]
	if !ok {
		return nil, &domain.GatewayError{Op: "fetch_payment", StatusCode: 404, Code: "BAD_REQUEST_ERROR", Message: "payment not found"}
	}
	return payment, nil
}

func (a *Adapter) Refund(ctx context.Context, req domain.RefundRequest) (*domain.RemoteRefund, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	amount := req.AmountMinor
	a.mu.Lock()
	if payment, ok := a.payments[req.PaymentID]; ok {
		if amount <= 0 {
			amount = payment.Amount
		}
		payment.Status = "refunded"
	}
	a.mu.Unlock()

	refund := &domain.RemoteRefund{
		ID:        "rfnd_" + ulid.Make().String(),
		PaymentID: req.PaymentID,
		Amount:    amount,
		Status:    "processed",
	}
	refund.Raw = map[string]any{"id": refund.ID, "payment_id": refund.PaymentID, "amount": refund.Amount, "status": refund.Status}
	return refund, nil
}

func (a *Adapter) VerifyPaymentSignature(remoteOrderID, remotePaymentID, sig string) bool {
	return signature.Verify(a.keySecret, signature.PaymentMessage(remoteOrderID, remotePaymentID), sig)
}

func (a *Adapter) VerifyWebhookSignature(payload []byte, sig string) bool {
	return signature.Verify(a.webhookSecret, payload, sig)
}

func (a *Adapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	return razorpay.ParseWebhook(payload)
}
