package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Service interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
	Refund(ctx context.Context, req RefundPaymentRequest) (*RefundResult, error)
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
}

type WebhookService interface {
	HandleWebhook(ctx context.Context, req WebhookRequest) error
	ReplayPending(ctx context.Context, from, before time.Time, limit int) (ReplaySummary, error)
}

type ReplaySummary struct {
	Replayed int
	Failed   int
}

type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type InitiateRequest struct {
	OrderID  string          `json:"orderId"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Customer CustomerInfo    `json:"customer"`
	Metadata map[string]any  `json:"metadata"`
}

type InitiateResult struct {
	OrderID       string   `json:"orderId"`
	Amount        int64    `json:"amount"`
	Currency      string   `json:"currency"`
	Key           string   `json:"razorpayKey"`
	CustomerName  string   `json:"customerName"`
	CustomerEmail string   `json:"customerEmail"`
	CustomerPhone string   `json:"customerPhone"`
	Payment       *Payment `json:"payment"`
}

type VerifyRequest struct {
	RemoteOrderID   string `json:"razorpay_order_id"`
	RemotePaymentID string `json:"razorpay_payment_id"`
	Signature       string `json:"razorpay_signature"`
}

type VerifyResult struct {
	IsValid bool     `json:"isValid"`
	Status  Status   `json:"status"`
	OrderID string   `json:"orderId"`
	Payment *Payment `json:"payment"`
}

type RefundPaymentRequest struct {
	PaymentID string           `json:"paymentId"`
	Amount    *decimal.Decimal `json:"amount"`
	Reason    string           `json:"reason"`
}

type RefundResult struct {
	RefundID string   `json:"refundId"`
	Payment  *Payment `json:"payment"`
}

type WebhookRequest struct {
	Payload   []byte
	Signature string
	EventID   string
}

var (
	ErrPaymentNotFound       = errors.New("payment_not_found")
	ErrPaymentNotRefundable  = errors.New("payment_not_refundable")
	ErrOrderNotPayable       = errors.New("order_not_payable")
	ErrAmountMismatch        = errors.New("amount_mismatch")
	ErrInvalidRequest        = errors.New("invalid_request")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)
