package domain

import (
	"context"
	"errors"
	"io"

	"github.com/shopspring/decimal"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Order, error)
	Get(ctx context.Context, orderID string) (*Order, error)
	List(ctx context.Context, req ListRequest) ([]Order, error)
	// MarkPaid moves a pending order to paid and commits stock. Only the first
	// caller observes transitioned=true; later calls are no-ops.
	MarkPaid(ctx context.Context, orderID string, gatewayPaymentID string) (*Order, bool, error)
	// MarkPaymentFailed records a failed attempt; the order stays pending so it can be retried.
	MarkPaymentFailed(ctx context.Context, orderID string) (*Order, error)
	MarkRefunded(ctx context.Context, orderID string) (*Order, bool, error)
	Cancel(ctx context.Context, orderID string) (*Order, error)
	UpdateStatus(ctx context.Context, orderID string, status Status) (*Order, error)
	Receipt(ctx context.Context, orderID string) (io.Reader, error)
}

type ItemRequest struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type CreateRequest struct {
	Items    []ItemRequest `json:"items"`
	Customer Customer      `json:"customer"`
	Currency string        `json:"currency"`
	Notes    string        `json:"notes"`
}

type ListRequest struct {
	Status string
	Email  string
}

// Notifier delivers the order confirmation once an order is paid.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *Order) NotificationResult
}

type NotificationResult struct {
	Success bool
	Error   string
}

var (
	ErrOrderNotFound      = errors.New("order_not_found")
	ErrProductNotFound    = errors.New("product_not_found")
	ErrProductInactive    = errors.New("product_inactive")
	ErrInsufficientStock  = errors.New("insufficient_stock")
	ErrInvalidItems       = errors.New("invalid_items")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrInvalidCustomer    = errors.New("invalid_customer")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidTransition  = errors.New("invalid_status_transition")
	ErrNotCancellable     = errors.New("order_not_cancellable")
	ErrReceiptUnavailable = errors.New("receipt_unavailable")
)
