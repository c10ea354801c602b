package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Payment is the local record of one hosted-checkout attempt.
// TransactionID is the gateway order id; GatewayPaymentID is the gateway's
// payment id, known only after verification or capture.
type Payment struct {
	ID               int64             `json:"-" gorm:"primaryKey;autoIncrement:false"`
	PaymentID        string            `json:"paymentId" gorm:"column:payment_id;type:varchar(64);not null;uniqueIndex"`
	OrderID          string            `json:"orderId" gorm:"column:order_id;type:varchar(64);not null;index"`
	Amount           decimal.Decimal   `json:"amount" gorm:"type:numeric(12,2);not null"`
	Currency         string            `json:"currency" gorm:"type:varchar(3);not null"`
	Status           Status            `json:"status" gorm:"type:varchar(20);not null"`
	Provider         string            `json:"provider" gorm:"type:varchar(32);not null"`
	TransactionID    string            `json:"transactionId" gorm:"column:transaction_id;type:varchar(100);not null;index"`
	GatewayPaymentID *string           `json:"gatewayPaymentId,omitempty" gorm:"column:gateway_payment_id;type:varchar(100);index"`
	GatewayResponse  datatypes.JSONMap `json:"gatewayResponse"`
	CustomerEmail    string            `json:"customerEmail" gorm:"type:varchar(255);not null"`
	Metadata         datatypes.JSONMap `json:"metadata"`
	CreatedAt        time.Time         `json:"createdAt" gorm:"not null"`
	UpdatedAt        time.Time         `json:"updatedAt" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// IsTerminal reports whether the payment can no longer change status.
// A refunded payment stays refunded regardless of late callbacks.
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusRefunded
}

// Merge copies values into the gateway response blob, keeping existing keys.
func (p *Payment) Merge(values map[string]any) {
	if p.GatewayResponse == nil {
		p.GatewayResponse = datatypes.JSONMap{}
	}
	for key, value := range values {
		p.GatewayResponse[key] = value
	}
}

// EventRecord is one webhook delivery, keyed by the provider's event id.
type EventRecord struct {
	ID              int64          `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider        string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(100);not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:varchar(64);not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventRefundCreated   = "refund.created"
)

// ToMinorUnits converts a major-unit amount to the gateway's integer minor units.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
