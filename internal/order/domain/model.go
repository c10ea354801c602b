package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// LineItem is a snapshot of the product at order time.
// Committed is the quantity actually taken from stock when the order was paid.
type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Committed int             `json:"committed,omitempty"`
}

func (i LineItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Customer struct {
	Name    string `json:"name" gorm:"type:varchar(255);not null"`
	Email   string `json:"email" gorm:"type:varchar(255);not null;index"`
	Phone   string `json:"phone" gorm:"type:varchar(50);not null"`
	Address string `json:"address" gorm:"type:text;not null"`
}

type Order struct {
	ID             int64                         `json:"-" gorm:"primaryKey;autoIncrement:false"`
	OrderID        string                        `json:"orderId" gorm:"column:order_id;type:varchar(64);not null;uniqueIndex"`
	Items          datatypes.JSONSlice[LineItem] `json:"items" gorm:"not null"`
	Customer       Customer                      `json:"customer" gorm:"embedded;embeddedPrefix:customer_"`
	TotalAmount    decimal.Decimal               `json:"totalAmount" gorm:"type:numeric(12,2);not null"`
	Currency       string                        `json:"currency" gorm:"type:varchar(3);not null"`
	Status         Status                        `json:"status" gorm:"type:varchar(20);not null;index"`
	PaymentID      *string                       `json:"paymentId,omitempty" gorm:"column:payment_id;type:varchar(100)"`
	PaymentStatus  PaymentStatus                 `json:"paymentStatus" gorm:"type:varchar(20);not null"`
	StockCommitted bool                          `json:"stockCommitted" gorm:"not null;default:false"`
	Notes          string                        `json:"notes,omitempty" gorm:"type:text;not null;default:''"`
	CreatedAt      time.Time                     `json:"createdAt" gorm:"not null;index"`
	UpdatedAt      time.Time                     `json:"updatedAt" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// Total recomputes Σ price×quantity from the line items.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total.Round(2)
}
