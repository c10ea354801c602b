package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, payment *Payment) error
	Update(ctx context.Context, db *gorm.DB, payment *Payment) error
	// Transition writes payment only while the stored status still equals from.
	Transition(ctx context.Context, db *gorm.DB, payment *Payment, from Status) (bool, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*Payment, error)
	FindByGatewayPaymentID(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*Payment, error)
	FindLatestByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Payment, error)

	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id int64, processedAt time.Time) error
	// ListUnprocessedEvents returns stored deliveries received in [from, before) that never finished applying.
	ListUnprocessedEvents(ctx context.Context, db *gorm.DB, provider string, from, before time.Time, limit int) ([]EventRecord, error)
}
