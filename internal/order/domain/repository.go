package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type ListFilter struct {
	Status Status
	Email  string
}

// Changes are the columns written together with a status transition.
type Changes struct {
	PaymentID      *string
	PaymentStatus  PaymentStatus
	StockCommitted *bool
	Items          []LineItem
	Notes          *string
	UpdatedAt      time.Time
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, order *Order) error
	FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Order, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Order, error)
	// Transition applies the update only while the stored status still equals from.
	// It reports false when another writer moved the order first.
	Transition(ctx context.Context, db *gorm.DB, orderID string, from, to Status, changes Changes) (bool, error)
	Update(ctx context.Context, db *gorm.DB, orderID string, changes Changes) error
}
