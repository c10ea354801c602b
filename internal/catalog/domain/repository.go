package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type ListFilter struct {
	Category        string
	Search          string
	IncludeInactive bool
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, product *Product) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Product, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Product, error)
	Update(ctx context.Context, db *gorm.DB, product *Product) error
	// DecrementStock only succeeds while stock >= quantity, so stock never goes negative.
	DecrementStock(ctx context.Context, db *gorm.DB, id int64, quantity int, at time.Time) (bool, error)
	IncrementStock(ctx context.Context, db *gorm.DB, id int64, quantity int, at time.Time) error
}
