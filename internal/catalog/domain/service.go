package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Product, error)
	List(ctx context.Context, req ListRequest) ([]Product, error)
	Get(ctx context.Context, id string) (*Product, error)
	Update(ctx context.Context, req UpdateRequest) (*Product, error)
	Archive(ctx context.Context, id string) (*Product, error)
	AdjustStock(ctx context.Context, id string, delta int) (*Product, error)
}

type ListRequest struct {
	Category        string
	Search          string
	IncludeInactive bool
}

type CreateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
	Category    string          `json:"category"`
	Stock       int             `json:"stock"`
	SKU         string          `json:"sku"`
	IsActive    *bool           `json:"isActive"`
}

type UpdateRequest struct {
	ID          string           `json:"-"`
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Image       *string          `json:"image"`
	Category    *string          `json:"category"`
	IsActive    *bool            `json:"isActive"`
}

var (
	ErrNotFound          = errors.New("product_not_found")
	ErrInvalidID         = errors.New("invalid_product_id")
	ErrInvalidName       = errors.New("invalid_name")
	ErrInvalidPrice      = errors.New("invalid_price")
	ErrInvalidStock      = errors.New("invalid_stock")
	ErrInvalidCategory   = errors.New("invalid_category")
	ErrDuplicateSKU      = errors.New("duplicate_sku")
	ErrInsufficientStock = errors.New("insufficient_stock")
)
