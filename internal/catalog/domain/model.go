package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	Name        string          `json:"name" gorm:"type:varchar(255);not null"`
	Description string          `json:"description" gorm:"type:text;not null;default:''"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	Image       string          `json:"image,omitempty" gorm:"type:text;not null;default:''"`
	Category    string          `json:"category" gorm:"type:varchar(100);not null;index"`
	Stock       int             `json:"stock" gorm:"not null;default:0"`
	SKU         string          `json:"sku" gorm:"column:sku;type:varchar(100);not null;uniqueIndex"`
	IsActive    bool            `json:"isActive" gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time       `json:"createdAt" gorm:"not null"`
	UpdatedAt   time.Time       `json:"updatedAt" gorm:"not null"`
}

func (Product) TableName() string { return "products" }

func (p Product) InStock(quantity int) bool {
	return quantity > 0 && p.Stock >= quantity
}
