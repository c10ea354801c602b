package repository

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO products (id, name, description, price, image, category, stock, sku, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ID,
		product.Name,
		product.Description,
		product.Price,
		product.Image,
		product.Category,
		product.Stock,
		product.SKU,
		product.IsActive,
		product.CreatedAt,
		product.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Product, error) {
	var p domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, description, price, image, category, stock, sku, is_active, created_at, updated_at
		 FROM products WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Product, error) {
	var items []domain.Product
	stmt := db.WithContext(ctx).Model(&domain.Product{})

	if !filter.IncludeInactive {
		stmt = stmt.Where("is_active = ?", true)
	}
	if filter.Category != "" {
		stmt = stmt.Where("category = ?", filter.Category)
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		stmt = stmt.Where(`(LOWER(name) LIKE ? ESCAPE '!' OR LOWER(description) LIKE ? ESCAPE '!')`, pattern, pattern)
	}

	if err := stmt.Order("created_at DESC").Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	if product == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE products
		 SET name = ?, description = ?, price = ?, image = ?, category = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		product.Name,
		product.Description,
		product.Price,
		product.Image,
		product.Category,
		product.IsActive,
		product.UpdatedAt,
		product.ID,
	).Error
}

func (r *repo) DecrementStock(ctx context.Context, db *gorm.DB, id int64, quantity int, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE products
		 SET stock = stock - ?, updated_at = ?
		 WHERE id = ? AND stock >= ?`,
		quantity,
		at,
		id,
		quantity,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) IncrementStock(ctx context.Context, db *gorm.DB, id int64, quantity int, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE products
		 SET stock = stock + ?, updated_at = ?
		 WHERE id = ?`,
		quantity,
		at,
		id,
	).Error
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return replacer.Replace(value)
}
