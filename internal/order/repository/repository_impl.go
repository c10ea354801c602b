package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/storefront/internal/order/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, order_id, items, customer_name, customer_email, customer_phone, customer_address,
			total_amount, currency, status, payment_id, payment_status, stock_committed, notes,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.OrderID,
		order.Items,
		order.Customer.Name,
		order.Customer.Email,
		order.Customer.Phone,
		order.Customer.Address,
		order.TotalAmount,
		order.Currency,
		order.Status,
		order.PaymentID,
		order.PaymentStatus,
		order.StockCommitted,
		order.Notes,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, items, customer_name, customer_email, customer_phone, customer_address,
			total_amount, currency, status, payment_id, payment_status, stock_committed, notes,
			created_at, updated_at
		 FROM orders
		 WHERE order_id = ?
		 LIMIT 1`,
		orderID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Order, error) {
	var items []domain.Order
	stmt := db.WithContext(ctx).Model(&domain.Order{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if email := strings.TrimSpace(filter.Email); email != "" {
		stmt = stmt.Where("LOWER(customer_email) = ?", strings.ToLower(email))
	}
	if err := stmt.Order("created_at DESC").Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, orderID string, from, to domain.Status, changes domain.Changes) (bool, error) {
	updates := changeSet(changes)
	updates["status"] = to

	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, orderID string, changes domain.Changes) error {
	return db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("order_id = ?", orderID).
		Updates(changeSet(changes)).Error
}

func changeSet(changes domain.Changes) map[string]any {
	updates := map[string]any{
		"updated_at": changes.UpdatedAt,
	}
	if changes.PaymentID != nil {
		updates["payment_id"] = *changes.PaymentID
	}
	if changes.PaymentStatus != "" {
		updates["payment_status"] = changes.PaymentStatus
	}
	if changes.StockCommitted != nil {
		updates["stock_committed"] = *changes.StockCommitted
	}
	if changes.Items != nil {
		updates["items"] = datatypes.JSONSlice[domain.LineItem](changes.Items)
	}
	if changes.Notes != nil {
		updates["notes"] = *changes.Notes
	}
	return updates
}
