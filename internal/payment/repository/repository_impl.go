package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/storefront/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, payment_id, order_id, amount, currency, status, provider, transaction_id,
	gateway_payment_id, gateway_response, customer_email, metadata, created_at, updated_at`

func (r *repo) Create(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.PaymentID,
		payment.OrderID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.Provider,
		payment.TransactionID,
		payment.GatewayPaymentID,
		payment.GatewayResponse,
		payment.CustomerEmail,
		payment.Metadata,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, gateway_payment_id = ?, gateway_response = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		payment.Status,
		payment.GatewayPaymentID,
		payment.GatewayResponse,
		payment.Metadata,
		payment.UpdatedAt,
		payment.ID,
	).Error
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, payment *domain.Payment, from domain.Status) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, gateway_payment_id = ?, gateway_response = ?, metadata = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		payment.Status,
		payment.GatewayPaymentID,
		payment.GatewayResponse,
		payment.Metadata,
		payment.UpdatedAt,
		payment.ID,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `WHERE transaction_id = ? ORDER BY created_at DESC, id DESC`, transactionID)
}

func (r *repo) FindByGatewayPaymentID(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `WHERE gateway_payment_id = ?`, gatewayPaymentID)
}

func (r *repo) FindLatestByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `WHERE order_id = ? ORDER BY created_at DESC, id DESC`, orderID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments `+where+` LIMIT 1`,
		args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// InsertEvent reports false when the (provider, provider_event_id) pair already exists.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id int64, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) ListUnprocessedEvents(ctx context.Context, db *gorm.DB, provider string, from, before time.Time, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND processed_at IS NULL AND received_at >= ? AND received_at < ?
		 ORDER BY received_at ASC
		 LIMIT ?`,
		provider,
		from,
		before,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
