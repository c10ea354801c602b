package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	paymentIDPrefix = "PAY-"
	lockKeyPrefix   = "storefront:payment:"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Gateway    domain.Gateway
	Orders     orderdomain.Service
	Locker     *ratelimit.Locker             `optional:"true"`
	Checkout   *config.CheckoutConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	gateway    domain.Gateway
	orders     orderdomain.Service
	locker     *ratelimit.Locker
	checkout   *config.CheckoutConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		gateway:    p.Gateway,
		orders:     p.Orders,
		locker:     p.Locker,
		checkout:   p.Checkout,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, domain.ErrInvalidRequest
	}
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != orderdomain.StatusPending {
		return nil, domain.ErrOrderNotPayable
	}
	if !req.Amount.Round(2).Equal(order.TotalAmount) {
		return nil, domain.ErrAmountMismatch
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = order.Currency
	}
	if currency != order.Currency {
		return nil, domain.ErrInvalidCurrency
	}

	email := strings.TrimSpace(req.Customer.Email)
	if email == "" {
		email = order.Customer.Email
	}
	name := strings.TrimSpace(req.Customer.Name)
	if name == "" {
		name = order.Customer.Name
	}
	phone := strings.TrimSpace(req.Customer.Phone)
	if phone == "" {
		phone = order.Customer.Phone
	}

	log := logger.WithOrder(logger.WithContext(ctx, s.log), orderID)
	amountMinor := domain.ToMinorUnits(order.TotalAmount)
	remote, err := s.gateway.CreateOrder(ctx, domain.CreateOrderRequest{
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     orderID,
		Notes: map[string]string{
			"orderId":       orderID,
			"customerEmail": email,
		},
	})
	if err != nil {
		s.obsMetrics.RecordPayment(ctx, s.gateway.Provider(), "create", "error")
		log.Warn("gateway order creation failed", zap.Error(err))
		return nil, wrapGatewayError("create_order", err)
	}

	metadata := datatypes.JSONMap{}
	for key, value := range req.Metadata {
		metadata[key] = value
	}
	metadata["customerName"] = name
	metadata["customerPhone"] = phone

	now := s.clock.Now()
	id := s.genID.Generate()
	payment := &domain.Payment{
		ID:              id.Int64(),
		PaymentID:       paymentIDPrefix + id.String(),
		OrderID:         orderID,
		Amount:          order.TotalAmount,
		Currency:        currency,
		Status:          domain.StatusInitiated,
		Provider:        s.gateway.Provider(),
		TransactionID:   remote.ID,
		GatewayResponse: datatypes.JSONMap(remote.Raw),
		CustomerEmail:   email,
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if payment.GatewayResponse == nil {
		payment.GatewayResponse = datatypes.JSONMap{}
	}
	if err := s.repo.Create(ctx, s.db, payment); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPayment(ctx, payment.Provider, "create", string(payment.Status))
	log.Info("payment initiated",
		zap.String("transaction_id", remote.ID),
		zap.Int64("amount_minor", amountMinor),
	)

	return &domain.InitiateResult{
		OrderID:       remote.ID,
		Amount:        amountMinor,
		Currency:      currency,
		Key:           s.gateway.PublicKey(),
		CustomerName:  name,
		CustomerEmail: email,
		CustomerPhone: phone,
		Payment:       payment,
	}, nil
}

// Verify checks the checkout callback signature. A mismatch is reported in
// the result, not as an error.
func (s *Service) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error) {
	remoteOrderID := strings.TrimSpace(req.RemoteOrderID)
	remotePaymentID := strings.TrimSpace(req.RemotePaymentID)
	sig := strings.TrimSpace(req.Signature)
	if remoteOrderID == "" || remotePaymentID == "" || sig == "" {
		return nil, domain.ErrInvalidRequest
	}

	valid := s.gateway.VerifyPaymentSignature(remoteOrderID, remotePaymentID, sig)

	var enrichment map[string]any
	if valid {
		enrichment = s.fetchPaymentDetails(ctx, remotePaymentID)
	}

	var result *domain.VerifyResult
	err := s.locker.WithLock(ctx, lockKeyPrefix+remoteOrderID, func(ctx context.Context) error {
		payment, err := s.repo.FindByTransactionID(ctx, s.db, remoteOrderID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		log := logger.WithOrder(logger.WithContext(ctx, s.log), payment.OrderID)

		now := s.clock.Now()
		payment.Merge(map[string]any{
			"razorpay_payment_id": remotePaymentID,
			"razorpay_signature":  sig,
			"verified":            valid,
			"verified_at":         now.Format(time.RFC3339),
		})

		if !valid {
			if payment.Status != domain.StatusSuccess && !payment.IsTerminal() {
				payment.Status = domain.StatusFailed
			}
			payment.UpdatedAt = now
			if err := s.repo.Update(ctx, s.db, payment); err != nil {
				return err
			}
			s.obsMetrics.RecordPayment(ctx, payment.Provider, "verify", "invalid_signature")
			log.Warn("payment signature mismatch", zap.String("transaction_id", remoteOrderID))
			result = &domain.VerifyResult{IsValid: false, Status: payment.Status, OrderID: payment.OrderID, Payment: payment}
			return nil
		}

		payment.Merge(enrichment)
		payment.UpdatedAt = now
		if payment.IsTerminal() {
			if err := s.repo.Update(ctx, s.db, payment); err != nil {
				return err
			}
			s.obsMetrics.RecordPayment(ctx, payment.Provider, "verify", "ignored")
			log.Info("verification after refund left payment unchanged",
				zap.String("gateway_payment_id", remotePaymentID))
			result = &domain.VerifyResult{IsValid: true, Status: payment.Status, OrderID: payment.OrderID, Payment: payment}
			return nil
		}

		payment.Status = domain.StatusSuccess
		payment.GatewayPaymentID = &remotePaymentID
		if err := s.repo.Update(ctx, s.db, payment); err != nil {
			return err
		}
		s.obsMetrics.RecordPayment(ctx, payment.Provider, "verify", string(payment.Status))

		if _, _, err := s.orders.MarkPaid(ctx, payment.OrderID, remotePaymentID); err != nil {
			return err
		}
		log.Info("payment verified", zap.String("gateway_payment_id", remotePaymentID))
		result = &domain.VerifyResult{IsValid: true, Status: payment.Status, OrderID: payment.OrderID, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fetchPaymentDetails is best effort; verification does not depend on it.
func (s *Service) fetchPaymentDetails(ctx context.Context, remotePaymentID string) map[string]any {
	remote, err := s.gateway.FetchPayment(ctx, remotePaymentID)
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("gateway payment lookup failed",
			zap.String("gateway_payment_id", remotePaymentID),
			zap.Error(err),
		)
		return nil
	}
	details := map[string]any{}
	if remote.Method != "" {
		details["method"] = remote.Method
	}
	if remote.Email != "" {
		details["email"] = remote.Email
	}
	if remote.Contact != "" {
		details["contact"] = remote.Contact
	}
	return details
}

// Refund runs under the same lock as verification and webhooks, and only a
// payment still marked success is moved to refunded.
func (s *Service) Refund(ctx context.Context, req domain.RefundPaymentRequest) (*domain.RefundResult, error) {
	gatewayPaymentID := strings.TrimSpace(req.PaymentID)
	if gatewayPaymentID == "" {
		return nil, domain.ErrInvalidRequest
	}

	found, err := s.repo.FindByGatewayPaymentID(ctx, s.db, gatewayPaymentID)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, domain.ErrPaymentNotFound
	}

	var result *domain.RefundResult
	err = s.locker.WithLock(ctx, lockKeyPrefix+found.TransactionID, func(ctx context.Context) error {
		payment, err := s.repo.FindByGatewayPaymentID(ctx, s.db, gatewayPaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.Status != domain.StatusSuccess {
			return domain.ErrPaymentNotRefundable
		}

		var amountMinor int64
		if req.Amount != nil {
			amount := req.Amount.Round(2)
			if !amount.IsPositive() || amount.GreaterThan(payment.Amount) {
				return domain.ErrInvalidAmount
			}
			amountMinor = domain.ToMinorUnits(amount)
		}
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = s.checkout.Get().DefaultRefundReason
		}

		log := logger.WithOrder(logger.WithContext(ctx, s.log), payment.OrderID)
		remote, err := s.gateway.Refund(ctx, domain.RefundRequest{
			PaymentID:   gatewayPaymentID,
			AmountMinor: amountMinor,
			Notes: map[string]string{
				"reason":  reason,
				"orderId": payment.OrderID,
			},
		})
		if err != nil {
			s.obsMetrics.RecordPayment(ctx, payment.Provider, "refund", "error")
			log.Warn("gateway refund failed", zap.Error(err))
			return wrapGatewayError("refund", err)
		}

		now := s.clock.Now()
		payment.Status = domain.StatusRefunded
		payment.Merge(map[string]any{
			"refund":      remote.Raw,
			"refunded_at": now.Format(time.RFC3339),
		})
		payment.UpdatedAt = now
		ok, err := s.repo.Transition(ctx, s.db, payment, domain.StatusSuccess)
		if err != nil {
			return err
		}
		if !ok {
			log.Warn("payment changed while refund was in flight", zap.String("refund_id", remote.ID))
			return domain.ErrPaymentNotRefundable
		}
		s.obsMetrics.RecordPayment(ctx, payment.Provider, "refund", string(payment.Status))

		if _, _, err := s.orders.MarkRefunded(ctx, payment.OrderID); err != nil {
			if !errors.Is(err, orderdomain.ErrOrderNotFound) {
				return err
			}
			log.Warn("refunded payment has no order")
		}

		log.Info("payment refunded",
			zap.String("refund_id", remote.ID),
			zap.String("amount", domain.FromMinorUnits(remote.Amount).StringFixed(2)),
		)
		result = &domain.RefundResult{RefundID: remote.ID, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrInvalidRequest
	}
	payment, err := s.repo.FindLatestByOrderID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, domain.ErrInvalidRequest
	}
	payment, err := s.repo.FindByTransactionID(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

// ApplyCapture records a captured payment reported by webhook and drives the
// order to paid. Unknown remote orders are ignored.
func (s *Service) ApplyCapture(ctx context.Context, event *domain.WebhookPayment) error {
	return s.locker.WithLock(ctx, lockKeyPrefix+event.OrderID, func(ctx context.Context) error {
		payment, err := s.repo.FindByTransactionID(ctx, s.db, event.OrderID)
		if err != nil {
			return err
		}
		if payment == nil {
			logger.WithContext(ctx, s.log).Info("captured payment has no local record",
				zap.String("transaction_id", event.OrderID))
			return nil
		}

		if payment.IsTerminal() {
			payment.Merge(map[string]any{"webhook_data": event.Raw})
			payment.UpdatedAt = s.clock.Now()
			if err := s.repo.Update(ctx, s.db, payment); err != nil {
				return err
			}
			s.obsMetrics.RecordPayment(ctx, payment.Provider, "capture", "ignored")
			logger.WithContext(ctx, s.log).Info("capture after refund left payment unchanged",
				zap.String("transaction_id", event.OrderID))
			return nil
		}

		if payment.Status != domain.StatusSuccess {
			gatewayPaymentID := event.ID
			payment.Status = domain.StatusSuccess
			payment.GatewayPaymentID = &gatewayPaymentID
			payment.Merge(map[string]any{"webhook_data": event.Raw})
			payment.UpdatedAt = s.clock.Now()
			if err := s.repo.Update(ctx, s.db, payment); err != nil {
				return err
			}
			s.obsMetrics.RecordPayment(ctx, payment.Provider, "capture", string(payment.Status))
		}

		_, _, err = s.orders.MarkPaid(ctx, payment.OrderID, event.ID)
		return err
	})
}

// ApplyFailure marks the payment failed as reported by webhook.
func (s *Service) ApplyFailure(ctx context.Context, event *domain.WebhookPayment) error {
	return s.locker.WithLock(ctx, lockKeyPrefix+event.OrderID, func(ctx context.Context) error {
		payment, err := s.repo.FindByTransactionID(ctx, s.db, event.OrderID)
		if err != nil {
			return err
		}
		if payment == nil {
			logger.WithContext(ctx, s.log).Info("failed payment has no local record",
				zap.String("transaction_id", event.OrderID))
			return nil
		}

		payment.Merge(map[string]any{"webhook_data": event.Raw})
		payment.UpdatedAt = s.clock.Now()
		if supersededBy(payment, event.ID) {
			if err := s.repo.Update(ctx, s.db, payment); err != nil {
				return err
			}
			s.obsMetrics.RecordPayment(ctx, payment.Provider, "capture", "ignored")
			logger.WithContext(ctx, s.log).Info("stale payment failure left payment unchanged",
				zap.String("transaction_id", event.OrderID),
				zap.String("gateway_payment_id", event.ID),
				zap.String("status", string(payment.Status)),
			)
			return nil
		}

		payment.Status = domain.StatusFailed
		if err := s.repo.Update(ctx, s.db, payment); err != nil {
			return err
		}
		s.obsMetrics.RecordPayment(ctx, payment.Provider, "capture", string(payment.Status))

		_, err = s.orders.MarkPaymentFailed(ctx, payment.OrderID)
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			return nil
		}
		return err
	})
}

// ApplyRefund records a refund created outside this service, e.g. from the
// provider dashboard.
func (s *Service) ApplyRefund(ctx context.Context, event *domain.WebhookRefund) error {
	found, err := s.repo.FindByGatewayPaymentID(ctx, s.db, event.PaymentID)
	if err != nil {
		return err
	}
	if found == nil {
		logger.WithContext(ctx, s.log).Info("refunded payment has no local record",
			zap.String("gateway_payment_id", event.PaymentID))
		return nil
	}

	return s.locker.WithLock(ctx, lockKeyPrefix+found.TransactionID, func(ctx context.Context) error {
		payment, err := s.repo.FindByGatewayPaymentID(ctx, s.db, event.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return nil
		}

		if payment.Status != domain.StatusRefunded {
			payment.Status = domain.StatusRefunded
			payment.Merge(map[string]any{"refund_webhook": event.Raw})
			payment.UpdatedAt = s.clock.Now()
			if err := s.repo.Update(ctx, s.db, payment); err != nil {
				return err
			}
			s.obsMetrics.RecordPayment(ctx, payment.Provider, "refund", string(payment.Status))
		}

		_, _, err = s.orders.MarkRefunded(ctx, payment.OrderID)
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			return nil
		}
		return err
	})
}

// supersededBy reports whether a failure for gatewayPaymentID arrived after
// the payment already settled through another attempt.
func supersededBy(payment *domain.Payment, gatewayPaymentID string) bool {
	if payment.IsTerminal() {
		return true
	}
	if payment.Status != domain.StatusSuccess {
		return false
	}
	return payment.GatewayPaymentID == nil || *payment.GatewayPaymentID != gatewayPaymentID
}

func wrapGatewayError(op string, err error) error {
	var gerr *domain.GatewayError
	if errors.As(err, &gerr) {
		return err
	}
	if errors.Is(err, domain.ErrInvalidAmount) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.GatewayError{Op: op, Err: err}
}
