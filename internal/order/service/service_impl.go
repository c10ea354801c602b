package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/events"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const orderIDPrefix = "ORD-"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	CatalogRepo catalogdomain.Repository
	Notifier    domain.Notifier
	Publisher   events.Publisher             `optional:"true"`
	Checkout    *config.CheckoutConfigHolder `optional:"true"`
	PDF         pdf.Provider                 `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	catalogRepo catalogdomain.Repository
	notifier    domain.Notifier
	publisher   events.Publisher
	checkout    *config.CheckoutConfigHolder
	pdf         pdf.Provider
	obsMetrics  *obsmetrics.Metrics

	inflight sync.WaitGroup
}

func NewService(p Params) *Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NewNoop()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("order.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		catalogRepo: p.CatalogRepo,
		notifier:    p.Notifier,
		publisher:   publisher,
		checkout:    p.Checkout,
		pdf:         p.PDF,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Order, error) {
	if len(req.Items) == 0 {
		return nil, domain.ErrInvalidItems
	}
	customer, err := validateCustomer(req.Customer)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.checkout.Get().Currency
	}
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}

	requested := make(map[int64]int, len(req.Items))
	productIDs := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, domain.ErrInvalidQuantity
		}
		id, err := parseProductID(item.ProductID)
		if err != nil {
			return nil, err
		}
		if _, seen := requested[id]; !seen {
			productIDs = append(productIDs, id)
		}
		requested[id] += item.Quantity
	}

	products := make(map[int64]*catalogdomain.Product, len(productIDs))
	for _, id := range productIDs {
		product, err := s.catalogRepo.FindByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, snowflake.ID(id).String())
		}
		if !product.IsActive {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductInactive, product.Name)
		}
		if !product.InStock(requested[id]) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInsufficientStock, product.Name)
		}
		products[id] = product
	}

	items := make([]domain.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		id, _ := parseProductID(item.ProductID)
		product := products[id]
		items = append(items, domain.LineItem{
			ProductID: snowflake.ID(product.ID).String(),
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  item.Quantity,
		})
	}

	now := s.clock.Now()
	order := &domain.Order{
		ID:            s.genID.Generate().Int64(),
		OrderID:       newOrderID(now),
		Items:         items,
		Customer:      customer,
		Currency:      currency,
		Status:        domain.StatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.TotalAmount = order.Total()

	if err := s.repo.Create(ctx, s.db, order); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordOrderCreated(ctx, currency)
	s.logFor(ctx, order.OrderID).Info("order created",
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		zap.Int("line_items", len(order.Items)),
	)
	return order, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.find(ctx, s.db, orderID)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Order, error) {
	status := domain.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	if status != "" && !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{Status: status, Email: req.Email})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Order{}
	}
	return items, nil
}

func (s *Service) MarkPaid(ctx context.Context, orderID string, gatewayPaymentID string) (*domain.Order, bool, error) {
	var transitioned bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.find(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if current.Status != domain.StatusPending {
			return nil
		}

		now := s.clock.Now()
		paymentID := strings.TrimSpace(gatewayPaymentID)
		ok, err := s.repo.Transition(ctx, tx, orderID, domain.StatusPending, domain.StatusPaid, domain.Changes{
			PaymentID:     &paymentID,
			PaymentStatus: domain.PaymentStatusCompleted,
			UpdatedAt:     now,
		})
		if err != nil || !ok {
			return err
		}
		transitioned = true

		items, notes, err := s.commitStock(ctx, tx, current, now)
		if err != nil {
			return err
		}
		committed := true
		return s.repo.Update(ctx, tx, orderID, domain.Changes{
			StockCommitted: &committed,
			Items:          items,
			Notes:          &notes,
			UpdatedAt:      now,
		})
	})
	if err != nil {
		return nil, false, err
	}

	order, err := s.find(ctx, s.db, orderID)
	if err != nil {
		return nil, false, err
	}
	if !transitioned {
		s.logFor(ctx, orderID).Debug("order already past pending, paid transition skipped",
			zap.String("status", string(order.Status)))
		return order, false, nil
	}

	s.logFor(ctx, orderID).Info("order paid", zap.String("payment_id", gatewayPaymentID))
	s.dispatch(ctx, order, events.TypeOrderPaid, true)
	return order, true, nil
}

// commitStock decrements stock per line item. A shortfall is recorded on the
// order instead of failing, since the customer has already been charged.
func (s *Service) commitStock(ctx context.Context, tx *gorm.DB, order *domain.Order, now time.Time) ([]domain.LineItem, string, error) {
	items := make([]domain.LineItem, len(order.Items))
	copy(items, order.Items)
	notes := order.Notes

	for i := range items {
		id, err := parseProductID(items[i].ProductID)
		if err != nil {
			return nil, "", err
		}
		ok, err := s.catalogRepo.DecrementStock(ctx, tx, id, items[i].Quantity, now)
		if err != nil {
			return nil, "", err
		}
		if ok {
			items[i].Committed = items[i].Quantity
			continue
		}

		items[i].Committed = 0
		s.obsMetrics.RecordStockShortfall(ctx, items[i].Quantity)
		s.logFor(ctx, order.OrderID).Warn("stock shortfall on paid order",
			zap.String("product_id", items[i].ProductID),
			zap.Int("quantity", items[i].Quantity),
		)
		notes = appendNote(notes, fmt.Sprintf("stock shortfall: %s x%d", items[i].Name, items[i].Quantity))
	}
	return items, notes, nil
}

func (s *Service) MarkPaymentFailed(ctx context.Context, orderID string) (*domain.Order, error) {
	ok, err := s.repo.Transition(ctx, s.db, orderID, domain.StatusPending, domain.StatusPending, domain.Changes{
		PaymentStatus: domain.PaymentStatusFailed,
		UpdatedAt:     s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	order, err := s.find(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if ok {
		s.logFor(ctx, orderID).Info("payment attempt failed")
	}
	return order, nil
}

func (s *Service) MarkRefunded(ctx context.Context, orderID string) (*domain.Order, bool, error) {
	current, err := s.find(ctx, s.db, orderID)
	if err != nil {
		return nil, false, err
	}
	if current.Status != domain.StatusPaid {
		s.logFor(ctx, orderID).Warn("refund recorded for order that is no longer paid",
			zap.String("status", string(current.Status)))
		return current, false, nil
	}

	ok, err := s.repo.Transition(ctx, s.db, orderID, domain.StatusPaid, domain.StatusRefunded, domain.Changes{
		PaymentStatus: domain.PaymentStatusRefunded,
		UpdatedAt:     s.clock.Now(),
	})
	if err != nil {
		return nil, false, err
	}
	order, err := s.find(ctx, s.db, orderID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		s.logFor(ctx, orderID).Info("order refunded")
		s.dispatch(ctx, order, events.TypeOrderRefunded, false)
	}
	return order, ok, nil
}

func (s *Service) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	var restored int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.find(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if current.Status.Fulfilled() {
			return domain.ErrNotCancellable
		}
		if !domain.CanTransition(current.Status, domain.StatusCancelled) {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now()
		released := false
		ok, err := s.repo.Transition(ctx, tx, orderID, current.Status, domain.StatusCancelled, domain.Changes{
			StockCommitted: &released,
			UpdatedAt:      now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidTransition
		}

		if !current.StockCommitted {
			return nil
		}
		for _, item := range current.Items {
			if item.Committed <= 0 {
				continue
			}
			id, err := parseProductID(item.ProductID)
			if err != nil {
				return err
			}
			if err := s.catalogRepo.IncrementStock(ctx, tx, id, item.Committed, now); err != nil {
				return err
			}
			restored += item.Committed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order, err := s.find(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	s.logFor(ctx, orderID).Info("order cancelled", zap.Int("stock_restored", restored))
	s.dispatch(ctx, order, events.TypeOrderCancelled, false)
	return order, nil
}

func (s *Service) UpdateStatus(ctx context.Context, orderID string, status domain.Status) (*domain.Order, error) {
	status = domain.Status(strings.ToLower(strings.TrimSpace(string(status))))
	switch {
	case !status.Valid():
		return nil, domain.ErrInvalidStatus
	case status == domain.StatusCancelled:
		return s.Cancel(ctx, orderID)
	case status == domain.StatusPending, status == domain.StatusPaid, status == domain.StatusRefunded:
		// driven by the payment flow only
		return nil, domain.ErrInvalidStatus
	}

	current, err := s.find(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(current.Status, status) {
		return nil, domain.ErrInvalidTransition
	}
	ok, err := s.repo.Transition(ctx, s.db, orderID, current.Status, status, domain.Changes{UpdatedAt: s.clock.Now()})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidTransition
	}

	s.logFor(ctx, orderID).Info("order status updated",
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)),
	)
	return s.find(ctx, s.db, orderID)
}

func (s *Service) Receipt(ctx context.Context, orderID string) (io.Reader, error) {
	order, err := s.find(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Receiptable() || s.pdf == nil {
		return nil, domain.ErrReceiptUnavailable
	}

	data := pdf.ReceiptData{
		StoreName:       "Storefront",
		OrderID:         order.OrderID,
		DatePaid:        order.UpdatedAt.Format("2006-01-02"),
		Status:          string(order.Status),
		CustomerName:    order.Customer.Name,
		CustomerEmail:   order.Customer.Email,
		CustomerPhone:   order.Customer.Phone,
		CustomerAddress: order.Customer.Address,
		Currency:        order.Currency,
		Total:           order.TotalAmount.StringFixed(2),
	}
	if order.PaymentID != nil {
		data.PaymentID = *order.PaymentID
	}
	for _, item := range order.Items {
		data.Items = append(data.Items, pdf.ReceiptItem{
			Description: item.Name,
			Qty:         item.Quantity,
			UnitPrice:   item.Price.StringFixed(2),
			Amount:      item.Subtotal().StringFixed(2),
		})
	}
	return s.pdf.GenerateReceipt(ctx, data)
}

// Drain waits for in-flight notifications and event publishes.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch runs side effects after commit on a detached context so a client
// disconnect does not abort them.
func (s *Service) dispatch(ctx context.Context, order *domain.Order, eventType string, notify bool) {
	cfg := s.checkout.Get()
	snapshot := *order
	base := context.WithoutCancel(ctx)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(base, cfg.NotificationTimeout)
		defer cancel()
		log := s.logFor(ctx, snapshot.OrderID)

		if notify && cfg.NotificationsEnabled && s.notifier != nil {
			res := s.notifier.SendOrderConfirmation(ctx, &snapshot)
			if res.Success {
				s.obsMetrics.RecordNotification(ctx, "sent")
				log.Info("order confirmation sent")
			} else {
				s.obsMetrics.RecordNotification(ctx, "failed")
				log.Warn("order confirmation failed", zap.String("error", res.Error))
			}
		}

		if err := s.publisher.Publish(ctx, newEvent(eventType, &snapshot, s.clock.Now())); err != nil {
			log.Warn("publish order event failed", zap.String("event_type", eventType), zap.Error(err))
		}
	}()
}

func (s *Service) find(ctx context.Context, db *gorm.DB, orderID string) (*domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrOrderNotFound
	}
	item, err := s.repo.FindByOrderID(ctx, db, orderID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrOrderNotFound
	}
	return item, nil
}

func (s *Service) logFor(ctx context.Context, orderID string) *zap.Logger {
	log := logger.WithContext(ctx, s.log)
	if obscontext.OrderIDFromContext(ctx) == "" {
		log = logger.WithOrder(log, orderID)
	}
	return log
}

func validateCustomer(c domain.Customer) (domain.Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Address = strings.TrimSpace(c.Address)
	if c.Name == "" || c.Email == "" || c.Phone == "" || c.Address == "" {
		return domain.Customer{}, domain.ErrInvalidCustomer
	}
	addr, err := mail.ParseAddress(c.Email)
	if err != nil || addr.Address != c.Email {
		return domain.Customer{}, domain.ErrInvalidEmail
	}
	return c, nil
}

func parseProductID(id string) (int64, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	return parsed.Int64(), nil
}

func newOrderID(now time.Time) string {
	return orderIDPrefix + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

type eventData struct {
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Currency      string          `json:"currency"`
	Status        domain.Status   `json:"status"`
	PaymentID     *string         `json:"paymentId,omitempty"`
	CustomerEmail string          `json:"customerEmail"`
}

func newEvent(eventType string, order *domain.Order, at time.Time) events.Event {
	data, _ := json.Marshal(eventData{
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		Status:        order.Status,
		PaymentID:     order.PaymentID,
		CustomerEmail: order.Customer.Email,
	})
	return events.Event{
		ID:         ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		Type:       eventType,
		OrderID:    order.OrderID,
		OccurredAt: at,
		Data:       data,
	}
}
