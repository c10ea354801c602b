package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/storefront/internal/catalog/repository"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	orderrepo "github.com/smallbiznis/storefront/internal/order/repository"
	orderservice "github.com/smallbiznis/storefront/internal/order/service"
	"github.com/smallbiznis/storefront/internal/payment/adapters/sandbox"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/storefront/internal/payment/repository"
	"github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/payment/signature"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test"

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendOrderConfirmation(ctx context.Context, order *orderdomain.Order) orderdomain.NotificationResult {
	args := m.Called(ctx, order)
	return args.Get(0).(orderdomain.NotificationResult)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Provider() string  { return "mock" }
func (m *mockGateway) PublicKey() string { return "rzp_test_mock" }

func (m *mockGateway) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.RemoteOrder, error) {
	args := m.Called(ctx, req)
	order, _ := args.Get(0).(*domain.RemoteOrder)
	return order, args.Error(1)
}

func (m *mockGateway) FetchOrder(ctx context.Context, id string) (*domain.RemoteOrder, error) {
	args := m.Called(ctx, id)
	order, _ := args.Get(0).(*domain.RemoteOrder)
	return order, args.Error(1)
}

func (m *mockGateway) FetchPayment(ctx context.Context, id string) (*domain.RemotePayment, error) {
	args := m.Called(ctx, id)
	payment, _ := args.Get(0).(*domain.RemotePayment)
	return payment, args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, req domain.RefundRequest) (*domain.RemoteRefund, error) {
	args := m.Called(ctx, req)
	refund, _ := args.Get(0).(*domain.RemoteRefund)
	return refund, args.Error(1)
}

func (m *mockGateway) VerifyPaymentSignature(orderID, paymentID, sig string) bool {
	return m.Called(orderID, paymentID, sig).Bool(0)
}

func (m *mockGateway) VerifyWebhookSignature(payload []byte, sig string) bool {
	return m.Called(payload, sig).Bool(0)
}

func (m *mockGateway) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	args := m.Called(payload)
	event, _ := args.Get(0).(*domain.WebhookEvent)
	return event, args.Error(1)
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	catalog  catalogdomain.Repository
	repo     domain.Repository
	notifier *mockNotifier
	orders   *orderservice.Service
	gateway  domain.Gateway
	sandbox  *sandbox.Adapter
	svc      *service.Service
	webhooks domain.WebhookService
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:payments_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&catalogdomain.Product{}, &orderdomain.Order{}, &domain.Payment{}, &domain.EventRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// newFixture wires the real order service against gw. A nil gw uses the sandbox adapter.
func newFixture(t *testing.T, gw domain.Gateway) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(11)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	f := &fixture{
		db:       setupTestDB(t),
		node:     node,
		clock:    clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
		catalog:  catalogrepo.Provide(),
		repo:     paymentrepo.Provide(),
		notifier: new(mockNotifier),
	}
	f.notifier.On("SendOrderConfirmation", mock.Anything, mock.Anything).
		Return(orderdomain.NotificationResult{Success: true})

	checkout := config.NewStaticCheckoutConfig(config.DefaultCheckoutConfig())
	f.orders = orderservice.NewService(orderservice.Params{
		DB:          f.db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       f.clock,
		Repo:        orderrepo.Provide(),
		CatalogRepo: f.catalog,
		Notifier:    f.notifier,
		Checkout:    checkout,
	})

	if gw == nil {
		created, err := sandbox.NewFactory().NewAdapter(domain.AdapterConfig{
			KeyID:         "rzp_test_key",
			KeySecret:     "key_secret",
			WebhookSecret: webhookSecret,
		})
		require.NoError(t, err)
		f.sandbox = created.(*sandbox.Adapter)
		gw = created
	}
	f.gateway = gw

	f.svc = service.NewService(service.Params{
		DB:       f.db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    f.clock,
		Repo:     f.repo,
		Gateway:  gw,
		Orders:   f.orders,
		Checkout: checkout,
	})
	f.webhooks = webhook.NewService(webhook.Params{
		DB:         f.db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      f.clock,
		Repo:       f.repo,
		Gateway:    gw,
		PaymentSvc: f.svc,
	})
	return f
}

func (f *fixture) seedProduct(t *testing.T, name, price string, stock int) string {
	t.Helper()
	now := f.clock.Now()
	p := &catalogdomain.Product{
		ID:        f.node.Generate().Int64(),
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Category:  "test",
		Stock:     stock,
		SKU:       fmt.Sprintf("SKU-%s-%d", name, now.UnixNano()),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.catalog.Create(context.Background(), f.db, p))
	return snowflake.ID(p.ID).String()
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	id, err := snowflake.ParseString(productID)
	require.NoError(t, err)
	p, err := f.catalog.FindByID(context.Background(), f.db, id.Int64())
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Stock
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orders.Drain(ctx))
}

// placeOrder creates the 2×A@10 + 1×B@25 order used across these tests.
func (f *fixture) placeOrder(t *testing.T) (order *orderdomain.Order, a, b string) {
	t.Helper()
	a = f.seedProduct(t, "A", "10.00", 5)
	b = f.seedProduct(t, "B", "25.00", 3)
	order, err := f.orders.Create(context.Background(), orderdomain.CreateRequest{
		Items: []orderdomain.ItemRequest{
			{ProductID: a, Quantity: 2},
			{ProductID: b, Quantity: 1},
		},
		Customer: orderdomain.Customer{
			Name:    "Jane Doe",
			Email:   "jane@example.com",
			Phone:   "+91 98765 43210",
			Address: "12 MG Road, Bengaluru",
		},
	})
	require.NoError(t, err)
	return order, a, b
}

func (f *fixture) initiate(t *testing.T, order *orderdomain.Order) *domain.InitiateResult {
	t.Helper()
	result, err := f.svc.Initiate(context.Background(), domain.InitiateRequest{
		OrderID:  order.OrderID,
		Amount:   order.TotalAmount,
		Customer: domain.CustomerInfo{Name: "Jane Doe", Email: "jane@example.com"},
	})
	require.NoError(t, err)
	return result
}

func capturedPayload(remoteOrderID, remotePaymentID string) []byte {
	return []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"status":"captured"}}}}`, remotePaymentID, remoteOrderID))
}

func signedWebhook(payload []byte, eventID string) domain.WebhookRequest {
	return domain.WebhookRequest{
		Payload:   payload,
		Signature: signature.Sign(webhookSecret, payload),
		EventID:   eventID,
	}
}

func TestCheckoutLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, a, b := f.placeOrder(t)
	assert.True(t, decimal.RequireFromString("45").Equal(order.TotalAmount))

	initiated := f.initiate(t, order)
	assert.Equal(t, int64(4500), initiated.Amount)
	assert.Equal(t, "INR", initiated.Currency)
	assert.Equal(t, "rzp_test_key", initiated.Key)
	assert.Equal(t, domain.StatusInitiated, initiated.Payment.Status)
	assert.Equal(t, 5, f.stock(t, a))

	remotePaymentID, sig, err := f.sandbox.Capture(initiated.OrderID, "upi")
	require.NoError(t, err)

	verified, err := f.svc.Verify(ctx, domain.VerifyRequest{
		RemoteOrderID:   initiated.OrderID,
		RemotePaymentID: remotePaymentID,
		Signature:       sig,
	})
	require.NoError(t, err)
	assert.True(t, verified.IsValid)
	assert.Equal(t, domain.StatusSuccess, verified.Status)
	assert.Equal(t, order.OrderID, verified.OrderID)
	assert.Equal(t, "upi", verified.Payment.GatewayResponse["method"])

	paid, err := f.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, paid.Status)
	assert.Equal(t, 3, f.stock(t, a))
	assert.Equal(t, 2, f.stock(t, b))

	stored, err := f.svc.GetByOrderID(ctx, order.OrderID)
	require.NoError(t, err)
	require.NotNil(t, stored.GatewayPaymentID)
	assert.Equal(t, remotePaymentID, *stored.GatewayPaymentID)

	refunded, err := f.svc.Refund(ctx, domain.RefundPaymentRequest{PaymentID: remotePaymentID})
	require.NoError(t, err)
	assert.NotEmpty(t, refunded.RefundID)
	assert.Equal(t, domain.StatusRefunded, refunded.Payment.Status)
	assert.Contains(t, refunded.Payment.GatewayResponse, "refunded_at")

	final, err := f.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusRefunded, final.Status)
	assert.Equal(t, orderdomain.PaymentStatusRefunded, final.PaymentStatus)

	f.drain(t)
	f.notifier.AssertNumberOfCalls(t, "SendOrderConfirmation", 1)
}

func TestInitiateRejectsUntrustedAmountsAndStates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, _, _ := f.placeOrder(t)

	_, err := f.svc.Initiate(ctx, domain.InitiateRequest{OrderID: order.OrderID, Amount: decimal.RequireFromString("40")})
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)

	_, err = f.svc.Initiate(ctx, domain.InitiateRequest{OrderID: order.OrderID, Amount: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.Initiate(ctx, domain.InitiateRequest{OrderID: order.OrderID, Amount: order.TotalAmount, Currency: "USD"})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)

	_, err = f.svc.Initiate(ctx, domain.InitiateRequest{OrderID: "ORD-MISSING", Amount: order.TotalAmount})
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)

	_, err = f.orders.Cancel(ctx, order.OrderID)
	require.NoError(t, err)
	_, err = f.svc.Initiate(ctx, domain.InitiateRequest{OrderID: order.OrderID, Amount: order.TotalAmount})
	assert.ErrorIs(t, err, domain.ErrOrderNotPayable)
}

func TestVerifyWithWrongSignature(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, a, _ := f.placeOrder(t)
	initiated := f.initiate(t, order)

	remotePaymentID, _, err := f.sandbox.Capture(initiated.OrderID, "card")
	require.NoError(t, err)

	result, err := f.svc.Verify(ctx, domain.VerifyRequest{
		RemoteOrderID:   initiated.OrderID,
		RemotePaymentID: remotePaymentID,
		Signature:       signature.Sign("not-the-secret", signature.PaymentMessage(initiated.OrderID, remotePaymentID)),
	})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Equal(t, false, result.Payment.GatewayResponse["verified"])

	current, err := f.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, current.Status)
	assert.Equal(t, 5, f.stock(t, a))

	_, err = f.svc.Verify(ctx, domain.VerifyRequest{RemoteOrderID: "order_missing", RemotePaymentID: "pay_x", Signature: "ab"})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	_, err = f.svc.Verify(ctx, domain.VerifyRequest{RemoteOrderID: initiated.OrderID})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	f.drain(t)
	f.notifier.AssertNotCalled(t, "SendOrderConfirmation", mock.Anything, mock.Anything)
}

func TestRefundOfUnsuccessfulPaymentSkipsGateway(t *testing.T) {
	gw := new(mockGateway)
	f := newFixture(t, gw)
	ctx := context.Background()

	now := f.clock.Now()
	gatewayPaymentID := "pay_failed"
	require.NoError(t, f.repo.Create(ctx, f.db, &domain.Payment{
		ID:               f.node.Generate().Int64(),
		PaymentID:        "PAY-1",
		OrderID:          "ORD-1",
		Amount:           decimal.RequireFromString("45"),
		Currency:         "INR",
		Status:           domain.StatusFailed,
		Provider:         "mock",
		TransactionID:    "order_1",
		GatewayPaymentID: &gatewayPaymentID,
		CustomerEmail:    "jane@example.com",
		CreatedAt:        now,
		UpdatedAt:        now,
	}))

	_, err := f.svc.Refund(ctx, domain.RefundPaymentRequest{PaymentID: gatewayPaymentID})
	assert.ErrorIs(t, err, domain.ErrPaymentNotRefundable)

	_, err = f.svc.Refund(ctx, domain.RefundPaymentRequest{PaymentID: "pay_unknown"})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	gw.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestRefundValidatesAmountAndPassesNotes(t *testing.T) {
	gw := new(mockGateway)
	f := newFixture(t, gw)
	ctx := context.Background()

	now := f.clock.Now()
	gatewayPaymentID := "pay_ok"
	require.NoError(t, f.repo.Create(ctx, f.db, &domain.Payment{
		ID:               f.node.Generate().Int64(),
		PaymentID:        "PAY-2",
		OrderID:          "ORD-GONE",
		Amount:           decimal.RequireFromString("45"),
		Currency:         "INR",
		Status:           domain.StatusSuccess,
		Provider:         "mock",
		TransactionID:    "order_2",
		GatewayPaymentID: &gatewayPaymentID,
		CustomerEmail:    "jane@example.com",
		CreatedAt:        now,
		UpdatedAt:        now,
	}))

	tooMuch := decimal.RequireFromString("45.01")
	_, err := f.svc.Refund(ctx, domain.RefundPaymentRequest{PaymentID: gatewayPaymentID, Amount: &tooMuch})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	gw.On("Refund", mock.Anything, domain.RefundRequest{
		PaymentID:   gatewayPaymentID,
		AmountMinor: 1050,
		Notes:       map[string]string{"reason": config.DefaultRefundReason, "orderId": "ORD-GONE"},
	}).Return(&domain.RemoteRefund{ID: "rfnd_1", PaymentID: gatewayPaymentID, Amount: 1050, Raw: map[string]any{"id": "rfnd_1"}}, nil).Once()

	partial := decimal.RequireFromString("10.50")
	result, err := f.svc.Refund(ctx, domain.RefundPaymentRequest{PaymentID: gatewayPaymentID, Amount: &partial})
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", result.RefundID)
	assert.Equal(t, domain.StatusRefunded, result.Payment.Status)
	gw.AssertExpectations(t)
}

func TestGatewayFailureOnInitiate(t *testing.T) {
	gw := new(mockGateway)
	f := newFixture(t, gw)
	order, _, _ := f.placeOrder(t)

	gw.On("CreateOrder", mock.Anything, mock.Anything).
		Return(nil, &domain.GatewayError{Op: "create_order", StatusCode: 500, Message: "upstream down"}).Once()

	_, err := f.svc.Initiate(context.Background(), domain.InitiateRequest{OrderID: order.OrderID, Amount: order.TotalAmount})
	var gerr *domain.GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, 500, gerr.StatusCode)

	_, err = f.svc.GetByOrderID(context.Background(), order.OrderID)
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestDuplicateCaptureWebhookCommitsOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, a, b := f.placeOrder(t)
	initiated := f.initiate(t, order)

	payload := capturedPayload(initiated.OrderID, "pay_webhook")
	require.NoError(t, f.webhooks.HandleWebhook(ctx, signedWebhook(payload, "evt_1")))
	require.NoError(t, f.webhooks.HandleWebhook(ctx, signedWebhook(payload, "evt_2")))
	require.NoError(t, f.webhooks.HandleWebhook(ctx, signedWebhook(payload, "")))

	err := f.webhooks.HandleWebhook(ctx, signedWebhook(payload, "evt_1"))
	assert.ErrorIs(t, err, domain.ErrEventAlreadyProcessed)

	f.drain(t)
	assert.Equal(t, 3, f.stock(t, a))
	assert.Equal(t, 2, f.stock(t, b))
	f.notifier.AssertNumberOfCalls(t, "SendOrderConfirmation", 1)

	payment, err := f.svc.GetByTransactionID(ctx, initiated.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, payment.Status)
	require.NotNil(t, payment.GatewayPaymentID)
	assert.Equal(t, "pay_webhook", *payment.GatewayPaymentID)
	assert.Contains(t, payment.GatewayResponse, "webhook_data")

	event, err := f.repo.FindEvent(ctx, f.db, sandbox.ProviderName, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.NotNil(t, event.ProcessedAt)
}

func TestWebhookRejectsBadSignatureAndPayload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	payload := capturedPayload("order_x", "pay_x")
	err := f.webhooks.HandleWebhook(ctx, domain.WebhookRequest{Payload: payload, Signature: "00"})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	err = f.webhooks.HandleWebhook(ctx, signedWebhook([]byte(`{"event":`), ""))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	// unknown local payment and unknown event type are both acknowledged
	assert.NoError(t, f.webhooks.HandleWebhook(ctx, signedWebhook(payload, "")))
	assert.NoError(t, f.webhooks.HandleWebhook(ctx, signedWebhook([]byte(`{"event":"order.paid","payload":{}}`), "evt_x")))
}

func TestFailedAndRefundWebhooks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, a, _ := f.placeOrder(t)
	initiated := f.initiate(t, order)

	failed := []byte(fmt.Sprintf(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_1","order_id":%q,"status":"failed","error_code":"BAD_REQUEST_ERROR"}}}}`, initiated.OrderID))
	require.NoError(t, f.webhooks.HandleWebhook(ctx, signedWebhook(failed, "evt_failed")))

	payment, err := f.svc.GetByTransactionID(ctx, initiated.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, payment.Status)
	current, err := f.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPending, current.Status)
	assert.Equal(t, orderdomain.PaymentStatusFailed, current.PaymentStatus)

	// a retry on the same checkout succeeds
	require.NoError(t, f.webhooks.HandleWebhook(ctx, signedWebhook(capturedPayload(initiated.OrderID, "pay_2"), "evt_captured")))
	assert.Equal(t, 3, f.stock(t, a))

	refund := []byte(`{"event":"refund.created","payload":{"refund":{"entity":{"id":"rfnd_9","payment_id":"pay_2","amount":4500}}}}`)
	require.NoError(t, f.webhooks.HandleWebhook(ctx, signedWebhook(refund, "evt_refund")))

	payment, err = f.svc.GetByTransactionID(ctx, initiated.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, payment.Status)
	assert.Contains(t, payment.GatewayResponse, "refund_webhook")

	current, err = f.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusRefunded, current.Status)

	f.drain(t)
}

func TestReplayPendingAppliesStoredDeliveries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, a, _ := f.placeOrder(t)
	initiated := f.initiate(t, order)

	// a delivery recorded before the process died, never applied
	receivedAt := f.clock.Now()
	inserted, err := f.repo.InsertEvent(ctx, f.db, &domain.EventRecord{
		ID:              f.node.Generate().Int64(),
		Provider:        sandbox.ProviderName,
		ProviderEventID: "evt_stuck",
		EventType:       domain.EventPaymentCaptured,
		Payload:         datatypes.JSON(capturedPayload(initiated.OrderID, "pay_replayed")),
		ReceivedAt:      receivedAt,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	f.clock.Advance(20 * time.Minute)
	now := f.clock.Now()

	summary, err := f.webhooks.ReplayPending(ctx, now.Add(-time.Hour), now.Add(-15*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, domain.ReplaySummary{Replayed: 1}, summary)

	f.drain(t)
	assert.Equal(t, 3, f.stock(t, a))
	stored, err := f.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, stored.Status)

	event, err := f.repo.FindEvent(ctx, f.db, sandbox.ProviderName, "evt_stuck")
	require.NoError(t, err)
	require.NotNil(t, event)
	require.NotNil(t, event.ProcessedAt)

	summary, err = f.webhooks.ReplayPending(ctx, now.Add(-time.Hour), now, 10)
	require.NoError(t, err)
	assert.Zero(t, summary.Replayed)

	// a processed delivery is not replayed, and redelivery is acknowledged as a duplicate
	err = f.webhooks.HandleWebhook(ctx, signedWebhook(capturedPayload(initiated.OrderID, "pay_replayed"), "evt_stuck"))
	assert.ErrorIs(t, err, domain.ErrEventAlreadyProcessed)
}

func TestReplayPendingSkipsRecentDeliveries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.repo.InsertEvent(ctx, f.db, &domain.EventRecord{
		ID:              f.node.Generate().Int64(),
		Provider:        sandbox.ProviderName,
		ProviderEventID: "evt_fresh",
		EventType:       domain.EventPaymentCaptured,
		Payload:         datatypes.JSON(capturedPayload("order_unknown", "pay_x")),
		ReceivedAt:      f.clock.Now(),
	})
	require.NoError(t, err)

	now := f.clock.Now()
	summary, err := f.webhooks.ReplayPending(ctx, now.Add(-time.Hour), now.Add(-15*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, domain.ReplaySummary{}, summary)
}

func TestRefundedPaymentStaysRefunded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, _, _ := f.placeOrder(t)
	initiated := f.initiate(t, order)

	remotePaymentID, sig, err := f.sandbox.Capture(initiated.OrderID, "upi")
	require.NoError(t, err)
	verify := domain.VerifyRequest{
		RemoteOrderID:   initiated.OrderID,
		RemotePaymentID: remotePaymentID,
		Signature:       sig,
	}
	_, err = f.svc.Verify(ctx, verify)
	require.NoError(t, err)
	_, err = f.svc.Refund(ctx, domain.RefundPaymentRequest{PaymentID: remotePaymentID})
	require.NoError(t, err)

	again, err := f.svc.Verify(ctx, verify)
	require.NoError(t, err)
	assert.True(t, again.IsValid)
	assert.Equal(t, domain.StatusRefunded, again.Status)

	require.NoError(t, f.webhooks.HandleWebhook(ctx, signedWebhook(capturedPayload(initiated.OrderID, remotePaymentID), "")))

	badSig := signature.Sign("not-the-secret", signature.PaymentMessage(initiated.OrderID, remotePaymentID))
	rejected, err := f.svc.Verify(ctx, domain.VerifyRequest{
		RemoteOrderID:   initiated.OrderID,
		RemotePaymentID: remotePaymentID,
		Signature:       badSig,
	})
	require.NoError(t, err)
	assert.False(t, rejected.IsValid)
	assert.Equal(t, domain.StatusRefunded, rejected.Status)

	payment, err := f.svc.GetByTransactionID(ctx, initiated.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, payment.Status)
	assert.Contains(t, payment.GatewayResponse, "webhook_data")
	assert.Contains(t, payment.GatewayResponse, "refunded_at")

	_, err = f.svc.Refund(ctx, domain.RefundPaymentRequest{PaymentID: remotePaymentID})
	assert.ErrorIs(t, err, domain.ErrPaymentNotRefundable)

	current, err := f.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusRefunded, current.Status)

	f.drain(t)
}

func (f *fixture) seedSuccessfulPayment(t *testing.T, gatewayPaymentID string) *domain.Payment {
	t.Helper()
	now := f.clock.Now()
	payment := &domain.Payment{
		ID:               f.node.Generate().Int64(),
		PaymentID:        "PAY-" + gatewayPaymentID,
		OrderID:          "ORD-GONE",
		Amount:           decimal.RequireFromString("45"),
		Currency:         "INR",
		Status:           domain.StatusSuccess,
		Provider:         "mock",
		TransactionID:    "order_" + gatewayPaymentID,
		GatewayPaymentID: &gatewayPaymentID,
		CustomerEmail:    "jane@example.com",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, f.repo.Create(context.Background(), f.db, payment))
	return payment
}

func TestSecondRefundSkipsGateway(t *testing.T) {
	gw := new(mockGateway)
	f := newFixture(t, gw)
	ctx := context.Background()
	f.seedSuccessfulPayment(t, "pay_once")

	gw.On("Refund", mock.Anything, mock.Anything).
		Return(&domain.RemoteRefund{ID: "rfnd_1", PaymentID: "pay_once", Amount: 4500}, nil)

	_, err := f.svc.Refund(ctx, domain.RefundPaymentRequest{PaymentID: "pay_once"})
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, domain.RefundPaymentRequest{PaymentID: "pay_once"})
	assert.ErrorIs(t, err, domain.ErrPaymentNotRefundable)
	gw.AssertNumberOfCalls(t, "Refund", 1)
}

func TestRefundLosesToConcurrentStatusChange(t *testing.T) {
	gw := new(mockGateway)
	f := newFixture(t, gw)
	ctx := context.Background()
	payment := f.seedSuccessfulPayment(t, "pay_raced")

	// a refund webhook lands while the gateway call is in flight
	gw.On("Refund", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			require.NoError(t, f.db.Exec(`UPDATE payments SET status = ? WHERE id = ?`, domain.StatusRefunded, payment.ID).Error)
		}).
		Return(&domain.RemoteRefund{ID: "rfnd_2", PaymentID: "pay_raced", Amount: 4500}, nil).Once()

	_, err := f.svc.Refund(ctx, domain.RefundPaymentRequest{PaymentID: "pay_raced"})
	assert.ErrorIs(t, err, domain.ErrPaymentNotRefundable)

	stored, err := f.svc.GetByTransactionID(ctx, payment.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, stored.Status)
	assert.NotContains(t, stored.GatewayResponse, "refunded_at")
	gw.AssertExpectations(t)
}

func TestStaleFailureAfterCaptureKeepsPaymentRefundable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, _, _ := f.placeOrder(t)
	initiated := f.initiate(t, order)

	require.NoError(t, f.webhooks.HandleWebhook(ctx, signedWebhook(capturedPayload(initiated.OrderID, "pay_good"), "evt_captured")))

	failed := []byte(fmt.Sprintf(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_bad","order_id":%q,"status":"failed"}}}}`, initiated.OrderID))
	require.NoError(t, f.webhooks.HandleWebhook(ctx, signedWebhook(failed, "evt_failed")))

	payment, err := f.svc.GetByTransactionID(ctx, initiated.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, payment.Status)
	require.NotNil(t, payment.GatewayPaymentID)
	assert.Equal(t, "pay_good", *payment.GatewayPaymentID)

	current, err := f.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPaid, current.Status)
	assert.Equal(t, orderdomain.PaymentStatusCompleted, current.PaymentStatus)

	_, err = f.svc.Refund(ctx, domain.RefundPaymentRequest{PaymentID: "pay_good"})
	require.NoError(t, err)

	f.drain(t)
}
