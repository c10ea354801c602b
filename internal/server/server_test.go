package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// The fakes embed the service interfaces; calling a method a test did not
// stub panics on the nil embedded value.

type fakeProductService struct {
	catalogdomain.Service
	get  func(ctx context.Context, id string) (*catalogdomain.Product, error)
	list func(ctx context.Context, req catalogdomain.ListRequest) ([]catalogdomain.Product, error)
}

func (f *fakeProductService) Get(ctx context.Context, id string) (*catalogdomain.Product, error) {
	return f.get(ctx, id)
}

func (f *fakeProductService) List(ctx context.Context, req catalogdomain.ListRequest) ([]catalogdomain.Product, error) {
	return f.list(ctx, req)
}

type fakeOrderService struct {
	orderdomain.Service
	create  func(ctx context.Context, req orderdomain.CreateRequest) (*orderdomain.Order, error)
	get     func(ctx context.Context, orderID string) (*orderdomain.Order, error)
	receipt func(ctx context.Context, orderID string) (io.Reader, error)
}

func (f *fakeOrderService) Create(ctx context.Context, req orderdomain.CreateRequest) (*orderdomain.Order, error) {
	return f.create(ctx, req)
}

func (f *fakeOrderService) Get(ctx context.Context, orderID string) (*orderdomain.Order, error) {
	return f.get(ctx, orderID)
}

func (f *fakeOrderService) Receipt(ctx context.Context, orderID string) (io.Reader, error) {
	return f.receipt(ctx, orderID)
}

type fakePaymentService struct {
	paymentdomain.Service
	initiate func(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error)
	verify   func(ctx context.Context, req paymentdomain.VerifyRequest) (*paymentdomain.VerifyResult, error)
}

func (f *fakePaymentService) Initiate(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
	return f.initiate(ctx, req)
}

func (f *fakePaymentService) Verify(ctx context.Context, req paymentdomain.VerifyRequest) (*paymentdomain.VerifyResult, error) {
	return f.verify(ctx, req)
}

type fakeWebhookService struct {
	paymentdomain.WebhookService
	got paymentdomain.WebhookRequest
	err error
}

func (f *fakeWebhookService) HandleWebhook(ctx context.Context, req paymentdomain.WebhookRequest) error {
	f.got = req
	return f.err
}

type testServer struct {
	engine   *gin.Engine
	products *fakeProductService
	orders   *fakeOrderService
	payments *fakePaymentService
	webhooks *fakeWebhookService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		engine:   r,
		products: &fakeProductService{},
		orders:   &fakeOrderService{},
		payments: &fakePaymentService{},
		webhooks: &fakeWebhookService{},
	}
	NewServer(ServerParams{
		Gin:        r,
		Log:        zap.NewNop(),
		ProductSvc: ts.products,
		OrderSvc:   ts.orders,
		PaymentSvc: ts.payments,
		WebhookSvc: ts.webhooks,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		encoded, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestCreateOrderReturnsEnvelope(t *testing.T) {
	ts := newTestServer(t)
	ts.orders.create = func(ctx context.Context, req orderdomain.CreateRequest) (*orderdomain.Order, error) {
		require.Len(t, req.Items, 2)
		assert.Equal(t, "jane@example.com", req.Customer.Email)
		return &orderdomain.Order{OrderID: "ORD-1", TotalAmount: decimal.RequireFromString("45"), Status: orderdomain.StatusPending}, nil
	}

	rec, body := ts.do(t, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{
			{"productId": "1", "quantity": 2, "price": 1},
			{"productId": "2", "quantity": 1},
		},
		"customer": map[string]any{"name": "Jane", "email": "jane@example.com", "phone": "1", "address": "x"},
	}, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "ORD-1", data["orderId"])
}

func TestErrorsMapToStatusAndMessage(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", orderdomain.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{"conflict keeps detail", fmt.Errorf("%w: Linen Shirt", orderdomain.ErrInsufficientStock), http.StatusConflict, "insufficient_stock: Linen Shirt"},
		{"not cancellable", orderdomain.ErrNotCancellable, http.StatusConflict, "order_not_cancellable"},
		{"gateway", &paymentdomain.GatewayError{Op: "create_order", StatusCode: 500, Message: "upstream"}, http.StatusBadGateway, "gateway create_order failed: upstream"},
		{"internal hidden", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.orders.get = func(ctx context.Context, orderID string) (*orderdomain.Order, error) {
				return nil, tc.err
			}

			rec, body := ts.do(t, http.MethodGet, "/api/orders/ORD-1", nil, nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.message, body["error"])
		})
	}
}

func TestPaymentActionValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		body    map[string]any
		message string
	}{
		{map[string]any{"action": "capture"}, "Invalid action. Use: create, verify, or refund"},
		{map[string]any{"action": "create", "orderId": "ORD-1"}, "Missing required fields: orderId, amount, customer"},
		{map[string]any{"action": "create", "orderId": "ORD-1", "amount": 45, "customer": map[string]any{"email": "a@b.co"}}, "Missing required fields: orderId, amount, customer"},
		{map[string]any{"action": "verify", "razorpay_order_id": "order_1"}, "Missing required fields: razorpay_order_id, razorpay_payment_id, razorpay_signature"},
		{map[string]any{"action": "refund"}, "Missing required field: paymentId"},
	}
	for _, tc := range cases {
		rec, body := ts.do(t, http.MethodPost, "/api/payment", tc.body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.message)
		assert.Equal(t, tc.message, body["error"])
	}

	rec, _ := ts.do(t, http.MethodPost, "/api/payment", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentCreateAndVerify(t *testing.T) {
	ts := newTestServer(t)
	ts.payments.initiate = func(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
		assert.Equal(t, "ORD-1", req.OrderID)
		assert.True(t, decimal.RequireFromString("45").Equal(req.Amount))
		return &paymentdomain.InitiateResult{OrderID: "order_1", Amount: 4500, Currency: "INR", Key: "rzp_test"}, nil
	}
	ts.payments.verify = func(ctx context.Context, req paymentdomain.VerifyRequest) (*paymentdomain.VerifyResult, error) {
		assert.Equal(t, "sig", req.Signature)
		return &paymentdomain.VerifyResult{IsValid: false, Status: paymentdomain.StatusFailed, OrderID: "ORD-1"}, nil
	}

	rec, body := ts.do(t, http.MethodPost, "/api/payment", map[string]any{
		"action":   "create",
		"orderId":  "ORD-1",
		"amount":   45,
		"customer": map[string]any{"name": "Jane", "email": "jane@example.com"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(4500), data["amount"])
	assert.Equal(t, "rzp_test", data["razorpayKey"])

	rec, body = ts.do(t, http.MethodPost, "/api/payment", map[string]any{
		"action":              "verify",
		"razorpay_order_id":   "order_1",
		"razorpay_payment_id": "pay_1",
		"razorpay_signature":  "sig",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["data"].(map[string]any)["isValid"])
}

func TestGetPaymentRequiresLookupKey(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodGet, "/api/payment", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Either orderId or transactionId is required", body["error"])
}

func TestPaymentWebhook(t *testing.T) {
	ts := newTestServer(t)
	headers := map[string]string{
		headerWebhookSignature: "abc123",
		headerWebhookEventID:   "evt_1",
	}

	rec, body := ts.do(t, http.MethodPost, "/api/payment/webhook", `{"event":"payment.captured"}`, headers)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "abc123", ts.webhooks.got.Signature)
	assert.Equal(t, "evt_1", ts.webhooks.got.EventID)
	assert.JSONEq(t, `{"event":"payment.captured"}`, string(ts.webhooks.got.Payload))

	ts.webhooks.err = paymentdomain.ErrEventAlreadyProcessed
	rec, _ = ts.do(t, http.MethodPost, "/api/payment/webhook", `{"event":"payment.captured"}`, headers)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.webhooks.err = paymentdomain.ErrInvalidSignature
	rec, body = ts.do(t, http.MethodPost, "/api/payment/webhook", `{"event":"payment.captured"}`, headers)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_signature", body["error"])
}

func TestProductsLookupAndList(t *testing.T) {
	ts := newTestServer(t)
	ts.products.get = func(ctx context.Context, id string) (*catalogdomain.Product, error) {
		if id == "42" {
			return &catalogdomain.Product{ID: 42, Name: "Linen Shirt"}, nil
		}
		return nil, catalogdomain.ErrNotFound
	}
	ts.products.list = func(ctx context.Context, req catalogdomain.ListRequest) ([]catalogdomain.Product, error) {
		assert.Equal(t, "apparel", req.Category)
		assert.False(t, req.IncludeInactive)
		return []catalogdomain.Product{{ID: 1}, {ID: 2}}, nil
	}

	rec, body := ts.do(t, http.MethodGet, "/api/products?id=42", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Linen Shirt", body["data"].(map[string]any)["name"])

	rec, _ = ts.do(t, http.MethodGet, "/api/products?id=7", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = ts.do(t, http.MethodGet, "/api/products?category=apparel", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])
}

func TestOrderReceiptIsPDF(t *testing.T) {
	ts := newTestServer(t)
	ts.orders.receipt = func(ctx context.Context, orderID string) (io.Reader, error) {
		if orderID != "ORD-1" {
			return nil, orderdomain.ErrReceiptUnavailable
		}
		return strings.NewReader("%PDF-1.4 fake"), nil
	}

	rec, _ := ts.do(t, http.MethodGet, "/api/orders/ORD-1/receipt", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "receipt-ORD-1.pdf")

	rec, _ = ts.do(t, http.MethodGet, "/api/orders/ORD-2/receipt", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	rec, body := ts.do(t, http.MethodGet, "/api/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", body["error"])
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(fmt.Errorf("%w: A", orderdomain.ErrInsufficientStock))
	assert.Equal(t, "conflict", typ)
	assert.Equal(t, "insufficient_stock", code)

	typ, code = classifyErrorForLog(&paymentdomain.GatewayError{Op: "refund", Code: "BAD_REQUEST_ERROR"})
	assert.Equal(t, "gateway_error", typ)
	assert.Equal(t, "BAD_REQUEST_ERROR", code)

	_, code = classifyErrorForLog(errors.New("secret dsn leaked"))
	assert.Equal(t, "internal_error", code)
}
