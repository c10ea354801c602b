package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/observability/tracing"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/signature"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ProviderName   = "razorpay"
	DefaultBaseURL = "https://api.razorpay.com/v1"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, domain.ErrInvalidConfig
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Adapter{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       baseURL,
		client:        client,
		tracer:        otel.Tracer("storefront/payment/razorpay"),
	}, nil
}

type Adapter struct {
	keyID         string
	keySecret     string
	webhookSecret string
	baseURL       string
	client        *http.Client
	tracer        trace.Tracer
}

func (a *Adapter) Provider() string  { return ProviderName }
func (a *Adapter) PublicKey() string { return a.keyID }

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type paymentResponse struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
	Email    string `json:"email"`
	Contact  string `json:"contact"`
}

type refundResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (a *Adapter) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.RemoteOrder, error) {
	if req.AmountMinor <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	body := map[string]any{
		"amount":   req.AmountMinor,
		"currency": strings.ToUpper(req.Currency),
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out orderResponse
	raw, err := a.do(ctx, "create_order", http.MethodPost, "/orders", body, &out)
	if err != nil {
		return nil, err
	}
	return &domain.RemoteOrder{ID: out.ID, Amount: out.Amount, Currency: out.Currency, Status: out.Status, Raw: raw}, nil
}

func (a *Adapter) FetchOrder(ctx context.Context, remoteOrderID string) (*domain.RemoteOrder, error) {
	var out orderResponse
	raw, err := a.do(ctx, "fetch_order", http.MethodGet, "/orders/"+url.PathEscape(remoteOrderID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &domain.RemoteOrder{ID: out.ID, Amount: out.Amount, Currency: out.Currency, Status: out.Status, Raw: raw}, nil
}

func (a *Adapter) FetchPayment(ctx context.Context, remotePaymentID string) (*domain.RemotePayment, error) {
	var out paymentResponse
	raw, err := a.do(ctx, "fetch_payment", http.MethodGet, "/payments/"+url.PathEscape(remotePaymentID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &domain.RemotePayment{
		ID:       out.ID,
		OrderID:  out.OrderID,
		Amount:   out.Amount,
		Currency: out.Currency,
		Status:   out.Status,
		Method:   out.Method,
		Email:    out.Email,
		Contact:  out.Contact,
		Raw:      raw,
	}, nil
}

func (a *Adapter) Refund(ctx context.Context, req domain.RefundRequest) (*domain.RemoteRefund, error) {
	body := map[string]any{}
	if req.AmountMinor > 0 {
		body["amount"] = req.AmountMinor
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out refundResponse
	raw, err := a.do(ctx, "refund", http.MethodPost, "/payments/"+url.PathEscape(req.PaymentID)+"/refund", body, &out)
	if err != nil {
		return nil, err
	}
	return &domain.RemoteRefund{ID: out.ID, PaymentID: out.PaymentID, Amount: out.Amount, Status: out.Status, Raw: raw}, nil
}

func (a *Adapter) VerifyPaymentSignature(remoteOrderID, remotePaymentID, sig string) bool {
	return signature.Verify(a.keySecret, signature.PaymentMessage(remoteOrderID, remotePaymentID), sig)
}

func (a *Adapter) VerifyWebhookSignature(payload []byte, sig string) bool {
	return signature.Verify(a.webhookSecret, payload, sig)
}

func (a *Adapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	return ParseWebhook(payload)
}

// do sends one API call and decodes the JSON body into both out and a raw map.
func (a *Adapter) do(ctx context.Context, op, method, path string, body any, out any) (map[string]any, error) {
	ctx, span := a.tracer.Start(ctx, "razorpay."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("payment.provider", ProviderName),
		attribute.String("http.request.method", method),
	)...)

	fail := func(gerr *domain.GatewayError) (map[string]any, error) {
		span.RecordError(tracing.SafeError(gerr))
		span.SetStatus(codes.Error, gerr.Code)
		return nil, gerr
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fail(&domain.GatewayError{Op: op, Err: err})
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fail(&domain.GatewayError{Op: op, Err: err})
	}
	req.SetBasicAuth(a.keyID, a.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fail(&domain.GatewayError{Op: op, Err: err})
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fail(&domain.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: err})
	}

	if resp.StatusCode >= http.StatusBadRequest {
		gerr := &domain.GatewayError{Op: op, StatusCode: resp.StatusCode}
		var apiErr errorResponse
		if json.Unmarshal(data, &apiErr) == nil {
			gerr.Code = apiErr.Error.Code
			gerr.Message = apiErr.Error.Description
		}
		return fail(gerr)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fail(&domain.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)})
	}
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fail(&domain.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)})
	}
	return raw, nil
}
