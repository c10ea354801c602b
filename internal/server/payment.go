package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	paymentActionCreate = "create"
	paymentActionVerify = "verify"
	paymentActionRefund = "refund"

	headerWebhookSignature = "X-Razorpay-Signature"
	headerWebhookEventID   = "X-Razorpay-Event-Id"

	maxWebhookBytes = 1 << 20
)

// paymentActionRequest carries the union of fields for every action.
type paymentActionRequest struct {
	Action string `json:"action"`

	OrderID  string                      `json:"orderId"`
	Amount   *decimal.Decimal            `json:"amount"`
	Currency string                      `json:"currency"`
	Customer *paymentdomain.CustomerInfo `json:"customer"`
	Metadata map[string]any              `json:"metadata"`

	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`

	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason"`
}

func (s *Server) HandlePaymentAction(c *gin.Context) {
	var req paymentActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	action := strings.ToLower(strings.TrimSpace(req.Action))
	c.Set("payment_action", action)

	switch action {
	case paymentActionCreate:
		s.initiatePayment(c, req)
	case paymentActionVerify:
		s.verifyPayment(c, req)
	case paymentActionRefund:
		s.refundPayment(c, req)
	default:
		AbortWithError(c, newRequestError("Invalid action. Use: create, verify, or refund"))
	}
}

func (s *Server) initiatePayment(c *gin.Context, req paymentActionRequest) {
	if strings.TrimSpace(req.OrderID) == "" || req.Amount == nil || req.Customer == nil ||
		strings.TrimSpace(req.Customer.Email) == "" || strings.TrimSpace(req.Customer.Name) == "" {
		AbortWithError(c, newRequestError("Missing required fields: orderId, amount, customer"))
		return
	}

	result, err := s.paymentSvc.Initiate(c.Request.Context(), paymentdomain.InitiateRequest{
		OrderID:  strings.TrimSpace(req.OrderID),
		Amount:   *req.Amount,
		Currency: req.Currency,
		Customer: *req.Customer,
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, result)
}

func (s *Server) verifyPayment(c *gin.Context, req paymentActionRequest) {
	if strings.TrimSpace(req.RazorpayOrderID) == "" ||
		strings.TrimSpace(req.RazorpayPaymentID) == "" ||
		strings.TrimSpace(req.RazorpaySignature) == "" {
		AbortWithError(c, newRequestError("Missing required fields: razorpay_order_id, razorpay_payment_id, razorpay_signature"))
		return
	}

	result, err := s.paymentSvc.Verify(c.Request.Context(), paymentdomain.VerifyRequest{
		RemoteOrderID:   req.RazorpayOrderID,
		RemotePaymentID: req.RazorpayPaymentID,
		Signature:       req.RazorpaySignature,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, result)
}

func (s *Server) refundPayment(c *gin.Context, req paymentActionRequest) {
	if strings.TrimSpace(req.PaymentID) == "" {
		AbortWithError(c, newRequestError("Missing required field: paymentId"))
		return
	}

	result, err := s.paymentSvc.Refund(c.Request.Context(), paymentdomain.RefundPaymentRequest{
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, result)
}

func (s *Server) GetPayment(c *gin.Context) {
	var query struct {
		OrderID       string `form:"orderId"`
		TransactionID string `form:"transactionId"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	var (
		payment *paymentdomain.Payment
		err     error
	)
	switch {
	case strings.TrimSpace(query.OrderID) != "":
		payment, err = s.paymentSvc.GetByOrderID(ctx, query.OrderID)
	case strings.TrimSpace(query.TransactionID) != "":
		payment, err = s.paymentSvc.GetByTransactionID(ctx, query.TransactionID)
	default:
		err = newRequestError("Either orderId or transactionId is required")
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondOK(c, payment)
}

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil || len(payload) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.webhookSvc.HandleWebhook(c.Request.Context(), paymentdomain.WebhookRequest{
		Payload:   payload,
		Signature: c.GetHeader(headerWebhookSignature),
		EventID:   c.GetHeader(headerWebhookEventID),
	})
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, envelope{Success: true})
			return
		}
		if errors.Is(err, paymentdomain.ErrInvalidSignature) {
			logger.WithContext(c.Request.Context(), s.log).Warn("rejected payment webhook", zap.String("remote_addr", c.ClientIP()))
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, envelope{Success: true})
}
