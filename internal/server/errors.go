package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"gorm.io/gorm"
)

// RequestError is a client mistake whose message is shown as-is.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

func newRequestError(message string) error {
	return &RequestError{Message: message}
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type errorPayload struct {
	Status  int
	Type    string
	Message string
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(payload.Status, envelope{
			Success: false,
			Error:   payload.Message,
			Code:    payload.Type,
		})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newRequestError("Invalid request body")
}

// mapError picks the HTTP status for err. Domain error text is returned to
// the caller; anything unrecognized becomes a generic 500.
func mapError(err error) errorPayload {
	if err == nil {
		return errorPayload{Status: http.StatusInternalServerError, Type: "internal_error", Message: "internal server error"}
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return errorPayload{Status: http.StatusBadRequest, Type: "validation_error", Message: reqErr.Message}
	}

	var gatewayErr *paymentdomain.GatewayError
	if errors.As(err, &gatewayErr) {
		return errorPayload{Status: http.StatusBadGateway, Type: "gateway_error", Message: gatewayErr.Error()}
	}

	switch {
	case isValidationError(err):
		return errorPayload{Status: http.StatusBadRequest, Type: "validation_error", Message: err.Error()}
	case isNotFoundError(err):
		message := err.Error()
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound) {
			message = "not found"
		}
		return errorPayload{Status: http.StatusNotFound, Type: "not_found", Message: message}
	case isConflictError(err):
		return errorPayload{Status: http.StatusConflict, Type: "conflict", Message: err.Error()}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return errorPayload{Status: http.StatusUnauthorized, Type: "unauthorized", Message: err.Error()}
	case errors.Is(err, ErrRateLimited):
		return errorPayload{Status: http.StatusTooManyRequests, Type: "rate_limited", Message: "too many requests"}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ratelimit.ErrLockTimeout):
		return errorPayload{Status: http.StatusServiceUnavailable, Type: "service_unavailable", Message: "service unavailable"}
	default:
		return errorPayload{Status: http.StatusInternalServerError, Type: "internal_error", Message: "internal server error"}
	}
}

// classifyErrorForLog feeds the request logger's error_type/error_code fields.
func classifyErrorForLog(err error) (string, string) {
	payload := mapError(err)
	if payload.Status == http.StatusInternalServerError {
		return payload.Type, "internal_error"
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return payload.Type, "invalid_request"
	}
	var gatewayErr *paymentdomain.GatewayError
	if errors.As(err, &gatewayErr) {
		if gatewayErr.Code != "" {
			return payload.Type, gatewayErr.Code
		}
		return payload.Type, "gateway_" + gatewayErr.Op
	}
	return payload.Type, rootCode(err)
}

// rootCode returns the sentinel text of a wrapped "code: detail" error.
func rootCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, catalogdomain.ErrInvalidID),
		errors.Is(err, catalogdomain.ErrInvalidName),
		errors.Is(err, catalogdomain.ErrInvalidPrice),
		errors.Is(err, catalogdomain.ErrInvalidStock),
		errors.Is(err, catalogdomain.ErrInvalidCategory),
		errors.Is(err, orderdomain.ErrInvalidItems),
		errors.Is(err, orderdomain.ErrInvalidQuantity),
		errors.Is(err, orderdomain.ErrInvalidCustomer),
		errors.Is(err, orderdomain.ErrInvalidEmail),
		errors.Is(err, orderdomain.ErrInvalidCurrency),
		errors.Is(err, orderdomain.ErrInvalidStatus),
		errors.Is(err, paymentdomain.ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidCurrency),
		errors.Is(err, paymentdomain.ErrAmountMismatch),
		errors.Is(err, paymentdomain.ErrInvalidPayload):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, catalogdomain.ErrNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, orderdomain.ErrProductNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, catalogdomain.ErrInsufficientStock),
		errors.Is(err, catalogdomain.ErrDuplicateSKU),
		errors.Is(err, orderdomain.ErrInsufficientStock),
		errors.Is(err, orderdomain.ErrProductInactive),
		errors.Is(err, orderdomain.ErrInvalidTransition),
		errors.Is(err, orderdomain.ErrNotCancellable),
		errors.Is(err, orderdomain.ErrReceiptUnavailable),
		errors.Is(err, paymentdomain.ErrPaymentNotRefundable),
		errors.Is(err, paymentdomain.ErrOrderNotPayable),
		errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		return true
	default:
		return false
	}
}
