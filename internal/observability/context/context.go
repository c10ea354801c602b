package context

import (
	stdcontext "context"
	"strings"
)

type contextKey string

const (
	requestIDKey contextKey = "obs.request_id"
	orderIDKey   contextKey = "obs.order_id"
)

// WithRequestID stores the inbound request id for log correlation.
func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithOrderID tags the context with the business order id being processed.
func WithOrderID(ctx stdcontext.Context, orderID string) stdcontext.Context {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, orderIDKey, orderID)
}

func OrderIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(orderIDKey).(string)
	return value
}
