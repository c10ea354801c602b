package razorpay

import (
	"encoding/json"
	"strings"

	"github.com/smallbiznis/storefront/internal/payment/domain"
)

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *entityWrapper `json:"payment"`
		Refund  *entityWrapper `json:"refund"`
	} `json:"payload"`
}

type entityWrapper struct {
	Entity json.RawMessage `json:"entity"`
}

type webhookEntity struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
}

// ParseWebhook decodes a Razorpay webhook body. Unknown event types parse
// successfully with no entity attached.
func ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	event := &domain.WebhookEvent{Type: strings.TrimSpace(env.Event)}
	if event.Type == "" {
		return nil, domain.ErrInvalidPayload
	}

	switch event.Type {
	case domain.EventPaymentCaptured, domain.EventPaymentFailed:
		entity, raw, err := decodeEntity(env.Payload.Payment)
		if err != nil {
			return nil, err
		}
		if entity.OrderID == "" {
			return nil, domain.ErrInvalidPayload
		}
		event.Payment = &domain.WebhookPayment{
			ID:      entity.ID,
			OrderID: entity.OrderID,
			Status:  entity.Status,
			Raw:     raw,
		}
	case domain.EventRefundCreated:
		entity, raw, err := decodeEntity(env.Payload.Refund)
		if err != nil {
			return nil, err
		}
		if entity.PaymentID == "" {
			return nil, domain.ErrInvalidPayload
		}
		event.Refund = &domain.WebhookRefund{
			ID:        entity.ID,
			PaymentID: entity.PaymentID,
			Amount:    entity.Amount,
			Raw:       raw,
		}
	}
	return event, nil
}

func decodeEntity(w *entityWrapper) (webhookEntity, map[string]any, error) {
	var entity webhookEntity
	if w == nil || len(w.Entity) == 0 {
		return entity, nil, domain.ErrInvalidPayload
	}
	if err := json.Unmarshal(w.Entity, &entity); err != nil {
		return entity, nil, domain.ErrInvalidPayload
	}
	raw := map[string]any{}
	if err := json.Unmarshal(w.Entity, &raw); err != nil {
		return entity, nil, domain.ErrInvalidPayload
	}
	return entity, raw, nil
}
