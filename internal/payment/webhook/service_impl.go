package webhook

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Gateway    domain.Gateway
	PaymentSvc *paymentservice.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	gateway    domain.Gateway
	paymentSvc *paymentservice.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.WebhookService {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		gateway:    p.Gateway,
		paymentSvc: p.PaymentSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// HandleWebhook authenticates and applies one provider delivery. Deliveries
// carrying an event id are recorded so a redelivery is not applied twice.
func (s *Service) HandleWebhook(ctx context.Context, req domain.WebhookRequest) error {
	provider := s.gateway.Provider()
	log := logger.WithContext(ctx, s.log)

	if !s.gateway.VerifyWebhookSignature(req.Payload, req.Signature) {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, "unknown", "invalid_signature")
		log.Warn("webhook signature mismatch", zap.Int("payload_bytes", len(req.Payload)))
		return domain.ErrInvalidSignature
	}

	event, err := s.gateway.ParseWebhook(req.Payload)
	if err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, "unknown", "invalid_payload")
		return err
	}

	var record *domain.EventRecord
	if eventID := strings.TrimSpace(req.EventID); eventID != "" {
		record, err = s.recordEvent(ctx, provider, eventID, event.Type, req.Payload)
		if err != nil {
			if errors.Is(err, domain.ErrEventAlreadyProcessed) {
				s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Type, "duplicate")
				log.Info("webhook event already processed", zap.String("event_id", eventID))
			}
			return err
		}
	}

	if err := s.apply(ctx, event); err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Type, "error")
		log.Error("webhook processing failed", zap.String("event_type", event.Type), zap.Error(err))
		return err
	}

	if record != nil {
		if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
			return err
		}
	}
	s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Type, "processed")
	return nil
}

func (s *Service) recordEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (*domain.EventRecord, error) {
	record := &domain.EventRecord{
		ID:              s.genID.Generate().Int64(),
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return record, nil
	}

	stored, err := s.repo.FindEvent(ctx, s.db, provider, eventID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrInvalidPayload
	}
	if stored.ProcessedAt != nil {
		return nil, domain.ErrEventAlreadyProcessed
	}
	// a previous delivery failed midway; apply it again
	return stored, nil
}

func (s *Service) apply(ctx context.Context, event *domain.WebhookEvent) error {
	switch event.Type {
	case domain.EventPaymentCaptured:
		return s.paymentSvc.ApplyCapture(ctx, event.Payment)
	case domain.EventPaymentFailed:
		return s.paymentSvc.ApplyFailure(ctx, event.Payment)
	case domain.EventRefundCreated:
		return s.paymentSvc.ApplyRefund(ctx, event.Refund)
	default:
		logger.WithContext(ctx, s.log).Info("webhook event ignored", zap.String("event_type", event.Type))
		return nil
	}
}

// ReplayPending re-applies recorded deliveries that never reached
// MarkProcessed, oldest first. Failures are counted and left for the next run.
func (s *Service) ReplayPending(ctx context.Context, from, before time.Time, limit int) (domain.ReplaySummary, error) {
	var summary domain.ReplaySummary
	provider := s.gateway.Provider()
	log := logger.WithContext(ctx, s.log)

	records, err := s.repo.ListUnprocessedEvents(ctx, s.db, provider, from, before, limit)
	if err != nil {
		return summary, err
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		event, err := s.gateway.ParseWebhook(record.Payload)
		if err == nil {
			err = s.apply(ctx, event)
		}
		if err != nil {
			summary.Failed++
			s.obsMetrics.RecordWebhookEvent(ctx, provider, record.EventType, "replay_error")
			log.Warn("webhook replay failed",
				zap.String("event_id", record.ProviderEventID),
				zap.String("event_type", record.EventType),
				zap.Error(err),
			)
			continue
		}
		if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
			return summary, err
		}
		summary.Replayed++
		s.obsMetrics.RecordWebhookEvent(ctx, provider, record.EventType, "replayed")
	}
	return summary, nil
}
