package payment

import (
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/repository"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(adapters.Provide),
	fx.Provide(NewGateway),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(svc *paymentservice.Service) domain.Service { return svc }),
	fx.Provide(webhook.NewService),
)

// NewGateway builds the adapter selected by PAYMENT_PROVIDER.
func NewGateway(cfg config.Config, registry *adapters.Registry, log *zap.Logger) (domain.Gateway, error) {
	gw, err := registry.Gateway(cfg.Payment)
	if err != nil {
		return nil, err
	}
	if cfg.Payment.WebhookSecret == "" {
		log.Warn("payment webhook secret not set, webhooks will be rejected", zap.String("provider", gw.Provider()))
	}
	return gw, nil
}
