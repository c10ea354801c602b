package order

import (
	"context"

	"github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/order/repository"
	"github.com/smallbiznis/storefront/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Invoke(registerDrain),
)

func registerDrain(lc fx.Lifecycle, s *service.Service) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return s.Drain(ctx)
		},
	})
}
