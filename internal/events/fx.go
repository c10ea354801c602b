package events

import (
	"context"

	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewFromConfig),
)

// NewFromConfig selects the publisher for EVENTS_DRIVER and closes it on shutdown.
func NewFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	log = log.Named("events")

	var (
		pub Publisher
		err error
	)
	switch cfg.Events.Driver {
	case config.EventsDriverAMQP:
		pub, err = NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
	case config.EventsDriverNATS:
		pub, err = NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, log)
	default:
		pub = NewNoop()
	}
	if err != nil {
		return nil, err
	}

	log.Info("event publisher ready", zap.String("driver", cfg.Events.Driver))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub, nil
}
