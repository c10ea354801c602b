package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes storefront domain instruments.
type Metrics struct {
	ordersCreated  metric.Int64Counter
	payments       metric.Int64Counter
	webhookEvents  metric.Int64Counter
	stockShortfall metric.Int64Counter
	notifications  metric.Int64Counter
	jobRuns        metric.Int64Counter
	jobDuration    metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "storefront"
	}
	meter := provider.Meter(name)

	ordersCreated, err := meter.Int64Counter("storefront_orders_created_total")
	if err != nil {
		return nil, err
	}
	payments, err := meter.Int64Counter("storefront_payments_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("storefront_webhook_events_total")
	if err != nil {
		return nil, err
	}
	stockShortfall, err := meter.Int64Counter("storefront_stock_shortfall_total")
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("storefront_notifications_total")
	if err != nil {
		return nil, err
	}
	jobRuns, err := meter.Int64Counter("storefront_scheduler_job_runs_total")
	if err != nil {
		return nil, err
	}
	jobDuration, err := meter.Float64Histogram("storefront_scheduler_job_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ordersCreated:  ordersCreated,
		payments:       payments,
		webhookEvents:  webhookEvents,
		stockShortfall: stockShortfall,
		notifications:  notifications,
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
	}, nil
}

// RecordOrderCreated increments created order counts.
func (m *Metrics) RecordOrderCreated(ctx context.Context, currency string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("currency", strings.ToUpper(strings.TrimSpace(currency))))
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayment counts payment operations by action and resulting status.
func (m *Metrics) RecordPayment(ctx context.Context, provider, action, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("action", strings.TrimSpace(action)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.payments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookEvent increments webhook delivery counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStockShortfall counts line items that could not be decremented on payment.
func (m *Metrics) RecordStockShortfall(ctx context.Context, quantity int) {
	if m == nil {
		return
	}
	m.stockShortfall.Add(ctx, int64(quantity))
}

// RecordNotification counts confirmation dispatch outcomes.
func (m *Metrics) RecordNotification(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJobRun counts scheduler job executions and their duration.
func (m *Metrics) RecordJobRun(ctx context.Context, job, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.jobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":    {},
	"action":      {},
	"status":      {},
	"event_type":  {},
	"outcome":     {},
	"currency":    {},
	"route":       {},
	"status_code": {},
	"job":         {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
