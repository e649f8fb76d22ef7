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

// Metrics exposes the ledger and settlement instruments.
type Metrics struct {
	creditsGranted   metric.Int64Counter
	creditsDebited   metric.Int64Counter
	transactions     metric.Int64Counter
	paymentEvents    metric.Int64Counter
	usageUnits       metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	gatewayLatencyMs metric.Int64Histogram
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

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New builds the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "fortuna"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.creditsGranted, err = meter.Int64Counter("fortuna_credits_granted_total"); err != nil {
		return nil, err
	}
	if m.creditsDebited, err = meter.Int64Counter("fortuna_credits_debited_total"); err != nil {
		return nil, err
	}
	if m.transactions, err = meter.Int64Counter("fortuna_transactions_total"); err != nil {
		return nil, err
	}
	if m.paymentEvents, err = meter.Int64Counter("fortuna_payment_events_total"); err != nil {
		return nil, err
	}
	if m.usageUnits, err = meter.Int64Counter("fortuna_usage_units_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("fortuna_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	if m.gatewayLatencyMs, err = meter.Int64Histogram("fortuna_gateway_latency_ms", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordCreditsGranted counts credits added to accounts by journal source.
func (m *Metrics) RecordCreditsGranted(ctx context.Context, sourceType string, credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.creditsGranted.Add(ctx, credits, metric.WithAttributes(
		FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))...,
	))
}

// RecordCreditsDebited counts credits removed from accounts by journal source.
func (m *Metrics) RecordCreditsDebited(ctx context.Context, sourceType string, credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.creditsDebited.Add(ctx, credits, metric.WithAttributes(
		FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))...,
	))
}

// RecordTransaction counts transaction lifecycle steps.
func (m *Metrics) RecordTransaction(ctx context.Context, kind, status string) {
	if m == nil {
		return
	}
	m.transactions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("status", strings.TrimSpace(status)),
	)...))
}

// RecordPaymentEvent increments payment event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)...))
}

// RecordUsageUnit counts consumption gate outcomes.
func (m *Metrics) RecordUsageUnit(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.usageUnits.Add(ctx, 1, metric.WithAttributes(
		FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))...,
	))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

// ObserveGatewayCall records outbound gateway latency.
func (m *Metrics) ObserveGatewayCall(ctx context.Context, provider, operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayLatencyMs.Record(ctx, elapsed.Milliseconds(), metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("operation", strings.TrimSpace(operation)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
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

// Account and transaction ids never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"kind":        {},
	"status":      {},
	"outcome":     {},
	"endpoint":    {},
	"provider":    {},
	"operation":   {},
	"event_type":  {},
	"source_type": {},
	"reason":      {},
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
