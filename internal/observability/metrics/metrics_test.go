package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("account_id", "123"),
		attribute.String("transaction_id", "456"),
		attribute.String("kind", "topup"),
		attribute.String("status", "completed"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "account_id" || attr.Key == "transaction_id" {
			t.Fatalf("unexpected high-cardinality label %s", attr.Key)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordCreditsGranted(context.Background(), "purchase", 10)
	m.RecordTransaction(context.Background(), "topup", "pending")
	m.RecordUsageUnit(context.Background(), "ok")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "fortuna"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordCreditsGranted(context.Background(), "purchase", 10)
	m.RecordCreditsDebited(context.Background(), "usage_debit", 1)
	m.RecordPaymentEvent(context.Background(), "payten", "payment.completed")
}
