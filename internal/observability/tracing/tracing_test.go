package tracing

import (
	"errors"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsCredentials(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/payments"),
		attribute.String("Authorization", "Bearer x"),
		attribute.String("x-payten-signature", "abc"),
	)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "http.route" {
		t.Fatalf("unexpected attribute %s", attrs[0].Key)
	}
}

func TestSafeErrorKeepsMessageOnly(t *testing.T) {
	base := errors.New("boom")
	err := SafeError(fmt.Errorf("wrap: %w", base))
	if err.Error() != "wrap: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if errors.Is(err, base) {
		t.Fatalf("expected chain to be dropped")
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
