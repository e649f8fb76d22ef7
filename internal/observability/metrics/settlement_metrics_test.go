package metrics

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSettlementMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := newSettlementMetrics(registry, Config{ServiceName: "fortuna", Environment: "test"})
	if err != nil {
		t.Fatalf("new settlement metrics: %v", err)
	}

	m.IncEvent("webhook", "completed", ReconcileResultApplied)
	m.IncEvent("webhook", "completed", ReconcileResultNoop)
	m.IncEvent("webhook", "completed", ReconcileResultNoop)
	m.AddGap("subscription", 7)
	m.IncStoreError(&pgconn.PgError{Code: "40001"})
	m.IncStoreError(errors.New("boom"))

	if got := testutil.ToFloat64(m.applied.WithLabelValues("webhook", "completed", ReconcileResultNoop)); got != 2 {
		t.Fatalf("expected 2 noop events, got %v", got)
	}
	if got := testutil.ToFloat64(m.gapCredits.WithLabelValues("subscription")); got != 7 {
		t.Fatalf("expected 7 gap credits, got %v", got)
	}
	if got := testutil.ToFloat64(m.storeErrors.WithLabelValues("serialization_failure")); got != 1 {
		t.Fatalf("expected serialization failure to be counted, got %v", got)
	}
	if got := testutil.ToFloat64(m.storeErrors.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("expected unknown failure to be counted, got %v", got)
	}
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := newHTTPMetrics(registry, Config{})
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	second, err := newHTTPMetrics(registry, Config{})
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if first.requests != second.requests {
		t.Fatalf("expected the existing collector to be reused")
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 402: "4xx", 502: "5xx", 0: "unknown"}
	for status, want := range cases {
		if got := statusClass(status); got != want {
			t.Fatalf("status %d: expected %s, got %s", status, want, got)
		}
	}
}
