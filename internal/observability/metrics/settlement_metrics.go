package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/fortuna/pkg/db"
)

const (
	ReconcileResultApplied            = "applied"
	ReconcileResultNoop               = "noop"
	ReconcileResultUnknownTransaction = "unknown_transaction"
	ReconcileResultIgnored            = "ignored"
	ReconcileResultError              = "error"
)

// SettlementMetrics captures reconciler health for alerting.
type SettlementMetrics struct {
	applied     *prometheus.CounterVec
	gapCredits  *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
}

func NewSettlementMetrics(cfg Config) (*SettlementMetrics, error) {
	return newSettlementMetrics(prometheus.DefaultRegisterer, cfg)
}

func newSettlementMetrics(registerer prometheus.Registerer, cfg Config) (*SettlementMetrics, error) {
	constLabels := constLabelsFor(cfg)
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fortuna_settlement_events_total",
		Help:        "Settlement events by source, outcome and result.",
		ConstLabels: constLabels,
	}, []string{"source", "outcome", "result"})
	gapCredits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fortuna_settlement_reconciliation_gap_credits_total",
		Help:        "Credits a refund could not reverse because they were already spent.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fortuna_settlement_store_errors_total",
		Help:        "Store errors raised while applying settlement events.",
		ConstLabels: constLabels,
	}, []string{"reason"})

	var err error
	if applied, err = registerCounterVec(registerer, applied); err != nil {
		return nil, err
	}
	if gapCredits, err = registerCounterVec(registerer, gapCredits); err != nil {
		return nil, err
	}
	if storeErrors, err = registerCounterVec(registerer, storeErrors); err != nil {
		return nil, err
	}
	return &SettlementMetrics{applied: applied, gapCredits: gapCredits, storeErrors: storeErrors}, nil
}

func (m *SettlementMetrics) IncEvent(source, outcome, result string) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(source, outcome, result).Inc()
}

func (m *SettlementMetrics) AddGap(kind string, credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.gapCredits.WithLabelValues(kind).Add(float64(credits))
}

func (m *SettlementMetrics) IncStoreError(err error) {
	if m == nil || err == nil {
		return
	}
	m.storeErrors.WithLabelValues(db.ClassifyError(err)).Inc()
}
