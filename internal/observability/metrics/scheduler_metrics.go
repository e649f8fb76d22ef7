package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SchedulerReasonDeadlineExceeded = "deadline_exceeded"
	SchedulerReasonCanceled         = "canceled"
	SchedulerReasonError            = "error"
)

// SchedulerMetrics tracks background sweep runs.
type SchedulerMetrics struct {
	runs      *prometheus.CounterVec
	errors    *prometheus.CounterVec
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

func NewSchedulerMetrics(cfg Config) (*SchedulerMetrics, error) {
	return newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) (*SchedulerMetrics, error) {
	constLabels := constLabelsFor(cfg)
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fortuna_scheduler_job_runs_total",
		Help:        "Scheduler job runs.",
		ConstLabels: constLabels,
	}, []string{"job"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fortuna_scheduler_job_errors_total",
		Help:        "Scheduler job failures by reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fortuna_scheduler_job_processed_total",
		Help:        "Rows handled by scheduler jobs.",
		ConstLabels: constLabels,
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "fortuna_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		ConstLabels: constLabels,
		Buckets:     prometheus.DefBuckets,
	}, []string{"job"})

	var err error
	if runs, err = registerCounterVec(registerer, runs); err != nil {
		return nil, err
	}
	if errs, err = registerCounterVec(registerer, errs); err != nil {
		return nil, err
	}
	if processed, err = registerCounterVec(registerer, processed); err != nil {
		return nil, err
	}
	if duration, err = registerHistogramVec(registerer, duration); err != nil {
		return nil, err
	}
	return &SchedulerMetrics{runs: runs, errors: errs, processed: processed, duration: duration}, nil
}

func (m *SchedulerMetrics) ObserveRun(job string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job).Inc()
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (m *SchedulerMetrics) AddProcessed(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.processed.WithLabelValues(job).Add(float64(count))
}

func (m *SchedulerMetrics) IncError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(job, schedulerReason(err)).Inc()
}

func schedulerReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return SchedulerReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return SchedulerReasonCanceled
	default:
		return SchedulerReasonError
	}
}
