package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fortuna/internal/clock"
	obsmetrics "github.com/smallbiznis/fortuna/internal/observability/metrics"
	"github.com/smallbiznis/fortuna/internal/ratelimit"
	settlementdomain "github.com/smallbiznis/fortuna/internal/settlement/domain"
	subscriptiondomain "github.com/smallbiznis/fortuna/internal/subscription/domain"
	txndomain "github.com/smallbiznis/fortuna/internal/transaction/domain"
	usagedomain "github.com/smallbiznis/fortuna/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpireSubscriptions = "expire_subscriptions"
	JobRequeueStaleUsage   = "requeue_stale_usage"
	JobFailStuckUsage      = "fail_stuck_usage"
	JobReconcilePayments   = "reconcile_pending_payments"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	TxnSvc          txndomain.Service
	SettlementSvc   settlementdomain.Service
	Locker          *ratelimit.Locker            `optional:"true"`
	Metrics         *obsmetrics.SchedulerMetrics `optional:"true"`
	Config          Config                       `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	subscriptionSvc subscriptiondomain.Service
	usageSvc        usagedomain.Service
	txnSvc          txndomain.Service
	settlementSvc   settlementdomain.Service
	locker          *ratelimit.Locker
	metrics         *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.SubscriptionSvc == nil || p.UsageSvc == nil || p.TxnSvc == nil || p.SettlementSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		subscriptionSvc: p.SubscriptionSvc,
		usageSvc:        p.UsageSvc,
		txnSvc:          p.TxnSvc,
		settlementSvc:   p.SettlementSvc,
		locker:          p.Locker,
		metrics:         p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context, run *jobRun) error) error {
	release, ok := s.acquire(parent, name)
	if !ok {
		return nil
	}
	defer release()

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)

	err := fn(ctx, run)
	s.metrics.ObserveRun(name, s.clock.Now().Sub(start))
	s.metrics.AddProcessed(name, run.processedCount)
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncError(name, err)
	// deadline is a soft timeout; the next tick picks up the rest
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(context.Context, *jobRun) error
	}{
		{JobExpireSubscriptions, s.ExpireSubscriptionsJob},
		{JobRequeueStaleUsage, s.RequeueStaleUsageJob},
		{JobFailStuckUsage, s.FailStuckUsageJob},
		{JobReconcilePayments, s.ReconcilePendingPaymentsJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ExpireSubscriptionsJob flips subscriptions past their renewal date.
func (s *Scheduler) ExpireSubscriptionsJob(ctx context.Context, run *jobRun) error {
	expired, err := s.subscriptionSvc.ExpireDue(ctx)
	if err != nil {
		return err
	}
	run.AddProcessed(int(expired))
	return nil
}

// RequeueStaleUsageJob re-dispatches units whose job was lost.
func (s *Scheduler) RequeueStaleUsageJob(ctx context.Context, run *jobRun) error {
	requeued, err := s.usageSvc.RequeueStale(ctx, s.cfg.StaleUsageAfter, s.cfg.BatchSize)
	run.AddProcessed(requeued)
	return err
}

// FailStuckUsageJob closes units whose worker died or lost its report after
// claiming them.
func (s *Scheduler) FailStuckUsageJob(ctx context.Context, run *jobRun) error {
	failed, err := s.usageSvc.FailStuck(ctx, s.cfg.StuckUsageAfter, s.cfg.BatchSize)
	run.AddProcessed(failed)
	return err
}

// ReconcilePendingPaymentsJob asks the gateway about purchases whose webhook
// never arrived. One failing transaction does not stop the batch.
func (s *Scheduler) ReconcilePendingPaymentsJob(ctx context.Context, run *jobRun) error {
	pending, err := s.txnSvc.ListStalePending(ctx, s.cfg.StalePaymentAfter, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, txn := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updated, err := s.settlementSvc.PollVerify(ctx, txn.ID.String(), txn.AccountID.String())
		if err != nil {
			s.logJobError(ctx, run, "reconcile pending payment failed", err,
				zap.String("transaction_id", txn.ID.String()),
			)
			continue
		}
		if updated != nil && updated.Status != txn.Status {
			run.AddProcessed(1)
		}
	}
	return nil
}
