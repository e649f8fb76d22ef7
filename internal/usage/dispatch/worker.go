package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/fortuna/internal/usage/domain"
	"go.uber.org/zap"
)

// Config controls the worker pool. ReportTimeout bounds the Complete/Fail
// call, which runs detached from worker shutdown so a claimed unit is never
// left in processing.
type Config struct {
	Workers       int
	DequeueWait   time.Duration
	JobTimeout    time.Duration
	ReportTimeout time.Duration
	ErrorBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:       2,
		DequeueWait:   5 * time.Second,
		JobTimeout:    2 * time.Minute,
		ReportTimeout: 10 * time.Second,
		ErrorBackoff:  time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.DequeueWait <= 0 {
		c.DequeueWait = defaults.DequeueWait
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = defaults.ReportTimeout
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = defaults.ErrorBackoff
	}
	return c
}

// Worker drains the queue and reports each result back to the usage service.
type Worker struct {
	cfg         Config
	log         *zap.Logger
	queue       domain.Queue
	usageSvc    domain.Service
	generator   Generator
	synthesizer Synthesizer
}

func NewWorker(cfg Config, log *zap.Logger, queue domain.Queue, usageSvc domain.Service, generator Generator, synthesizer Synthesizer) *Worker {
	if generator == nil {
		generator = staticGenerator{}
	}
	return &Worker{
		cfg:         cfg.withDefaults(),
		log:         log.Named("usage.worker"),
		queue:       queue,
		usageSvc:    usageSvc,
		generator:   generator,
		synthesizer: synthesizer,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, slot int) {
	log := w.log.With(zap.Int("slot", slot))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Dequeue(ctx, w.cfg.DequeueWait)
		switch {
		case err == nil:
			w.Process(ctx, job)
		case errors.Is(err, domain.ErrQueueEmpty):
		case ctx.Err() != nil:
			return
		default:
			log.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
			}
		}
	}
}

// Process runs one job to completion. A unit that already left pending is
// skipped so redelivered jobs do not generate twice.
func (w *Worker) Process(ctx context.Context, job *domain.Job) {
	unitID := job.UnitID.String()
	log := w.log.With(zap.String("usage_unit_id", unitID), zap.String("job_id", job.ID))

	claimed, err := w.usageSvc.MarkProcessing(ctx, unitID)
	if err != nil {
		log.Error("claim failed", zap.Error(err))
		return
	}
	if !claimed {
		log.Debug("unit already claimed")
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	text, err := w.generator.Generate(jobCtx, GenerateRequest{
		UnitID: unitID,
		Kind:   string(job.Kind),
		Prompt: job.Prompt,
		Locale: job.Locale,
	})
	if err != nil {
		reportCtx, cancelReport := w.reportContext(ctx)
		defer cancelReport()
		if _, failErr := w.usageSvc.Fail(reportCtx, unitID, err.Error()); failErr != nil {
			log.Error("mark failed", zap.Error(failErr))
		}
		return
	}

	result := domain.CompleteRequest{Text: text}
	if w.synthesizer != nil {
		audioURL, synthErr := w.synthesizer.Synthesize(jobCtx, unitID, text, job.Locale)
		if synthErr != nil {
			result.AudioError = synthErr.Error()
		} else {
			result.AudioURL = audioURL
		}
	}
	reportCtx, cancelReport := w.reportContext(ctx)
	defer cancelReport()
	if _, err := w.usageSvc.Complete(reportCtx, unitID, result); err != nil {
		log.Error("mark completed", zap.Error(err))
	}
}

func (w *Worker) reportContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ReportTimeout)
}
