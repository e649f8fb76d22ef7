package usage

import (
	"context"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fortuna/internal/config"
	"github.com/smallbiznis/fortuna/internal/usage/dispatch"
	"github.com/smallbiznis/fortuna/internal/usage/domain"
	"github.com/smallbiznis/fortuna/internal/usage/liveevents"
	"github.com/smallbiznis/fortuna/internal/usage/repository"
	"github.com/smallbiznis/fortuna/internal/usage/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(liveevents.NewHub),
	fx.Provide(NewQueue),
	fx.Provide(func(q domain.Queue) domain.Dispatcher { return q }),
	fx.Provide(service.NewService),
	fx.Invoke(StartWorker),
)

// NewQueue prefers redis so jobs survive restarts and are shared between
// replicas.
func NewQueue(cfg config.Config, client *redis.Client, log *zap.Logger) domain.Queue {
	if client == nil {
		log.Info("usage queue running in process")
		return dispatch.NewInlineQueue(0)
	}
	return dispatch.NewRedisQueue(client, cfg.Pipeline.QueueKey)
}

func StartWorker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, queue domain.Queue, usageSvc domain.Service) {
	pipeline := cfg.Pipeline
	httpClient := &http.Client{Timeout: 90 * time.Second}

	var generator dispatch.Generator
	if pipeline.GeneratorURL != "" {
		generator = dispatch.NewHTTPGenerator(pipeline.GeneratorURL, httpClient)
	} else if cfg.IsProduction() {
		log.Warn("no generator configured, usage jobs are left to external workers")
		return
	}
	var synthesizer dispatch.Synthesizer
	if pipeline.SynthesizerURL != "" {
		synthesizer = dispatch.NewHTTPSynthesizer(pipeline.SynthesizerURL, httpClient)
	}

	worker := dispatch.NewWorker(dispatch.Config{Workers: pipeline.Workers}, log, queue, usageSvc, generator, synthesizer)
	var (
		cancel context.CancelFunc
		done   = make(chan struct{})
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				worker.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			if cancel == nil {
				return nil
			}
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
