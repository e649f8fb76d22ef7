package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/fortuna/internal/audit"
	auditdomain "github.com/smallbiznis/fortuna/internal/audit/domain"
	"github.com/smallbiznis/fortuna/internal/auth"
	authdomain "github.com/smallbiznis/fortuna/internal/auth/domain"
	"github.com/smallbiznis/fortuna/internal/authorization"
	"github.com/smallbiznis/fortuna/internal/cache"
	"github.com/smallbiznis/fortuna/internal/config"
	"github.com/smallbiznis/fortuna/internal/credit"
	creditdomain "github.com/smallbiznis/fortuna/internal/credit/domain"
	"github.com/smallbiznis/fortuna/internal/errorlog"
	"github.com/smallbiznis/fortuna/internal/ledger"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	"github.com/smallbiznis/fortuna/internal/observability"
	obsmiddleware "github.com/smallbiznis/fortuna/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fortuna/internal/observability/metrics"
	obstracing "github.com/smallbiznis/fortuna/internal/observability/tracing"
	"github.com/smallbiznis/fortuna/internal/payment"
	paymentdomain "github.com/smallbiznis/fortuna/internal/payment/domain"
	"github.com/smallbiznis/fortuna/internal/ratelimit"
	"github.com/smallbiznis/fortuna/internal/settlement"
	settlementdomain "github.com/smallbiznis/fortuna/internal/settlement/domain"
	"github.com/smallbiznis/fortuna/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/fortuna/internal/subscription/domain"
	"github.com/smallbiznis/fortuna/internal/transaction"
	txndomain "github.com/smallbiznis/fortuna/internal/transaction/domain"
	"github.com/smallbiznis/fortuna/internal/usage"
	usagedomain "github.com/smallbiznis/fortuna/internal/usage/domain"
	"github.com/smallbiznis/fortuna/internal/usage/liveevents"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	cache.Module,
	auth.Module,
	authorization.Module,
	audit.Module,
	errorlog.Module,
	ratelimit.Module,
	ledger.Module,
	credit.Module,
	transaction.Module,
	subscription.Module,
	payment.Module,
	settlement.Module,
	usage.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	verifier        authdomain.TokenVerifier
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	ledgerSvc       ledgerdomain.Service
	creditSvc       creditdomain.Service
	txnSvc          txndomain.Service
	subscriptionSvc subscriptiondomain.Service
	checkout        paymentdomain.Checkout
	webhookSvc      paymentdomain.WebhookService
	settlementSvc   settlementdomain.Service
	usageSvc        usagedomain.Service
	liveUsageEvents *liveevents.Hub
	idempotency     cache.IdempotencyStore
	limiter         *ratelimit.Limiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Verifier        authdomain.TokenVerifier
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	LedgerSvc       ledgerdomain.Service
	CreditSvc       creditdomain.Service
	TxnSvc          txndomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Checkout        paymentdomain.Checkout
	WebhookSvc      paymentdomain.WebhookService
	SettlementSvc   settlementdomain.Service
	UsageSvc        usagedomain.Service
	LiveUsageEvents *liveevents.Hub        `optional:"true"`
	Idempotency     cache.IdempotencyStore `optional:"true"`
	Limiter         *ratelimit.Limiter     `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics    `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	idempotency := p.Idempotency
	if idempotency == nil {
		idempotency = cache.NewMemoryIdempotencyStore()
	}
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		verifier:        p.Verifier,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		ledgerSvc:       p.LedgerSvc,
		creditSvc:       p.CreditSvc,
		txnSvc:          p.TxnSvc,
		subscriptionSvc: p.SubscriptionSvc,
		checkout:        p.Checkout,
		webhookSvc:      p.WebhookSvc,
		settlementSvc:   p.SettlementSvc,
		usageSvc:        p.UsageSvc,
		liveUsageEvents: p.LiveUsageEvents,
		idempotency:     idempotency,
		limiter:         p.Limiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)

	// -------- Usage callbacks --------
	api.POST("/usage/:id/callback", s.WorkerTokenRequired(), s.HandleUsageCallback)

	authed := api.Group("", s.AuthRequired())

	// -------- Accounts --------
	authed.POST("/accounts", s.ProvisionAccount)
	authed.GET("/accounts/me", s.GetMyAccount)
	authed.GET("/accounts/me/entries", s.ListMyEntries)

	// -------- Payments --------
	authed.POST("/payments", s.PurchaseRateLimit(), s.CreatePurchase)
	authed.GET("/payments", s.ListPayments)
	authed.GET("/payments/:id", s.GetPayment)
	authed.POST("/payments/:id/verify", s.VerifyPayment)

	// -------- Usage --------
	authed.POST("/usage", s.ConsumeRateLimit(), s.ConsumeUsage)
	authed.GET("/usage", s.ListUsage)
	authed.GET("/usage/events", s.StreamUsageEvents)
	authed.GET("/usage/:id", s.GetUsageUnit)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AuthRequired())

	admin.GET("/accounts/:id",
		s.authorizeAction(authorization.ObjectAccount, authorization.ActionAccountView),
		s.AdminGetAccount,
	)
	admin.POST("/accounts/:id/credits",
		s.authorizeAction(authorization.ObjectCredit, authorization.ActionCreditGrant),
		s.AdminGrantCredits,
	)
	admin.GET("/audit-logs",
		s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView),
		s.ListAuditLogs,
	)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
