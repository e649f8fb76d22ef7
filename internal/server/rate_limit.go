package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fortuna/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fortuna/internal/observability/metrics"
	"github.com/smallbiznis/fortuna/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	rateLimitReasonPurchase = "purchase-rate"
	rateLimitReasonConsume  = "consume-rate"
)

type allowFunc func(ctx context.Context, accountID string) (*ratelimit.Result, error)

func (s *Server) PurchaseRateLimit() gin.HandlerFunc {
	return s.accountRateLimit(rateLimitReasonPurchase, s.limiter.AllowPurchase)
}

func (s *Server) ConsumeRateLimit() gin.HandlerFunc {
	return s.accountRateLimit(rateLimitReasonConsume, s.limiter.AllowConsume)
}

// accountRateLimit fails open when the limiter backend errors.
func (s *Server) accountRateLimit(reason string, allow allowFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		accountID, ok := accountIDFromContext(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		result, err := allow(ctx, accountID)
		if err != nil {
			logger.FromContext(ctx).Warn("rate limit check failed", zap.String("endpoint", endpoint), zap.Error(err))
			c.Next()
			return
		}
		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		if !result.Allowed {
			denyRateLimit(c, endpoint, reason, result, s.obsMetrics)
			return
		}
		c.Next()
	}
}

func denyRateLimit(c *gin.Context, endpoint, reason string, result *ratelimit.Result, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)

	retryAfter := 1
	if result != nil && result.RetryAfter > 0 {
		retryAfter = int(math.Ceil(result.RetryAfter.Seconds()))
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
