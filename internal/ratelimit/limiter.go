package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fortuna/internal/config"
	"go.uber.org/zap"
)

const (
	keyPurchase = "ratelimit:purchase:%s"
	keyConsume  = "ratelimit:consume:%s"
)

// Limiter enforces per-account buckets on the purchase and consume
// endpoints. A nil Limiter allows everything.
type Limiter struct {
	bucket        *TokenBucket
	purchaseRate  float64
	purchaseBurst int
	consumeRate   float64
	consumeBurst  int
}

func NewLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *Limiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil
	}
	if client == nil {
		log.Warn("rate limiting enabled without redis, requests are not limited")
		return nil
	}
	return &Limiter{
		bucket:        NewTokenBucket(client),
		purchaseRate:  limitCfg.PurchaseRate,
		purchaseBurst: limitCfg.PurchaseBurst,
		consumeRate:   limitCfg.ConsumeRate,
		consumeBurst:  limitCfg.ConsumeBurst,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *Limiter) AllowPurchase(ctx context.Context, accountID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyPurchase, strings.TrimSpace(accountID)), l.purchaseRate, l.purchaseBurst)
}

func (l *Limiter) AllowConsume(ctx context.Context, accountID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyConsume, strings.TrimSpace(accountID)), l.consumeRate, l.consumeBurst)
}
