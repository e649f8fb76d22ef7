package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/fortuna/internal/config"
	"go.uber.org/zap"
)

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	res, err := l.AllowPurchase(context.Background(), "1")
	if err != nil || !res.Allowed {
		t.Fatalf("expected nil limiter to allow, got %+v %v", res, err)
	}
}

func TestNewLimiterWithoutRedisIsDisabled(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, PurchaseRate: 1, PurchaseBurst: 1}}
	if l := NewLimiter(cfg, nil, zap.NewNop()); l.Enabled() {
		t.Fatalf("expected limiter without redis to be disabled")
	}
}

func TestRetryAfter(t *testing.T) {
	if got := retryAfter(false, 0.5, 0.5); got != time.Second {
		t.Fatalf("expected 1s, got %s", got)
	}
	if got := retryAfter(true, 0, 1); got != 0 {
		t.Fatalf("expected 0 when allowed, got %s", got)
	}
}

func TestToFloatParsesStrings(t *testing.T) {
	if got := toFloat("2.5"); got != 2.5 {
		t.Fatalf("expected 2.5, got %v", got)
	}
	if got := toFloat(int64(3)); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestBucketTTL(t *testing.T) {
	if got := bucketTTL(0.2, 5); got != 50*time.Second {
		t.Fatalf("expected 50s, got %s", got)
	}
	if got := bucketTTL(100, 1); got != time.Second {
		t.Fatalf("expected 1s floor, got %s", got)
	}
}

func TestNilLockerRefusesLock(t *testing.T) {
	l := NewLocker(nil)
	if l != nil {
		t.Fatalf("expected nil locker without redis")
	}
	if _, ok, err := l.TryLock(context.Background(), "scheduler:lock:job", time.Minute); ok || err == nil {
		t.Fatalf("expected nil locker to refuse, got ok=%v err=%v", ok, err)
	}
	if err := l.Release(context.Background(), "scheduler:lock:job", "token"); err != nil {
		t.Fatalf("expected nil locker release to be a no-op, got %v", err)
	}
}
