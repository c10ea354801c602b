package ratelimit

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/zap"
)

const keyCheckoutClient = "storefront:checkout:%s"

// CheckoutLimiter throttles order creation and payment initiation per client.
type CheckoutLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

func NewCheckoutLimiter(client *redis.Client, cfg config.Config, log *zap.Logger) *CheckoutLimiter {
	if client == nil || cfg.Redis.CheckoutRate <= 0 || cfg.Redis.CheckoutBurst <= 0 {
		return nil
	}
	return &CheckoutLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.Redis.CheckoutRate,
		burst:  cfg.Redis.CheckoutBurst,
		log:    log.Named("ratelimit.checkout"),
	}
}

// Allow fails open: Redis errors are logged and the request proceeds.
func (l *CheckoutLimiter) Allow(ctx context.Context, client string) *RateLimitResult {
	if l == nil {
		return &RateLimitResult{Allowed: true}
	}
	res, err := l.bucket.Allow(ctx, checkoutKey(client), l.rate, l.burst)
	if err != nil {
		l.log.Warn("checkout rate limit check failed", zap.Error(err))
		return &RateLimitResult{Allowed: true, Limit: l.burst}
	}
	return res
}

func checkoutKey(client string) string {
	if client == "" {
		client = "anonymous"
	}
	return fmt.Sprintf(keyCheckoutClient, client)
}
