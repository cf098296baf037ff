package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const rateLimitKeyPrefix = "rate_limit:"

type rateLimitCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RateLimiter is a fixed-window request counter. The window starts with the
// first request and resets only when the counter expires, so up to twice the
// quota can pass around a window boundary.
type RateLimiter struct {
	cache  rateLimitCache
	logger *zap.Logger
}

// NewRateLimiter constructs a RateLimiter.
func NewRateLimiter(cache rateLimitCache, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{cache: cache, logger: logger}
}

// Check admits or rejects one request for identifier and reports the remaining quota.
// Rejected requests do not advance the counter.
func (l *RateLimiter) Check(ctx context.Context, identifier string, maxRequests int, window time.Duration) (bool, int) {
	if maxRequests <= 0 {
		return false, 0
	}
	key := rateLimitKeyPrefix + identifier

	var count int64
	hit, err := l.cache.Get(ctx, key, &count)
	if err != nil {
		l.logger.Warn("rate limit counter unreadable, restarting window", zap.String("key", key), zap.Error(err))
		hit = false
	}
	if !hit {
		if err := l.cache.Set(ctx, key, 1, window); err != nil {
			l.logger.Warn("rate limit counter not stored", zap.String("key", key), zap.Error(err))
		}
		return true, maxRequests - 1
	}

	if count >= int64(maxRequests) {
		return false, 0
	}

	next, err := l.cache.Incr(ctx, key)
	if err != nil {
		l.logger.Warn("rate limit increment failed", zap.String("key", key), zap.Error(err))
		return true, maxRequests - int(count) - 1
	}
	if next == 1 {
		// counter expired between the read and the increment
		if err := l.cache.Expire(ctx, key, window); err != nil {
			l.logger.Warn("rate limit window not set", zap.String("key", key), zap.Error(err))
		}
	}

	remaining := maxRequests - int(next)
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}
