package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/athsys-api/pkg/cache"
	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
)

// CacheRepository is the key-value store behind sessions, rate limits, idempotency
// records and ad-hoc caches. Redis is authoritative when reachable; any Redis error
// is treated as a soft failure and the call is served by the process-local store.
//
// A delete that Redis rejects is remembered and retried before Redis is read
// for that key again, so a revoked session cannot resurface once Redis recovers.
type CacheRepository struct {
	client   *redis.Client
	fallback *cache.MemoryStore
	pending  *pendingDeletes
	logger   *zap.Logger
}

// NewCacheRepository constructs a cache repository. A nil client runs memory-only.
func NewCacheRepository(client *redis.Client, fallback *cache.MemoryStore, logger *zap.Logger) *CacheRepository {
	if fallback == nil {
		fallback = cache.NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, fallback: fallback, pending: newPendingDeletes(), logger: logger}
}

// Fallback exposes the in-process store so its janitor can be scheduled.
func (r *CacheRepository) Fallback() *cache.MemoryStore {
	return r.fallback
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	raw, err := r.getRaw(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if r.client != nil {
		err := r.client.Set(ctx, key, payload, ttl).Err()
		if err == nil {
			r.pending.done(key)
			return nil
		}
		r.degraded("set", key, err)
	}

	r.fallback.Set(key, payload, ttl)
	return nil
}

// Delete removes a single key.
func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	if r.client != nil {
		err := r.client.Del(ctx, key).Err()
		if err == nil {
			r.pending.done(key)
			return nil
		}
		r.pending.add(key)
		r.logger.Error("redis delete failed, key kept out of redis reads until the delete succeeds",
			zap.String("key", key), zap.Error(err))
	}

	r.fallback.Delete(key)
	return nil
}

// DeleteByPattern removes cached entries matching the provided pattern.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if err := cache.ValidatePattern(pattern); err != nil {
		return err
	}
	if r.client != nil {
		err := r.deleteRedisPattern(ctx, pattern)
		if err == nil {
			return nil
		}
		r.degraded("delete pattern", pattern, err)
	}

	if _, err := r.fallback.DeletePattern(pattern); err != nil {
		return err
	}
	return nil
}

// Incr atomically increments an integer counter and returns the new value.
func (r *CacheRepository) Incr(ctx context.Context, key string) (int64, error) {
	if r.trustRedis(ctx, key) {
		n, err := r.client.Incr(ctx, key).Result()
		if err == nil {
			return n, nil
		}
		r.degraded("incr", key, err)
	}

	n, err := r.fallback.Incr(key)
	if err != nil {
		return 0, fmt.Errorf("memory incr %s: %w", key, err)
	}
	return n, nil
}

// Expire resets the TTL of an existing key.
func (r *CacheRepository) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if r.trustRedis(ctx, key) {
		ok, err := r.client.Expire(ctx, key, ttl).Result()
		if err == nil {
			if !ok {
				return appErrors.ErrCacheMiss
			}
			return nil
		}
		r.degraded("expire", key, err)
	}

	if !r.fallback.Expire(key, ttl) {
		return appErrors.ErrCacheMiss
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *CacheRepository) getRaw(ctx context.Context, key string) ([]byte, error) {
	if r.trustRedis(ctx, key) {
		raw, err := r.client.Get(ctx, key).Bytes()
		if err == nil {
			return raw, nil
		}
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrCacheMiss
		}
		r.degraded("get", key, err)
	}

	raw, ok := r.fallback.Get(key)
	if !ok {
		return nil, appErrors.ErrCacheMiss
	}
	return raw, nil
}

func (r *CacheRepository) deleteRedisPattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", key, err)
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}

	return nil
}

// trustRedis retries outstanding deletes and reports whether Redis may be
// consulted for key.
func (r *CacheRepository) trustRedis(ctx context.Context, key string) bool {
	if r.client == nil {
		return false
	}
	r.pending.retry(ctx, func(ctx context.Context, key string) error {
		return r.client.Del(ctx, key).Err()
	})
	return !r.pending.has(key)
}

func (r *CacheRepository) degraded(op, key string, err error) {
	r.logger.Warn("redis unavailable, using in-process cache", zap.String("op", op), zap.String("key", key), zap.Error(err))
}

// pendingDeletes tracks keys whose Redis delete failed.
type pendingDeletes struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newPendingDeletes() *pendingDeletes {
	return &pendingDeletes{keys: make(map[string]struct{})}
}

func (p *pendingDeletes) add(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = struct{}{}
}

func (p *pendingDeletes) done(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, key)
}

func (p *pendingDeletes) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.keys[key]
	return ok
}

// retry replays the outstanding deletes and stops at the first failure.
func (p *pendingDeletes) retry(ctx context.Context, del func(context.Context, string) error) {
	p.mu.Lock()
	keys := make([]string, 0, len(p.keys))
	for key := range p.keys {
		keys = append(keys, key)
	}
	p.mu.Unlock()

	for _, key := range keys {
		if err := del(ctx, key); err != nil {
			return
		}
		p.done(key)
	}
}
