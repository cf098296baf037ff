package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/athsys-api/internal/models"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	// AnonymousIdentity scopes idempotency keys of callers without a user or address.
	AnonymousIdentity = "anonymous"
)

type idempotencyCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// IdempotencyService stores and replays responses of mutating requests that
// carry a client idempotency key.
type IdempotencyService struct {
	cache   idempotencyCache
	ttl     time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

// NewIdempotencyService constructs an IdempotencyService.
func NewIdempotencyService(cache idempotencyCache, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *IdempotencyService {
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdempotencyService{cache: cache, ttl: ttl, metrics: metrics, logger: logger}
}

// Fingerprint derives the cache key of a request.
func Fingerprint(method, path, identity, key string, body []byte) string {
	if identity == "" {
		identity = AnonymousIdentity
	}
	sum := sha256.Sum256(body)
	return idempotencyKeyPrefix + strings.ToUpper(method) + ":" + path + ":" + identity + ":" + key + ":" + hex.EncodeToString(sum[:])
}

// Cacheable reports whether a response may be replayed: a 2xx status with a valid JSON body.
func Cacheable(status int, contentType string, body []byte) bool {
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || (mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json")) {
		return false
	}
	return len(body) > 0 && json.Valid(body)
}

// Lookup returns the stored record for a fingerprint. Store failures read as a miss.
func (s *IdempotencyService) Lookup(ctx context.Context, fingerprint string) (*models.IdempotencyRecord, bool) {
	var record models.IdempotencyRecord
	hit, err := s.cache.Get(ctx, fingerprint, &record)
	if err != nil {
		s.logger.Warn("idempotency lookup failed", zap.String("key", fingerprint), zap.Error(err))
		return nil, false
	}
	if !hit || record.Status == 0 {
		return nil, false
	}
	s.metrics.RecordIdempotency(IdempotencyReplayed)
	return &record, true
}

// Store persists a cacheable response and reports whether it was written.
// Failures are logged and swallowed: the handler already ran.
func (s *IdempotencyService) Store(ctx context.Context, fingerprint string, status int, contentType string, body []byte) bool {
	if !Cacheable(status, contentType, body) {
		s.metrics.RecordIdempotency(IdempotencySkipped)
		return false
	}
	record := models.IdempotencyRecord{Status: status, Body: json.RawMessage(body)}
	if err := s.cache.Set(ctx, fingerprint, record, s.ttl); err != nil {
		s.logger.Warn("idempotency store failed", zap.String("key", fingerprint), zap.Error(err))
		return false
	}
	s.metrics.RecordIdempotency(IdempotencyStored)
	return true
}
