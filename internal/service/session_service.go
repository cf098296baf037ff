package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/athsys-api/internal/models"
	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
)

const (
	sessionKeyPrefix        = "session:"
	refreshPointerKeyPrefix = "refresh_jti:"
)

// SessionKey returns the cache key of a user's session record.
func SessionKey(userID int64) string {
	return fmt.Sprintf("%s%d", sessionKeyPrefix, userID)
}

// RefreshPointerKey returns the cache key of a user's current refresh token id.
func RefreshPointerKey(userID int64) string {
	return fmt.Sprintf("%s%d", refreshPointerKeyPrefix, userID)
}

type sessionCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SessionService keeps the server-side session records and refresh token pointers.
type SessionService struct {
	cache  sessionCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionService constructs a SessionService. ttl is the refresh token lifetime.
func NewSessionService(cache sessionCache, ttl time.Duration, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{cache: cache, ttl: ttl, logger: logger}
}

// TTL returns the session lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Create stores or replaces the session record for the user.
func (s *SessionService) Create(ctx context.Context, session *models.Session) error {
	session.Role = models.NormalizeRole(session.Role)
	if err := s.cache.Set(ctx, SessionKey(session.ID), session, s.ttl); err != nil {
		return fmt.Errorf("store session %d: %w", session.ID, err)
	}
	return nil
}

// Get loads the live session for a user. A missing record yields ErrSessionExpired.
func (s *SessionService) Get(ctx context.Context, userID int64) (*models.Session, error) {
	var session models.Session
	hit, err := s.cache.Get(ctx, SessionKey(userID), &session)
	if err != nil {
		s.logger.Warn("unreadable session record", zap.Int64("user_id", userID), zap.Error(err))
		return nil, appErrors.ErrSessionExpired
	}
	if !hit {
		return nil, appErrors.ErrSessionExpired
	}
	return &session, nil
}

// Delete removes the session record only. Outstanding refresh tokens stay usable.
func (s *SessionService) Delete(ctx context.Context, userID int64) error {
	return s.cache.Delete(ctx, SessionKey(userID))
}

// StoreRefreshJTI records jti as the only valid refresh token id for the user.
func (s *SessionService) StoreRefreshJTI(ctx context.Context, userID int64, jti string, ttl time.Duration) error {
	if err := s.cache.Set(ctx, RefreshPointerKey(userID), jti, ttl); err != nil {
		return fmt.Errorf("store refresh pointer %d: %w", userID, err)
	}
	return nil
}

// RefreshJTI returns the currently valid refresh token id, if any.
func (s *SessionService) RefreshJTI(ctx context.Context, userID int64) (string, bool, error) {
	var jti string
	hit, err := s.cache.Get(ctx, RefreshPointerKey(userID), &jti)
	if err != nil {
		return "", false, err
	}
	return jti, hit && jti != "", nil
}

// DeleteRefreshJTI invalidates every outstanding refresh token of the user.
func (s *SessionService) DeleteRefreshJTI(ctx context.Context, userID int64) error {
	return s.cache.Delete(ctx, RefreshPointerKey(userID))
}
