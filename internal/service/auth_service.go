package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/athsys-api/internal/models"
	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id int64, ts time.Time) error
}

type auditRecorder interface {
	Record(entry *models.AuditLog)
}

// AuthService provides authentication use cases and the request guard.
type AuthService struct {
	users     authUserRepository
	tokens    *TokenService
	sessions  *SessionService
	audit     auditRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, tokens *TokenService, sessions *SessionService, audit auditRecorder, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		sessions:  sessions,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Login authenticates a user, creates the session record and issues tokens.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	meta := models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}

	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordLoginFailure(nil, req.Email, "unknown email", meta)
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordLoginFailure(&user.ID, req.Email, "invalid password", meta)
		return nil, appErrors.ErrInvalidCredentials
	}

	if !user.Active() {
		s.recordLoginFailure(&user.ID, req.Email, "account "+string(user.Status), meta)
		return nil, appErrors.ErrInactiveAccount
	}

	session := models.NewSession(user)
	pair, err := s.openSession(ctx, session)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	s.record(&models.AuditLog{
		UserID:    &user.ID,
		Action:    models.AuditActionLogin,
		Resource:  "auth",
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})

	return &models.LoginResponse{TokenPair: *pair, User: session, IssuedAt: s.now().UTC()}, nil
}

// Refresh exchanges the current refresh token for a new pair. Any previously
// issued refresh token for the user stops working.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	claims, err := s.tokens.Verify(req.RefreshToken, models.TokenTypeRefresh)
	if err != nil {
		s.metrics.RecordAuthFailure(appErrors.FromError(err).Code)
		return nil, err
	}
	userID, err := UserIDFromClaims(claims)
	if err != nil {
		return nil, err
	}

	current, ok, err := s.sessions.RefreshJTI(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh pointer")
	}
	if !ok || current != claims.ID {
		s.metrics.RecordAuthFailure(appErrors.ErrTokenInvalid.Code)
		return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "refresh token has been revoked")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrTokenInvalid, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active() {
		return nil, appErrors.ErrInactiveAccount
	}

	session := models.NewSession(user)
	pair, err := s.openSession(ctx, session)
	if err != nil {
		return nil, err
	}

	s.record(&models.AuditLog{
		UserID:    &user.ID,
		Action:    models.AuditActionTokenRefresh,
		Resource:  "auth",
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})

	return &models.LoginResponse{TokenPair: *pair, User: session, IssuedAt: s.now().UTC()}, nil
}

// Logout removes the session record and the refresh pointer so neither the
// access token nor the refresh token can be used again.
func (s *AuthService) Logout(ctx context.Context, session *models.Session, meta models.RequestMeta) error {
	if err := s.sessions.Delete(ctx, session.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}
	if err := s.sessions.DeleteRefreshJTI(ctx, session.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}

	s.record(&models.AuditLog{
		UserID:    &session.ID,
		Action:    models.AuditActionLogout,
		Resource:  "auth",
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// RevokeSession deletes another user's session record. Their access tokens stop
// working on the next request.
func (s *AuthService) RevokeSession(ctx context.Context, userID int64, actor *models.Session, meta models.RequestMeta) error {
	if err := s.sessions.Delete(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke session")
	}

	target := strconv.FormatInt(userID, 10)
	entry := &models.AuditLog{
		Action:     models.AuditActionSessionRevoked,
		Resource:   "session",
		ResourceID: &target,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if actor != nil {
		entry.UserID = &actor.ID
	}
	s.record(entry)
	return nil
}

// Authenticate validates the Authorization header value and returns the live
// session. When roles are given the session role must match one of them.
func (s *AuthService) Authenticate(ctx context.Context, authorization string, roles ...string) (*models.Session, error) {
	session, err := s.authenticate(ctx, authorization, roles...)
	if err != nil {
		s.metrics.RecordAuthFailure(appErrors.FromError(err).Code)
		return nil, err
	}
	return session, nil
}

// Identify resolves the live session behind the header without role checks or
// failure accounting.
func (s *AuthService) Identify(ctx context.Context, authorization string) (*models.Session, error) {
	return s.authenticate(ctx, authorization)
}

func (s *AuthService) authenticate(ctx context.Context, authorization string, roles ...string) (*models.Session, error) {
	token, ok := ExtractBearerToken(authorization)
	if !ok {
		return nil, appErrors.ErrAuthHeaderMissing
	}

	claims, err := s.tokens.Verify(token, models.TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	userID, err := UserIDFromClaims(claims)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !session.HasRole(roles...) {
		return session, appErrors.ErrInsufficientPermissions
	}
	return session, nil
}

// ExtractBearerToken returns the token of a "Bearer <token>" header value.
func ExtractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func (s *AuthService) openSession(ctx context.Context, session *models.Session) (*models.TokenPair, error) {
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	pair, err := s.tokens.Issue(ctx, session)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}
	return pair, nil
}

func (s *AuthService) recordLoginFailure(userID *int64, email, reason string, meta models.RequestMeta) {
	s.metrics.RecordAuthFailure(appErrors.ErrInvalidCredentials.Code)
	s.record(&models.AuditLog{
		UserID:    userID,
		Action:    models.AuditActionLoginFailed,
		Resource:  "auth",
		Details:   AuditDetails(map[string]interface{}{"email": email, "reason": reason}),
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Status:    models.AuditStatusFailure,
	})
}

func (s *AuthService) record(entry *models.AuditLog) {
	if s.audit == nil {
		return
	}
	s.audit.Record(entry)
}
