package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/athsys-api/internal/models"
	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
)

// TokenConfig defines signing parameters and lifetimes.
type TokenConfig struct {
	Secret     string
	Algorithm  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type refreshPointerStore interface {
	StoreRefreshJTI(ctx context.Context, userID int64, jti string, ttl time.Duration) error
}

// TokenService issues and verifies access and refresh tokens.
type TokenService struct {
	config   TokenConfig
	method   jwt.SigningMethod
	pointers refreshPointerStore
	now      func() time.Time
}

// NewTokenService constructs a TokenService. Only HMAC algorithms are accepted.
func NewTokenService(config TokenConfig, pointers refreshPointerStore) (*TokenService, error) {
	if config.Algorithm == "" {
		config.Algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(config.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", config.Algorithm)
	}
	if config.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if config.AccessTTL <= 0 {
		config.AccessTTL = time.Hour
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = 7 * 24 * time.Hour
	}
	return &TokenService{config: config, method: method, pointers: pointers, now: time.Now}, nil
}

// WithClock overrides the time source used for issuing and verifying.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// AccessTTL returns the access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.config.AccessTTL
}

// Issue signs a fresh access and refresh token for the session and makes the
// new refresh token the only valid one for the user.
func (s *TokenService) Issue(ctx context.Context, session *models.Session) (*models.TokenPair, error) {
	issuedAt := s.now().UTC()
	subject := strconv.FormatInt(session.ID, 10)

	access := &models.TokenClaims{
		Type:  models.TokenTypeAccess,
		Role:  models.NormalizeRole(session.Role),
		Email: session.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTTL)),
		},
	}
	accessToken, err := s.sign(access)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	jti := uuid.NewString()
	refresh := &models.TokenClaims{
		Type: models.TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.RefreshTTL)),
		},
	}
	refreshToken, err := s.sign(refresh)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	if err := s.pointers.StoreRefreshJTI(ctx, session.ID, jti, s.config.RefreshTTL); err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.config.AccessTTL.Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// Verify parses the token and checks signature, expiry and type.
func (s *TokenService) Verify(tokenString string, expected models.TokenType) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.Secret), nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.ErrTokenExpired
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTokenInvalid.Code, appErrors.ErrTokenInvalid.Status, appErrors.ErrTokenInvalid.Message)
	}
	if claims.Type != expected {
		return nil, appErrors.ErrTokenInvalid
	}
	if _, err := UserIDFromClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// UserIDFromClaims decodes the numeric user id carried in the subject.
func UserIDFromClaims(claims *models.TokenClaims) (int64, error) {
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrTokenInvalid.Code, appErrors.ErrTokenInvalid.Status, appErrors.ErrTokenInvalid.Message)
	}
	return id, nil
}

func (s *TokenService) sign(claims *models.TokenClaims) (string, error) {
	return jwt.NewWithClaims(s.method, claims).SignedString([]byte(s.config.Secret))
}
