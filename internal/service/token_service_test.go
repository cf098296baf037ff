package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/athsys-api/internal/models"
	"github.com/noah-isme/athsys-api/internal/repository"
	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
)

const testSecret = "test-secret-with-enough-entropy"

func newMemoryCache(t *testing.T) *CacheService {
	t.Helper()
	return NewCacheService(repository.NewCacheRepository(nil, nil, nil), nil, time.Minute, nil)
}

func newTestTokens(t *testing.T, cfg TokenConfig) (*TokenService, *SessionService) {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = testSecret
	}
	sessions := NewSessionService(newMemoryCache(t), 7*24*time.Hour, nil)
	tokens, err := NewTokenService(cfg, sessions)
	require.NoError(t, err)
	return tokens, sessions
}

func TestIssueThenVerifyRoundTrip(t *testing.T) {
	cases := []struct {
		role     string
		access   time.Duration
		refresh  time.Duration
		alg      string
		wantRole string
	}{
		{role: "admin", access: time.Hour, refresh: 7 * 24 * time.Hour, alg: "HS256", wantRole: "admin"},
		{role: " Registrar ", access: time.Minute, refresh: time.Hour, alg: "HS384", wantRole: "registrar"},
		{role: "COACH", access: 15 * time.Minute, refresh: 24 * time.Hour, alg: "HS512", wantRole: "coach"},
		{role: "viewer", access: time.Second * 30, refresh: time.Minute, alg: "", wantRole: "viewer"},
	}

	for _, tc := range cases {
		t.Run(tc.wantRole, func(t *testing.T) {
			tokens, sessions := newTestTokens(t, TokenConfig{Algorithm: tc.alg, AccessTTL: tc.access, RefreshTTL: tc.refresh})
			session := &models.Session{ID: 42, Role: tc.role, Email: "runner@athsys.io"}

			pair, err := tokens.Issue(context.Background(), session)
			require.NoError(t, err)
			assert.Equal(t, int64(tc.access.Seconds()), pair.ExpiresIn)

			access, err := tokens.Verify(pair.AccessToken, models.TokenTypeAccess)
			require.NoError(t, err)
			assert.Equal(t, "42", access.Subject)
			assert.Equal(t, tc.wantRole, access.Role)
			assert.Equal(t, models.TokenTypeAccess, access.Type)

			refresh, err := tokens.Verify(pair.RefreshToken, models.TokenTypeRefresh)
			require.NoError(t, err)
			assert.Equal(t, "42", refresh.Subject)
			assert.Equal(t, models.TokenTypeRefresh, refresh.Type)

			jti, ok, err := sessions.RefreshJTI(context.Background(), 42)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, refresh.ID, jti)
		})
	}
}

func TestVerifyExpiredTokenReportsExpired(t *testing.T) {
	tokens, _ := newTestTokens(t, TokenConfig{AccessTTL: time.Hour})
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tokens.WithClock(func() time.Time { return issued })

	pair, err := tokens.Issue(context.Background(), &models.Session{ID: 1, Role: "admin"})
	require.NoError(t, err)

	tokens.WithClock(func() time.Time { return issued.Add(time.Hour + time.Second) })
	_, err = tokens.Verify(pair.AccessToken, models.TokenTypeAccess)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrTokenExpired))
	assert.False(t, errors.Is(err, appErrors.ErrTokenInvalid))
}

func TestVerifyRejectsWrongType(t *testing.T) {
	tokens, _ := newTestTokens(t, TokenConfig{})
	pair, err := tokens.Issue(context.Background(), &models.Session{ID: 3, Role: "coach"})
	require.NoError(t, err)

	_, err = tokens.Verify(pair.RefreshToken, models.TokenTypeAccess)
	assert.True(t, errors.Is(err, appErrors.ErrTokenInvalid))

	_, err = tokens.Verify(pair.AccessToken, models.TokenTypeRefresh)
	assert.True(t, errors.Is(err, appErrors.ErrTokenInvalid))
}

func TestVerifyRejectsForeignSignatureAndAlgorithm(t *testing.T) {
	tokens, _ := newTestTokens(t, TokenConfig{})
	other, _ := newTestTokens(t, TokenConfig{Secret: "another-secret"})

	pair, err := other.Issue(context.Background(), &models.Session{ID: 3, Role: "coach"})
	require.NoError(t, err)
	_, err = tokens.Verify(pair.AccessToken, models.TokenTypeAccess)
	assert.True(t, errors.Is(err, appErrors.ErrTokenInvalid))

	claims := &models.TokenClaims{Type: models.TokenTypeAccess, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "3",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = tokens.Verify(hs512, models.TokenTypeAccess)
	assert.True(t, errors.Is(err, appErrors.ErrTokenInvalid))

	_, err = tokens.Verify("not-a-jwt", models.TokenTypeAccess)
	assert.True(t, errors.Is(err, appErrors.ErrTokenInvalid))
}

func TestSecondIssueRotatesRefreshPointer(t *testing.T) {
	tokens, sessions := newTestTokens(t, TokenConfig{})
	session := &models.Session{ID: 8, Role: "registrar"}

	first, err := tokens.Issue(context.Background(), session)
	require.NoError(t, err)
	second, err := tokens.Issue(context.Background(), session)
	require.NoError(t, err)

	firstClaims, err := tokens.Verify(first.RefreshToken, models.TokenTypeRefresh)
	require.NoError(t, err)
	secondClaims, err := tokens.Verify(second.RefreshToken, models.TokenTypeRefresh)
	require.NoError(t, err)

	current, ok, err := sessions.RefreshJTI(context.Background(), 8)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, secondClaims.ID, current)
	assert.NotEqual(t, firstClaims.ID, current)
}

func TestNewTokenServiceRejectsNonHMAC(t *testing.T) {
	_, err := NewTokenService(TokenConfig{Secret: testSecret, Algorithm: "RS256"}, nil)
	assert.Error(t, err)

	_, err = NewTokenService(TokenConfig{Algorithm: "HS256"}, nil)
	assert.Error(t, err)
}
