package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/athsys-api/internal/models"
	"github.com/noah-isme/athsys-api/internal/repository"
	"github.com/noah-isme/athsys-api/internal/service"
)

const harnessPassword = "Password123!"

type userStub struct {
	users map[int64]*models.User
}

func (u *userStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range u.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (u *userStub) FindByID(ctx context.Context, id int64) (*models.User, error) {
	if user, ok := u.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (u *userStub) UpdateLastLogin(ctx context.Context, id int64, ts time.Time) error {
	return nil
}

type auditSink struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (a *auditSink) Record(entry *models.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *auditSink) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type harness struct {
	auth        *service.AuthService
	sessions    *service.SessionService
	idempotency *service.IdempotencyService
	limiter     *service.RateLimiter
	metrics     *service.MetricsService
	audit       *auditSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte(harnessPassword), bcrypt.MinCost)
	require.NoError(t, err)
	users := &userStub{users: map[int64]*models.User{
		1: {ID: 1, Name: "Admin", Email: "admin@athsys.io", PasswordHash: string(hash), Role: models.RoleAdmin, Status: models.UserStatusActive},
		2: {ID: 2, Name: "Reg", Email: "reg@athsys.io", PasswordHash: string(hash), Role: models.RoleRegistrar, Status: models.UserStatusActive},
	}}

	cache := service.NewCacheService(repository.NewCacheRepository(nil, nil, nil), nil, time.Minute, nil)
	metrics := service.NewMetricsService()
	sessions := service.NewSessionService(cache, 7*24*time.Hour, nil)
	tokens, err := service.NewTokenService(service.TokenConfig{Secret: "middleware-test-secret-0123456789abcdef"}, sessions)
	require.NoError(t, err)
	audit := &auditSink{}

	return &harness{
		auth:        service.NewAuthService(users, tokens, sessions, audit, metrics, validator.New(), nil),
		sessions:    sessions,
		idempotency: service.NewIdempotencyService(cache, time.Minute, metrics, nil),
		limiter:     service.NewRateLimiter(cache, nil),
		metrics:     metrics,
		audit:       audit,
	}
}

// bearer logs the user in and returns the Authorization header value.
func (h *harness) bearer(t *testing.T, email string) string {
	t.Helper()
	resp, err := h.auth.Login(context.Background(), models.LoginRequest{Email: email, Password: harnessPassword})
	require.NoError(t, err)
	return "Bearer " + resp.AccessToken
}

func serve(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
