package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/athsys-api/internal/middleware"
	"github.com/noah-isme/athsys-api/internal/models"
	"github.com/noah-isme/athsys-api/internal/repository"
	"github.com/noah-isme/athsys-api/internal/service"
	"github.com/noah-isme/athsys-api/pkg/config"
)

const testPassword = "Password123!"

type memoryUsers struct {
	users map[int64]*models.User
}

func (m *memoryUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryUsers) FindByID(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memoryUsers) UpdateLastLogin(ctx context.Context, id int64, ts time.Time) error {
	return nil
}

type memoryAthletes struct {
	mu       sync.Mutex
	athletes []models.Athlete
	creates  int
}

func (m *memoryAthletes) List(ctx context.Context, filter models.AthleteFilter) ([]models.Athlete, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Athlete(nil), m.athletes...), len(m.athletes), nil
}

func (m *memoryAthletes) FindByID(ctx context.Context, id int64) (*models.Athlete, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.athletes {
		if m.athletes[i].ID == id {
			a := m.athletes[i]
			return &a, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryAthletes) ExistsByBib(ctx context.Context, bib string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.athletes {
		if a.BibNumber != nil && *a.BibNumber == bib {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryAthletes) Create(ctx context.Context, athlete *models.Athlete) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	athlete.ID = int64(len(m.athletes) + 1)
	athlete.CreatedAt = time.Now().UTC()
	athlete.UpdatedAt = athlete.CreatedAt
	m.athletes = append(m.athletes, *athlete)
	return nil
}

type auditEntries struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (a *auditEntries) Record(entry *models.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *auditEntries) has(action string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

type apiFixture struct {
	router   *gin.Engine
	athletes *memoryAthletes
	audit    *auditEntries
	logs     *observer.ObservedLogs
}

func testConfig() *config.Config {
	return &config.Config{
		Env:         config.EnvDevelopment,
		APIPrefix:   "/api/v1",
		AdminPrefix: "/api/v1/admin",
		Versioning:  config.VersioningConfig{Default: "v1", Latest: "v1"},
		RateLimits: map[string]config.RateLimitRule{
			config.RateLimitLogin:   {Name: config.RateLimitLogin, MaxRequests: 5, Window: 30 * time.Minute},
			config.RateLimitRefresh: {Name: config.RateLimitRefresh, MaxRequests: 30, Window: time.Hour},
			config.RateLimitAPI:     {Name: config.RateLimitAPI, MaxRequests: 100, Window: time.Hour},
			config.RateLimitWrite:   {Name: config.RateLimitWrite, MaxRequests: 60, Window: time.Hour},
		},
	}
}

func newAPIFixture(t *testing.T, cfg *config.Config) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	users := &memoryUsers{users: map[int64]*models.User{
		1: {ID: 1, Name: "Admin", Email: "admin@athsys.io", PasswordHash: string(hash), Role: models.RoleAdmin, Status: models.UserStatusActive},
		2: {ID: 2, Name: "Registrar", Email: "reg@athsys.io", PasswordHash: string(hash), Role: models.RoleRegistrar, Status: models.UserStatusActive},
		3: {ID: 3, Name: "Coach", Email: "coach@athsys.io", PasswordHash: string(hash), Role: models.RoleCoach, Status: models.UserStatusActive},
	}}

	validate := validator.New()
	metrics := service.NewMetricsService()
	cache := service.NewCacheService(repository.NewCacheRepository(nil, nil, nil), metrics, time.Minute, nil)
	sessions := service.NewSessionService(cache, 7*24*time.Hour, nil)
	tokens, err := service.NewTokenService(service.TokenConfig{Secret: "handler-test-secret-0123456789abcdef", AccessTTL: time.Hour}, sessions)
	require.NoError(t, err)
	audit := &auditEntries{}
	athletes := &memoryAthletes{}

	svc := Services{
		Auth:        service.NewAuthService(users, tokens, sessions, audit, metrics, validate, nil),
		Athletes:    service.NewAthleteService(athletes, cache, time.Minute, audit, metrics, validate, nil),
		Cache:       cache,
		Flags:       service.NewFeatureFlagService(service.DefaultFeatures(), validate, nil),
		Metrics:     metrics,
		Limiter:     service.NewRateLimiter(cache, nil),
		Idempotency: service.NewIdempotencyService(cache, 10*time.Minute, metrics, nil),
		Audit:       audit,
	}
	core, logs := observer.New(zapcore.InfoLevel)
	return &apiFixture{router: NewRouter(cfg, svc, zap.New(core)), athletes: athletes, audit: audit, logs: logs}
}

func (f *apiFixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
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
	f.router.ServeHTTP(w, req)
	return w
}

type tokenEnvelope struct {
	Data models.LoginResponse `json:"data"`
}

func (f *apiFixture) login(t *testing.T, email string) models.LoginResponse {
	t.Helper()
	w := f.do(http.MethodPost, "/api/v1/auth/login", `{"email":"`+email+`","password":"`+testPassword+`"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var env tokenEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Data
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestSessionLifecycle(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	tokens := f.login(t, "reg@athsys.io")
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int64(3600), tokens.ExpiresIn)

	me := f.do(http.MethodGet, "/api/v1/auth/me", "", bearer(tokens.AccessToken))
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"email":"reg@athsys.io"`)

	logout := f.do(http.MethodPost, "/api/v1/auth/logout", "", bearer(tokens.AccessToken))
	require.Equal(t, http.StatusNoContent, logout.Code)
	assert.Regexp(t, `^\d+\.\d{2}ms$`, logout.Header().Get(middleware.HeaderResponseTime))

	after := f.do(http.MethodGet, "/api/v1/auth/me", "", bearer(tokens.AccessToken))
	require.Equal(t, http.StatusUnauthorized, after.Code)
	assert.JSONEq(t, `{"error":"session has expired","code":"SESSION_EXPIRED"}`, after.Body.String())

	refresh := f.do(http.MethodPost, "/api/v1/auth/refresh", `{"refresh_token":"`+tokens.RefreshToken+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, refresh.Code)

	assert.True(t, f.audit.has(models.AuditActionLogin))
	assert.True(t, f.audit.has(models.AuditActionLogout))
}

func TestRefreshRotation(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	first := f.login(t, "admin@athsys.io")

	w := f.do(http.MethodPost, "/api/v1/auth/refresh", `{"refresh_token":"`+first.RefreshToken+`"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var env tokenEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.NotEqual(t, first.RefreshToken, env.Data.RefreshToken)

	replayed := f.do(http.MethodPost, "/api/v1/auth/refresh", `{"refresh_token":"`+first.RefreshToken+`"}`, nil)
	require.Equal(t, http.StatusUnauthorized, replayed.Code)
	assert.Contains(t, replayed.Body.String(), "refresh token has been revoked")

	me := f.do(http.MethodGet, "/api/v1/auth/me", "", bearer(env.Data.AccessToken))
	assert.Equal(t, http.StatusOK, me.Code)
}

func TestLoginErrors(t *testing.T) {
	f := newAPIFixture(t, testConfig())

	w := f.do(http.MethodPost, "/api/v1/auth/login", `{"email":"admin@athsys.io","password":"nope"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.True(t, f.audit.has(models.AuditActionLoginFailed))

	w = f.do(http.MethodPost, "/api/v1/auth/login", `{"email":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginIsRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimits[config.RateLimitLogin] = config.RateLimitRule{Name: config.RateLimitLogin, MaxRequests: 2, Window: 30 * time.Minute}
	f := newAPIFixture(t, cfg)

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodPost, "/api/v1/auth/login", `{"email":"admin@athsys.io","password":"nope"}`, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := f.do(http.MethodPost, "/api/v1/auth/login", `{"email":"admin@athsys.io","password":"`+testPassword+`"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"Rate limit exceeded","retry_after":1800}`, w.Body.String())
	assert.Equal(t, "1800", w.Header().Get(middleware.HeaderRetryAfter))
}

func TestAthleteCreateIsIdempotent(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	tokens := f.login(t, "reg@athsys.io")
	headers := bearer(tokens.AccessToken)
	headers[middleware.HeaderIdempotencyKey] = "athlete-7"
	payload := `{"name":"Faith Kipyegon","country":"KEN","gender":"female","bib_number":"7"}`

	first := f.do(http.MethodPost, "/api/v1/athletes", payload, headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := f.do(http.MethodPost, "/api/v1/athletes", payload, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(middleware.HeaderIdempotencyReplayed))
	assert.Equal(t, 1, f.athletes.creates)

	// a new key runs the handler, which now sees the taken bib
	headers[middleware.HeaderIdempotencyKey] = "athlete-8"
	third := f.do(http.MethodPost, "/api/v1/athletes", payload, headers)
	assert.Equal(t, http.StatusConflict, third.Code)
}

func TestReplayPassesThroughOuterMiddleware(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	tokens := f.login(t, "reg@athsys.io")
	headers := bearer(tokens.AccessToken)
	headers[middleware.HeaderIdempotencyKey] = "athlete-cors"
	headers["Origin"] = "https://app.example"
	payload := `{"name":"Beatrice Chebet","country":"KEN"}`

	first := f.do(http.MethodPost, "/api/v1/athletes", payload, headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Equal(t, "https://app.example", first.Header().Get("Access-Control-Allow-Origin"))

	second := f.do(http.MethodPost, "/api/v1/athletes", payload, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(middleware.HeaderIdempotencyReplayed))
	assert.Equal(t, "https://app.example", second.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, second.Header().Get("Access-Control-Expose-Headers"), middleware.HeaderIdempotencyReplayed)
	assert.Equal(t, 1, f.athletes.creates)

	replays := f.logs.FilterMessage("http_request").FilterField(zap.Bool("idempotent_replay", true))
	assert.Equal(t, 1, replays.Len())

	prom := f.do(http.MethodGet, "/metrics", "", nil)
	assert.Contains(t, prom.Body.String(), `http_requests_total{method="POST",path="/api/v1/athletes",status="201"} 2`)
}

func TestAthleteRoutes(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	coach := f.login(t, "coach@athsys.io")
	reg := f.login(t, "reg@athsys.io")

	denied := f.do(http.MethodPost, "/api/v1/athletes", `{"name":"A","country":"KEN"}`, bearer(coach.AccessToken))
	assert.Equal(t, http.StatusForbidden, denied.Code)
	assert.True(t, f.audit.has(models.AuditActionPermissionDenied))

	invalid := f.do(http.MethodPost, "/api/v1/athletes", `{"name":"A","country":"KENYA"}`, bearer(reg.AccessToken))
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	created := f.do(http.MethodPost, "/api/v1/athletes", `{"name":"Jakob Ingebrigtsen","country":"nor"}`, bearer(reg.AccessToken))
	require.Equal(t, http.StatusCreated, created.Code)

	list := f.do(http.MethodGet, "/api/v1/athletes?page=1&page_size=10", "", bearer(coach.AccessToken))
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), `"cache_hit":false`)
	assert.Contains(t, list.Body.String(), `"request_id":"`+list.Header().Get("X-Request-ID")+`"`)
	assert.Equal(t, "MISS", list.Header().Get("X-Cache"))
	cached := f.do(http.MethodGet, "/api/v1/athletes?page=1&page_size=10", "", bearer(coach.AccessToken))
	assert.Contains(t, cached.Body.String(), `"cache_hit":true`)
	assert.Equal(t, "HIT", cached.Header().Get("X-Cache"))
	assert.Contains(t, cached.Body.String(), `"country":"NOR"`)

	got := f.do(http.MethodGet, "/api/v1/athletes/1", "", bearer(coach.AccessToken))
	assert.Equal(t, http.StatusOK, got.Code)
	missing := f.do(http.MethodGet, "/api/v1/athletes/99", "", bearer(coach.AccessToken))
	assert.Equal(t, http.StatusNotFound, missing.Code)
	badID := f.do(http.MethodGet, "/api/v1/athletes/abc", "", bearer(coach.AccessToken))
	assert.Equal(t, http.StatusBadRequest, badID.Code)
}

func TestAthleteExport(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	reg := f.login(t, "reg@athsys.io")
	admin := f.login(t, "admin@athsys.io")
	created := f.do(http.MethodPost, "/api/v1/athletes", `{"name":"Doe, Jane","country":"USA","club":"Oregon TC"}`, bearer(reg.AccessToken))
	require.Equal(t, http.StatusCreated, created.Code)

	w := f.do(http.MethodGet, "/api/v1/athletes/export", "", bearer(reg.AccessToken))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=\"athletes_")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,name,country,gender,club,bib_number,created_at", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `1,"Doe, Jane",USA,,Oregon TC,,`))

	off := f.do(http.MethodPut, "/api/v1/admin/features/data_export", `{"status":"disabled"}`, bearer(admin.AccessToken))
	require.Equal(t, http.StatusOK, off.Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/v1/athletes/export", "", bearer(reg.AccessToken)).Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	admin := f.login(t, "admin@athsys.io")
	reg := f.login(t, "reg@athsys.io")

	forbidden := f.do(http.MethodGet, "/api/v1/admin/features", "", bearer(reg.AccessToken))
	assert.Equal(t, http.StatusForbidden, forbidden.Code)
	assert.JSONEq(t, `{"error":"insufficient permissions","code":"INSUFFICIENT_PERMISSIONS"}`, forbidden.Body.String())

	features := f.do(http.MethodGet, "/api/v1/admin/features", "", bearer(admin.AccessToken))
	require.Equal(t, http.StatusOK, features.Code)
	assert.Contains(t, features.Body.String(), `"name":"webhooks"`)

	updated := f.do(http.MethodPut, "/api/v1/admin/features/webhooks", `{"status":"enabled"}`, bearer(admin.AccessToken))
	require.Equal(t, http.StatusOK, updated.Code)
	assert.Contains(t, updated.Body.String(), `"status":"enabled"`)
	assert.True(t, f.audit.has(models.AuditActionUpdate))
	unknown := f.do(http.MethodPut, "/api/v1/admin/features/nope", `{"status":"enabled"}`, bearer(admin.AccessToken))
	assert.Equal(t, http.StatusNotFound, unknown.Code)

	metrics := f.do(http.MethodGet, "/api/v1/admin/metrics", "", bearer(admin.AccessToken))
	assert.Equal(t, http.StatusOK, metrics.Code)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/api/v1/admin/cache?pattern=session:*", "", bearer(admin.AccessToken)).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodDelete, "/api/v1/admin/cache?pattern=cache:athletes:*", "", bearer(admin.AccessToken)).Code)
	badPattern := f.do(http.MethodDelete, "/api/v1/admin/cache?pattern=cache:%5B", "", bearer(admin.AccessToken))
	assert.Equal(t, http.StatusBadRequest, badPattern.Code)
	assert.Contains(t, badPattern.Body.String(), "invalid pattern")

	revoked := f.do(http.MethodDelete, "/api/v1/admin/sessions/2", "", bearer(admin.AccessToken))
	require.Equal(t, http.StatusNoContent, revoked.Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/auth/me", "", bearer(reg.AccessToken)).Code)
	assert.True(t, f.audit.has(models.AuditActionSessionRevoked))

	// revocation keeps the refresh pointer: the user can reopen a session
	refresh := f.do(http.MethodPost, "/api/v1/auth/refresh", `{"refresh_token":"`+reg.RefreshToken+`"}`, nil)
	assert.Equal(t, http.StatusOK, refresh.Code)
}

func TestAdminMetricsBehindFeatureFlag(t *testing.T) {
	f := newAPIFixture(t, testConfig())
	admin := f.login(t, "admin@athsys.io")

	off := f.do(http.MethodPut, "/api/v1/admin/features/admin_dashboard", `{"status":"disabled"}`, bearer(admin.AccessToken))
	require.Equal(t, http.StatusOK, off.Code)

	w := f.do(http.MethodGet, "/api/v1/admin/metrics", "", bearer(admin.AccessToken))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Feature admin_dashboard is currently disabled")
}

func TestHealthAndPrometheus(t *testing.T) {
	f := newAPIFixture(t, testConfig())

	health := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Equal(t, "nosniff", health.Header().Get("X-Content-Type-Options"))

	f.do(http.MethodGet, "/api/v1/athletes", "", nil)
	f.do(http.MethodGet, "/nowhere/1234", "", nil)

	prom := f.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, prom.Code)
	body := prom.Body.String()
	assert.Contains(t, body, "http_requests_total")
	assert.Contains(t, body, `path="/api/v1/athletes"`)
	assert.Contains(t, body, `path="unmatched"`)
	assert.NotContains(t, body, `path="/health"`)
}
