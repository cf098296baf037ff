package middleware

import (
	"net/http"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/athsys-api/pkg/middleware/apiversion"
	"github.com/noah-isme/athsys-api/pkg/middleware/requestid"
)

var responseTimePattern = regexp.MustCompile(`^\d+\.\d{2}ms$`)

func pipelineRouter(h *harness) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(Pipeline(PipelineConfig{APIPrefix: "/api/v1", DefaultVersion: "v1", LatestVersion: "v2"}, h.auth, h.idempotency))
	return router
}

func TestPipelineStampsHeaders(t *testing.T) {
	h := newHarness(t)
	router := pipelineRouter(h)
	router.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	router.DELETE("/api/v1/thing", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := serve(router, http.MethodGet, "/api/v1/ping", "", map[string]string{requestid.HeaderKey: "trace-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "trace-1", w.Header().Get(requestid.HeaderKey))
	assert.Equal(t, "v1", w.Header().Get(apiversion.HeaderVersion))
	assert.Equal(t, "v2", w.Header().Get(apiversion.HeaderLatest))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Regexp(t, responseTimePattern, w.Header().Get(HeaderResponseTime))

	empty := serve(router, http.MethodDelete, "/api/v1/thing", "", nil)
	require.Equal(t, http.StatusNoContent, empty.Code)
	assert.Regexp(t, responseTimePattern, empty.Header().Get(HeaderResponseTime))
	assert.NotEmpty(t, empty.Header().Get(requestid.HeaderKey))
}

func TestPipelineStampsRouteMisses(t *testing.T) {
	h := newHarness(t)
	router := pipelineRouter(h)

	w := serve(router, http.MethodGet, "/api/v1/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestid.HeaderKey))
	assert.Regexp(t, responseTimePattern, w.Header().Get(HeaderResponseTime))
}

func TestPipelineStoresWhenRouteHasNoGuard(t *testing.T) {
	h := newHarness(t)
	router := pipelineRouter(h)
	var calls int32
	router.POST("/api/v1/orders", Auth(h.auth, h.audit), func(c *gin.Context) {
		n := atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusCreated, gin.H{"order": n})
	})
	headers := map[string]string{"Authorization": h.bearer(t, "reg@athsys.io"), HeaderIdempotencyKey: "order-1"}

	first := serve(router, http.MethodPost, "/api/v1/orders", `{"sku":"x"}`, headers)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "order-1", first.Header().Get(HeaderIdempotencyEcho))
	assert.Empty(t, first.Header().Get(HeaderIdempotencyReplayed))

	second := serve(router, http.MethodPost, "/api/v1/orders", `{"sku":"x"}`, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderIdempotencyReplayed))
	assert.Equal(t, "order-1", second.Header().Get(HeaderIdempotencyEcho))
	assert.Regexp(t, responseTimePattern, second.Header().Get(HeaderResponseTime))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPipelineAndGuardStoreOnce(t *testing.T) {
	h := newHarness(t)
	router := pipelineRouter(h)
	var calls int32
	router.POST("/api/v1/athletes", Auth(h.auth, h.audit), Idempotency(h.idempotency), func(c *gin.Context) {
		n := atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusCreated, gin.H{"id": n})
	})
	headers := map[string]string{"Authorization": h.bearer(t, "admin@athsys.io"), HeaderIdempotencyKey: "a-1"}

	for i := 0; i < 3; i++ {
		w := serve(router, http.MethodPost, "/api/v1/athletes", `{"name":"A"}`, headers)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.JSONEq(t, `{"id":1}`, w.Body.String())
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	snapshot := h.metrics.Snapshot()
	assert.Equal(t, uint64(2), snapshot.IdempotentReplays)
	assert.Equal(t, uint64(1), snapshot.IdempotentStores)
}

func TestPipelineLeavesUncacheableResponseToGuard(t *testing.T) {
	h := newHarness(t)
	router := pipelineRouter(h)
	var calls int32
	router.POST("/api/v1/athletes", Idempotency(h.idempotency), func(c *gin.Context) {
		atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "bib taken"})
	})
	headers := map[string]string{HeaderIdempotencyKey: "bad-1"}

	serve(router, http.MethodPost, "/api/v1/athletes", `{"bib":"7"}`, headers)
	serve(router, http.MethodPost, "/api/v1/athletes", `{"bib":"7"}`, headers)

	snapshot := h.metrics.Snapshot()
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, uint64(2), snapshot.IdempotentSkips)
	assert.Zero(t, snapshot.IdempotentStores)
}

func TestPipelineIgnoresReadsAndForeignPaths(t *testing.T) {
	h := newHarness(t)
	router := pipelineRouter(h)
	var calls int32
	router.POST("/webhooks/inbound", func(c *gin.Context) {
		atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	headers := map[string]string{HeaderIdempotencyKey: "w-1"}
	serve(router, http.MethodPost, "/webhooks/inbound", `{}`, headers)
	serve(router, http.MethodPost, "/webhooks/inbound", `{}`, headers)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFeatureGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	flags := map[string]bool{"webhooks": false, "data_export": true}
	router := gin.New()
	router.GET("/export", FeatureGate(featureMap(flags), "data_export"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/hooks", FeatureGate(featureMap(flags), "webhooks"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/export", "", nil).Code)
	w := serve(router, http.MethodGet, "/hooks", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Feature webhooks is currently disabled")
}

type featureMap map[string]bool

func (f featureMap) IsEnabled(name string, userID *int64) bool {
	return f[name]
}
