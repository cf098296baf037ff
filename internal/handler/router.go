package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/athsys-api/internal/middleware"
	"github.com/noah-isme/athsys-api/internal/models"
	"github.com/noah-isme/athsys-api/internal/service"
	"github.com/noah-isme/athsys-api/pkg/config"
	"github.com/noah-isme/athsys-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/athsys-api/pkg/middleware/cors"
)

// Services bundles what the HTTP layer depends on.
type Services struct {
	Auth        *service.AuthService
	Athletes    *service.AthleteService
	Cache       *service.CacheService
	Flags       *service.FeatureFlagService
	Metrics     *service.MetricsService
	Limiter     *service.RateLimiter
	Idempotency *service.IdempotencyService
	Audit       middleware.AuditRecorder
}

// NewRouter builds the engine with the global middleware chain and every API route.
func NewRouter(cfg *config.Config, svc Services, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(svc.Metrics, "/metrics", "/health"))
	r.Use(corsmiddleware.New(corsmiddleware.Options{AllowedOrigins: cfg.CORS.AllowedOrigins, MaxAge: cfg.CORS.MaxAge}))
	r.Use(middleware.Pipeline(middleware.PipelineConfig{
		APIPrefix:      cfg.APIPrefix,
		DefaultVersion: cfg.Versioning.Default,
		LatestVersion:  cfg.Versioning.Latest,
	}, svc.Auth, svc.Idempotency))
	r.Use(middleware.AdminGate(cfg.AdminPrefix, svc.Auth, svc.Audit))

	metricsHandler := NewMetricsHandler(svc.Metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	authHandler := NewAuthHandler(svc.Auth)
	athleteHandler := NewAthleteHandler(svc.Athletes)
	adminHandler := NewAdminHandler(svc.Auth, svc.Cache, svc.Flags)

	rateLimit := func(class string) gin.HandlerFunc {
		return middleware.RateLimit(svc.Limiter, cfg.Rule(class), svc.Metrics, svc.Audit)
	}
	authed := func(roles ...string) gin.HandlerFunc {
		return middleware.Auth(svc.Auth, svc.Audit, roles...)
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		auth.POST("/login", rateLimit(config.RateLimitLogin), authHandler.Login)
		auth.POST("/refresh", rateLimit(config.RateLimitRefresh), authHandler.Refresh)
		auth.POST("/logout", authed(), authHandler.Logout)
		auth.GET("/me", authed(), authHandler.Me)

		athletes := api.Group("/athletes")
		athletes.GET("", middleware.WithResponseMeta(), authed(), rateLimit(config.RateLimitAPI), athleteHandler.List)
		athletes.GET("/export", authed(), middleware.FeatureGate(svc.Flags, "data_export"), rateLimit(config.RateLimitAPI), athleteHandler.Export)
		athletes.GET("/:id", authed(), rateLimit(config.RateLimitAPI), athleteHandler.Get)
		athletes.POST("",
			rateLimit(config.RateLimitWrite),
			authed(models.RoleAdmin, models.RoleRegistrar),
			middleware.Idempotency(svc.Idempotency),
			athleteHandler.Create,
		)
	}

	// AdminGate already enforces the admin role for this group.
	admin := r.Group(cfg.AdminPrefix)
	{
		admin.DELETE("/sessions/:id", adminHandler.RevokeSession)
		admin.DELETE("/cache", middleware.Audit(svc.Audit, models.AuditActionDelete, "cache"), adminHandler.ClearCache)
		admin.GET("/features", adminHandler.ListFeatures)
		admin.PUT("/features/:name", middleware.Audit(svc.Audit, models.AuditActionUpdate, "feature"), adminHandler.UpdateFeature)
		admin.GET("/metrics", middleware.FeatureGate(svc.Flags, "admin_dashboard"), metricsHandler.Snapshot)
	}

	return r
}
