package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/athsys-api/api/swagger"
	"github.com/noah-isme/athsys-api/internal/handler"
	"github.com/noah-isme/athsys-api/internal/repository"
	"github.com/noah-isme/athsys-api/internal/service"
	"github.com/noah-isme/athsys-api/pkg/cache"
	"github.com/noah-isme/athsys-api/pkg/config"
	"github.com/noah-isme/athsys-api/pkg/database"
	"github.com/noah-isme/athsys-api/pkg/jobs"
	"github.com/noah-isme/athsys-api/pkg/logger"
)

// @title AthSys API
// @version 1.0.0
// @description Athletics management API: authentication, sessions, rate limiting and idempotent writes
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, using in-memory store", zap.Error(err))
			redisClient = nil
		}
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	memory := cache.NewMemoryStore()
	go memory.RunJanitor(janitorCtx, cfg.Cache.JanitorInterval)

	cacheRepo := repository.NewCacheRepository(redisClient, memory, logr)
	defer cacheRepo.Close() //nolint:errcheck

	validate := validator.New()
	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.ListTTL, logr)

	auditSvc := service.NewAuditService(repository.NewAuditRepository(db), jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		Logger:     logr,
	}, logr)
	auditSvc.Start(context.Background())

	sessions := service.NewSessionService(cacheSvc, cfg.JWT.RefreshExpiration, logr)
	tokens, err := service.NewTokenService(service.TokenConfig{
		Secret:     cfg.JWT.Secret,
		Algorithm:  cfg.JWT.Algorithm,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.Expiration,
		RefreshTTL: cfg.JWT.RefreshExpiration,
	}, sessions)
	if err != nil {
		logr.Fatal("invalid jwt configuration", zap.Error(err))
	}

	svc := handler.Services{
		Auth:        service.NewAuthService(repository.NewUserRepository(db), tokens, sessions, auditSvc, metrics, validate, logr),
		Athletes:    service.NewAthleteService(repository.NewAthleteRepository(db), cacheSvc, cfg.Cache.ListTTL, auditSvc, metrics, validate, logr),
		Cache:       cacheSvc,
		Flags:       service.NewFeatureFlagService(service.DefaultFeatures(), validate, logr),
		Metrics:     metrics,
		Limiter:     service.NewRateLimiter(cacheSvc, logr),
		Idempotency: service.NewIdempotencyService(cacheSvc, cfg.Idempotency.TTL, metrics, logr),
		Audit:       auditSvc,
	}

	r := handler.NewRouter(cfg, svc, logr)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "redis", redisClient != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	auditSvc.Stop()
	stopJanitor()
	logr.Info("server stopped")
}
