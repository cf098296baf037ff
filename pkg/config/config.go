package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Rate limit rule classes consumed by the router.
const (
	RateLimitLogin   = "login"
	RateLimitRefresh = "refresh"
	RateLimitAPI     = "api"
	RateLimitWrite   = "write"
)

type Config struct {
	Env             string
	Port            int
	APIPrefix       string
	AdminPrefix     string
	ShutdownTimeout time.Duration

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Idempotency IdempotencyConfig
	RateLimits  map[string]RateLimitRule
	Cache       CacheConfig
	Audit       AuditConfig
	Versioning  VersioningConfig
	CORS        CORSConfig
	Log         LogConfig
	Seed        SeedConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled     bool
	URL         string
	Host        string
	Port        int
	Password    string
	DB          int
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

type JWTConfig struct {
	Secret            string
	Algorithm         string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

// IdempotencyConfig controls how long replayable responses are kept.
type IdempotencyConfig struct {
	TTL time.Duration
}

// RateLimitRule is a fixed-window quota for one endpoint class.
type RateLimitRule struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

// CacheConfig tunes the in-process fallback store and ad-hoc response caches.
type CacheConfig struct {
	JanitorInterval time.Duration
	ListTTL         time.Duration
}

// AuditConfig sizes the asynchronous audit writer.
type AuditConfig struct {
	Workers    int
	BufferSize int
}

// VersioningConfig drives the API version response headers.
type VersioningConfig struct {
	Default string
	Latest  string
}

type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         time.Duration
}

// SeedConfig describes the optional bootstrap administrator created by cmd/migrate.
type SeedConfig struct {
	AdminName     string
	AdminEmail    string
	AdminPassword string
}

type LogConfig struct {
	Level  string
	Format string
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// URL renders the database URL form expected by golang-migrate.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Rule returns the configured rule for a class, falling back to the generic API quota.
func (c *Config) Rule(name string) RateLimitRule {
	if rule, ok := c.RateLimits[name]; ok {
		return rule
	}
	if rule, ok := c.RateLimits[RateLimitAPI]; ok {
		rule.Name = name
		return rule
	}
	return RateLimitRule{Name: name, MaxRequests: 100, Window: time.Hour}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = strings.TrimRight(v.GetString("API_PREFIX"), "/")
	cfg.AdminPrefix = strings.TrimRight(v.GetString("ADMIN_PREFIX"), "/")
	cfg.ShutdownTimeout = parseDuration(v.GetString("SHUTDOWN_TIMEOUT"), 30*time.Second)

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:     v.GetBool("REDIS_ENABLED"),
		URL:         v.GetString("REDIS_URL"),
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		DialTimeout: parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), time.Second),
		IOTimeout:   parseDuration(v.GetString("REDIS_IO_TIMEOUT"), time.Second),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Algorithm:         strings.ToUpper(v.GetString("JWT_ALGORITHM")),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.Idempotency = IdempotencyConfig{
		TTL: parseDuration(v.GetString("IDEMPOTENCY_TTL"), 600*time.Second),
	}

	cfg.RateLimits = map[string]RateLimitRule{}
	for _, name := range []string{RateLimitLogin, RateLimitRefresh, RateLimitAPI, RateLimitWrite} {
		prefix := "RATE_LIMIT_" + strings.ToUpper(name)
		cfg.RateLimits[name] = RateLimitRule{
			Name:        name,
			MaxRequests: v.GetInt(prefix + "_MAX"),
			Window:      parseDuration(v.GetString(prefix+"_WINDOW"), time.Hour),
		}
	}

	cfg.Cache = CacheConfig{
		JanitorInterval: parseDuration(v.GetString("CACHE_JANITOR_INTERVAL"), time.Minute),
		ListTTL:         parseDuration(v.GetString("CACHE_LIST_TTL"), time.Minute),
	}

	cfg.Audit = AuditConfig{
		Workers:    v.GetInt("AUDIT_WORKERS"),
		BufferSize: v.GetInt("AUDIT_BUFFER_SIZE"),
	}

	cfg.Versioning = VersioningConfig{
		Default: v.GetString("API_VERSION"),
		Latest:  v.GetString("API_LATEST_VERSION"),
	}

	cfg.CORS = CORSConfig{
		AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS")),
		MaxAge:         parseDuration(v.GetString("CORS_MAX_AGE"), 10*time.Minute),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Seed = SeedConfig{
		AdminName:     v.GetString("SEED_ADMIN_NAME"),
		AdminEmail:    v.GetString("SEED_ADMIN_EMAIL"),
		AdminPassword: v.GetString("SEED_ADMIN_PASSWORD"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 5000)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("ADMIN_PREFIX", "/api/v1/admin")
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")

	v.SetDefault("SEED_ADMIN_NAME", "Administrator")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "athsys_user")
	v.SetDefault("DB_PASSWORD", "athsys_pass")
	v.SetDefault("DB_NAME", "athsys_db")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "1s")
	v.SetDefault("REDIS_IO_TIMEOUT", "1s")

	v.SetDefault("JWT_SECRET", "development-secret-key-change-in-production")
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("JWT_ISSUER", "athsys")
	v.SetDefault("JWT_EXPIRATION", "1h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("IDEMPOTENCY_TTL", "600s")

	v.SetDefault("RATE_LIMIT_LOGIN_MAX", 5)
	v.SetDefault("RATE_LIMIT_LOGIN_WINDOW", "30m")
	v.SetDefault("RATE_LIMIT_REFRESH_MAX", 30)
	v.SetDefault("RATE_LIMIT_REFRESH_WINDOW", "1h")
	v.SetDefault("RATE_LIMIT_API_MAX", 100)
	v.SetDefault("RATE_LIMIT_API_WINDOW", "1h")
	v.SetDefault("RATE_LIMIT_WRITE_MAX", 60)
	v.SetDefault("RATE_LIMIT_WRITE_WINDOW", "1h")

	v.SetDefault("CACHE_JANITOR_INTERVAL", "1m")
	v.SetDefault("CACHE_LIST_TTL", "1m")
	v.SetDefault("AUDIT_WORKERS", 2)
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)

	v.SetDefault("API_VERSION", "v1")
	v.SetDefault("API_LATEST_VERSION", "v2")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
