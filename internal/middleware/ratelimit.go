package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/athsys-api/internal/models"
	"github.com/noah-isme/athsys-api/internal/service"
	"github.com/noah-isme/athsys-api/pkg/config"
	"github.com/noah-isme/athsys-api/pkg/response"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRetryAfter         = "Retry-After"
)

// Limiter decides whether a request identified by key is admitted.
type Limiter interface {
	Check(ctx context.Context, identifier string, maxRequests int, window time.Duration) (bool, int)
}

// RateLimit enforces a fixed-window quota keyed by rule class and caller.
// The caller is the authenticated user when a session is already attached,
// otherwise the client address.
func RateLimit(limiter Limiter, rule config.RateLimitRule, metrics *service.MetricsService, audit AuditRecorder) gin.HandlerFunc {
	windowSeconds := int(rule.Window.Seconds())
	return func(c *gin.Context) {
		identifier := rule.Name + ":" + callerIdentity(c)

		allowed, remaining := limiter.Check(c.Request.Context(), identifier, rule.MaxRequests, rule.Window)
		c.Header(HeaderRateLimitLimit, strconv.Itoa(rule.MaxRequests))
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(remaining))
		if allowed {
			c.Next()
			return
		}

		metrics.RecordRateLimitRejection(rule.Name)
		if audit != nil {
			entry := &models.AuditLog{
				Action:    models.AuditActionRateLimitExceeded,
				Resource:  c.Request.URL.Path,
				Details:   service.AuditDetails(map[string]interface{}{"class": rule.Name, "limit": rule.MaxRequests}),
				IPAddress: c.ClientIP(),
				UserAgent: c.GetHeader("User-Agent"),
				Status:    models.AuditStatusFailure,
			}
			if session := SessionFromContext(c); session != nil {
				entry.UserID = &session.ID
			}
			audit.Record(entry)
		}

		c.Header(HeaderRetryAfter, strconv.Itoa(windowSeconds))
		response.TooManyRequests(c, windowSeconds)
		c.Abort()
	}
}

func callerIdentity(c *gin.Context) string {
	if session := SessionFromContext(c); session != nil {
		return strconv.FormatInt(session.ID, 10)
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return service.AnonymousIdentity
}
