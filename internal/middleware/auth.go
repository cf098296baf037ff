package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/athsys-api/internal/models"
	appErrors "github.com/noah-isme/athsys-api/pkg/errors"
	"github.com/noah-isme/athsys-api/pkg/logger"
	"github.com/noah-isme/athsys-api/pkg/response"
)

// ContextSessionKey is the gin context key storing the authenticated session.
const ContextSessionKey = "currentSession"

// Authenticator resolves the session behind an Authorization header.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string, roles ...string) (*models.Session, error)
}

// AuditRecorder accepts audit entries without blocking.
type AuditRecorder interface {
	Record(entry *models.AuditLog)
}

// Auth protects routes by requiring a valid access token backed by a live
// session. When roles are given the session role must match one of them.
func Auth(auth Authenticator, audit AuditRecorder, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, auth, audit, roles...) {
			return
		}
		c.Next()
	}
}

// AdminGate requires the admin role for every path under prefix, whether or
// not the route registers its own guard.
func AdminGate(prefix string, auth Authenticator, audit AuditRecorder) gin.HandlerFunc {
	prefix = strings.TrimRight(prefix, "/")
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if prefix == "" || (path != prefix && !strings.HasPrefix(path, prefix+"/")) {
			c.Next()
			return
		}
		if !authenticate(c, auth, audit, models.RoleAdmin) {
			return
		}
		c.Next()
	}
}

// SessionFromContext returns the session attached by Auth, if any.
func SessionFromContext(c *gin.Context) *models.Session {
	value, exists := c.Get(ContextSessionKey)
	if !exists {
		return nil
	}
	session, ok := value.(*models.Session)
	if !ok {
		return nil
	}
	return session
}

// RequestMeta extracts the caller address and agent for audit entries.
func RequestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func authenticate(c *gin.Context, auth Authenticator, audit AuditRecorder, roles ...string) bool {
	session, err := auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization"), roles...)
	if err != nil {
		if appErrors.FromError(err).Status == http.StatusForbidden && audit != nil {
			entry := &models.AuditLog{
				Action:    models.AuditActionPermissionDenied,
				Resource:  c.Request.URL.Path,
				IPAddress: c.ClientIP(),
				UserAgent: c.GetHeader("User-Agent"),
				Status:    models.AuditStatusFailure,
			}
			if session != nil {
				entry.UserID = &session.ID
			}
			audit.Record(entry)
		}
		response.Error(c, err)
		c.Abort()
		return false
	}

	c.Set(ContextSessionKey, session)
	c.Set(logger.UserIDKey, session.ID)
	return true
}
