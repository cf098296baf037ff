package middleware

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/athsys-api/internal/models"
	"github.com/noah-isme/athsys-api/internal/service"
	"github.com/noah-isme/athsys-api/pkg/middleware/apiversion"
	"github.com/noah-isme/athsys-api/pkg/middleware/requestid"
)

// Identifier resolves the session behind an Authorization header without
// enforcing roles or recording failures.
type Identifier interface {
	Identify(ctx context.Context, authorization string) (*models.Session, error)
}

// PipelineConfig configures the per-request hooks.
type PipelineConfig struct {
	APIPrefix      string
	DefaultVersion string
	LatestVersion  string
}

var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"Referrer-Policy":        "no-referrer",
	"X-XSS-Protection":       "0",
}

// Pipeline wraps every request. Before routing it assigns the correlation id,
// stamps version and security headers and, for mutating API calls carrying an
// Idempotency-Key, replays a stored response straight from the cache. After
// the handler it stamps X-Response-Time and stores a replayable response when
// the route has no idempotency guard of its own.
//
// Register it after logging, metrics and CORS so replays pass through them.
// Panics are left to the recovery middleware registered ahead of it.
func Pipeline(cfg PipelineConfig, identifier Identifier, idempotency *service.IdempotencyService) gin.HandlerFunc {
	prefix := strings.TrimRight(cfg.APIPrefix, "/")
	return func(c *gin.Context) {
		start := time.Now()
		requestid.Ensure(c)
		apiversion.Stamp(c, cfg.DefaultVersion, cfg.LatestVersion)
		for name, value := range securityHeaders {
			c.Header(name, value)
		}

		timing := newTimingWriter(c.Writer, start)
		c.Writer = timing

		var (
			capture     *captureWriter
			fingerprint string
		)
		key := c.GetHeader(HeaderIdempotencyKey)
		if key != "" && idempotency != nil && isMutating(c.Request.Method) && underPrefix(c.Request.URL.Path, prefix) {
			body, err := readBody(c)
			if err == nil {
				fingerprint = service.Fingerprint(c.Request.Method, c.Request.URL.Path, pipelineIdentity(c, identifier), key, body)
				if record, ok := idempotency.Lookup(c.Request.Context(), fingerprint); ok {
					writeReplay(c, key, record)
					return
				}
				capture = newCaptureWriter(c.Writer)
				c.Writer = capture
				c.Header(HeaderIdempotencyEcho, key)
			}
		}

		c.Next()

		if capture != nil && !c.GetBool(idempotencyGuardedKey) {
			idempotency.Store(c.Request.Context(), fingerprint, capture.Status(), capture.Header().Get("Content-Type"), capture.body.Bytes())
		}
		// nothing written yet: gin flushes the header block after the chain returns
		timing.stamp()
	}
}

// pipelineIdentity resolves the caller before routing. It matches what the
// route guard computes once Auth has attached the session.
func pipelineIdentity(c *gin.Context, identifier Identifier) string {
	if identifier != nil {
		if header := c.GetHeader("Authorization"); header != "" {
			if session, err := identifier.Identify(c.Request.Context(), header); err == nil {
				return strconv.FormatInt(session.ID, 10)
			}
		}
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return service.AnonymousIdentity
}

func underPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
