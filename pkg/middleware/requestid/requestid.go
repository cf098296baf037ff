package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderKey  = "X-Request-ID"
	contextKey = "request_id"
)

// Middleware assigns a correlation ID to each incoming HTTP request, reusing an inbound one.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		Ensure(c)
		c.Next()
	}
}

// Ensure resolves the request ID for c, storing it on the context and echoing it on the response.
// It is idempotent within one request.
func Ensure(c *gin.Context) string {
	if id := Value(c); id != "" {
		return id
	}
	reqID := c.GetHeader(HeaderKey)
	if reqID == "" {
		reqID = uuid.NewString()
	}

	c.Set(contextKey, reqID)
	c.Writer.Header().Set(HeaderKey, reqID)
	return reqID
}

// Value returns the request ID stored in the Gin context.
func Value(c *gin.Context) string {
	if v, exists := c.Get(contextKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
