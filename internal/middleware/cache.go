package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/athsys-api/pkg/middleware/requestid"
)

const (
	responseMetaKey = "response_meta"

	// HeaderCache reports whether a list payload was served from the cache.
	HeaderCache = "X-Cache"
)

// ResponseMeta is the "meta" object attached to list envelopes.
type ResponseMeta map[string]interface{}

// WithResponseMeta seeds the meta object for the handler and stamps the request id into it.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		meta := ResponseMeta{}
		if id := requestid.Value(c); id != "" {
			meta["request_id"] = id
		}
		c.Set(responseMetaKey, meta)
		c.Next()
	}
}

// SetCacheHit records whether the payload came from the cache and mirrors it in X-Cache.
func SetCacheHit(c *gin.Context, hit bool) {
	Meta(c)["cache_hit"] = hit
	if hit {
		c.Header(HeaderCache, "HIT")
		return
	}
	c.Header(HeaderCache, "MISS")
}

// Meta returns the meta object of the request, creating one when the route
// was not wrapped by WithResponseMeta.
func Meta(c *gin.Context) ResponseMeta {
	if value, exists := c.Get(responseMetaKey); exists {
		if meta, ok := value.(ResponseMeta); ok {
			return meta
		}
	}
	meta := ResponseMeta{}
	c.Set(responseMetaKey, meta)
	return meta
}
