package apiversion

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderVersion = "X-API-Version"
	HeaderLatest  = "X-API-Latest"
	contextKey    = "api_version"
)

// Extract resolves the API version for a request: /api/vN path segment first,
// then the X-API-Version header, then the configured default.
func Extract(path, header, fallback string) string {
	if strings.HasPrefix(path, "/api/") {
		segment := strings.SplitN(strings.TrimPrefix(path, "/api/"), "/", 2)[0]
		if isVersion(segment) {
			return segment
		}
	}
	if header = strings.TrimSpace(header); header != "" {
		return header
	}
	return fallback
}

// Stamp stores the resolved version on the context and writes the version headers.
func Stamp(c *gin.Context, defaultVersion, latest string) string {
	version := Extract(c.Request.URL.Path, c.GetHeader(HeaderVersion), defaultVersion)
	c.Set(contextKey, version)
	c.Writer.Header().Set(HeaderVersion, version)
	if latest != "" {
		c.Writer.Header().Set(HeaderLatest, latest)
	}
	return version
}

// Value returns the version resolved for the current request.
func Value(c *gin.Context) string {
	return c.GetString(contextKey)
}

func isVersion(segment string) bool {
	if len(segment) < 2 || segment[0] != 'v' {
		return false
	}
	for _, r := range segment[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
