package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/athsys-api/internal/service"
)

// unmatchedRoute labels requests no route matched so probes for random paths
// cannot grow the label set.
const unmatchedRoute = "unmatched"

// Metrics observes every request under its route template. The scrape
// endpoints themselves are not counted.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}

	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
