// Package middleware provides the Gin HTTP middleware chain for the platform
// API. Ordering is enforced in internal/api/router.go:
//
//	Security → RequestID → RateLimit → Metrics → Auth → Audit → Handler
//
// Security headers run first so they appear on all responses including
// errors. Rate limiting runs before auth so brute-force attempts are blocked
// before any bcrypt or database work. Auth populates the caller identity
// (developer, app, or scoped end-user token) that audit and the handlers read
// from the context.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/telemetry"
)

// MetricsMiddleware records two Prometheus metrics for every request passing
// through the router:
//
//   - http_requests_total{method, path, status}    — CounterVec
//   - http_request_duration_seconds{method, path}  — HistogramVec
//
// The path label is the matched Gin route template (c.FullPath()), not the
// raw URL, so per-end-user paths do not explode label cardinality. Requests
// matching no registered route use the literal "<no-route>".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := fmt.Sprintf("%d", c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
