// audit.go provides Gin middleware that records HTTP-level audit entries for
// rejected requests and, optionally, reads. Successful mutations are recorded
// by the services themselves with domain-specific actions, so this middleware
// deliberately skips them to avoid double entries.
package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/appchat-platform/appchat-platform/internal/audit"
	"github.com/appchat-platform/appchat-platform/internal/config"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
)

// AccessAuditMiddleware records an audit row for every request that was
// rejected (status >= 400) and, when audit.log_read_operations is set, for
// successful reads. The recorder is never-fail and asynchronous, so this adds
// no latency and cannot fail the request.
func AccessAuditMiddleware(recorder *audit.Recorder, cfg *config.AuditConfig) gin.HandlerFunc {
	logReads := cfg != nil && cfg.LogReadOperations

	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == "OPTIONS" {
			return
		}

		rejected := c.Writer.Status() >= 400
		isRead := c.Request.Method == "GET"
		if !rejected && !(isRead && logReads) {
			return
		}

		entry := &models.AuditLog{
			Action:  fmt.Sprintf("http.%s %s", c.Request.Method, routeTemplate(c)),
			Allowed: !rejected,
			Metadata: map[string]interface{}{
				"status_code": c.Writer.Status(),
				"path":        c.Request.URL.Path,
			},
		}

		ip := c.ClientIP()
		if ip != "" {
			entry.IPAddress = &ip
		}

		if requestID, ok := c.Get(RequestIDKey); ok {
			entry.Metadata["request_id"] = requestID
		}
		if method, ok := c.Get(ContextAuthMethod); ok {
			entry.Metadata["auth_method"] = method
		}
		if appID, ok := c.Get(ContextAppID); ok {
			if id, isStr := appID.(string); isStr {
				entry.AppID = id
			}
		}
		if endUserID, ok := c.Get(ContextEndUserID); ok {
			if id, isStr := endUserID.(string); isStr && id != "" {
				entry.EndUserID = &id
			}
		}
		if developerID, ok := c.Get(ContextDeveloperID); ok {
			entry.Metadata["developer_id"] = developerID
		}

		recorder.Record(entry)
	}
}

// routeTemplate returns the matched route pattern, keeping raw per-user URLs
// out of the action string.
func routeTemplate(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "<no-route>"
}
