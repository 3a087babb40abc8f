package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the canonical HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID string is
	// stored so handlers and other middleware can read it without parsing headers.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware ensures every request carries a unique identifier
// propagated as an X-Request-ID header.
//
// If the inbound request already carries X-Request-ID (set by an upstream
// load balancer or gateway) its value is reused unchanged; otherwise a new
// UUID v4 is generated. The identifier is echoed back in the response header
// so callers can correlate their request with server-side log and audit
// entries. Register this middleware before logging, metrics, and audit so
// all of them see the ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
