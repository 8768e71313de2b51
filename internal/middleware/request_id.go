package middleware

import (
	"github.com/gin-gonic/gin"

	"chat-coordinator/internal/observability"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// RequestID makes sure every request carries an X-Request-Id, reusing the
// caller's when present, and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := observability.RequestIDFromRequest(c.Request)
		c.Request.Header.Set("X-Request-Id", requestID)
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-Id", requestID)
		c.Next()
	}
}
