package handlers

import (
	"github.com/gin-gonic/gin"

	"chat-coordinator/internal/middleware"
	"chat-coordinator/internal/observability"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func usernameFromContext(c *gin.Context) string {
	if val, ok := c.Get("username"); ok {
		if name, ok := val.(string); ok {
			return name
		}
	}
	return c.GetHeader("X-Username")
}
