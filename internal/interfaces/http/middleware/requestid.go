// Package middleware provides the HTTP middleware of the dashboard API.
package middleware

import (
	"strings"

	"github.com/erp/orderboard/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Request id header and limits
const (
	RequestIDHeader    = "X-Request-ID"
	MaxRequestIDLength = 128
)

// RequestID tags each request with an id, echoed in the response and bound to
// the request logger. A client id is kept only when it is short and printable.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		c.Set(logger.GinRequestIDKey, id)
		c.Header(RequestIDHeader, id)

		ctx, _ := logger.WithRequestID(c.Request.Context(), logger.FromContext(c.Request.Context()), id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
