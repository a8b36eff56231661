package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coreledger/txcore/internal/pkg/logging"
)

const requestIDHeader = "X-Request-ID"

// RequestLog assigns a request ID (reusing one supplied by the caller, if
// any) and logs each request on completion, mirroring the teacher's per-request
// logging without keeping a bespoke request-context type around.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, requestID)
		start := time.Now()

		c.Next()

		logging.Info("request completed", map[string]interface{}{
			"request_id":  requestID,
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
	}
}
