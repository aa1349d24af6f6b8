// internal/middleware/recovery_middleware.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"groundlink/internal/utils"
)

// RecoveryMiddleware turns a handler panic into a 500 response. The log entry
// names the interface or target the request was addressed to.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		fields := append(requestContext(c),
			zap.Any("panic", recovered),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stacktrace"),
		)
		utils.LoggerWithRequestID(logger, utils.GetRequestID(c)).Error("Panic recovered", fields...)

		utils.ErrorResponse(c, http.StatusInternalServerError, "Internal server error", nil)
		c.Abort()
	})
}

// requestContext returns the route and, when present, the interface and target
// of a request
func requestContext(c *gin.Context) []zap.Field {
	fields := []zap.Field{zap.String("route", c.FullPath())}
	if name := c.Param("name"); name != "" {
		fields = append(fields, zap.String("interface", strings.ToUpper(name)))
	}
	if target := c.Query("target"); target != "" {
		fields = append(fields, zap.String("target", strings.ToUpper(target)))
	}
	return fields
}
