// internal/middleware/cors_middleware.go
package middleware

import (
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"groundlink/internal/config"
)

// CORSMiddleware allows the configured origins, or every origin when none are
// set or one of them is "*". Credentials are only allowed for listed origins.
func CORSMiddleware(security *config.SecurityConfig) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", RequestIDHeader},
		MaxAge:        security.CORSMaxAge,
		// the telemetry feed is reached from browser websocket clients
		AllowWebSockets: true,
	}

	if len(security.AllowedOrigins) == 0 || slices.Contains(security.AllowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = security.AllowedOrigins
		corsConfig.AllowCredentials = true
	}

	return cors.New(corsConfig)
}
