// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"groundlink/internal/config"
	"groundlink/internal/handler"
	"groundlink/internal/middleware"
	"groundlink/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config     *config.Config
	logger     *zap.Logger
	health     *handler.HealthHandler
	interfaces *handler.InterfaceHandler
	telemetry  *handler.TelemetryHandler
	discovery  *handler.DiscoveryHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	health *handler.HealthHandler,
	interfaces *handler.InterfaceHandler,
	telemetry *handler.TelemetryHandler,
	discovery *handler.DiscoveryHandler,
) *Router {
	return &Router{
		config:     config,
		logger:     logger,
		health:     health,
		interfaces: interfaces,
		telemetry:  telemetry,
		discovery:  discovery,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	switch {
	case r.config.IsProduction():
		gin.SetMode(gin.ReleaseMode)
	case r.config.IsDebugEnabled():
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)
	return router
}

func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware(utils.NewServiceLogger(r.logger, "http-server")))
	router.Use(middleware.CORSMiddleware(&r.config.Security))
}

func (r *Router) addRoutes(router *gin.Engine) {
	router.GET("/health", r.health.HealthCheck)
	router.GET("/ready", r.health.ReadinessCheck)
	router.GET("/live", r.health.LivenessCheck)

	apiV1 := router.Group("/api/v1")
	r.addInterfaceRoutes(apiV1)
	apiV1.POST("/commands", r.interfaces.SendTargetCommand)
	apiV1.GET("/ports", r.discovery.ScanPorts)

	ws := router.Group("/ws")
	{
		ws.GET("/telemetry", r.telemetry.HandleTelemetryConnection)
		ws.GET("/stats", func(c *gin.Context) {
			utils.SuccessResponse(c, http.StatusOK, "WebSocket statistics", r.telemetry.GetConnectionStats())
		})
	}

	r.logger.Info("All routes configured successfully")
}

func (r *Router) addInterfaceRoutes(api *gin.RouterGroup) {
	interfaces := api.Group("/interfaces")
	{
		interfaces.GET("", r.interfaces.ListInterfaces)

		link := interfaces.Group("/:name")
		{
			link.GET("", r.interfaces.GetInterface)
			link.POST("/connect", r.interfaces.ConnectInterface)
			link.POST("/disconnect", r.interfaces.DisconnectInterface)
			link.POST("/write_raw", r.interfaces.WriteRaw)
			link.POST("/commands", r.interfaces.SendCommand)
			link.GET("/overrides", r.interfaces.GetOverrides)
			link.PUT("/overrides", r.interfaces.SetOverride)
			link.DELETE("/overrides", r.interfaces.ClearOverrides)
		}
	}
}
