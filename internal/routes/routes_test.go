// internal/routes/routes_test.go
package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"groundlink/internal/config"
	"groundlink/internal/discovery"
	"groundlink/internal/handler"
	"groundlink/internal/iface"
	"groundlink/internal/middleware"
	"groundlink/internal/packet"
)

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Security: config.SecurityConfig{AllowedOrigins: []string{"*"}}}
	logger := zap.NewNop()
	manager := iface.NewManager(logger)
	bus := handler.NewEventBus(logger)

	return NewRouter(cfg, logger,
		handler.NewHealthHandler(cfg, manager, logger),
		handler.NewInterfaceHandler(manager, packet.NewRegistry(), bus, logger),
		handler.NewTelemetryHandler(bus, cfg.Security.AllowedOrigins, logger),
		handler.NewDiscoveryHandler(discovery.NewManager(logger), logger),
	).SetupRouter()
}

func Test_Routes(t *testing.T) {
	registered := make(map[string]bool)
	for _, route := range newEngine().Routes() {
		registered[route.Method+" "+route.Path] = true
	}

	for _, route := range []string{
		"GET /health",
		"GET /ready",
		"GET /live",
		"GET /api/v1/interfaces",
		"GET /api/v1/interfaces/:name",
		"POST /api/v1/interfaces/:name/connect",
		"POST /api/v1/interfaces/:name/disconnect",
		"POST /api/v1/interfaces/:name/write_raw",
		"POST /api/v1/interfaces/:name/commands",
		"GET /api/v1/interfaces/:name/overrides",
		"PUT /api/v1/interfaces/:name/overrides",
		"DELETE /api/v1/interfaces/:name/overrides",
		"POST /api/v1/commands",
		"GET /api/v1/ports",
		"GET /ws/telemetry",
		"GET /ws/stats",
	} {
		assert.True(t, registered[route], route)
	}
}

func Test_RouterMiddleware(t *testing.T) {
	engine := newEngine()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/interfaces/none", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"NOT_FOUND"`)
}
