// internal/handler/health_handler.go
package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"groundlink/internal/config"
	"groundlink/internal/iface"
	"groundlink/internal/utils"
)

const healthCheckTimeout = 3 * time.Second

// CheckFunc reports the health of a dependency
type CheckFunc func(ctx context.Context) error

// HealthHandler handles health check requests
type HealthHandler struct {
	config    *config.Config
	manager   *iface.Manager
	logger    *utils.ServiceLogger
	startTime time.Time

	mutex  sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(config *config.Config, manager *iface.Manager, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		config:    config,
		manager:   manager,
		logger:    utils.NewServiceLogger(logger, "health-handler"),
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// AddCheck registers a dependency check used by /health and /ready
func (h *HealthHandler) AddCheck(name string, check CheckFunc) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.checks[name] = check
}

// HealthCheck reports dependency checks and the state of every interface.
// Disconnected interfaces degrade the service, failed checks make it unhealthy.
// @Summary Health check
// @Description Get service health including NATS, Redis and interface connectivity
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy or degraded"
// @Failure 503 {object} HealthResponse "Service is unhealthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    h.runChecks(c.Request.Context()),
	}
	for _, check := range health.Checks {
		if check.Status != "healthy" {
			health.Status = "unhealthy"
		}
	}

	connected := 0
	statuses := h.manager.Statuses()
	for _, status := range statuses {
		if status.State == iface.StateConnected {
			connected++
		}
	}
	health.Checks["interfaces"] = CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"total":     len(statuses),
			"connected": connected,
		},
	}
	if connected < len(statuses) {
		health.Checks["interfaces"] = CheckResult{
			Status:  "degraded",
			Message: "not every interface is connected",
			Data:    health.Checks["interfaces"].Data,
		}
		if health.Status == "healthy" {
			health.Status = "degraded"
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, health)
}

// ReadinessCheck passes when every dependency check passes
// @Summary Readiness check
// @Description Check if service is ready to accept traffic
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	checks := h.runChecks(c.Request.Context())
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if checks[name].Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": name + " not available",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck answers as long as the process serves requests
// @Summary Liveness check
// @Description Check if service is alive
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

func (h *HealthHandler) runChecks(ctx context.Context) map[string]CheckResult {
	h.mutex.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mutex.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make(map[string]CheckResult, len(checks)+1)
	for name, check := range checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			results[name] = CheckResult{Status: "unhealthy", Message: err.Error()}
			continue
		}
		results[name] = CheckResult{Status: "healthy"}
	}
	return results
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
