// internal/handler/discovery_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"groundlink/internal/discovery"
	"groundlink/internal/utils"
)

const (
	defaultScanTimeout = 10 * time.Second
	maxScanTimeout     = time.Minute
)

// DiscoveryHandler lists the host ports links could be opened on
type DiscoveryHandler struct {
	scanners *discovery.Manager
	logger   *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(scanners *discovery.Manager, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		scanners: scanners,
		logger:   utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// ScanPorts scans the host for serial and USB ports. The type query selects
// one scanner, timeout bounds the scan.
// @Summary Scan ports
// @Description List serial and USB ports on the host with suggested stream settings
// @Tags Discovery
// @Produce json
// @Param type query string false "Scanner kind" Enums(all, serial, usb)
// @Param timeout query string false "Scan timeout" default(10s)
// @Success 200 {object} utils.APIResponse{data=object{ports_found=int,ports=[]discovery.Port,scanners=[]string}} "Port scan completed"
// @Failure 400 {object} utils.APIResponse "Invalid timeout"
// @Failure 404 {object} utils.APIResponse "Unknown scan type"
// @Failure 503 {object} utils.APIResponse "Scanner not available on this host"
// @Router /api/v1/ports [get]
func (h *DiscoveryHandler) ScanPorts(c *gin.Context) {
	scanType := c.DefaultQuery("type", "all")
	timeout, err := time.ParseDuration(c.DefaultQuery("timeout", defaultScanTimeout.String()))
	if err != nil || timeout <= 0 || timeout > maxScanTimeout {
		utils.ValidationErrorResponse(c, map[string]string{"timeout": "must be a duration between 0 and 1m"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	var ports []*discovery.Port
	if scanType == "all" {
		ports = h.scanners.ScanAll(ctx)
	} else {
		ports, err = h.scanners.ScanKind(ctx, scanType)
		switch {
		case errors.Is(err, discovery.ErrUnknownKind):
			utils.ErrorResponse(c, http.StatusNotFound, "Unknown scan type", err)
			return
		case errors.Is(err, discovery.ErrUnavailable):
			utils.ErrorResponse(c, http.StatusServiceUnavailable, "Scanner not available on this host", err)
			return
		case err != nil:
			h.logger.Error("Port scan failed", zap.String("type", scanType), zap.Error(err))
			utils.ErrorResponse(c, http.StatusInternalServerError, "Port scan failed", err)
			return
		}
	}

	utils.SuccessResponse(c, http.StatusOK, "Port scan completed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
		"scanners":    h.scanners.Available(),
	})
}
