// internal/handler/interface_handler.go
package handler

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"groundlink/internal/iface"
	"groundlink/internal/packet"
	"groundlink/internal/protocol"
	"groundlink/internal/router"
	"groundlink/internal/server"
	"groundlink/internal/stream"
	"groundlink/internal/utils"
)

const writeTimeout = 10 * time.Second

// InterfaceHandler serves the interface admin API
type InterfaceHandler struct {
	manager  *iface.Manager
	registry *packet.Registry
	bus      *EventBus
	logger   *utils.ServiceLogger
}

// NewInterfaceHandler creates a new interface handler
func NewInterfaceHandler(manager *iface.Manager, registry *packet.Registry, bus *EventBus, logger *zap.Logger) *InterfaceHandler {
	return &InterfaceHandler{
		manager:  manager,
		registry: registry,
		bus:      bus,
		logger:   utils.NewServiceLogger(logger, "interface-handler"),
	}
}

// InterfaceSummary is one entry of the interface list
type InterfaceSummary struct {
	iface.Status
	Targets           []string `json:"targets"`
	Wanted            bool     `json:"wanted"`
	DisableDisconnect bool     `json:"disable_disconnect"`
}

// InterfaceDetail describes one interface
type InterfaceDetail struct {
	InterfaceSummary
	Config    iface.Config                                     `json:"config"`
	Protocols []protocol.Descriptor                            `json:"protocols"`
	Overrides map[string]map[string]map[string]packet.Override `json:"overrides"`
	Clients   []server.ClientInfo                              `json:"clients,omitempty"`
	LastRead  *iface.RawData                                   `json:"last_read,omitempty"`
	LastWrite *iface.RawData                                   `json:"last_write,omitempty"`
}

// WriteRawRequest carries hex encoded bytes
type WriteRawRequest struct {
	Data string `json:"data" binding:"required"`
}

// OverrideRequest forces a telemetry item value
type OverrideRequest struct {
	Target string      `json:"target" binding:"required"`
	Packet string      `json:"packet" binding:"required"`
	Item   string      `json:"item" binding:"required"`
	Value  interface{} `json:"value"`
	Type   string      `json:"type"`
}

type descriptorLister interface {
	Descriptors() []protocol.Descriptor
}

type clientLister interface {
	Clients() []server.ClientInfo
}

type rawDataLister interface {
	LastRawRead() iface.RawData
	LastRawWritten() iface.RawData
}

// ListInterfaces returns a summary of every interface
// @Summary List interfaces
// @Description Get the state, counters and targets of every interface
// @Tags Interfaces
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{interfaces=[]InterfaceSummary,total=int}} "Interfaces retrieved successfully"
// @Router /api/v1/interfaces [get]
func (h *InterfaceHandler) ListInterfaces(c *gin.Context) {
	runners := h.manager.List()
	summaries := make([]InterfaceSummary, 0, len(runners))
	for _, runner := range runners {
		summaries = append(summaries, summarize(runner))
	}
	utils.SuccessResponse(c, http.StatusOK, "Interfaces retrieved successfully", gin.H{
		"interfaces": summaries,
		"total":      len(summaries),
	})
}

// GetInterface returns the configuration, protocols, overrides and clients of an interface
// @Summary Get interface
// @Description Get the configuration, protocol chain, overrides and last raw data of an interface
// @Tags Interfaces
// @Produce json
// @Param name path string true "Interface name"
// @Success 200 {object} utils.APIResponse{data=InterfaceDetail} "Interface retrieved successfully"
// @Failure 404 {object} utils.APIResponse "Interface not found"
// @Router /api/v1/interfaces/{name} [get]
func (h *InterfaceHandler) GetInterface(c *gin.Context) {
	runner, ok := h.runner(c)
	if !ok {
		return
	}
	link := runner.Link()

	detail := InterfaceDetail{
		InterfaceSummary: summarize(runner),
		Config:           link.Config(),
		Overrides:        link.Overrides().Snapshot(),
	}
	if l, ok := link.(descriptorLister); ok {
		detail.Protocols = l.Descriptors()
	}
	if l, ok := link.(clientLister); ok {
		detail.Clients = l.Clients()
	}
	if l, ok := link.(rawDataLister); ok {
		if read := l.LastRawRead(); len(read.Data) > 0 {
			detail.LastRead = &read
		}
		if written := l.LastRawWritten(); len(written.Data) > 0 {
			detail.LastWrite = &written
		}
	}

	utils.SuccessResponse(c, http.StatusOK, "Interface retrieved successfully", detail)
}

// ConnectInterface asks the runner to connect. The connection happens in the background.
// @Summary Connect interface
// @Description Ask the interface runner to connect and keep the interface connected
// @Tags Interfaces
// @Produce json
// @Param name path string true "Interface name"
// @Success 202 {object} utils.APIResponse{data=InterfaceSummary} "Interface connect requested"
// @Failure 404 {object} utils.APIResponse "Interface not found"
// @Router /api/v1/interfaces/{name}/connect [post]
func (h *InterfaceHandler) ConnectInterface(c *gin.Context) {
	runner, ok := h.runner(c)
	if !ok {
		return
	}
	runner.Connect()
	h.publishState(runner, "connect_requested")

	h.logger.Info("Interface connect requested", zap.String("interface", runner.Link().Name()))
	utils.SuccessResponse(c, http.StatusAccepted, "Interface connect requested", summarize(runner))
}

// DisconnectInterface disconnects an interface and keeps it disconnected
// @Summary Disconnect interface
// @Description Disconnect an interface and stop reconnecting it
// @Tags Interfaces
// @Produce json
// @Param name path string true "Interface name"
// @Success 200 {object} utils.APIResponse{data=InterfaceSummary} "Interface disconnected"
// @Failure 404 {object} utils.APIResponse "Interface not found"
// @Failure 409 {object} utils.APIResponse "Interface does not allow disconnect"
// @Router /api/v1/interfaces/{name}/disconnect [post]
func (h *InterfaceHandler) DisconnectInterface(c *gin.Context) {
	runner, ok := h.runner(c)
	if !ok {
		return
	}
	if runner.Link().Config().DisableDisconnect {
		utils.ErrorResponse(c, http.StatusConflict, "Interface does not allow disconnect", nil)
		return
	}
	if err := runner.Disconnect(); err != nil {
		h.logger.Error("Failed to disconnect interface", zap.String("interface", runner.Link().Name()), zap.Error(err))
		utils.ErrorResponse(c, http.StatusBadGateway, "Failed to disconnect interface", err)
		return
	}
	h.publishState(runner, "disconnected")

	h.logger.Info("Interface disconnected", zap.String("interface", runner.Link().Name()))
	utils.SuccessResponse(c, http.StatusOK, "Interface disconnected", summarize(runner))
}

// WriteRaw writes hex encoded bytes around the protocol chain
// @Summary Write raw bytes
// @Description Write hex encoded bytes to the stream without the protocol chain
// @Tags Interfaces
// @Accept json
// @Produce json
// @Param name path string true "Interface name"
// @Param request body WriteRawRequest true "Hex encoded data"
// @Success 200 {object} utils.APIResponse{data=object{bytes=int}} "Raw data written"
// @Failure 400 {object} utils.APIResponse "Invalid request body"
// @Failure 403 {object} utils.APIResponse "Raw writes not allowed"
// @Failure 503 {object} utils.APIResponse "Interface not connected"
// @Router /api/v1/interfaces/{name}/write_raw [post]
func (h *InterfaceHandler) WriteRaw(c *gin.Context) {
	runner, ok := h.runner(c)
	if !ok {
		return
	}

	var req WriteRawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	data, err := hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(req.Data, " ", ""), "0x"))
	if err != nil {
		utils.ValidationErrorResponse(c, map[string]string{"data": "must be hex encoded"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()
	if err := runner.Link().WriteRaw(ctx, data); err != nil {
		h.linkError(c, runner, "Failed to write raw data", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Raw data written", gin.H{"bytes": len(data)})
}

// SendCommand builds a command from its definition and writes it to this interface
// @Summary Send command
// @Description Build a command from its definition and write it through the interface protocol chain
// @Tags Commands
// @Accept json
// @Produce json
// @Param name path string true "Interface name"
// @Param request body router.CommandRequest true "Command target, packet and items"
// @Success 200 {object} utils.APIResponse{data=router.CommandResponse} "Command sent"
// @Failure 404 {object} utils.APIResponse "Unknown command"
// @Failure 422 {object} utils.APIResponse "Invalid command item"
// @Failure 503 {object} utils.APIResponse "Interface not connected"
// @Router /api/v1/interfaces/{name}/commands [post]
func (h *InterfaceHandler) SendCommand(c *gin.Context) {
	runner, ok := h.runner(c)
	if !ok {
		return
	}
	var req router.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	cmd, ok := h.buildCommand(c, req)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()
	if err := runner.Link().Write(ctx, cmd); err != nil {
		h.linkError(c, runner, "Failed to send command", err)
		return
	}
	h.commandSent(runner.Link().Name(), cmd)
	utils.SuccessResponse(c, http.StatusOK, "Command sent", router.CommandResponse{OK: true, Target: cmd.TargetName, Packet: cmd.PacketName})
}

// SendTargetCommand writes a command to whichever interface maps its target
// @Summary Send command to target
// @Description Build a command and write it to the interface that maps its target
// @Tags Commands
// @Accept json
// @Produce json
// @Param request body router.CommandRequest true "Command target, packet and items"
// @Success 200 {object} utils.APIResponse{data=router.CommandResponse} "Command sent"
// @Failure 404 {object} utils.APIResponse "Unknown command or no interface maps target"
// @Router /api/v1/commands [post]
func (h *InterfaceHandler) SendTargetCommand(c *gin.Context) {
	var req router.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	cmd, ok := h.buildCommand(c, req)
	if !ok {
		return
	}
	runner, found := h.manager.ForTarget(cmd.TargetName)
	if !found {
		utils.ErrorResponse(c, http.StatusNotFound, "No interface maps target", iface.ErrNoInterface)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()
	if err := runner.Link().Write(ctx, cmd); err != nil {
		h.linkError(c, runner, "Failed to send command", err)
		return
	}
	h.commandSent(runner.Link().Name(), cmd)
	utils.SuccessResponse(c, http.StatusOK, "Command sent", router.CommandResponse{OK: true, Target: cmd.TargetName, Packet: cmd.PacketName})
}

// GetOverrides returns the override table of an interface
// @Summary List overrides
// @Tags Overrides
// @Produce json
// @Param name path string true "Interface name"
// @Success 200 {object} utils.APIResponse "Overrides retrieved successfully"
// @Router /api/v1/interfaces/{name}/overrides [get]
func (h *InterfaceHandler) GetOverrides(c *gin.Context) {
	runner, ok := h.runner(c)
	if !ok {
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Overrides retrieved successfully", runner.Link().Overrides().Snapshot())
}

// SetOverride forces a telemetry item value until it is cleared
// @Summary Set override
// @Description Force a telemetry item to a value in every packet the interface reads
// @Tags Overrides
// @Accept json
// @Produce json
// @Param name path string true "Interface name"
// @Param request body OverrideRequest true "Override"
// @Success 200 {object} utils.APIResponse "Override set"
// @Failure 400 {object} utils.APIResponse "Validation failed"
// @Failure 404 {object} utils.APIResponse "Unknown telemetry packet or item"
// @Router /api/v1/interfaces/{name}/overrides [put]
func (h *InterfaceHandler) SetOverride(c *gin.Context) {
	runner, ok := h.runner(c)
	if !ok {
		return
	}
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Value == nil {
		utils.ValidationErrorResponse(c, map[string]string{"value": "is required"})
		return
	}
	valueType, err := packet.ParseValueType(req.Type)
	if err != nil {
		utils.ValidationErrorResponse(c, map[string]string{"type": err.Error()})
		return
	}
	if h.registry != nil {
		def, err := h.registry.Definition(packet.Telemetry, req.Target, req.Packet)
		if err != nil {
			utils.ErrorResponse(c, http.StatusNotFound, "Unknown telemetry packet", err)
			return
		}
		if _, err := def.Item(req.Item); err != nil {
			utils.ErrorResponse(c, http.StatusNotFound, "Unknown telemetry item", err)
			return
		}
	}

	runner.Link().Overrides().Set(req.Target, req.Packet, req.Item, req.Value, valueType)
	h.bus.Publish(Event{
		Type:      EventOverrideChanged,
		Interface: runner.Link().Name(),
		Target:    strings.ToUpper(req.Target),
		Data:      gin.H{"packet": strings.ToUpper(req.Packet), "item": strings.ToUpper(req.Item), "value": req.Value, "type": valueType},
	})

	h.logger.Info("Telemetry override set",
		zap.String("interface", runner.Link().Name()),
		zap.String("target", req.Target),
		zap.String("packet", req.Packet),
		zap.String("item", req.Item),
	)
	utils.SuccessResponse(c, http.StatusOK, "Override set", runner.Link().Overrides().Snapshot())
}

// ClearOverrides clears one override named by the target, packet and item
// query parameters, or every override when none are given
// @Summary Clear overrides
// @Tags Overrides
// @Produce json
// @Param name path string true "Interface name"
// @Param target query string false "Target name"
// @Param packet query string false "Packet name"
// @Param item query string false "Item name"
// @Success 200 {object} utils.APIResponse "Overrides cleared"
// @Failure 400 {object} utils.APIResponse "Validation failed"
// @Router /api/v1/interfaces/{name}/overrides [delete]
func (h *InterfaceHandler) ClearOverrides(c *gin.Context) {
	runner, ok := h.runner(c)
	if !ok {
		return
	}
	target, pkt, item := c.Query("target"), c.Query("packet"), c.Query("item")
	table := runner.Link().Overrides()

	switch {
	case target == "" && pkt == "" && item == "":
		table.ClearAll()
	case target != "" && pkt != "" && item != "":
		table.Clear(target, pkt, item)
	default:
		utils.ValidationErrorResponse(c, map[string]string{"query": "target, packet and item are required together"})
		return
	}
	h.bus.Publish(Event{
		Type:      EventOverrideChanged,
		Interface: runner.Link().Name(),
		Target:    strings.ToUpper(target),
		Data:      gin.H{"packet": strings.ToUpper(pkt), "item": strings.ToUpper(item), "cleared": true},
	})

	utils.SuccessResponse(c, http.StatusOK, "Overrides cleared", table.Snapshot())
}

func (h *InterfaceHandler) runner(c *gin.Context) (*iface.Runner, bool) {
	name := c.Param("name")
	runner, ok := h.manager.Get(name)
	if !ok {
		utils.ErrorResponse(c, http.StatusNotFound, "Interface not found", errors.New("unknown interface "+strings.ToUpper(name)))
		return nil, false
	}
	return runner, true
}

func (h *InterfaceHandler) buildCommand(c *gin.Context, req router.CommandRequest) (*packet.Packet, bool) {
	cmd, err := router.BuildCommand(h.registry, req)
	switch {
	case err == nil:
		return cmd, true
	case errors.Is(err, router.ErrInvalidCommand):
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid command request", err)
	case errors.Is(err, packet.ErrUnknownPacket):
		utils.ErrorResponse(c, http.StatusNotFound, "Unknown command", err)
	default:
		utils.ErrorResponse(c, http.StatusUnprocessableEntity, "Invalid command item", err)
	}
	return nil, false
}

func (h *InterfaceHandler) commandSent(link string, cmd *packet.Packet) {
	h.bus.Publish(Event{
		Type:      EventCommandSent,
		Interface: link,
		Target:    cmd.TargetName,
		Data:      router.NewPacketMessage(link, cmd),
	})
	h.logger.Info("Command sent",
		zap.String("interface", link),
		zap.String("target", cmd.TargetName),
		zap.String("packet", cmd.PacketName),
	)
}

func (h *InterfaceHandler) publishState(runner *iface.Runner, action string) {
	h.bus.Publish(Event{
		Type:      EventInterfaceState,
		Interface: runner.Link().Name(),
		Data:      gin.H{"action": action, "status": runner.Link().Status()},
	})
}

// linkError maps an interface error to a response status
func (h *InterfaceHandler) linkError(c *gin.Context, runner *iface.Runner, message string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, iface.ErrWriteNotAllowed), errors.Is(err, iface.ErrWriteRawNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, iface.ErrNotConnected), errors.Is(err, stream.ErrNotConnected), errors.Is(err, iface.ErrNoStream):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, protocol.ErrTerminatorInPayload), errors.Is(err, protocol.ErrMaxLength):
		status = http.StatusUnprocessableEntity
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("interface", runner.Link().Name()), zap.Error(err))
	}
	utils.ErrorResponse(c, status, message, err)
}

func summarize(runner *iface.Runner) InterfaceSummary {
	link := runner.Link()
	config := link.Config()
	targets := config.TargetNames
	if targets == nil {
		targets = []string{}
	}
	return InterfaceSummary{
		Status:            link.Status(),
		Targets:           targets,
		Wanted:            runner.Wanted(),
		DisableDisconnect: config.DisableDisconnect,
	}
}
