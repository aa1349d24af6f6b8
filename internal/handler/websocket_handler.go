// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"groundlink/internal/utils"
)

const (
	wsSendQueue    = 256
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteWait    = 10 * time.Second
)

// TelemetryHandler streams events from the event bus to websocket clients
type TelemetryHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	bus         *EventBus
	logger      *utils.ServiceLogger
}

// NewTelemetryHandler creates a websocket telemetry handler
func NewTelemetryHandler(bus *EventBus, allowedOrigins []string, logger *zap.Logger) *TelemetryHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			origins = nil
			break
		}
		origins[origin] = true
	}

	return &TelemetryHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
		connections: NewConnectionManager(),
		bus:         bus,
		logger:      utils.NewServiceLogger(logger, "telemetry-websocket"),
	}
}

// Run forwards bus events to the clients until ctx is done, then closes every client
func (h *TelemetryHandler) Run(ctx context.Context) {
	sub := h.bus.Subscribe()
	defer func() {
		h.bus.Unsubscribe(sub)
		for _, client := range h.connections.Clients() {
			h.connections.Unregister(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			h.broadcast(event)
		}
	}
}

// HandleTelemetryConnection upgrades a request to a telemetry feed. Repeated
// target query parameters subscribe to those targets up front.
// @Summary Telemetry feed
// @Description Upgrade to a websocket streaming telemetry, command and interface events
// @Tags WebSocket
// @Param target query string false "Targets to subscribe to, repeated or comma separated"
// @Success 101 {string} string "Switching Protocols"
// @Router /ws/telemetry [get]
func (h *TelemetryHandler) HandleTelemetryConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, wsSendQueue),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	for _, target := range c.QueryArray("target") {
		for _, t := range strings.Split(target, ",") {
			if t = strings.TrimSpace(t); t != "" {
				client.Subscribe(t)
			}
		}
	}

	h.connections.Register(client)
	h.logger.Info("Telemetry WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
		zap.Strings("targets", client.Targets()),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type:      "connected",
		Data:      gin.H{"client_id": client.ID, "targets": client.Targets()},
		Timestamp: time.Now(),
	})

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// GetConnectionStats returns connection statistics and the events the bus lost
func (h *TelemetryHandler) GetConnectionStats() *ConnectionStats {
	stats := h.connections.GetStats()
	stats.DroppedEvents = h.bus.Dropped()
	return stats
}

func (h *TelemetryHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("Telemetry WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error", zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "invalid message")
			continue
		}
		h.handleClientMessage(client, &message)
	}
}

func (h *TelemetryHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn("WebSocket write error", zap.String("client_id", client.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *TelemetryHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe", "unsubscribe":
		data, _ := message.Data.(map[string]interface{})
		target, _ := data["target"].(string)
		if target == "" {
			h.sendError(client, "target is required")
			return
		}
		if message.Type == "subscribe" {
			client.Subscribe(target)
		} else {
			client.Unsubscribe(target)
		}
		h.sendMessage(client, &WebSocketMessage{
			Type:      message.Type + "d",
			Data:      gin.H{"target": strings.ToUpper(target), "targets": client.Targets()},
			Timestamp: time.Now(),
		})
	case "ping":
		h.sendMessage(client, &WebSocketMessage{Type: "pong", Timestamp: time.Now()})
	default:
		h.sendError(client, "unknown message type: "+message.Type)
	}
}

func (h *TelemetryHandler) broadcast(event Event) {
	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      event.Type,
		Data:      event,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, client := range h.connections.Clients() {
		if !client.Accepts(event.Target) {
			continue
		}
		if !h.connections.Send(client, messageBytes) {
			h.logger.Warn("Client send channel full during broadcast", zap.String("client_id", client.ID))
		}
	}
}

func (h *TelemetryHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}
	if !h.connections.Send(client, messageBytes) {
		h.logger.Warn("Client send channel full, dropping message", zap.String("client_id", client.ID))
	}
}

func (h *TelemetryHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      gin.H{"error": errorMsg},
		Timestamp: time.Now(),
	})
}
