// internal/handler/websocket_types.go
package handler

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a websocket telemetry client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	mutex   sync.RWMutex
	targets map[string]bool
}

// Subscribe limits the telemetry sent to the client to the given target,
// in addition to the targets already subscribed
func (c *Client) Subscribe(target string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.targets == nil {
		c.targets = make(map[string]bool)
	}
	c.targets[strings.ToUpper(target)] = true
}

// Unsubscribe removes a target. A client without targets receives everything.
func (c *Client) Unsubscribe(target string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.targets, strings.ToUpper(target))
}

// Accepts reports whether events for target are sent to the client
func (c *Client) Accepts(target string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return target == "" || len(c.targets) == 0 || c.targets[strings.ToUpper(target)]
}

// Targets returns the subscribed targets
func (c *Client) Targets() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	targets := make([]string, 0, len(c.targets))
	for target := range c.targets {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets
}

// WebSocketMessage is the frame exchanged with websocket clients
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConnectionManager tracks websocket clients
type ConnectionManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewConnectionManager creates a connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{clients: make(map[string]*Client)}
}

// Register adds a client
func (cm *ConnectionManager) Register(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.clients[client.ID] = client
}

// Unregister removes a client and closes its send channel. It may be called
// more than once.
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if _, ok := cm.clients[client.ID]; ok {
		delete(cm.clients, client.ID)
		close(client.Send)
	}
}

// Clients returns the registered clients
func (cm *ConnectionManager) Clients() []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, client := range cm.clients {
		clients = append(clients, client)
	}
	return clients
}

// Send queues a message for a registered client. It returns false when the
// client is gone or its queue is full.
func (cm *ConnectionManager) Send(client *Client, message []byte) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	if _, ok := cm.clients[client.ID]; !ok {
		return false
	}
	select {
	case client.Send <- message:
		return true
	default:
		return false
	}
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	clients := cm.Clients()
	stats := &ConnectionStats{
		TotalConnections: len(clients),
		Clients:          make([]ClientStats, 0, len(clients)),
	}
	for _, client := range clients {
		stats.Clients = append(stats.Clients, ClientStats{
			ID:          client.ID,
			RemoteAddr:  client.RemoteAddr,
			ConnectedAt: client.ConnectedAt,
			Targets:     client.Targets(),
		})
	}
	sort.Slice(stats.Clients, func(i, j int) bool { return stats.Clients[i].ID < stats.Clients[j].ID })
	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int           `json:"total_connections"`
	DroppedEvents    int64         `json:"dropped_events"`
	Clients          []ClientStats `json:"clients"`
}

// ClientStats describes one client
type ClientStats struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Targets     []string  `json:"targets"`
}
