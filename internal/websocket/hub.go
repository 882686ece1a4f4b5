// Package websocket streams engine events to connected clients. Clients
// receive every event unless they subscribe to specific workspaces.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	"github.com/sirupsen/logrus"
)

var _ alerting.EventPublisher = (*Hub)(nil)

// Settings are the connection timings, taken from config.WebSocketConfig.
type Settings struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	SendQueueSize   int
}

// SettingsFromConfig converts the second-based config values.
func SettingsFromConfig(cfg config.WebSocketConfig) Settings {
	s := Settings{
		PingInterval:    time.Duration(cfg.PingInterval) * time.Second,
		PongTimeout:     time.Duration(cfg.PongTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		SendQueueSize:   cfg.SendQueueSize,
	}
	return s.withDefaults()
}

func (s Settings) withDefaults() Settings {
	if s.PongTimeout <= 0 {
		s.PongTimeout = 60 * time.Second
	}
	if s.PingInterval <= 0 || s.PingInterval >= s.PongTimeout {
		s.PingInterval = s.PongTimeout * 9 / 10
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.ReadBufferSize <= 0 {
		s.ReadBufferSize = 1024
	}
	if s.WriteBufferSize <= 0 {
		s.WriteBufferSize = 1024
	}
	if s.SendQueueSize <= 0 {
		s.SendQueueSize = 256
	}
	return s
}

// Hub maintains the set of active clients and broadcasts messages to the clients
type Hub struct {
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	settings Settings
	metrics  metrics.MetricsCollector
	logger   *logrus.Logger

	mu    sync.RWMutex
	stats HubStats
}

// HubStats contains hub statistics
type HubStats struct {
	ConnectedClients int       `json:"connected_clients"`
	TotalConnections int64     `json:"total_connections"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesDropped  int64     `json:"messages_dropped"`
	LastActivity     time.Time `json:"last_activity"`
}

func NewHub(settings Settings, collector metrics.MetricsCollector, logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		settings:   settings.withDefaults(),
		metrics:    metrics.OrNop(collector),
		logger:     logger,
		stats:      HubStats{LastActivity: time.Now()},
	}
}

// Publish implements alerting.EventPublisher. It never blocks the engine; a
// full broadcast queue drops the event.
func (h *Hub) Publish(event alerting.Event) {
	h.BroadcastToAll(FromEvent(event))
}

// Run handles registration and broadcasting until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ConnectedClients = len(h.clients)
	h.stats.LastActivity = time.Now()
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.RecordWebSocketConnection("connect")
	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"remote_addr":       client.RemoteAddr,
		"connected_clients": count,
	}).Info("WebSocket client connected")

	welcome := Message{
		Type: MessageTypeConnection,
		Data: map[string]interface{}{
			"status":    "connected",
			"client_id": client.ID,
		},
	}
	client.trySend(welcome.ToJSON())
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.close()
		h.stats.ConnectedClients = len(h.clients)
		h.stats.LastActivity = time.Now()
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.metrics.RecordWebSocketConnection("disconnect")
		h.logger.WithFields(logrus.Fields{
			"client_id":         client.ID,
			"connected_clients": count,
		}).Info("WebSocket client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		client.close()
	}
	h.stats.ConnectedClients = 0
}

// broadcastMessage runs on the hub goroutine, so slow clients are dropped
// here directly rather than through the unregister channel.
func (h *Hub) broadcastMessage(message Message) {
	data := message.ToJSON()

	var slow []*Client
	sent := 0
	h.mu.RLock()
	for client := range h.clients {
		if !client.Wants(message.WorkspaceID) {
			continue
		}
		if client.trySend(data) {
			sent++
		} else {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.WithField("client_id", client.ID).Warn("WebSocket client send queue full, disconnecting")
		h.unregisterClient(client)
	}

	h.mu.Lock()
	h.stats.MessagesSent += int64(sent)
	h.stats.LastActivity = time.Now()
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"message_type": message.Type,
		"clients_sent": sent,
	}).Debug("Message broadcasted to WebSocket clients")
}

func (h *Hub) sendHeartbeat() {
	h.BroadcastToAll(Message{
		Type: MessageTypeHeartbeat,
		Data: map[string]interface{}{
			"clients": h.GetClientCount(),
		},
	})
}

// BroadcastToAll queues a message for every interested client.
func (h *Hub) BroadcastToAll(message Message) {
	select {
	case h.broadcast <- message:
	default:
		h.mu.Lock()
		h.stats.MessagesDropped++
		h.mu.Unlock()
		h.logger.WithField("message_type", message.Type).Warn("Broadcast channel is full, message dropped")
	}
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := h.stats
	stats.ConnectedClients = len(h.clients)
	return stats
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
