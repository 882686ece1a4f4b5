package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Maximum message size allowed from peer
const maxMessageSize = 4096

// Client is a middleman between the websocket connection and the hub
type Client struct {
	ID          string    `json:"id"`
	UserAgent   string    `json:"user_agent"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`

	conn   *websocket.Conn
	hub    *Hub
	logger *logrus.Logger

	mu         sync.Mutex
	send       chan []byte
	closed     bool
	workspaces map[string]bool
}

// HandleWebSocket upgrades the request and registers the client. Clients
// can narrow the stream with ?workspace_id=.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  hub.settings.ReadBufferSize,
		WriteBufferSize: hub.settings.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			// Origins are enforced by the CORS middleware.
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		UserAgent:   r.Header.Get("User-Agent"),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
		hub:         hub,
		logger:      hub.logger,
		send:        make(chan []byte, hub.settings.SendQueueSize),
		workspaces:  make(map[string]bool),
	}
	if ws := r.URL.Query().Get("workspace_id"); ws != "" {
		client.Subscribe(ws)
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Subscribe narrows the client to workspaceID. A client with no
// subscriptions receives everything.
func (c *Client) Subscribe(workspaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workspaces[workspaceID] = true
}

func (c *Client) Unsubscribe(workspaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.workspaces, workspaceID)
}

// Wants reports whether a message for workspaceID goes to this client.
// Messages without a workspace go to everyone.
func (c *Client) Wants(workspaceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if workspaceID == "" || len(c.workspaces) == 0 {
		return true
	}
	return c.workspaces[workspaceID]
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	pongWait := c.hub.settings.PongTimeout
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.settings.PingInterval)
	writeWait := c.hub.settings.WriteTimeout
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(Message{Type: MessageTypeError, Data: map[string]interface{}{"error": "invalid message"}})
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		ws := msg.WorkspaceID
		if ws == "" {
			ws, _ = msg.Data["workspace_id"].(string)
		}
		if ws == "" {
			c.reply(Message{Type: MessageTypeError, Data: map[string]interface{}{"error": "workspace_id is required"}})
			return
		}
		if msg.Type == MessageTypeSubscribe {
			c.Subscribe(ws)
		} else {
			c.Unsubscribe(ws)
		}
		c.reply(Message{Type: MessageTypeSubscribed, Data: map[string]interface{}{"workspaces": c.subscriptions()}})
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong, Data: map[string]interface{}{}})
	default:
		c.logger.WithField("message_type", msg.Type).Warn("Unknown WebSocket message type")
	}
}

func (c *Client) reply(msg Message) {
	c.trySend(msg.ToJSON())
}

func (c *Client) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.workspaces))
	for ws := range c.workspaces {
		out = append(out, ws)
	}
	return out
}
