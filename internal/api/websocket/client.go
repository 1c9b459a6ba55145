package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/PinBridge/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	authWait = 10 * time.Second

	maxMessageSize = 8192

	// DMD frames arrive at display rate, so the buffer holds a few seconds
	sendBufferSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is what clients send: auth first (when enabled), then
// optional subscribe requests narrowing the message types received.
type clientMessage struct {
	Type  string        `json:"type"`
	Token string        `json:"token,omitempty"`
	Kinds []MessageType `json:"kinds,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	logger      *zap.Logger
	remoteAddr  string
	permissions []auth.Permission

	mu    sync.RWMutex
	kinds map[MessageType]bool
}

func (c *Client) wants(t MessageType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kinds) == 0 || c.kinds[t] || t == MessageTypeBridgeState || t == MessageTypeSystemStatus
}

func (c *Client) authRequired() bool {
	return c.hub.authService != nil && c.hub.authService.Enabled()
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	registered := !c.authRequired()
	defer func() {
		if registered {
			c.hub.leave(c)
			c.conn.Close()
			return
		}
		// Never registered: the send channel is still ours. Closing it
		// lets the write pump flush auth_failed and close the connection.
		close(c.send)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if registered {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	} else {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr))
			}
			return
		}

		// First message MUST be authentication
		if !registered {
			if !c.authenticate(msg) {
				return
			}
			if !c.hub.join(c) {
				return
			}
			registered = true
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg clientMessage) bool {
	if msg.Type != "auth" {
		c.writeDirect(NewMessage(MessageTypeAuthFailed, map[string]string{"reason": "First message must be authentication"}))
		return false
	}
	if msg.Token == "" {
		c.writeDirect(NewMessage(MessageTypeAuthFailed, map[string]string{"reason": "Missing token in auth message"}))
		return false
	}

	permissions, err := c.hub.authService.ValidateToken(context.Background(), msg.Token, c.remoteAddr)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr))
		c.writeDirect(NewMessage(MessageTypeAuthFailed, map[string]string{"reason": "Invalid or expired token"}))
		return false
	}

	c.permissions = permissions
	c.writeDirect(NewMessage(MessageTypeAuthSuccess, map[string]interface{}{"permissions": permissions}))
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr),
		zap.Any("permissions", permissions))
	return true
}

// writeDirect queues a message before the client is registered. The write
// pump is already running.
func (c *Client) writeDirect(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		kinds := make(map[MessageType]bool, len(msg.Kinds))
		for _, k := range msg.Kinds {
			kinds[k] = true
		}
		c.mu.Lock()
		c.kinds = kinds
		c.mu.Unlock()
		c.logger.Debug("WebSocket client subscribed",
			zap.String("remote_addr", c.remoteAddr),
			zap.Any("kinds", msg.Kinds))
	default:
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr),
			zap.String("type", msg.Type))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub or read pump closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued messages into current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		logger:     hub.logger,
		remoteAddr: conn.RemoteAddr().String(),
	}

	if !client.authRequired() {
		client.permissions = auth.AllPermissions()
		if !hub.join(client) {
			conn.Close()
			return
		}
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
