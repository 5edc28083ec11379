package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Write timeout
	writeWait = 10 * time.Second

	// Read timeout
	pongWait = 60 * time.Second

	// Ping period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size
	maxMessageSize = 4 * 1024
)

// Client is one WebSocket connection
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

// trySend queues a message without blocking. It reports false when the
// buffer is full or the channel is already closed; a send on a closed
// channel would panic, and the read pump may still be dispatching frames
// after the hub evicted the client.
func (c *Client) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once. Later trySend calls
// degrade to dropped messages.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// NewClient wraps an upgraded connection
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, 256),
	}
}

// ReadPump reads room commands from the connection until it drops
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("clientId", c.ID).Msg("Websocket read error")
			}
			break
		}

		c.handleMessage(raw)
	}
}

// handleMessage dispatches a single inbound frame
func (c *Client) handleMessage(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Debug().Err(err).Str("clientId", c.ID).Msg("Ignoring malformed websocket frame")
		return
	}

	var req RoomRequest
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.Debug().Err(err).Str("clientId", c.ID).Msg("Ignoring malformed room request")
			return
		}
	}
	if req.TaskID == "" {
		return
	}

	switch env.Event {
	case EventJoinTask:
		c.Hub.Join(c, req.TaskID)
		c.ack(EventJoinedTask, req.TaskID)
	case EventLeaveTask:
		c.Hub.Leave(c, req.TaskID)
		c.ack(EventLeftTask, req.TaskID)
	}
}

func (c *Client) ack(event, taskID string) {
	message, err := envelope(event, RoomRequest{TaskID: taskID})
	if err != nil {
		return
	}
	c.trySend(message)
}

// WritePump writes queued messages and keepalive pings to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
