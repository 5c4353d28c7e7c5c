package game

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jumpjumpjump/backend/go/internal/v1/logging"
	"github.com/jumpjumpjump/backend/go/internal/v1/metrics"
	"go.uber.org/zap"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
}

// Client represents a single player's connection. The dispatcher binds
// room and playerID after the first create_room / join_room / reconnect
// message; until then the session is unbound.
type Client struct {
	conn wsConnection
	hub  *Hub

	// Session cursors, owned by the dispatcher goroutine and read under
	// the room lock during broadcast pruning.
	room     *Room
	playerID PlayerIDType

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	send chan []byte // Buffered channel of marshaled outbound frames
}

func newClient(conn wsConnection, hub *Hub) *Client {
	return &Client{
		conn: conn,
		hub:  hub,
		send: make(chan []byte, 256),
	}
}

// Disconnect closes the send channel, which drives writePump to flush,
// send a close frame, and drop the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// trySend queues a pre-marshaled frame without blocking. Returns false
// if the client is closed or its buffer is full, signalling the caller
// to prune this session.
func (c *Client) trySend(data []byte) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send on closed client", zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		logging.Warn(context.Background(), "Client send channel full or closed", zap.String("playerId", string(c.playerID)))
		return false
	}
}

// sendMessage marshals and queues an outbound message. Marshal errors
// cannot happen for the closed outbound catalog, but are logged anyway.
func (c *Client) sendMessage(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal outbound message", zap.Error(err))
		return
	}
	c.trySend(data)
}

// readPump continuously processes incoming frames from the client.
// A malformed frame is a protocol error and terminates the session.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleSessionClosed(c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn(context.Background(), "Malformed frame, terminating session",
				zap.String("playerId", string(c.playerID)), zap.Error(err))
			break
		}

		ctx := context.Background()
		c.hub.route(ctx, c, &msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for {
		message, ok := <-c.send
		if !ok {
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.Error(err))
			return
		}
	}
}
