package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatline-backend/pkg/constants"
	"chatline-backend/pkg/logger"
)

// Client represents one authenticated WebSocket connection. A user may hold
// several clients at once (multiple devices); each joins rooms independently.
type Client struct {
	id      uuid.UUID
	userID  uuid.UUID
	gateway *Gateway
	conn    *websocket.Conn
	send    chan []byte

	once   sync.Once
	closed chan struct{}
}

func newClient(gateway *Gateway, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		id:      uuid.New(),
		userID:  userID,
		gateway: gateway,
		conn:    conn,
		send:    make(chan []byte, constants.ClientSendBufferSize),
		closed:  make(chan struct{}),
	}
}

// UserID returns the authenticated user of this connection
func (c *Client) UserID() uuid.UUID {
	return c.userID
}

// trySend enqueues a frame without blocking. A full buffer closes the
// connection so backpressure stays bounded.
func (c *Client) trySend(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	case c.send <- frame:
		return true
	default:
		c.close()
		return false
	}
}

// close shuts the connection down exactly once
func (c *Client) close() {
	c.once.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// readPump reads inbound frames and dispatches them until the connection
// drops. It owns cleanup: room membership, presence, and metrics.
func (c *Client) readPump() {
	defer func() {
		c.gateway.disconnect(c)
		c.close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))

		if c.gateway.presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.gateway.presence.RefreshPresence(ctx, c.userID); err != nil {
				logger.Debug("failed to refresh presence", zap.Error(err))
			}
		}
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		c.gateway.dispatch(c, frame)
	}
}

// writePump writes queued frames and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
