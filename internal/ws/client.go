package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
)

// Client is one connected socket. Per spec.md §5 a session exists from
// connect to disconnect regardless of whether register_user has run yet;
// userID/username are set in place once it does.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	sessionID uuid.UUID
	logger    *slog.Logger

	mu       sync.RWMutex
	userID   *uuid.UUID
	username string
	media    map[uuid.UUID]bool

	cancel context.CancelFunc
}

func newClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: uuid.New(),
		logger:    logger,
		media:     make(map[uuid.UUID]bool),
	}
}

func (c *Client) setCancelFunc(cancel context.CancelFunc) {
	c.cancel = cancel
}

func (c *Client) setUser(userID uuid.UUID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = &userID
	c.username = username
}

func (c *Client) UserID() (uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.userID == nil {
		return uuid.Nil, false
	}
	return *c.userID, true
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// addMediaRoom/removeMediaRoom/joinedMediaRooms track which media rooms
// this session has joined via the SFU, so a disconnect can tear all of
// them down (spec.md §4.7 step 1).
func (c *Client) addMediaRoom(roomID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media[roomID] = true
}

func (c *Client) removeMediaRoom(roomID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.media, roomID)
}

func (c *Client) joinedMediaRooms() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]uuid.UUID, 0, len(c.media))
	for roomID := range c.media {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// enqueue queues one frame for delivery, dropping it if the client's buffer
// is full rather than blocking the hub's dispatch goroutine.
func (c *Client) enqueue(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("ws: marshal outbound envelope failed", "type", env.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("ws: client send buffer full, dropping frame", "session_id", c.sessionID, "type", env.Type)
	}
}

func (c *Client) ack(reqID string, data interface{}, err error) {
	if reqID == "" {
		return
	}
	ack := AckPayload{OK: err == nil}
	if err != nil {
		ack.Error = err.Error()
	} else {
		ack.Data = data
	}
	env := newEnvelope(EventAck, ack)
	env.ReqID = reqID
	c.enqueue(env)
}

func (c *Client) sendError(message string) {
	c.enqueue(newEnvelope("error", map[string]string{"message": message}))
}

// ReadPump pumps inbound frames to the hub until the connection closes or
// ctx is cancelled. It must run in its own goroutine; there is exactly one
// reader per connection.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("ws: unexpected close", "session_id", c.sessionID, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.hub.dispatch(ctx, c, env)
	}
}

// WritePump pumps queued frames to the connection and pings on an idle
// timer, until ctx is cancelled or the send channel is closed.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
