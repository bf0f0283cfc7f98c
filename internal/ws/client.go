package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/manpreetbhatti/codearena/internal/protocol"
	"github.com/manpreetbhatti/codearena/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 512 * 1024
	messagesPerSecond = 50
	messageBurst      = 100
	maxViolations     = 1000
)

// Dispatcher receives decoded inbound events and the end of every
// connection. Disconnect runs exactly once per handle, however the
// connection ended.
type Dispatcher interface {
	Dispatch(handle string, env protocol.Envelope)
	Disconnect(handle string)
}

type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	handle      string
	rateLimiter *rate.Limiter
	dispatcher  Dispatcher
	logger      *slog.Logger
}

// Upgrader builds a websocket upgrader that accepts the listed origins.
// An empty list or "*" accepts any origin.
func Upgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 || allowed["*"] {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}
}

// ServeWs upgrades the request and starts the connection's pumps. Each
// connection gets a fresh random handle.
func ServeWs(hub *Hub, upgrader websocket.Upgrader, d Dispatcher, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	handle := uuid.NewString()
	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		handle:      handle,
		rateLimiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
		dispatcher:  d,
		logger:      hub.logger.With("handle", handle),
	}

	if !hub.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.dispatcher.Disconnect(c.handle)
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	violations := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Info("websocket closed", "error", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			violations++
			c.hub.metrics.IncDroppedMessages()
			if violations%100 == 1 {
				c.logger.Warn("rate limit exceeded", "violations", violations)
			}
			if violations > maxViolations {
				c.logger.Warn("disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}

		env, err := protocol.Decode(message)
		if err != nil {
			c.logger.Warn("invalid frame", "error", err)
			continue
		}

		c.dispatcher.Dispatch(c.handle, env)
	}
}

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
