package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lalith-99/talksphere/internal/auth"
	"github.com/lalith-99/talksphere/internal/presence"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// Max inbound frame size.
	readLimit = 64 << 10

	// Outbound frames queued per connection before it is dropped.
	sendBuffer = 64
)

// ErrSendBufferFull is returned when a slow client falls behind; the
// connection is closed at the same time.
var ErrSendBufferFull = errors.New("send buffer full")

// Frame is the JSON shape of every websocket message in both directions.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Conn is one client websocket. It implements presence.Conn.
type Conn struct {
	id       string
	ws       *websocket.Conn
	identity *auth.Identity
	limiter  *rate.Limiter
	logger   *zap.Logger

	send chan []byte

	mu       sync.Mutex
	closed   bool
	userName string // set once identify succeeds
}

func newConn(id string, wsConn *websocket.Conn, identity *auth.Identity, limiter *rate.Limiter, logger *zap.Logger) *Conn {
	return &Conn{
		id:       id,
		ws:       wsConn,
		identity: identity,
		limiter:  limiter,
		logger:   logger.With(zap.String("conn_id", id), zap.String("user", identity.UserName)),
		send:     make(chan []byte, sendBuffer),
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues a frame without blocking. A full queue closes the connection.
func (c *Conn) Send(event string, payload any) error {
	b, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return presence.ErrConnClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		c.logger.Warn("send buffer full, closing connection")
		c.closeLocked()
		return ErrSendBufferFull
	}
}

func (c *Conn) identified() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userName
}

func (c *Conn) setIdentified(userName string) {
	c.mu.Lock()
	c.userName = userName
	c.mu.Unlock()
}

func (c *Conn) close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

// closeLocked stops the send queue; writePump then sends a close frame and
// tears the socket down, which ends readPump.
func (c *Conn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump owns all writes to the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// readPump reads frames until the peer goes away and hands each one to
// handle. It returns when the connection is done.
func (c *Conn) readPump(handle func(inboundFrame)) {
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("unexpected close", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			_ = c.Send(eventError, errorPayload{Code: codeBadRequest, Message: "only text frames are supported"})
			continue
		}

		var f inboundFrame
		if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
			_ = c.Send(eventError, errorPayload{Code: codeBadRequest, Message: "frame must be {\"event\", \"data\"}"})
			continue
		}
		handle(f)
	}
}
