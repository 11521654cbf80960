package chathub

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"claimhub/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// WebSocketClient implements Conn over a gorilla/websocket connection.
type WebSocketClient struct {
	conn *websocket.Conn
	log  zerolog.Logger

	mu     sync.Mutex
	send   chan models.Event
	closed bool
}

// NewWebSocketClient wraps an upgraded connection. Call Run once the
// connection has a session.
func NewWebSocketClient(conn *websocket.Conn, logger zerolog.Logger) *WebSocketClient {
	return &WebSocketClient{
		conn: conn,
		send: make(chan models.Event, sendBufferSize),
		log:  logger.With().Str("component", "ws").Str("remote_addr", conn.RemoteAddr().String()).Logger(),
	}
}

// Send queues ev without blocking.
func (c *WebSocketClient) Send(ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close closes the outbound queue, which makes the write pump send a close
// frame and shut the socket.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Run starts the read and write pumps. The read pump feeds frames to s and
// disconnects s when the socket fails or the heartbeat is lost.
func (c *WebSocketClient) Run(s *Session) {
	c.log = c.log.With().Str("conn_id", string(s.ID())).Logger()
	go c.writePump()
	go c.readPump(s)
}

func (c *WebSocketClient) readPump(s *Session) {
	defer func() {
		s.Disconnect()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("error closing connection in readPump")
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		s.HandleFrame(frame)
	}
}

// logReadError classifies why the read loop ended.
func (c *WebSocketClient) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int("limit", maxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Debug().Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.log.Debug().Err(err).Msg("read loop ended")
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("error closing connection in writePump")
		}
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.log.Error().Err(err).Str("event", ev.Name).Msg("error encoding event")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Debug().Err(err).Msg("error writing event")
				}
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

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
