package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/rs/zerolog/log"
)

// Handler receives the inbound side of a connection.
// Both methods are called from the connection's read goroutine, so messages
// on one connection are delivered in send order.
type Handler interface {
	HandleMessage(conn *Conn, env events.Envelope)
	// HandleDisconnect is called exactly once, after the connection is unusable
	HandleDisconnect(conn *Conn, err error)
}

// Conn is one end of a coordinator/participant channel
type Conn struct {
	ID string

	ws      *websocket.Conn
	send    chan []byte
	config  Config
	handler Handler

	mu     sync.Mutex
	closed bool

	done     chan struct{}
	stopOnce sync.Once
}

func newConn(ws *websocket.Conn, config Config, handler Handler) *Conn {
	return &Conn{
		ID:      uuid.New().String(),
		ws:      ws,
		send:    make(chan []byte, config.SendBufferSize),
		config:  config,
		handler: handler,
		done:    make(chan struct{}),
	}
}

func (c *Conn) start() {
	go c.writePump()
	go c.readPump()
}

// Send queues env for delivery. It never blocks; a peer that stops draining
// its buffer is disconnected.
func (c *Conn) Send(env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", env.Type, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisconnected
	}

	select {
	case c.send <- data:
		return nil
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("message_type", string(env.Type)).
			Msg("connection send buffer full, closing connection")
		c.closed = true
		close(c.send)
		return ErrDisconnected
	}
}

// Close flushes queued messages, sends a close frame and tears the connection down.
// The handler still observes HandleDisconnect.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

// stop tears down the socket and notifies the handler once
func (c *Conn) stop(err error) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.done)
		c.ws.Close()
		c.handler.HandleDisconnect(c, err)
	})
}

// writePump handles sending messages to the socket
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}

		case <-c.done:
			return
		}
	}
}

// readPump handles reading messages from the socket
func (c *Conn) readPump() {
	var readErr error
	defer func() {
		c.stop(readErr)
	}()

	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected close")
			}
			readErr = err
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		var env events.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn().
				Err(err).
				Str("connection_id", c.ID).
				Msg("dropping undecodable message")
			continue
		}
		c.handler.HandleMessage(c, env)
	}
}
