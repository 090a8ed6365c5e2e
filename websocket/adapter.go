package websocket

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"drawsync-server/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256

	DefaultMaxMessageSize = 16384
)

var (
	ErrClosed     = errors.New("connection closed")
	ErrBufferFull = errors.New("send buffer full")
)

type Conn struct {
	id             string
	ws             *websocket.Conn
	send           chan []byte
	done           chan struct{}
	closeOnce      sync.Once
	closed         atomic.Bool
	handler        domain.MessageHandler
	maxMessageSize int64
}

func NewConn(id string, ws *websocket.Conn, h domain.MessageHandler, maxMessageSize int64) *Conn {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Conn{
		id:             id,
		ws:             ws,
		send:           make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
		handler:        h,
		maxMessageSize: maxMessageSize,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Open() bool { return !c.closed.Load() }

// Send queues data for the write pump without blocking. A client that lets
// the buffer fill up is disconnected; it gets the full state again from init
// when it reconnects.
func (c *Conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		slog.Warn("send buffer full, closing connection", "clientId", c.id)
		c.Close()
		return ErrBufferFull
	}
}

// Close stops the connection. The write pump sends a close frame and releases
// the socket, which in turn ends the read pump.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

func (c *Conn) Start() {
	c.handler.Connect(c)
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.Close()
		c.handler.Disconnect(c)
	}()

	c.ws.SetReadLimit(c.maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
