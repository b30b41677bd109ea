package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection tuning parameters.
var (
	writeWait      = 10 * time.Second    // time allowed to write a frame to the peer
	pongWait       = 60 * time.Second    // time allowed to read the next pong
	pingInterval   = (pongWait * 9) / 10 // ping period, must be < pongWait
	maxMessageSize = int64(64 * 1024)    // max inbound frame size
	sendBufSize    = 256                 // per-connection outbound buffer
)

// Conn wraps one websocket connection for one authenticated user.
type Conn struct {
	id     string
	userID int64
	sock   *websocket.Conn
	egress chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(sock *websocket.Conn, userID int64) *Conn {
	return &Conn{
		id:     uuid.New().String(),
		userID: userID,
		sock:   sock,
		egress: make(chan []byte, sendBufSize),
		closed: make(chan struct{}),
	}
}

// UserID returns the authenticated user behind the connection.
func (c *Conn) UserID() int64 { return c.userID }

// Enqueue queues a frame for delivery. Returns false when the connection is
// closed or its buffer is full; the frame is dropped in that case.
func (c *Conn) Enqueue(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.egress <- frame:
		return true
	default:
		return false
	}
}

// Close shuts the connection down. Safe to call multiple times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.sock.Close()
	})
}

// writePump drains the egress buffer and keeps the connection alive with
// pings. Runs in its own goroutine; exits when the connection closes.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.egress:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
