package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"taskflow/internal/services/directory"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be < pongWait
	maxMessageSize = 8 << 10
)

// clientConn is one admitted connection. Only the write pump touches
// rawConn for writes; everything else goes through the send queue.
type clientConn struct {
	id       string
	user     directory.User
	joinedAt time.Time
	rawConn  *websocket.Conn

	// guarded by Registry.mu
	lastActivity time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	reason    string
}

func newClientConn(rawConn *websocket.Conn, user directory.User, sendBuffer int, now time.Time) *clientConn {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &clientConn{
		id:           uuid.NewString(),
		user:         user,
		joinedAt:     now,
		lastActivity: now,
		rawConn:      rawConn,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
	}
}

// enqueue never blocks. A full queue means the peer is not draining and the
// connection is closed as a slow consumer.
func (c *clientConn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.close(ReasonSlowConsumer)
		return false
	}
}

// close is idempotent; the first reason wins.
func (c *clientConn) close(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

func (c *clientConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *clientConn) closeReason() string {
	if !c.closed() {
		return ""
	}
	return c.reason
}

func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.rawConn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.rawConn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close(ReasonTransportError)
				return
			}
		case <-ticker.C:
			if err := c.rawConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close(ReasonTransportError)
				return
			}
		case <-c.done:
			code := websocket.CloseNormalClosure
			if c.reason == ReasonSlowConsumer {
				code = websocket.ClosePolicyViolation
			}
			_ = c.rawConn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, c.reason),
				time.Now().Add(writeWait))
			return
		}
	}
}
